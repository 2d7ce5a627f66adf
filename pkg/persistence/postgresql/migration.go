package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id         TEXT        NOT NULL,
				version    INTEGER     NOT NULL,
				status     TEXT        NOT NULL,
				body       JSONB       NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows (id, status);

			CREATE TABLE IF NOT EXISTS triggers (
				id            TEXT        PRIMARY KEY,
				workflow_id   TEXT        NOT NULL,
				type          TEXT        NOT NULL,
				enabled       BOOLEAN     NOT NULL,
				next_run_at   TIMESTAMPTZ,
				webhook_token TEXT,
				body          JSONB       NOT NULL,
				updated_at    TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_triggers_workflow ON triggers (workflow_id);
			CREATE INDEX IF NOT EXISTS idx_triggers_due
				ON triggers (next_run_at)
				WHERE enabled AND next_run_at IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_triggers_webhook
				ON triggers (webhook_token)
				WHERE webhook_token IS NOT NULL;

			CREATE TABLE IF NOT EXISTS runs (
				id          TEXT        PRIMARY KEY,
				workflow_id TEXT        NOT NULL,
				status      TEXT        NOT NULL,
				body        JSONB       NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs (workflow_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status);

			CREATE TABLE IF NOT EXISTS node_runs (
				id         TEXT        PRIMARY KEY,
				run_id     TEXT        NOT NULL,
				body       JSONB       NOT NULL,
				started_at TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_node_runs_run ON node_runs (run_id, started_at);

			CREATE TABLE IF NOT EXISTS run_events (
				seq     BIGSERIAL   PRIMARY KEY,
				id      TEXT        NOT NULL,
				run_id  TEXT        NOT NULL,
				type    TEXT        NOT NULL,
				ts      TIMESTAMPTZ NOT NULL,
				payload JSONB
			);

			CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events (run_id, ts, seq);

			CREATE TABLE IF NOT EXISTS jobs (
				id          TEXT        PRIMARY KEY,
				status      TEXT        NOT NULL,
				next_run_at TIMESTAMPTZ,
				body        JSONB       NOT NULL,
				created_at  TIMESTAMPTZ NOT NULL,
				updated_at  TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_jobs_due
				ON jobs (next_run_at)
				WHERE status = 'active' AND next_run_at IS NOT NULL;

			CREATE TABLE IF NOT EXISTS job_runs (
				id         TEXT        PRIMARY KEY,
				job_id     TEXT        NOT NULL,
				result     TEXT        NOT NULL,
				body       JSONB       NOT NULL,
				started_at TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs (job_id, started_at DESC);
		`,
	}
}
