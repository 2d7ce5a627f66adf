package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kronion-io/kronion/pkg/jobs"
	"github.com/kronion-io/kronion/pkg/mocks"
	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence/file"
	"github.com/kronion-io/kronion/pkg/registry"
	"github.com/kronion-io/kronion/pkg/web"
	"github.com/kronion-io/kronion/pkg/workflow"
)

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	logger := slog.Default()
	reg := registry.NewDefaultRegistry(logger, &mocks.MockBackend{})
	engine := workflow.NewEngine(logger, store, reg, nil)

	handlers := web.NewHandlers(
		jobs.NewService(logger, store, nil),
		workflow.NewPublishingService(logger, store, reg, nil),
		workflow.NewRunService(logger, store, engine),
	)

	app := fiber.New()
	handlers.Register(app)

	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, payload
}

func jobRequestBody() jobs.CreateJobRequest {
	return jobs.CreateJobRequest{
		Name:   "daily digest",
		Prompt: "summarize yesterday's commits",
		Schedule: models.Schedule{
			Kind:  models.ScheduleKindEvery,
			Every: &models.EverySchedule{IntervalMS: 86_400_000},
		},
	}
}

func TestCreateAndGetJob(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/jobs/", jobRequestBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Job
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "daily digest", created.Name)
	assert.NotNil(t, created.NextRunAt)

	resp, body = doJSON(t, app, http.MethodGet, "/jobs/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Job
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestCreateJobRejectsMissingPrompt(t *testing.T) {
	app, _ := setupTestApp(t)

	req := jobRequestBody()
	req.Prompt = ""

	resp, body := doJSON(t, app, http.MethodPost, "/jobs/", req)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "validation_error", problem["type"])
}

func TestGetUnknownJobReturnsProblem(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/jobs/job-missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "not_found", problem["type"])
}

func TestJobPauseResumeOverHTTP(t *testing.T) {
	app, _ := setupTestApp(t)

	_, body := doJSON(t, app, http.MethodPost, "/jobs/", jobRequestBody())

	var created models.Job
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body := doJSON(t, app, http.MethodPost, "/jobs/"+created.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var paused models.Job
	require.NoError(t, json.Unmarshal(body, &paused))
	assert.Equal(t, models.JobStatusPaused, paused.Status)
	assert.Nil(t, paused.NextRunAt)

	resp, body = doJSON(t, app, http.MethodPost, "/jobs/"+created.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var resumed models.Job
	require.NoError(t, json.Unmarshal(body, &resumed))
	assert.Equal(t, models.JobStatusActive, resumed.Status)
	assert.NotNil(t, resumed.NextRunAt)
}

func workflowRequestBody() workflow.CreateWorkflowRequest {
	return workflow.CreateWorkflowRequest{
		Name: "deploy notifier",
		Nodes: []*models.Node{
			{
				ID: "notify", Name: "Notify", Kind: models.NodeKindTransform,
				Config: map[string]any{"expression": "deployed"}, Enabled: true,
			},
		},
		Triggers: []*models.TriggerSpec{
			{ID: "hook", Type: models.TriggerTypeWebhook, Enabled: true},
		},
	}
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	app, store := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/", workflowRequestBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var draft models.Workflow
	require.NoError(t, json.Unmarshal(body, &draft))
	assert.Equal(t, models.WorkflowStatusDraft, draft.Status)

	resp, body = doJSON(t, app, http.MethodPost, "/workflows/"+draft.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var published models.Workflow
	require.NoError(t, json.Unmarshal(body, &published))
	assert.Equal(t, models.WorkflowStatusPublished, published.Status)

	// The publish materialized a webhook trigger we can fire.
	trigger, err := store.TriggerRepository().GetByID(context.Background(), draft.ID+":hook")
	require.NoError(t, err)
	token := trigger.WebhookToken()
	require.NotEmpty(t, token)

	resp, body = doJSON(t, app, http.MethodPost, "/webhooks/"+token, map[string]any{"release": "v1.2.3"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, "v1.2.3", run.TriggerContext["release"])

	resp, body = doJSON(t, app, http.MethodGet, "/runs/?workflow_id="+draft.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Runs []*models.WorkflowRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	require.Len(t, listing.Runs, 1)
	assert.Equal(t, run.ID, listing.Runs[0].ID)
}

func TestPublishWithoutDraftReturnsNotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/workflows/wf-ghost/publish", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArchiveBeforePublishReturnsConflict(t *testing.T) {
	app, _ := setupTestApp(t)

	_, body := doJSON(t, app, http.MethodPost, "/workflows/", workflowRequestBody())

	var draft models.Workflow
	require.NoError(t, json.Unmarshal(body, &draft))

	resp, _ := doJSON(t, app, http.MethodPost, "/workflows/"+draft.ID+"/archive", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelQueuedRunOverHTTP(t *testing.T) {
	app, _ := setupTestApp(t)

	_, body := doJSON(t, app, http.MethodPost, "/workflows/", workflowRequestBody())

	var draft models.Workflow
	require.NoError(t, json.Unmarshal(body, &draft))

	_, _ = doJSON(t, app, http.MethodPost, "/workflows/"+draft.ID+"/publish", nil)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/"+draft.ID+"/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal(body, &run))

	resp, body = doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelled models.WorkflowRun
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.RunStatusCancelled, cancelled.Status)

	// Cancelling again conflicts with the terminal status.
	resp, _ = doJSON(t, app, http.MethodPost, "/runs/"+run.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/runs/"+run.ID+"/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events struct {
		Events []*models.RunEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(body, &events))
	require.NotEmpty(t, events.Events)
	assert.Equal(t, models.EventRunQueued, events.Events[0].Type)
}
