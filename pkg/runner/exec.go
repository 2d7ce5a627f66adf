package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ExecBackend shells out to an agent command, feeding the prompt on
// stdin and reading the response from stdout. It is the default
// backend for the scheduler binary; richer backends implement Backend
// directly.
type ExecBackend struct {
	logger  *slog.Logger
	command string
	args    []string
}

func NewExecBackend(logger *slog.Logger, command string, args ...string) *ExecBackend {
	return &ExecBackend{
		logger:  logger.With("module", "runner"),
		command: command,
		args:    args,
	}
}

func (b *ExecBackend) Execute(ctx context.Context, prompt string, opts Options) (*Result, error) {
	args := append([]string(nil), b.args...)

	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}

	if opts.SessionID != "" {
		args = append(args, "--session", opts.SessionID)
	}

	cmd := exec.CommandContext(ctx, b.command, args...)
	cmd.Stdin = strings.NewReader(prompt)

	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger.DebugContext(ctx, "Executing backend command",
		"command", b.command, "model", opts.Model)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("backend command failed: %w: %s", err, detail)
		}

		return nil, fmt.Errorf("backend command failed: %w", err)
	}

	return &Result{
		Content:   strings.TrimRight(stdout.String(), "\n"),
		SessionID: opts.SessionID,
	}, nil
}
