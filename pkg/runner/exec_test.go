package runner

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecBackendEchoesPrompt(t *testing.T) {
	backend := NewExecBackend(slog.Default(), "cat")

	result, err := backend.Execute(context.Background(), "hello backend", Options{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "hello backend", result.Content)
	assert.Equal(t, "s1", result.SessionID)
}

func TestExecBackendReportsFailure(t *testing.T) {
	backend := NewExecBackend(slog.Default(), "false")

	_, err := backend.Execute(context.Background(), "anything", Options{})
	require.Error(t, err)
}

func TestExecBackendHonorsCancellation(t *testing.T) {
	backend := NewExecBackend(slog.Default(), "sleep", "10")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := backend.Execute(ctx, "", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
