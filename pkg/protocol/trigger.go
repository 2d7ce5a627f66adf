package protocol

import (
	"context"

	"github.com/kronion-io/kronion/pkg/models"
)

// TriggerCallback receives an external trigger firing together with
// the payload that should become the run's trigger context.
type TriggerCallback func(ctx context.Context, trigger *models.Trigger, payload map[string]any) error

// TriggerSource consumes an external event source and fires triggers
// through a callback. Start blocks until Stop or context cancellation.
type TriggerSource interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
}
