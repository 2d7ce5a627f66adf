// Package eventbus carries run events between the engine and any
// number of subscribers with at-least-once delivery.
package eventbus

import (
	"context"

	"github.com/kronion-io/kronion/pkg/models"
)

// Topic is the single stream all run events are published on.
const Topic = "kronion.run_events"

const (
	RunIDMetadataKey     = "run_id"
	EventTypeMetadataKey = "event_type"
)

type EventHandler func(ctx context.Context, event *models.RunEvent) error

type EventPublisher interface {
	Publish(ctx context.Context, event *models.RunEvent) error
}

type EventSubscriber interface {
	// Handle registers a handler for one event type. Registration
	// must happen before Subscribe.
	Handle(eventType models.RunEventType, handler EventHandler)

	// HandleAll registers a handler invoked for every event type.
	HandleAll(handler EventHandler)

	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
