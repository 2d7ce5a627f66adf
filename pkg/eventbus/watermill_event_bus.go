package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/kronion-io/kronion/pkg/models"
)

type WatermillEventBus struct {
	logger        *slog.Logger
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[models.RunEventType][]EventHandler
	catchAll      []EventHandler
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		logger:        logger.With("module", "eventbus"),
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[models.RunEventType][]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, event *models.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(RunIDMetadataKey, event.RunID)
	msg.Metadata.Set(EventTypeMetadataKey, string(event.Type))

	return eb.publisher.Publish(Topic, msg)
}

func (eb *WatermillEventBus) Handle(eventType models.RunEventType, handler EventHandler) {
	eb.subscriptions[eventType] = append(eb.subscriptions[eventType], handler)
}

func (eb *WatermillEventBus) HandleAll(handler EventHandler) {
	eb.catchAll = append(eb.catchAll, handler)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eb.dispatch(ctx, msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) {
	eventType := models.RunEventType(msg.Metadata.Get(EventTypeMetadataKey))

	handlers := make([]EventHandler, 0, len(eb.catchAll)+len(eb.subscriptions[eventType]))
	handlers = append(handlers, eb.catchAll...)
	handlers = append(handlers, eb.subscriptions[eventType]...)

	if len(handlers) == 0 {
		msg.Ack()

		return
	}

	var event models.RunEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		eb.logger.ErrorContext(ctx, "Dropping undecodable run event",
			"message_id", msg.UUID, "error", err)
		msg.Ack()

		return
	}

	for _, handler := range handlers {
		if err := handler(ctx, &event); err != nil {
			eb.logger.ErrorContext(ctx, "Run event handler failed",
				"event_type", event.Type, "run_id", event.RunID, "error", err)
			msg.Nack()

			return
		}
	}

	msg.Ack()
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	return eb.subscriber.Close()
}
