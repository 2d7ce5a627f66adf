package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/kronion-io/kronion/pkg/channels/gochannel"
	"github.com/kronion-io/kronion/pkg/channels/kafka"
	"github.com/kronion-io/kronion/pkg/eventbus"
)

// NewEventBus builds the run event bus. The in-process gochannel is the
// default; kafka needs a broker list.
func NewEventBus(provider, serviceName, brokers string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	case "kafka":
		if brokers == "" {
			return nil, fmt.Errorf("kafka event bus requires a broker list")
		}

		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName, strings.Split(brokers, ","))
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
