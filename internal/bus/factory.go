package bus

import (
	"context"
	"fmt"

	"natsgate/internal/config"
	"natsgate/internal/constants"
	"natsgate/internal/logger"
)

// NewBus builds and connects the configured transport, wrapped in a
// BreakerBus when circuit breaking is enabled.
func NewBus(ctx context.Context, cfg config.BrokerConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) (Bus, error) {
	var b Bus

	switch cfg.Type {
	case constants.BrokerTypeNATS, "":
		client := NewNATSClient(cfg.NATS, log)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		b = client
	case constants.BrokerTypeMemory:
		log.Warnw("Using in-memory bus, messages do not leave this process")
		b = NewMemoryBus()
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}

	if cbCfg.Enabled {
		b = NewBreakerBus(b, cbCfg)
	}
	return b, nil
}
