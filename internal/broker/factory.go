package broker

import (
	"errors"

	"natsgate/internal/config"
	"natsgate/internal/logger"
)

var ErrNotConfigured = errors.New("kafka brokers are not configured")

func NewProducer(cfg config.KafkaConfig, log logger.Logger) (Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNotConfigured
	}
	return NewKafkaProducer(cfg, log), nil
}
