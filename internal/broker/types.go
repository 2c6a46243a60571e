// Package broker forwards completed envelopes to Kafka for downstream
// consumers such as auditing.
package broker

import (
	"context"

	"natsgate/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, env *models.Envelope) error
	Close() error
}
