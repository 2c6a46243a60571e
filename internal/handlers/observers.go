package handlers

import (
	"context"
	"fmt"

	"natsgate/internal/broker"
	"natsgate/internal/logger"
	"natsgate/pkg/metrics"
	"natsgate/pkg/models"
)

// MetricsObserver exports the call timings carried by completed envelopes.
type MetricsObserver struct {
	Log logger.Logger
}

func (o MetricsObserver) Observe(ctx context.Context, env *models.Envelope) error {
	for _, ct := range env.CallTimings {
		metrics.ObserveCallTiming(ct.Subject, ct.ElapsedMs)
		o.Log.DebugwCtx(ctx, "Call timing", "step", ct.Subject, "elapsed_ms", ct.ElapsedMs)
	}
	return nil
}

// AuditObserver forwards completed envelopes to a Kafka topic.
type AuditObserver struct {
	Producer broker.Producer
	Topic    string
}

func (o AuditObserver) Observe(ctx context.Context, env *models.Envelope) error {
	if err := o.Producer.Publish(ctx, o.Topic, env); err != nil {
		return fmt.Errorf("audit %s: %w", env.Subject, err)
	}
	return nil
}
