package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"natsgate/internal/config"
	"natsgate/internal/constants"
	"natsgate/internal/logger"
	"natsgate/pkg/logging"
	"natsgate/pkg/metrics"
	"natsgate/pkg/models"
	"natsgate/pkg/retry"
	"natsgate/pkg/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes one record per envelope, keyed by subject so every
// envelope for a route lands on the same partition.
type KafkaProducer struct {
	writer      messageWriter
	logger      logger.Logger
	policy      retry.Policy
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return newKafkaProducer(w, log)
}

func newKafkaProducer(w messageWriter, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: w,
		logger: log,
		policy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2.0,
		},
		serviceName: constants.ServiceNameExampleHandlers,
	}
}

func (p *KafkaProducer) SetServiceName(name string) {
	p.serviceName = name
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, env *models.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return retry.Permanent(err)
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(env.Subject),
		Value:   body,
		Headers: tracing.InjectKafkaHeaders(ctx, nil),
		Time:    time.Now(),
	}
	if traceID := logging.GetTraceID(ctx); traceID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: logging.TraceIDKey, Value: []byte(traceID)})
	}

	start := time.Now()
	err = retry.Do(ctx, p.policy, func() error {
		return p.writer.WriteMessages(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		p.logger.WarnwCtx(ctx, "Retrying kafka write",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))

	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
