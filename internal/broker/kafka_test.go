package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natsgate/internal/config"
	"natsgate/internal/logger"
	"natsgate/pkg/logging"
	"natsgate/pkg/models"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	written  []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("leader not available")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, logger.NopLogger())

	env := models.NewEnvelope("delete.customers.41")
	env.ErrorMessage = "unpaid invoices"
	ctx := logging.WithTraceID(context.Background(), "abc123")

	require.NoError(t, p.Publish(ctx, "gateway_audit", env))
	require.Len(t, w.written, 1)

	msg := w.written[0]
	assert.Equal(t, "gateway_audit", msg.Topic)
	assert.Equal(t, "delete.customers.41", string(msg.Key))

	decoded, err := models.Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "unpaid invoices", decoded.ErrorMessage)

	var traceHeader string
	for _, h := range msg.Headers {
		if h.Key == logging.TraceIDKey {
			traceHeader = string(h.Value)
		}
	}
	assert.Equal(t, "abc123", traceHeader)
}

func TestKafkaProducer_RetriesTransientFailures(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := newKafkaProducer(w, logger.NopLogger())

	require.NoError(t, p.Publish(context.Background(), "gateway_audit", models.NewEnvelope("get.x")))
	assert.Len(t, w.written, 1)
}

func TestKafkaProducer_GivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	p := newKafkaProducer(w, logger.NopLogger())

	err := p.Publish(context.Background(), "gateway_audit", models.NewEnvelope("get.x"))
	assert.Error(t, err)
	assert.Empty(t, w.written)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewProducer(t *testing.T) {
	_, err := NewProducer(config.KafkaConfig{}, logger.NopLogger())
	assert.ErrorIs(t, err, ErrNotConfigured)

	p, err := NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}, AuditTopic: "a"}, logger.NopLogger())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
