package microservice

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natsgate/internal/bus"
	"natsgate/internal/config"
	"natsgate/internal/logger"
	apperrors "natsgate/pkg/errors"
	"natsgate/pkg/models"
)

func encode(t *testing.T, env *models.Envelope) []byte {
	t.Helper()
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func newDispatcher(b bus.Bus, r *Registry, subs ...config.SubscriptionConfig) *Dispatcher {
	return NewDispatcher(b, r, config.MicroserviceConfig{
		ServiceName:     "example-handlers",
		QueueGroup:      "example.queue.group",
		TraceHeaderName: "x-trace-id",
		Subscriptions:   subs,
	}, logger.NopLogger())
}

func request(t *testing.T, b *bus.MemoryBus, subject string, env *models.Envelope) *models.Envelope {
	t.Helper()
	reply, err := b.Request(context.Background(), subject, encode(t, env), time.Second)
	require.NoError(t, err)
	out, err := models.Decode(reply.Data)
	require.NoError(t, err)
	return out
}

func TestDispatcher_HandlerReply(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	r := NewRegistry()
	r.RegisterHandler("echo", func() Handler {
		return HandlerFunc(func(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
			env.ResponseStatusCode = 200
			env.ResponseBody = `{"ok":true}`
			return env, nil
		})
	})

	d := newDispatcher(b, r, config.SubscriptionConfig{Subject: "get.echo", Handler: "echo"})
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	out := request(t, b, "get.echo", models.NewEnvelope("get.echo"))
	assert.Equal(t, 200, out.ResponseStatusCode)
	assert.Equal(t, `{"ok":true}`, out.ResponseBody)
}

func TestDispatcher_NilResultRepliesWithInput(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	r := NewRegistry()
	r.RegisterHandler("noop", func() Handler {
		return HandlerFunc(func(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
			env.ExtendedProperties["seen"] = true
			return nil, nil
		})
	})

	d := newDispatcher(b, r, config.SubscriptionConfig{Subject: "pipeline.noop", Handler: "noop"})
	require.NoError(t, d.Start(context.Background()))

	out := request(t, b, "pipeline.noop", models.NewEnvelope("get.x"))
	assert.Equal(t, "get.x", out.Subject)
	assert.Equal(t, true, out.ExtendedProperties["seen"])
}

func TestDispatcher_HandlerErrorStillReplies(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	r := NewRegistry()
	r.RegisterHandler("fail", func() Handler {
		return HandlerFunc(func(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
			return nil, errors.New("database unreachable")
		})
	})

	d := newDispatcher(b, r, config.SubscriptionConfig{Subject: "get.fail", Handler: "fail"})
	require.NoError(t, d.Start(context.Background()))

	out := request(t, b, "get.fail", models.NewEnvelope("get.fail"))
	assert.Equal(t, 500, out.ResponseStatusCode)
	assert.Equal(t, "database unreachable", out.ErrorMessage)
}

func TestDispatcher_HandlerPanicStillReplies(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	r := NewRegistry()
	r.RegisterHandler("panic", func() Handler {
		return HandlerFunc(func(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
			panic("boom")
		})
	})

	d := newDispatcher(b, r, config.SubscriptionConfig{Subject: "get.panic", Handler: "panic"})
	require.NoError(t, d.Start(context.Background()))

	out := request(t, b, "get.panic", models.NewEnvelope("get.panic"))
	assert.Equal(t, 500, out.ResponseStatusCode)
	assert.Contains(t, out.ErrorMessage, "boom")

	// the subscription survives the panic
	out = request(t, b, "get.panic", models.NewEnvelope("get.panic"))
	assert.Equal(t, 500, out.ResponseStatusCode)
}

func TestDispatcher_UnencodableResultStillReplies(t *testing.T) {
	b := bus.NewMemoryBus()
	r := NewRegistry()
	r.RegisterHandler("nan", func() Handler {
		return HandlerFunc(func(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
			env.ExtendedProperties["score"] = math.NaN()
			return env, nil
		})
	})

	d := newDispatcher(b, r, config.SubscriptionConfig{Subject: "get.nan", Handler: "nan"})
	require.NoError(t, d.Start(context.Background()))

	in := models.NewEnvelope("get.nan")
	out := request(t, b, "get.nan", in)
	assert.Equal(t, 500, out.ResponseStatusCode)
	assert.Equal(t, apperrors.ErrCodec.Message, out.ErrorMessage)
	assert.Equal(t, "get.nan", out.Subject)
	assert.Equal(t, in.StartedAtMs, out.StartedAtMs)
	assert.NotContains(t, out.ExtendedProperties, "score")
}

func TestDispatcher_FreshInstancePerMessage(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	r := NewRegistry()
	var built atomic.Int32
	r.RegisterHandler("count", func() Handler {
		built.Add(1)
		return HandlerFunc(func(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
			return env, nil
		})
	})

	d := newDispatcher(b, r, config.SubscriptionConfig{Subject: "get.count", Handler: "count"})
	require.NoError(t, d.Start(context.Background()))

	for i := 0; i < 3; i++ {
		request(t, b, "get.count", models.NewEnvelope("get.count"))
	}
	assert.Equal(t, int32(3), built.Load())
}

func TestDispatchToHandler_UndecodableDropped(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	d := newDispatcher(b, NewRegistry())

	called := false
	d.DispatchToHandler(context.Background(), &bus.Message{Subject: "get.x", Reply: "_INBOX.1", Data: []byte("garbage")}, func() Handler {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.Empty(t, b.MessagesOn("_INBOX.1"))
}

func TestDispatchToHandler_NoReplyAddress(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	d := newDispatcher(b, NewRegistry())

	called := false
	d.DispatchToHandler(context.Background(), &bus.Message{Subject: "get.x", Data: encode(t, models.NewEnvelope("get.x"))}, func() Handler {
		return HandlerFunc(func(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
			called = true
			return env, nil
		})
	})

	assert.True(t, called)
	assert.Empty(t, b.Messages())
}

func TestDispatchToObserver(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	d := newDispatcher(b, NewRegistry())

	var got *models.Envelope
	d.DispatchToObserver(context.Background(), &bus.Message{Subject: "pipeline.logging", Reply: "_INBOX.2", Data: encode(t, models.NewEnvelope("get.x"))}, func() Observer {
		return ObserverFunc(func(ctx context.Context, env *models.Envelope) error {
			got = env
			return errors.New("ignored")
		})
	})

	require.NotNil(t, got)
	assert.Equal(t, "get.x", got.Subject)
	assert.Empty(t, b.Messages())
}

func TestDispatchToObserver_PanicSwallowed(t *testing.T) {
	d := newDispatcher(bus.NewMemoryBus(bus.WithRecording()), NewRegistry())

	assert.NotPanics(t, func() {
		d.DispatchToObserver(context.Background(), &bus.Message{Subject: "pipeline.logging", Data: encode(t, models.NewEnvelope("get.x"))}, func() Observer {
			return ObserverFunc(func(ctx context.Context, env *models.Envelope) error { panic("observer down") })
		})
	})
}

func TestDispatcher_ObserverSubscription(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	r := NewRegistry()
	seen := make(chan string, 1)
	r.RegisterObserver("logging", func() Observer {
		return ObserverFunc(func(ctx context.Context, env *models.Envelope) error {
			seen <- env.Subject
			return nil
		})
	})

	d := newDispatcher(b, r, config.SubscriptionConfig{Subject: "pipeline.logging", Handler: "logging"})
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, b.Publish(context.Background(), "pipeline.logging", encode(t, models.NewEnvelope("get.customers"))))
	b.Flush()

	select {
	case subject := <-seen:
		assert.Equal(t, "get.customers", subject)
	default:
		t.Fatal("observer not invoked")
	}
}

func TestDispatcher_StartUnknownHandler(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	r := NewRegistry()
	r.RegisterHandler("ok", func() Handler { return HandlerFunc(func(ctx context.Context, env *models.Envelope) (*models.Envelope, error) { return env, nil }) })

	d := newDispatcher(b, r,
		config.SubscriptionConfig{Subject: "get.ok", Handler: "ok"},
		config.SubscriptionConfig{Subject: "get.missing", Handler: "missing"},
	)

	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	_, err = b.Request(context.Background(), "get.ok", encode(t, models.NewEnvelope("get.ok")), 50*time.Millisecond)
	assert.ErrorIs(t, err, bus.ErrNoResponders)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler("b", func() Handler { return nil })
	r.RegisterObserver("a", func() Observer { return nil })

	h, o, err := r.Lookup("b")
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Nil(t, o)

	h, o, err = r.Lookup("a")
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.NotNil(t, o)

	_, _, err = r.Lookup("c")
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}
