package pipeline

import (
	"context"
	"net/http"
	"sync"
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

// respond registers a handler that decodes the envelope, lets mutate edit it and
// replies with the result.
func respond(t *testing.T, b *bus.MemoryBus, subject string, mutate func(env *models.Envelope)) {
	t.Helper()
	_, err := b.Handle(subject, func(msg *bus.Message) []byte {
		env, err := models.Decode(msg.Data)
		if err != nil {
			return []byte("not json")
		}
		mutate(env)
		data, _ := env.Encode()
		return data
	})
	require.NoError(t, err)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *callLog) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func newExecutor(b bus.Bus, p *Pipeline) *Executor {
	return NewExecutor(b, p, 200*time.Millisecond, logger.NopLogger())
}

func timingSubjects(env *models.Envelope) []string {
	out := make([]string, 0, len(env.CallTimings))
	for _, ct := range env.CallTimings {
		out = append(out, ct.Subject)
	}
	return out
}

func TestExecutePipeline_DefaultWildcard(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	respond(t, b, "get.customers.41", func(env *models.Envelope) {
		env.ResponseStatusCode = 200
		env.ResponseBody = `{"id":"41"}`
	})

	env, err := newExecutor(b, Default()).ExecutePipeline(context.Background(), models.NewEnvelope("get.customers.41"))
	require.NoError(t, err)

	assert.Equal(t, 200, env.ResponseStatusCode)
	assert.Equal(t, `{"id":"41"}`, env.ResponseBody)
	assert.Equal(t, []string{"get.customers.41"}, timingSubjects(env))
	assert.True(t, env.IsComplete())
}

func TestExecutePipeline_IncomingAscending(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	log := &callLog{}
	for _, s := range []string{"step.one", "step.two", "step.three"} {
		s := s
		respond(t, b, s, func(env *models.Envelope) { log.add(s) })
	}

	p := New([]Step{
		{Subject: "step.three", Direction: DirectionIncoming, Order: 3},
		{Subject: "step.two", Direction: DirectionIncoming, Order: 2},
		{Subject: "step.one", Direction: DirectionIncoming, Order: 1},
	}, nil)

	env, err := newExecutor(b, p).ExecutePipeline(context.Background(), models.NewEnvelope("get.x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"step.one", "step.two", "step.three"}, log.get())
	assert.Len(t, env.CallTimings, 3)
}

func TestExecutePipeline_OutgoingDescending(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	log := &callLog{}
	for _, s := range []string{"out.one", "out.two", "out.three"} {
		s := s
		respond(t, b, s, func(env *models.Envelope) { log.add(s) })
	}

	p := New([]Step{
		{Subject: "out.one", Direction: DirectionOutgoing, Order: 1},
		{Subject: "out.two", Direction: DirectionOutgoing, Order: 2},
		{Subject: "out.three", Direction: DirectionOutgoing, Order: 3},
	}, nil)

	_, err := newExecutor(b, p).ExecutePipeline(context.Background(), models.NewEnvelope("get.x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"out.three", "out.two", "out.one"}, log.get())
}

func TestExecutePipeline_TerminationSkipsIncomingOnly(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	log := &callLog{}

	respond(t, b, "pipeline.authentication", func(env *models.Envelope) {
		log.add("auth")
		env.ResponseStatusCode = 301
		env.ResponseHeaders["Location"] = "https://google.com"
		env.ShouldTerminateRequest = true
	})
	respond(t, b, "get.customers", func(env *models.Envelope) { log.add("service") })
	respond(t, b, "pipeline.audit", func(env *models.Envelope) {
		log.add("audit")
		env.ShouldTerminateRequest = true
	})
	respond(t, b, "pipeline.cleanup", func(env *models.Envelope) { log.add("cleanup") })

	p := New([]Step{
		{Subject: "pipeline.authentication", Direction: DirectionIncoming, Order: 1},
		{Subject: "*", Direction: DirectionIncoming, Order: 2},
		{Subject: "pipeline.audit", Direction: DirectionOutgoing, Order: 2},
		{Subject: "pipeline.cleanup", Direction: DirectionOutgoing, Order: 1},
	}, nil)

	env, err := newExecutor(b, p).ExecutePipeline(context.Background(), models.NewEnvelope("get.customers"))
	require.NoError(t, err)

	assert.Equal(t, []string{"auth", "audit", "cleanup"}, log.get())
	assert.Equal(t, 301, env.ResponseStatusCode)
	assert.Equal(t, "https://google.com", env.ResponseHeaders["Location"])
	assert.Equal(t, []string{"pipeline.authentication", "pipeline.audit", "pipeline.cleanup"}, timingSubjects(env))
	assert.True(t, env.IsComplete())
}

func TestExecutePipeline_MergeFirstWriterWins(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	respond(t, b, "step.a", func(env *models.Envelope) {
		env.ExtendedProperties["tenant"] = "acme"
		env.ResponseStatusCode = 202
	})
	respond(t, b, "step.b", func(env *models.Envelope) {
		env.ExtendedProperties["tenant"] = "other"
		env.ExtendedProperties["region"] = "eu"
	})

	p := New([]Step{
		{Subject: "step.a", Direction: DirectionIncoming, Order: 1},
		{Subject: "step.b", Direction: DirectionIncoming, Order: 2},
	}, nil)

	env, err := newExecutor(b, p).ExecutePipeline(context.Background(), models.NewEnvelope("get.x"))
	require.NoError(t, err)

	assert.Equal(t, "acme", env.ExtendedProperties["tenant"])
	assert.Equal(t, "eu", env.ExtendedProperties["region"])
	assert.Equal(t, 202, env.ResponseStatusCode)
}

func TestExecutePipeline_TimeoutIsStepError(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	_, err := b.QueueSubscribe(context.Background(), "get.slow", "", func(ctx context.Context, msg *bus.Message) {})
	require.NoError(t, err)

	env, err := NewExecutor(b, Default(), 20*time.Millisecond, logger.NopLogger()).
		ExecutePipeline(context.Background(), models.NewEnvelope("get.slow"))

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "get.slow", stepErr.Subject)
	assert.Equal(t, PatternRequest, stepErr.Pattern)
	assert.ErrorIs(t, err, bus.ErrTimeout)

	assert.Equal(t, []string{"get.slow"}, timingSubjects(env))
	assert.False(t, env.IsComplete())
}

func TestExecutePipeline_UnhealthyBusFailsFast(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	b.SetHealthy(false)

	env, err := newExecutor(b, Default()).ExecutePipeline(context.Background(), models.NewEnvelope("get.x"))

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, err, bus.ErrNotConnected)
	assert.ErrorIs(t, err, apperrors.ErrBusUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.ToHTTPStatus(stepErr.Cause))
	assert.Equal(t, []string{"get.x"}, timingSubjects(env))
}

func TestExecutePipeline_NoRespondersStopsPipeline(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	log := &callLog{}
	respond(t, b, "step.after", func(env *models.Envelope) { log.add("after") })

	p := New([]Step{
		{Subject: "step.missing", Direction: DirectionIncoming, Order: 1},
		{Subject: "step.after", Direction: DirectionIncoming, Order: 2},
	}, nil)

	_, err := newExecutor(b, p).ExecutePipeline(context.Background(), models.NewEnvelope("get.x"))
	assert.ErrorIs(t, err, bus.ErrNoResponders)
	assert.Empty(t, log.get())
}

func TestExecutePipeline_InvalidReply(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	_, err := b.Handle("get.broken", func(msg *bus.Message) []byte { return []byte("{nope") })
	require.NoError(t, err)

	_, err = newExecutor(b, Default()).ExecutePipeline(context.Background(), models.NewEnvelope("get.broken"))
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "invalid reply", stepErr.Message)
}

func TestExecuteStep_PublishDoesNotMerge(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	env := models.NewEnvelope("post.orders")

	err := newExecutor(b, Default()).ExecuteStep(context.Background(), env, Step{
		Subject: "pipeline.events",
		Pattern: PatternPublish,
	})
	require.NoError(t, err)

	msgs := b.MessagesOn("pipeline.events")
	require.Len(t, msgs, 1)
	sent, err := models.Decode(msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "post.orders", sent.Subject)

	assert.Equal(t, models.StatusCodeUnset, env.ResponseStatusCode)
	assert.Equal(t, []string{"pipeline.events"}, timingSubjects(env))
}

func TestExecutePipeline_ConditionSkipsStep(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	log := &callLog{}
	respond(t, b, "pipeline.authentication", func(env *models.Envelope) { log.add("auth") })
	respond(t, b, "get.public", func(env *models.Envelope) { log.add("service") })

	p, err := Build(&config.PipelineConfig{Steps: []config.StepConfig{
		{Subject: "pipeline.authentication", Direction: "incoming", Order: 1, Condition: `!subject.startsWith("get.public")`},
		{Subject: "*", Direction: "incoming", Order: 2},
	}}, nil)
	require.NoError(t, err)

	env, err := newExecutor(b, p).ExecutePipeline(context.Background(), models.NewEnvelope("get.public"))
	require.NoError(t, err)
	assert.Equal(t, []string{"service"}, log.get())
	assert.Equal(t, []string{"get.public"}, timingSubjects(env))
}

func TestNotifyObservers(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	p := New(nil, []string{"pipeline.logging", "pipeline.metrics"})
	env := models.NewEnvelope("get.x")
	env.MarkComplete()

	require.NoError(t, newExecutor(b, p).NotifyObservers(context.Background(), env))

	assert.Len(t, b.MessagesOn("pipeline.logging"), 1)
	assert.Len(t, b.MessagesOn("pipeline.metrics"), 1)
	assert.Empty(t, b.MessagesOn("get.x"))
}

type flakyBus struct {
	*bus.MemoryBus
	failOn string
}

func (f *flakyBus) Publish(ctx context.Context, subject string, data []byte) error {
	if subject == f.failOn {
		return assert.AnError
	}
	return f.MemoryBus.Publish(ctx, subject, data)
}

func TestNotifyObservers_ContinuesPastFailure(t *testing.T) {
	b := &flakyBus{MemoryBus: bus.NewMemoryBus(bus.WithRecording()), failOn: "obs.a"}
	p := New(nil, []string{"obs.a", "obs.b"})

	err := newExecutor(b, p).NotifyObservers(context.Background(), models.NewEnvelope("get.x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "obs.a")
	assert.Len(t, b.MessagesOn("obs.b"), 1)
}

func TestNotifyObservers_UnhealthyAggregates(t *testing.T) {
	b := bus.NewMemoryBus(bus.WithRecording())
	b.SetHealthy(false)
	p := New(nil, []string{"obs.a", "obs.b"})

	err := newExecutor(b, p).NotifyObservers(context.Background(), models.NewEnvelope("get.x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "obs.a")
	assert.Contains(t, err.Error(), "obs.b")
	assert.ErrorIs(t, err, apperrors.ErrBusUnavailable)
}

func TestStepError_Error(t *testing.T) {
	err := newStepError("get.x", PatternRequest, "request failed", bus.ErrNoResponders)
	assert.Equal(t, "step get.x (request): request failed: no responders on subject", err.Error())
	assert.ErrorIs(t, err, bus.ErrNoResponders)

	assert.Equal(t, "step get.x (publish): boom", newStepError("get.x", PatternPublish, "boom", nil).Error())
}
