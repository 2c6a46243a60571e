package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"natsgate/internal/bus"
	"natsgate/internal/logger"
	apperrors "natsgate/pkg/errors"
	"natsgate/pkg/metrics"
	"natsgate/pkg/models"
	"natsgate/pkg/tracing"
)

// Executor drives envelopes through a Pipeline over the bus.
type Executor struct {
	bus      bus.Bus
	pipeline *Pipeline
	timeout  time.Duration
	log      logger.Logger
	tracer   trace.Tracer
}

// NewExecutor binds a pipeline to a bus. timeout bounds every request step.
func NewExecutor(b bus.Bus, p *Pipeline, timeout time.Duration, log logger.Logger) *Executor {
	if p == nil {
		p = Default()
	}
	return &Executor{
		bus:      b,
		pipeline: p,
		timeout:  timeout,
		log:      log,
		tracer:   tracing.GetTracer("natsgate-pipeline"),
	}
}

func (e *Executor) Pipeline() *Pipeline {
	return e.pipeline
}

// ExecutePipeline runs the incoming steps, stopping early once a step asks to
// terminate, then every outgoing step, and marks env complete. On failure env
// is returned as far as it got together with a *StepError.
func (e *Executor) ExecutePipeline(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
	if err := e.runSteps(ctx, env, e.pipeline.Incoming(), true); err != nil {
		return env, err
	}

	if err := e.runSteps(ctx, env, e.pipeline.Outgoing(), false); err != nil {
		return env, err
	}

	env.MarkComplete()
	return env, nil
}

func (e *Executor) runSteps(ctx context.Context, env *models.Envelope, steps []Step, allowTermination bool) error {
	for _, step := range steps {
		if step.Condition != nil {
			ok, err := step.Condition.Evaluate(ctx, env)
			if err != nil {
				return newStepError(step.EffectiveSubject(env.Subject), step.Pattern, "condition evaluation failed", err)
			}
			if !ok {
				metrics.IncPipelineStepSkipped(step.Subject)
				e.log.DebugwCtx(ctx, "Step skipped by condition", "step", step.Subject, "condition", step.Condition.String())
				continue
			}
		}

		if err := e.ExecuteStep(ctx, env, step); err != nil {
			return err
		}

		if allowTermination && env.ShouldTerminateRequest {
			metrics.IncPipelineTermination(step.Subject)
			e.log.InfowCtx(ctx, "Pipeline terminated by step",
				"step", step.EffectiveSubject(env.Subject),
				"status", env.ResponseStatusCode,
			)
			return nil
		}
	}
	return nil
}

// ExecuteStep performs one call and records its timing whatever the outcome.
// Publish steps leave env untouched apart from the timing, request steps merge
// the reply into env.
func (e *Executor) ExecuteStep(ctx context.Context, env *models.Envelope, step Step) (err error) {
	subject := step.EffectiveSubject(env.Subject)

	ctx, span := e.tracer.Start(ctx, "pipeline.step "+subject,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", subject),
			attribute.String("pipeline.pattern", step.Pattern.String()),
			attribute.String("pipeline.direction", step.Direction.String()),
		),
	)

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		env.RecordTiming(subject, elapsed)

		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ObservePipelineStep(step.Subject, step.Pattern.String(), status, elapsed)
		span.End()
	}()

	if !e.bus.IsHealthy() {
		return newStepError(subject, step.Pattern, "bus connection is not healthy", apperrors.Wrap(bus.ErrNotConnected, apperrors.ErrBusUnavailable))
	}

	data, err := env.Encode()
	if err != nil {
		return newStepError(subject, step.Pattern, "failed to encode envelope", err)
	}

	if step.Pattern == PatternPublish {
		if err := e.bus.Publish(ctx, subject, data); err != nil {
			return newStepError(subject, step.Pattern, "publish failed", err)
		}
		e.log.DebugwCtx(ctx, "Step published", "step", subject)
		return nil
	}

	msg, err := e.bus.Request(ctx, subject, data, e.timeout)
	if err != nil {
		if errors.Is(err, bus.ErrTimeout) {
			return newStepError(subject, step.Pattern, fmt.Sprintf("no reply within %s", e.timeout), err)
		}
		return newStepError(subject, step.Pattern, "request failed", err)
	}

	reply, err := models.Decode(msg.Data)
	if err != nil {
		return newStepError(subject, step.Pattern, "invalid reply", err)
	}

	env.Merge(reply)
	e.log.DebugwCtx(ctx, "Step replied",
		"step", subject,
		"status", env.ResponseStatusCode,
		"terminate", env.ShouldTerminateRequest,
	)
	return nil
}

// NotifyObservers publishes env to every observer subject. A failing observer
// does not stop the rest; all failures come back joined.
func (e *Executor) NotifyObservers(ctx context.Context, env *models.Envelope) error {
	if len(e.pipeline.Observers) == 0 {
		return nil
	}

	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope for observers: %w", err)
	}

	var errs []error
	for _, subject := range e.pipeline.Observers {
		if !e.bus.IsHealthy() {
			metrics.IncObserverPublish(subject, "error")
			errs = append(errs, fmt.Errorf("observer %s: %w", subject, apperrors.Wrap(bus.ErrNotConnected, apperrors.ErrBusUnavailable)))
			continue
		}

		if err := e.bus.Publish(ctx, subject, data); err != nil {
			metrics.IncObserverPublish(subject, "error")
			errs = append(errs, fmt.Errorf("observer %s: %w", subject, err))
			continue
		}
		metrics.IncObserverPublish(subject, "success")
	}

	return errors.Join(errs...)
}
