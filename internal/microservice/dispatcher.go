package microservice

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"natsgate/internal/bus"
	"natsgate/internal/config"
	"natsgate/internal/logger"
	"natsgate/pkg/errors"
	"natsgate/pkg/logging"
	"natsgate/pkg/metrics"
	"natsgate/pkg/models"
	"natsgate/pkg/tracing"
)

const (
	kindHandler  = "handler"
	kindObserver = "observer"
)

// Dispatcher binds configured subscriptions to registry entries and runs each
// delivered message through its handler or observer.
type Dispatcher struct {
	bus      bus.Bus
	registry *Registry
	cfg      config.MicroserviceConfig
	log      logger.Logger

	mu   sync.Mutex
	subs []bus.Subscription
}

func NewDispatcher(b bus.Bus, registry *Registry, cfg config.MicroserviceConfig, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      b,
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
}

// Start subscribes every configured subject. A subscription without its own
// queue group joins the service-wide one. Any failure unsubscribes what was
// already set up.
func (d *Dispatcher) Start(ctx context.Context) error {
	for _, sc := range d.cfg.Subscriptions {
		if err := d.subscribe(ctx, sc); err != nil {
			_ = d.Stop()
			return err
		}
	}
	return nil
}

func (d *Dispatcher) subscribe(ctx context.Context, sc config.SubscriptionConfig) error {
	handlerFactory, observerFactory, err := d.registry.Lookup(sc.Handler)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", sc.Subject, err)
	}

	queue := sc.QueueGroup
	if queue == "" {
		queue = d.cfg.QueueGroup
	}

	var cb bus.MessageHandler
	if handlerFactory != nil {
		cb = func(ctx context.Context, msg *bus.Message) {
			d.dispatchHandler(ctx, sc.Subject, msg, handlerFactory)
		}
	} else {
		cb = func(ctx context.Context, msg *bus.Message) {
			d.dispatchObserver(ctx, sc.Subject, msg, observerFactory)
		}
	}

	sub, err := d.bus.QueueSubscribe(ctx, sc.Subject, queue, cb)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", sc.Subject, err)
	}

	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	d.log.InfowCtx(ctx, "Dispatching subscription",
		"subject", sc.Subject,
		"queue_group", queue,
		"handler", sc.Handler,
	)
	return nil
}

// Stop removes every subscription made by Start.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Subject(), err))
		}
	}
	return stderrors.Join(errs...)
}

// DispatchToHandler runs one request-pattern message. Whatever the handler
// does, a message with a reply address gets an envelope back; only an
// undecodable message is dropped.
func (d *Dispatcher) DispatchToHandler(ctx context.Context, msg *bus.Message, factory HandlerFactory) {
	d.dispatchHandler(ctx, msg.Subject, msg, factory)
}

// DispatchToObserver runs one published message. Failures are logged and
// never reach the publisher.
func (d *Dispatcher) DispatchToObserver(ctx context.Context, msg *bus.Message, factory ObserverFactory) {
	d.dispatchObserver(ctx, msg.Subject, msg, factory)
}

func (d *Dispatcher) dispatchHandler(ctx context.Context, subscription string, msg *bus.Message, factory HandlerFactory) {
	start := time.Now()

	env, ok := d.decode(ctx, subscription, kindHandler, msg)
	if !ok {
		return
	}

	ctx = d.messageContext(ctx, env)
	ctx, span := tracing.StartSpanFromMessage(ctx, "handle "+msg.Subject, msg.Header)
	defer span.End()
	span.SetAttributes(attribute.String("messaging.subscription", subscription))

	status := "success"
	result, err := invokeHandler(ctx, factory, env)
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.log.ErrorwCtx(ctx, "Handler failed", "subscription", subscription, "error", err)
		env.SetError(errorMessage(err), http.StatusInternalServerError)
		result = env
	}
	if result == nil {
		result = env
	}

	data, err := result.Encode()
	if err != nil {
		status = "error"
		d.log.ErrorwCtx(ctx, "Failed to encode handler result", "subscription", subscription, "error", err)
		// The result may share the unencodable value with env, so the error
		// reply starts from a blank envelope.
		failed := models.NewEnvelope(env.Subject)
		failed.StartedAtMs = env.StartedAtMs
		failed.SetError(errorMessage(errors.Wrap(err, errors.ErrCodec)), http.StatusInternalServerError)
		if data, err = failed.Encode(); err != nil {
			d.log.ErrorwCtx(ctx, "Failed to encode error envelope, reply dropped", "error", err)
			metrics.ObserveDispatch(subscription, kindHandler, status, time.Since(start))
			return
		}
	}

	if msg.Reply != "" {
		if err := d.bus.Publish(ctx, msg.Reply, data); err != nil {
			status = "error"
			d.log.ErrorwCtx(ctx, "Failed to publish reply", "subscription", subscription, "error", err)
		}
	}

	metrics.ObserveDispatch(subscription, kindHandler, status, time.Since(start))
}

func (d *Dispatcher) dispatchObserver(ctx context.Context, subscription string, msg *bus.Message, factory ObserverFactory) {
	start := time.Now()

	env, ok := d.decode(ctx, subscription, kindObserver, msg)
	if !ok {
		return
	}

	ctx = d.messageContext(ctx, env)
	ctx, span := tracing.StartSpanFromMessage(ctx, "observe "+msg.Subject, msg.Header)
	defer span.End()
	span.SetAttributes(attribute.String("messaging.subscription", subscription))

	status := "success"
	if err := invokeObserver(ctx, factory, env); err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.log.ErrorwCtx(ctx, "Observer failed", "subscription", subscription, "error", err)
	}

	metrics.ObserveDispatch(subscription, kindObserver, status, time.Since(start))
}

func (d *Dispatcher) decode(ctx context.Context, subscription, kind string, msg *bus.Message) (*models.Envelope, bool) {
	env, err := models.Decode(msg.Data)
	if err != nil {
		d.log.ErrorwCtx(ctx, "Dropping undecodable message",
			"subject", msg.Subject,
			"subscription", subscription,
			"error", errors.Wrap(err, errors.ErrCodec),
		)
		metrics.ObserveDispatch(subscription, kind, "dropped", 0)
		return nil, false
	}
	return env, true
}

func (d *Dispatcher) messageContext(ctx context.Context, env *models.Envelope) context.Context {
	ctx = logging.WithSubject(ctx, env.Subject)
	if d.cfg.ServiceName != "" {
		ctx = logging.WithServiceName(ctx, d.cfg.ServiceName)
	}
	if d.cfg.TraceHeaderName != "" {
		if traceID, ok := env.RequestHeader(d.cfg.TraceHeaderName); ok && traceID != "" {
			ctx = logging.WithTraceID(ctx, traceID)
		}
	}
	return ctx
}

func invokeHandler(ctx context.Context, factory HandlerFactory, env *models.Envelope) (result *models.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return factory().Handle(ctx, env)
}

func invokeObserver(ctx context.Context, factory ObserverFactory, env *models.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return factory().Observe(ctx, env)
}

// errorMessage prefers the human message of a coded error.
func errorMessage(err error) string {
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
