package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"natsgate/internal/broker"
	"natsgate/internal/config"
	"natsgate/internal/constants"
	"natsgate/internal/handlers"
	"natsgate/internal/logger"
	"natsgate/internal/microservice"
	"natsgate/pkg/bootstrap"
	"natsgate/pkg/health"
	"natsgate/pkg/logging"
	"natsgate/pkg/metrics"
	"natsgate/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	redis          *redis.Client
	producer       broker.Producer
	registry       *microservice.Registry
	dispatcher     *microservice.Dispatcher
	tracerProvider *tracing.TracerProvider
	admin          *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceNameExampleHandlers)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceNameExampleHandlers)

	if len(a.Config.Microservice.Subscriptions) == 0 {
		a.Logger.InfowCtx(ctx, "No subscriptions configured, serving the default example subjects")
		a.Config.Microservice.Subscriptions = handlers.DefaultSubscriptions()
	}
	if err := config.ValidateMicroservice(a.Config); err != nil {
		return err
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameExampleHandlers)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDispatcherMetrics()
	metrics.RegisterBusMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	rdb, err := bootstrap.InitRedis(ctx, a.Config.Database.Redis, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb

	if err := a.initProducer(ctx); err != nil {
		return err
	}

	if err := a.InitBus(ctx); err != nil {
		return err
	}

	a.registry = microservice.NewRegistry()
	handlers.Register(a.registry, a.handlerDeps())
	a.dispatcher = microservice.NewDispatcher(a.Bus, a.registry, a.Config.Microservice, a.Logger)

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewBusChecker(a.Bus))
	if a.redis != nil {
		checks.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	a.admin = bootstrap.NewAdminServer(a.Config.Server.AdminPort, checks)

	return nil
}

// initProducer enables the audit observer when Kafka brokers are configured.
func (a *App) initProducer(ctx context.Context) error {
	producer, err := broker.NewProducer(a.Config.Broker.Kafka, a.Logger)
	if errors.Is(err, broker.ErrNotConfigured) {
		a.Logger.InfowCtx(ctx, "Kafka not configured, audit observer disabled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	if kp, ok := producer.(*broker.KafkaProducer); ok {
		kp.SetServiceName(constants.ServiceNameExampleHandlers)
	}
	metrics.RegisterKafkaMetrics()
	a.producer = producer
	return nil
}

func (a *App) handlerDeps() handlers.Deps {
	deps := handlers.Deps{
		Producer:        a.producer,
		AuditTopic:      a.Config.Broker.Kafka.AuditTopic,
		TraceHeaderName: a.Config.Microservice.TraceHeaderName,
		AuthRedirectURL: a.Config.Microservice.AuthRedirectURL,
		Logger:          a.Logger,
	}
	if a.redis != nil {
		deps.Customers = handlers.NewRedisCustomerRepository(a.redis, a.Config.Database.Redis.KeyPrefix)
	}
	return deps
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if err := a.dispatcher.Start(gCtx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	a.Logger.InfowCtx(ctx, "Dispatcher started",
		"subscriptions", len(a.Config.Microservice.Subscriptions),
		"registered", a.registry.Names(),
	)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Admin server starting", "port", a.Config.Server.AdminPort)
		if err := a.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.admin.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the subscriptions before closing the bus so in-flight
// replies can still go out.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceNameExampleHandlers)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down example handlers")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.dispatcher != nil {
			if err := a.dispatcher.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("dispatcher stop error: %w", err))
			}
		}

		if a.admin != nil {
			adminCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.admin.Shutdown(adminCtx); err != nil {
				errs = append(errs, fmt.Errorf("admin server shutdown error: %w", err))
			}
		}

		if a.producer != nil {
			if err := a.producer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("producer close error: %w", err))
			}
		}

		errs = append(errs, bootstrap.ShutdownRedis(a.redis)...)
		return errs
	}

	err := a.Base.Shutdown(shutdownCtx, additionalShutdown)

	if a.tracerProvider != nil {
		tracerCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if tpErr := a.tracerProvider.Shutdown(tracerCtx); tpErr != nil {
			err = errors.Join(err, fmt.Errorf("tracer shutdown error: %w", tpErr))
		}
	}
	return err
}
