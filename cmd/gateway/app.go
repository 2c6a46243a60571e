package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"natsgate/internal/config"
	"natsgate/internal/constants"
	"natsgate/internal/gateway"
	"natsgate/internal/handlers"
	"natsgate/internal/logger"
	"natsgate/internal/microservice"
	"natsgate/internal/pipeline"
	"natsgate/pkg/bootstrap"
	"natsgate/pkg/cel"
	"natsgate/pkg/health"
	"natsgate/pkg/logging"
	"natsgate/pkg/metrics"
	"natsgate/pkg/ratelimit"
	"natsgate/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	tracerProvider *tracing.TracerProvider
	handler        *gateway.Handler
	router         *gin.Engine
	server         *http.Server
	admin          *http.Server
	dispatcher     *microservice.Dispatcher
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceNameGateway)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceNameGateway)

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceNameGateway)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterGatewayMetrics()
	metrics.RegisterBusMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	p, err := a.loadPipeline()
	if err != nil {
		return err
	}

	if err := a.InitBus(ctx); err != nil {
		return err
	}

	if a.Config.Broker.Type == constants.BrokerTypeMemory {
		if err := a.startInProcessHandlers(ctx); err != nil {
			return fmt.Errorf("failed to start in-process handlers: %w", err)
		}
	}

	executor := pipeline.NewExecutor(a.Bus, p, a.Config.Gateway.WaitTimeout(), a.Logger)
	a.handler = gateway.NewHandler(executor, a.Config.Gateway, a.Logger)

	a.Logger.InfowCtx(ctx, "Pipeline loaded",
		"incoming_steps", len(p.Incoming()),
		"outgoing_steps", len(p.Outgoing()),
		"observers", len(p.Observers),
	)

	var extra []gin.HandlerFunc
	if a.Config.RateLimit.Enabled {
		extra = append(extra, ratelimit.RateLimitMiddleware(ctx, ratelimit.FromConfig(a.Config.RateLimit)))
	}
	a.router = gateway.NewRouter(a.Config, a.handler, a.Logger, extra...)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout(),
		WriteTimeout: a.Config.Server.WriteTimeout(),
	}

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewBusChecker(a.Bus))
	a.admin = bootstrap.NewAdminServer(a.Config.Server.AdminPort, checks)

	return nil
}

func (a *App) loadPipeline() (*pipeline.Pipeline, error) {
	pcfg, err := config.LoadPipeline(a.Config.Gateway.PipelineConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}

	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	p, err := pipeline.Build(pcfg, eval)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return p, nil
}

// startInProcessHandlers serves the example steps on the memory bus so the
// gateway runs without a NATS server.
func (a *App) startInProcessHandlers(ctx context.Context) error {
	registry := microservice.NewRegistry()
	handlers.Register(registry, handlers.Deps{
		TraceHeaderName: a.Config.Gateway.TraceHeaderName,
		AuthRedirectURL: a.Config.Microservice.AuthRedirectURL,
		Logger:          a.Logger,
	})

	msCfg := a.Config.Microservice
	if len(msCfg.Subscriptions) == 0 {
		msCfg.Subscriptions = handlers.DefaultSubscriptions()
	}

	metrics.RegisterDispatcherMetrics()
	a.dispatcher = microservice.NewDispatcher(a.Bus, registry, msCfg, a.Logger)
	return a.dispatcher.Start(ctx)
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Admin server starting", "port", a.Config.Server.AdminPort)
		if err := a.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.stopServers()
	})

	return g.Wait()
}

func (a *App) stopServers() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}
	if a.admin != nil {
		if err := a.admin.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown error: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops taking requests, lets observer notifications drain, then
// closes the bus and flushes traces.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceNameGateway)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down gateway")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if err := a.stopServers(); err != nil {
			errs = append(errs, err)
		}

		if a.handler != nil {
			drainCtx, cancel := context.WithTimeout(ctx, constants.ObserverDrainTimeout)
			defer cancel()
			if err := a.handler.Wait(drainCtx); err != nil {
				errs = append(errs, fmt.Errorf("observer drain error: %w", err))
			}
		}

		if a.dispatcher != nil {
			if err := a.dispatcher.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("dispatcher stop error: %w", err))
			}
		}

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
