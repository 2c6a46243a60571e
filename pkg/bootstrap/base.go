package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"natsgate/internal/bus"
	"natsgate/internal/config"
	"natsgate/internal/logger"
)

// Base carries what every binary needs: config, logger and the bus.
type Base struct {
	Config *config.Config
	Logger logger.Logger
	Bus    bus.Bus
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitBus(ctx context.Context) error {
	conn, err := bus.NewBus(ctx, b.Config.Broker, b.Config.CircuitBreaker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}
	b.Bus = conn
	return nil
}

func (b *Base) ShutdownBus(ctx context.Context) []error {
	if b.Bus == nil {
		return nil
	}
	if err := b.Bus.Close(ctx); err != nil {
		return []error{fmt.Errorf("bus close error: %w", err)}
	}
	return nil
}

// Shutdown runs additionalShutdown first so servers stop taking work before
// the bus goes away.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBus(ctx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
