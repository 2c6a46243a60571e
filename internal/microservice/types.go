// Package microservice is the service side of the bus: it decodes envelopes
// delivered on subscribed subjects, runs a fresh Handler or Observer per
// message and replies to the gateway.
package microservice

import (
	"context"

	"natsgate/pkg/models"
)

// Handler serves one request-pattern step. Returning nil keeps the envelope it
// was given, with any changes made in place.
type Handler interface {
	Handle(ctx context.Context, env *models.Envelope) (*models.Envelope, error)
}

// Observer consumes a published envelope. It never replies.
type Observer interface {
	Observe(ctx context.Context, env *models.Envelope) error
}

// HandlerFactory builds the Handler for a single message.
type HandlerFactory func() Handler

// ObserverFactory builds the Observer for a single message.
type ObserverFactory func() Observer

type HandlerFunc func(ctx context.Context, env *models.Envelope) (*models.Envelope, error)

func (f HandlerFunc) Handle(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
	return f(ctx, env)
}

type ObserverFunc func(ctx context.Context, env *models.Envelope) error

func (f ObserverFunc) Observe(ctx context.Context, env *models.Envelope) error {
	return f(ctx, env)
}
