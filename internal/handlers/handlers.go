// Package handlers holds the example steps and observers served by the
// example-handlers binary.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"natsgate/internal/logger"
	apperrors "natsgate/pkg/errors"
	"natsgate/pkg/middleware"
	"natsgate/pkg/models"
)

const DeleteCustomerRejection = "You cannot delete this customer because there are unpaid invoices"

type HealthcheckHandler struct{}

func (HealthcheckHandler) Handle(_ context.Context, env *models.Envelope) (*models.Envelope, error) {
	env.ResponseStatusCode = http.StatusOK
	return env, env.SetResponse(map[string]string{"status": "ok"})
}

// TracingHandler adds the trace header to requests that arrived without one.
type TracingHandler struct {
	HeaderName string
}

func (h TracingHandler) Handle(_ context.Context, env *models.Envelope) (*models.Envelope, error) {
	if h.HeaderName == "" {
		return env, nil
	}
	if v, ok := env.RequestHeader(h.HeaderName); !ok || v == "" {
		env.RequestHeaders[strings.ToLower(h.HeaderName)] = middleware.NewTraceID()
	}
	return env, nil
}

// AuthenticationHandler redirects requests without an authorization header
// and stops the pipeline there.
type AuthenticationHandler struct {
	RedirectURL string
}

func (h AuthenticationHandler) Handle(_ context.Context, env *models.Envelope) (*models.Envelope, error) {
	if v, ok := env.RequestHeader("authorization"); ok && v != "" {
		return env, nil
	}

	env.ResponseStatusCode = http.StatusMovedPermanently
	env.ResponseHeaders["Location"] = h.RedirectURL
	env.ShouldTerminateRequest = true
	return env, nil
}

// GetCustomerHandler serves get.customers and get.customers.<id>.
type GetCustomerHandler struct {
	Repo CustomerRepository
}

func (h GetCustomerHandler) Handle(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
	id := customerID(env)
	if id == "" {
		env.SetError("customer id is required", apperrors.ErrValidation.Status)
		return env, nil
	}

	customer, err := h.Repo.Get(ctx, id)
	if errors.Is(err, ErrCustomerNotFound) {
		env.SetError("customer "+id+" not found", apperrors.ToHTTPStatus(err))
		return env, nil
	}
	if err != nil {
		return nil, err
	}

	env.ResponseStatusCode = http.StatusOK
	return env, env.SetResponse(customer)
}

// SaveCustomerHandler serves post.customers and put.customers.<id>. A PUT
// answers 200 instead of the gateway's 201 default.
type SaveCustomerHandler struct {
	Repo CustomerRepository
}

func (h SaveCustomerHandler) Handle(ctx context.Context, env *models.Envelope) (*models.Envelope, error) {
	var customer Customer
	if err := json.Unmarshal([]byte(env.RequestBody), &customer); err != nil {
		env.SetError("request body is not a valid customer", apperrors.ErrValidation.Status)
		return env, nil
	}
	if id := customerID(env); id != "" {
		customer.ID = id
	}
	if customer.ID == "" {
		env.SetError("customer id is required", apperrors.ErrValidation.Status)
		return env, nil
	}

	if err := h.Repo.Save(ctx, &customer); err != nil {
		return nil, err
	}

	if env.Method() == "put" {
		env.ResponseStatusCode = http.StatusOK
	}
	return env, env.SetResponse(customer)
}

type DeleteCustomerHandler struct{}

func (DeleteCustomerHandler) Handle(_ context.Context, env *models.Envelope) (*models.Envelope, error) {
	env.ErrorMessage = DeleteCustomerRejection
	return env, nil
}

// customerID takes the id parameter if present, else the token after
// "<method>.customers".
func customerID(env *models.Envelope) string {
	if id, ok := env.TryGetParam("id"); ok && id != "" {
		return id
	}
	tokens := strings.Split(env.Subject, ".")
	if len(tokens) > 2 {
		return tokens[len(tokens)-1]
	}
	return ""
}

// LoggingObserver writes a one-line summary of every completed envelope.
type LoggingObserver struct {
	Log logger.Logger
}

func (o LoggingObserver) Observe(ctx context.Context, env *models.Envelope) error {
	o.Log.InfowCtx(ctx, "Envelope completed",
		"status", env.ResponseStatusCode,
		"execution_ms", env.ExecutionTime().Milliseconds(),
		"steps", len(env.CallTimings),
		"error_message", env.ErrorMessage,
		"terminated", env.ShouldTerminateRequest,
	)
	return nil
}
