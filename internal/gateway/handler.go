// Package gateway renders HTTP requests as envelopes, runs them through the
// pipeline and writes the merged result back as the HTTP response.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"natsgate/internal/config"
	"natsgate/internal/logger"
	"natsgate/internal/pipeline"
	"natsgate/pkg/logging"
	"natsgate/pkg/metrics"
	"natsgate/pkg/models"
)

type pipelineExecutor interface {
	ExecutePipeline(ctx context.Context, env *models.Envelope) (*models.Envelope, error)
	NotifyObservers(ctx context.Context, env *models.Envelope) error
}

// Handler is the catch-all HTTP endpoint of the gateway.
type Handler struct {
	executor pipelineExecutor
	cfg      config.GatewayConfig
	log      logger.Logger

	observers sync.WaitGroup
}

func NewHandler(executor pipelineExecutor, cfg config.GatewayConfig, log logger.Logger) *Handler {
	return &Handler{
		executor: executor,
		cfg:      cfg,
		log:      log,
	}
}

// Register routes every method and path to the handler.
func (h *Handler) Register(router gin.IRoutes) {
	router.Any("/*path", h.Handle)
}

func (h *Handler) Handle(c *gin.Context) {
	start := time.Now()

	env, err := h.parseRequest(c)
	ctx := logging.WithSubject(c.Request.Context(), env.Subject)

	if err == nil {
		env, err = h.executor.ExecutePipeline(ctx, env)
	}
	if err != nil {
		h.renderFailure(ctx, c, env, err)
	} else {
		h.render(c, env)
	}

	metrics.ObserveGatewayRequest(c.Request.Method, c.Writer.Status(), time.Since(start))
	h.notifyObservers(ctx, env)
}

// Wait blocks until in-flight observer notifications finish or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.observers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseRequest always returns an envelope so a body read failure can still be
// rendered and observed.
func (h *Handler) parseRequest(c *gin.Context) (*models.Envelope, error) {
	req := c.Request

	env := models.NewEnvelope(pipeline.ResolveSubject(req.Method, req.URL.Path))
	env.Host = h.cfg.Host
	env.ResponseContentType = h.cfg.ContentType

	for name, values := range req.Header {
		env.RequestHeaders[strings.ToLower(name)] = strings.Join(values, ",")
	}
	for _, cookie := range req.Cookies() {
		env.Cookies[cookie.Name] = cookie.Value
	}
	for key, values := range req.URL.Query() {
		env.QueryParams[key] = strings.Join(values, ",")
	}

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return env, fmt.Errorf("failed to read request body: %w", err)
		}
		env.RequestBody = string(body)
	}

	return env, nil
}

func (h *Handler) render(c *gin.Context, env *models.Envelope) {
	status := h.statusCode(c.Request.Method, env)

	for name, value := range env.ResponseHeaders {
		c.Header(name, value)
	}

	contentType := env.ResponseContentType
	if contentType == "" {
		contentType = h.cfg.ContentType
	}

	switch {
	case !bodyAllowed(c.Request.Method, status):
		c.Status(status)
		c.Writer.WriteHeaderNow()
	case env.HasError():
		c.JSON(status, errorBody{ErrorMessage: env.ErrorMessage})
	case env.ResponseBody != "":
		c.Data(status, contentType, []byte(env.ResponseBody))
	default:
		c.Status(status)
		c.Writer.WriteHeaderNow()
	}
}

func (h *Handler) renderFailure(ctx context.Context, c *gin.Context, env *models.Envelope, err error) {
	env.SetError(err.Error(), http.StatusInternalServerError)
	env.MarkComplete()

	body := errorBody{ErrorMessage: err.Error()}

	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		body.Subject = stepErr.Subject
		body.Pattern = stepErr.Pattern.String()
	}

	h.log.ErrorwCtx(ctx, "Pipeline failed",
		"error", err,
		"step", body.Subject,
		"pattern", body.Pattern,
	)

	c.JSON(http.StatusInternalServerError, body)
}

// statusCode keeps an explicit status from the pipeline. An unset status is 500
// when an error was reported and the per-method default otherwise.
func (h *Handler) statusCode(method string, env *models.Envelope) int {
	if env.ResponseStatusCode != models.StatusCodeUnset {
		return env.ResponseStatusCode
	}
	if env.HasError() {
		return http.StatusInternalServerError
	}

	codes := h.cfg.StatusCodes
	switch method {
	case http.MethodGet:
		return orDefault(codes.Get, http.StatusOK)
	case http.MethodHead:
		return orDefault(codes.Head, http.StatusOK)
	case http.MethodPost:
		return orDefault(codes.Post, http.StatusCreated)
	case http.MethodPut:
		return orDefault(codes.Put, http.StatusCreated)
	case http.MethodPatch:
		return orDefault(codes.Patch, http.StatusCreated)
	case http.MethodDelete:
		return orDefault(codes.Delete, http.StatusNoContent)
	default:
		return orDefault(codes.Default, http.StatusOK)
	}
}

// notifyObservers hands env to the observers on a goroutine that outlives the
// request.
func (h *Handler) notifyObservers(ctx context.Context, env *models.Envelope) {
	ctx = context.WithoutCancel(ctx)

	h.observers.Add(1)
	go func() {
		defer h.observers.Done()
		if err := h.executor.NotifyObservers(ctx, env); err != nil {
			h.log.WarnwCtx(ctx, "Observer notification failed", "error", err)
		}
	}()
}

type errorBody struct {
	ErrorMessage string `json:"errorMessage"`
	Subject      string `json:"subject,omitempty"`
	Pattern      string `json:"pattern,omitempty"`
}

func orDefault(code, fallback int) int {
	if code > 0 {
		return code
	}
	return fallback
}

func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	return status != http.StatusNoContent && status != http.StatusNotModified && status >= 200
}
