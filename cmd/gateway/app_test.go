package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natsgate/internal/bus"
	"natsgate/internal/config"
	"natsgate/internal/handlers"
	"natsgate/internal/logger"
	"natsgate/internal/microservice"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Gateway.WaitTimeoutSeconds = 2
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app := NewApp(cfg, logger.NopLogger())
	require.NoError(t, app.Initialize(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func serve(app *App, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	return rec
}

func TestApp_MemoryBusDevMode(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Broker.Type = "memory"
	app := startApp(t, cfg)

	rec := serve(app, http.MethodGet, "/healthcheck", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(app, http.MethodGet, "/customers/42", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alan Turing")

	rec = serve(app, http.MethodGet, "/customers/7", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(app, http.MethodPost, "/customers", `{"id":"9","name":"Grace"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(app, http.MethodPut, "/customers/9", `{"name":"Grace Hopper"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(app, http.MethodDelete, "/customers/41", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), handlers.DeleteCustomerRejection)
}

func TestApp_PipelineFileWithAuthentication(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
steps:
  - subject: pipeline.authentication
    direction: incoming
    order: 1
    pattern: request
  - subject: "*"
    direction: incoming
    order: 2
    pattern: request
`), 0o600))

	cfg := loadTestConfig(t)
	cfg.Broker.Type = "memory"
	cfg.Gateway.PipelineConfigFile = path
	cfg.Microservice.AuthRedirectURL = "https://login.example.com"
	app := startApp(t, cfg)

	rec := serve(app, http.MethodGet, "/customers/42", "", nil)
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://login.example.com", rec.Header().Get("Location"))

	rec = serve(app, http.MethodGet, "/customers/42", "", map[string]string{"Authorization": "Bearer token"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Alan Turing")
}

func TestApp_InvalidPipelineFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
steps:
  - subject: get.x
    direction: sideways
`), 0o600))

	cfg := loadTestConfig(t)
	cfg.Broker.Type = "memory"
	cfg.Gateway.PipelineConfigFile = path

	app := NewApp(cfg, logger.NopLogger())
	err := app.Initialize(context.Background())
	assert.ErrorContains(t, err, "invalid pipeline")
	_ = app.Shutdown(context.Background())
}

func TestApp_OverNATS(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)

	cfg := loadTestConfig(t)
	cfg.Broker.NATS.URLs = []string{srv.ClientURL()}
	cfg.Broker.NATS.ConnectRetry = config.RetryConfig{MaxAttempts: 2, InitialInterval: 10 * time.Millisecond}

	// The example handlers run on their own connection, as a separate service would.
	service := bus.NewNATSClient(cfg.Broker.NATS, logger.NopLogger())
	require.NoError(t, service.Connect(context.Background()))
	t.Cleanup(func() { _ = service.Close(context.Background()) })

	registry := microservice.NewRegistry()
	handlers.Register(registry, handlers.Deps{Logger: logger.NopLogger()})
	dispatcher := microservice.NewDispatcher(service, registry, config.MicroserviceConfig{
		QueueGroup:    "example-handlers",
		Subscriptions: handlers.DefaultSubscriptions(),
	}, logger.NopLogger())
	require.NoError(t, dispatcher.Start(context.Background()))
	t.Cleanup(func() { _ = dispatcher.Stop() })

	app := startApp(t, cfg)

	rec := serve(app, http.MethodGet, "/customers/41", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ada Lovelace")

	rec = serve(app, http.MethodGet, "/nobody/listens/here", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no responders")
}
