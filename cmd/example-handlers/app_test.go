package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natsgate/internal/config"
	"natsgate/internal/handlers"
	"natsgate/internal/logger"
	"natsgate/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestApp_ServesDefaultSubscriptions(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Broker.Type = "memory"
	cfg.Server.AdminPort = 0

	app := NewApp(cfg, logger.NopLogger())
	require.NoError(t, app.Initialize(context.Background()))
	assert.NotEmpty(t, cfg.Microservice.Subscriptions)
	assert.NotContains(t, app.registry.Names(), handlers.NameAudit)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(ctx) }()

	env := models.NewEnvelope("get.healthcheck")
	data, err := env.Encode()
	require.NoError(t, err)

	var reply *models.Envelope
	require.Eventually(t, func() bool {
		msg, err := app.Bus.Request(context.Background(), "get.healthcheck", data, time.Second)
		if err != nil {
			return false
		}
		reply, err = models.Decode(msg.Data)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, http.StatusOK, reply.ResponseStatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, reply.ResponseBody)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestApp_RejectsInvalidSubscriptions(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Broker.Type = "memory"
	cfg.Microservice.Subscriptions = []config.SubscriptionConfig{{Subject: "get.x"}}

	app := NewApp(cfg, logger.NopLogger())
	var vErr *config.ValidationError
	assert.ErrorAs(t, app.Initialize(context.Background()), &vErr)
}
