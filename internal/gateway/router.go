package gateway

import (
	"github.com/gin-gonic/gin"

	"natsgate/internal/config"
	"natsgate/internal/logger"
	"natsgate/pkg/middleware"
	"natsgate/pkg/tracing"
)

// NewRouter assembles the proxy engine: recovery, tracing, trace header, CORS,
// request logging, the extra middlewares in order and finally the catch-all
// handler.
func NewRouter(cfg *config.Config, h *Handler, log logger.Logger, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = false

	router.Use(middleware.RecoveryMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(cfg.Tracing.ServiceName))
	}
	router.Use(middleware.TraceHeaderMiddleware(cfg.Gateway.TraceHeaderName))
	router.Use(middleware.CORSMiddleware(cfg.Gateway.CORSAllowOrigin))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(extra...)

	h.Register(router)
	return router
}
