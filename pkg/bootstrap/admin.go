package bootstrap

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"natsgate/pkg/health"
)

// NewAdminServer serves /health and /metrics on their own port so the proxy
// port stays a pure catch-all.
func NewAdminServer(port int, checks *health.CheckerRegistry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", health.Handler(checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
}
