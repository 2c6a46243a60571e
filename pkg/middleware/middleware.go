package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"natsgate/pkg/errors"
	"natsgate/pkg/logging"
)

type requestLogger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

func LoggerMiddleware(logger requestLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if raw != "" {
			path = path + "?" + raw
		}

		logFields := []interface{}{
			"status", statusCode,
			"latency", latency,
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
		}

		if traceID := logging.GetTraceID(c.Request.Context()); traceID != "" {
			logFields = append(logFields, logging.TraceIDKey, traceID)
		}
		if errorMessage != "" {
			logFields = append(logFields, "error", errorMessage)
		}

		if statusCode >= 500 {
			logger.Errorw("HTTP Request", logFields...)
		} else {
			logger.Infow("HTTP Request", logFields...)
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with the gateway's error
// body shape. The panic value and stack are logged, not returned.
func RecoveryMiddleware(logger interface {
	Errorw(msg string, keysAndValues ...interface{})
}) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := errors.RecoverPanic(recovered)
		logger.Errorw("Panic recovered",
			"error", err,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(errors.ToHTTPStatus(errors.ErrInternal), errors.ToErrorResponse(errors.ErrInternal))
	})
}

// TraceHeaderMiddleware makes sure every request carries headerName. A missing
// value is filled with a new 32 character hex id and written back onto the
// request so downstream steps see it. The id is also put on the request context.
func TraceHeaderMiddleware(headerName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if headerName == "" {
			c.Next()
			return
		}

		traceID := c.GetHeader(headerName)
		if traceID == "" {
			traceID = NewTraceID()
			c.Request.Header.Set(headerName, traceID)
		}

		c.Request = c.Request.WithContext(logging.WithTraceID(c.Request.Context(), traceID))
		c.Next()
	}
}

func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CORSMiddleware sets Access-Control-Allow-Origin on every response and
// answers preflight requests directly.
func CORSMiddleware(allowOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if allowOrigin == "" {
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", allowOrigin)
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.Header("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS")
			if reqHeaders := c.GetHeader("Access-Control-Request-Headers"); reqHeaders != "" {
				c.Header("Access-Control-Allow-Headers", reqHeaders)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
