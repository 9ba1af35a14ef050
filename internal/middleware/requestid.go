package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id and logs completion with latency.
func RequestID(log *logger.Logger) gin.HandlerFunc {
	reqLog := log.With("middleware", "RequestID")
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set("requestId", id)

		start := time.Now()
		c.Next()

		reqLog.Info("Request complete",
			"requestId", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}
