package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	RequestIDHeader     = "X-Request-ID"
)

// LoggingMiddleware creates a middleware for request logging with correlation IDs
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}
		requestID := logging.NewCorrelationID()

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		ctx = logging.WithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(CorrelationIDHeader, correlationID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		logger.LogRequest(
			ctx,
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// ErrorLoggingMiddleware logs errors attached to the gin context
func ErrorLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.LogError(
				c.Request.Context(),
				err.Err,
				"Request processing error",
				map[string]interface{}{
					"error_type": err.Type,
					"meta":       err.Meta,
				},
			)
		}
	}
}

// RecoveryMiddleware recovers from panics and logs them
func RecoveryMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.LogError(
			c.Request.Context(),
			fmt.Errorf("panic: %v", recovered),
			"Request panic recovered",
			nil,
		)

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":          "Internal server error",
			"correlation_id": logging.GetCorrelationID(c.Request.Context()),
		})
	})
}
