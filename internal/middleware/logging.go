package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
)

// Logger middleware logs request details
func Logger(logger *logging.Logger) gin.HandlerFunc {
	logger = logger.WithComponent("api")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := logger.WithFields(map[string]interface{}{
			"method":      c.Request.Method,
			"path":        path,
			"query":       c.Request.URL.RawQuery,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}
