package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// GinRequestLogger emits one line per completed request, leveled by status
// band: 5xx at error, 4xx at warn, everything else at info. The line
// carries status, method, full request target, latency, response size, and
// the client address, plus any private gin errors handlers attached.
func GinRequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		target := c.Request.URL.Path
		if query := c.Request.URL.RawQuery; query != "" {
			target += "?" + query
		}
		status := c.Writer.Status()

		line := fmt.Sprintf("%d %s %s in %s (%dB) from %s",
			status,
			c.Request.Method,
			target,
			time.Since(start).Round(time.Millisecond),
			c.Writer.Size(),
			c.ClientIP(),
		)
		if private := c.Errors.ByType(gin.ErrorTypePrivate).String(); private != "" {
			line += " errors=" + private
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error(line)
		case status >= http.StatusBadRequest:
			log.Warn(line)
		default:
			log.Info(line)
		}
	}
}

// GinRecovery turns a handler panic into a logged stack trace and a JSON
// 500 in the gateway's own error envelope, keeping the process alive.
func GinRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Errorf("panic serving %s %s: %v\n%s",
			c.Request.Method, c.Request.URL.Path, recovered, debug.Stack())

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"message": "internal server error", "type": "server_error"},
		})
	})
}
