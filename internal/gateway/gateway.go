// Package gateway exposes the dispatch core over HTTP: an OpenAI-compatible
// chat-completions surface and an Anthropic-compatible messages surface,
// both speaking chatmodel.ChatRequest/StreamEvent underneath.
package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/zeroai/gateway/internal/catalog"
	"github.com/zeroai/gateway/internal/dispatch"
	"github.com/zeroai/gateway/internal/logging"
)

// Handlers wires the dispatch core and model catalog into gin routes.
type Handlers struct {
	Core    *dispatch.Core
	Catalog *catalog.Catalog
	APIKeys []string

	// EnabledModels, when set, supplies the configured enabled-model list
	// for GET /v1/models. Nil (or an empty list) exposes the full catalog.
	EnabledModels func() ([]string, error)
}

// New builds the gin engine serving the gateway's HTTP surface.
func New(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(logging.GinRecovery(), logging.GinRequestLogger())

	v1 := r.Group("/v1")
	v1.Use(h.authMiddleware())
	v1.GET("/models", h.Models)
	v1.POST("/chat/completions", h.ChatCompletions)
	v1.POST("/messages", h.Messages)

	return r
}

// authMiddleware enforces the bearer-token allow-list from the server's YAML
// config. An empty APIKeys list disables the check entirely.
func (h *Handlers) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(h.APIKeys) == 0 {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.GetHeader("x-api-key")
		}
		for _, key := range h.APIKeys {
			if token == key {
				c.Next()
				return
			}
		}

		log.Debugf("gateway: rejected request from %s: missing or invalid bearer token", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid API key", "invalid_request_error"))
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}

func errorBody(message, typ string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": typ}}
}
