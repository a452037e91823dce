package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"coworking/internal/pkg/response"
)

// WebhookTokenHeader carries the gateway's shared access token.
const WebhookTokenHeader = "X-Webhook-Token"

// WebhookToken protects the gateway callback. tokenHash is a bcrypt hash so
// the plain token never sits in configuration.
func WebhookToken(tokenHash string, logger zerolog.Logger) gin.HandlerFunc {
	hash := []byte(strings.TrimSpace(tokenHash))

	return func(c *gin.Context) {
		if len(hash) == 0 {
			logWebhookAuthFailure(c, logger, http.StatusInternalServerError, "token_not_configured")
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Webhook token is not configured")
			c.Abort()
			return
		}

		token := strings.TrimSpace(c.GetHeader(WebhookTokenHeader))
		if token == "" {
			logWebhookAuthFailure(c, logger, http.StatusUnauthorized, "missing_token")
			response.Error(c, http.StatusUnauthorized, "AUTH_MISSING", WebhookTokenHeader+" header is required")
			c.Abort()
			return
		}

		if bcrypt.CompareHashAndPassword(hash, []byte(token)) != nil {
			logWebhookAuthFailure(c, logger, http.StatusUnauthorized, "invalid_token")
			response.Error(c, http.StatusUnauthorized, "AUTH_INVALID", "Invalid webhook token")
			c.Abort()
			return
		}

		c.Next()
	}
}

func logWebhookAuthFailure(c *gin.Context, logger zerolog.Logger, status int, reason string) {
	logger.Warn().
		Int("status", status).
		Str("request_id", requestID(c)).
		Str("client_ip", c.ClientIP()).
		Str("reason", reason).
		Msg("webhook auth failed")
}
