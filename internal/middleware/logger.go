package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coworking/internal/pkg/logger"
	"coworking/internal/pkg/response"
)

const RequestIDHeader = "X-Request-ID"

// RequestID reuses the caller's X-Request-ID or generates one, and attaches
// a request-scoped logger to the request context.
func RequestID(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)

		l := base.With().Str("request_id", id).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), &l))
		c.Next()
	}
}

// RequestLogger logs one line per request and recovers panics into the
// JSON error envelope.
func RequestLogger(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				base.Error().
					Str("request_id", requestID(c)).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Str("panic", fmt.Sprintf("%v", recovered)).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")
				response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
				c.Abort()
			}
			logRequest(c, base, start)
		}()

		c.Next()
	}
}

func logRequest(c *gin.Context, base zerolog.Logger, start time.Time) {
	status := c.Writer.Status()
	event := base.Info()
	switch {
	case status >= http.StatusInternalServerError:
		event = base.Error()
	case status >= http.StatusBadRequest:
		event = base.Warn()
	}
	if len(c.Errors) > 0 {
		event = event.Str("errors", c.Errors.String())
	}
	event.
		Str("request_id", requestID(c)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", status).
		Dur("latency", time.Since(start)).
		Str("client_ip", c.ClientIP()).
		Int64("user_id", c.GetInt64("user_id")).
		Msg("http request")
}

func requestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return c.GetHeader(RequestIDHeader)
}
