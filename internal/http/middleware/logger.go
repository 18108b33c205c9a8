package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func Logger(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := l.Info()
		if status >= 500 {
			event = l.Error()
		}
		rid := c.GetString(RequestIDHeader)
		if actor, ok := ActorFrom(c); ok {
			event = event.Str("actor_id", actor.ID)
		}
		event.
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Msg("request")
	}
}
