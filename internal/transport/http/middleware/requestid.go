package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/readmeabook/readmeabook/internal/requestid"
)

// RequestID injects a request ID into the context and response header.
// A well-formed inbound X-Request-ID is kept so ids correlate across the
// reverse proxy; anything malformed is replaced with a fresh UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := requestid.Sanitize(c.GetHeader("X-Request-ID"))
		if !ok {
			id = requestid.New()
		}

		ctx := requestid.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
