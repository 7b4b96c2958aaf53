package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/readmeabook/readmeabook/internal/metrics"
)

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		// FullPath is the route pattern, so /requests/:id stays one series
		// no matter how many ids pass through it.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		duration := time.Since(start).Seconds()

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
