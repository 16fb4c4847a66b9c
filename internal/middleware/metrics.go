package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lessonloop/lessonloop-api/internal/service"
)

// Metrics records one observation per request against the route
// template, so /sessions/:id stays a single series regardless of ID.
func Metrics(metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			// Unmatched routes collapse into one series instead of
			// exploding cardinality per raw path.
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
