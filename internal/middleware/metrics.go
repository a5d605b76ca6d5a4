package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/concours-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route, keeping path cardinality bounded.
const unmatchedRoute = "unmatched"

// Metrics records request counts and latency per route template. Scrapes of skipPaths are
// not observed.
func Metrics(metricsSvc *service.MetricsService, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		if _, ok := skip[route]; ok {
			return
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
