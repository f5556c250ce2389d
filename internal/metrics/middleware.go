package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/tokenquota/internal/logging"
)

// unmatchedEndpoint labels requests that hit no route, keeping arbitrary
// paths out of the label set.
const unmatchedEndpoint = "unmatched"

// errorType names the errors_total bucket for an HTTP status, or "" when
// the status is not counted as an error.
func errorType(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "quota_exceeded"
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "auth"
	case status >= http.StatusInternalServerError:
		return "server_error"
	default:
		return ""
	}
}

// Middleware records latency and a request count per route template.
func Middleware(m *Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.IncHTTPRequestsInFlight()
		start := time.Now()

		c.Next()

		m.DecHTTPRequestsInFlight()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = unmatchedEndpoint
		}
		code := c.Writer.Status()
		method, status := c.Request.Method, strconv.Itoa(code)

		m.RecordHTTPRequest(endpoint, method, status)
		m.RecordRequestLatency(endpoint, method, status, time.Since(start).Seconds())
		if kind := errorType(code); kind != "" {
			m.RecordError(kind, endpoint, method)
		}

		for _, e := range c.Errors {
			logger.ErrorWithContext(c.Request.Context(), "request error",
				"endpoint", endpoint,
				"status", code,
				"error", e.Err,
			)
		}
	}
}
