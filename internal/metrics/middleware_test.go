package metrics

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorType(t *testing.T) {
	tests := map[int]string{
		http.StatusOK:                 "",
		http.StatusBadRequest:         "",
		http.StatusUnauthorized:       "auth",
		http.StatusForbidden:          "auth",
		http.StatusTooManyRequests:    "quota_exceeded",
		http.StatusServiceUnavailable: "server_error",
	}
	for status, want := range tests {
		assert.Equal(t, want, errorType(status), http.StatusText(status))
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics("mwtest")
	var logs bytes.Buffer

	r := gin.New()
	r.Use(Middleware(m, logging.NewLogger(logging.WithOutput(&logs))))
	r.GET("/quotas/:identity", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/quotas/:identity/usage", func(c *gin.Context) { c.Status(http.StatusTooManyRequests) })
	r.GET("/health", func(c *gin.Context) {
		_ = c.Error(errors.New("ledger store unreachable"))
		c.Status(http.StatusServiceUnavailable)
	})

	requests := []struct{ method, path string }{
		{http.MethodGet, "/quotas/alice"},
		{http.MethodGet, "/quotas/bob"},
		{http.MethodPost, "/quotas/alice/usage"},
		{http.MethodGet, "/health"},
		{http.MethodGet, "/no/such/route"},
	}
	for _, req := range requests {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(req.method, req.path, nil))
	}

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	assert.Equal(t, 2.0, familyCounterValue(families, "mwtest_http_requests_total", map[string]string{"endpoint": "/quotas/:identity"}))
	assert.Equal(t, 1.0, familyCounterValue(families, "mwtest_http_requests_total", map[string]string{"endpoint": unmatchedEndpoint}))
	assert.Zero(t, familyCounterValue(families, "mwtest_http_requests_total", map[string]string{"endpoint": "/no/such/route"}))
	assert.Equal(t, 1.0, familyCounterValue(families, "mwtest_errors_total", map[string]string{"type": "quota_exceeded"}))
	assert.Equal(t, 1.0, familyCounterValue(families, "mwtest_errors_total", map[string]string{"type": "server_error"}))

	assert.Contains(t, logs.String(), "ledger store unreachable")

	var inflight dto.Metric
	require.NoError(t, m.HTTPRequestsInFlight.Write(&inflight))
	assert.Zero(t, inflight.GetGauge().GetValue())
}

// familyCounterValue sums the counter samples of name whose labels include want.
func familyCounterValue(families []*dto.MetricFamily, name string, want map[string]string) float64 {
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	samples:
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue samples
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
