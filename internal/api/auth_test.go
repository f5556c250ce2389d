package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/stretchr/testify/assert"
)

func authRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/stats", Require(ScopeRead), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/usage", Require(ScopeWrite), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serve(r http.Handler, method, path string, headers map[string]string) int {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAuthenticator_Scopes(t *testing.T) {
	logs := &bytes.Buffer{}
	a := NewAuthenticator(config.AuthConfig{
		Enabled:      true,
		APIKeys:      []string{"writer-key"},
		ReadOnlyKeys: []string{"reader-key"},
	}, logging.NewLogger(logging.WithOutput(logs)))
	r := authRouter(a)

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{"missing key", "GET", "/stats", nil, http.StatusUnauthorized},
		{"unknown key", "GET", "/stats", map[string]string{DefaultAPIKeyHeader: "nope"}, http.StatusUnauthorized},
		{"reader reads", "GET", "/stats", map[string]string{DefaultAPIKeyHeader: "reader-key"}, http.StatusOK},
		{"reader writes", "POST", "/usage", map[string]string{DefaultAPIKeyHeader: "reader-key"}, http.StatusForbidden},
		{"writer reads", "GET", "/stats", map[string]string{DefaultAPIKeyHeader: "writer-key"}, http.StatusOK},
		{"writer writes", "POST", "/usage", map[string]string{DefaultAPIKeyHeader: "writer-key"}, http.StatusOK},
		{"bearer token", "POST", "/usage", map[string]string{"Authorization": "Bearer writer-key"}, http.StatusOK},
		{"basic auth ignored", "GET", "/stats", map[string]string{"Authorization": "Basic writer-key"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(r, tt.method, tt.path, tt.headers))
		})
	}

	assert.Contains(t, logs.String(), "API key rejected")
	assert.NotContains(t, logs.String(), `"nope"`)
}

func TestAuthenticator_CustomHeader(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{Enabled: true, APIKeys: []string{"key1"}, HeaderName: "X-Token"}, nil)
	r := authRouter(a)

	assert.Equal(t, http.StatusUnauthorized, serve(r, "GET", "/stats", map[string]string{DefaultAPIKeyHeader: "key1"}))
	assert.Equal(t, http.StatusOK, serve(r, "GET", "/stats", map[string]string{"X-Token": "key1"}))
}

func TestAuthenticator_Disabled(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{Enabled: false, APIKeys: []string{"key1"}}, nil)
	assert.Nil(t, a)

	r := authRouter(a)
	assert.Equal(t, http.StatusOK, serve(r, "POST", "/usage", nil))
}

func TestRequireWithoutAuthenticator(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", Require(ScopeRead), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusForbidden, serve(r, "GET", "/", nil))
}

func TestMaskAPIKeys(t *testing.T) {
	assert.Equal(t, []string{"****", "abcd**", ""}, MaskAPIKeys([]string{"abcd", "abcdef", ""}))
}
