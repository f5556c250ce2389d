package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/logging"
)

// DefaultAPIKeyHeader is used when no header name is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// Scope is what an API key may do.
type Scope int

const (
	ScopeRead Scope = iota + 1
	ScopeWrite
)

const scopeKey = "auth.scope"

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

type apiKey struct {
	digest [sha256.Size]byte
	scope  Scope
}

// Authenticator resolves API keys to scopes.
type Authenticator struct {
	header string
	keys   []apiKey
	logger *logging.Logger
}

// NewAuthenticator builds an Authenticator from cfg. It returns nil when
// auth is disabled; a nil Authenticator admits every request with write scope.
func NewAuthenticator(cfg config.AuthConfig, logger *logging.Logger) *Authenticator {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = logging.Nop()
	}
	a := &Authenticator{header: cfg.HeaderName, logger: logger}
	if a.header == "" {
		a.header = DefaultAPIKeyHeader
	}
	for _, k := range cfg.APIKeys {
		a.keys = append(a.keys, apiKey{digest: sha256.Sum256([]byte(k)), scope: ScopeWrite})
	}
	for _, k := range cfg.ReadOnlyKeys {
		a.keys = append(a.keys, apiKey{digest: sha256.Sum256([]byte(k)), scope: ScopeRead})
	}
	return a
}

// resolve compares against every key so timing does not depend on which one matched.
func (a *Authenticator) resolve(candidate string) Scope {
	digest := sha256.Sum256([]byte(candidate))
	var scope Scope
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k.digest[:], digest[:]) == 1 && k.scope > scope {
			scope = k.scope
		}
	}
	return scope
}

func (a *Authenticator) credential(c *gin.Context) string {
	if key := c.GetHeader(a.header); key != "" {
		return key
	}
	if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return ""
}

// Middleware rejects requests without a known key and records the key's
// scope for Require.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	if a == nil {
		return func(c *gin.Context) {
			c.Set(scopeKey, ScopeWrite)
			c.Next()
		}
	}
	return func(c *gin.Context) {
		key := a.credential(c)
		if key == "" {
			a.logger.WarnWithContext(c.Request.Context(), "API key missing",
				"header_name", a.header,
				"client_ip", c.ClientIP(),
			)
			abort(c, http.StatusUnauthorized, "unauthorized",
				"API key is required in the '"+a.header+"' header or as a bearer token")
			return
		}
		scope := a.resolve(key)
		if scope == 0 {
			a.logger.WarnWithContext(c.Request.Context(), "API key rejected",
				"client_ip", c.ClientIP(),
				"key", MaskAPIKeys([]string{key})[0],
			)
			abort(c, http.StatusUnauthorized, "unauthorized", "Invalid API key")
			return
		}
		c.Set(scopeKey, scope)
		c.Next()
	}
}

// Require aborts with 403 unless the authenticated scope covers want.
func Require(want Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if scope, _ := c.Get(scopeKey); scope != nil && scope.(Scope) >= want {
			c.Next()
			return
		}
		abort(c, http.StatusForbidden, "forbidden", "API key is read-only")
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message, Code: status})
}

// MaskAPIKeys keeps the first four characters of each key.
func MaskAPIKeys(keys []string) []string {
	masked := make([]string, len(keys))
	for i, key := range keys {
		if len(key) <= 4 {
			masked[i] = strings.Repeat("*", len(key))
		} else {
			masked[i] = key[:4] + strings.Repeat("*", len(key)-4)
		}
	}
	return masked
}
