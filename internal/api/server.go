// Package api exposes the limiter over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/failopen"
	"github.com/quotaguard/tokenquota/internal/limiter"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/metrics"
)

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	apiConfig  config.APIConfig
	limiters   *limiter.Holder
	checker    failopen.QuotaChecker
	muter      AlertMuter
	metrics    *metrics.Metrics
	logger     *logging.Logger
	components []Component
	httpServer *http.Server
	started    time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics shares a metrics registry with the rest of the process.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithComponents registers components stopped after the HTTP server, in order.
func WithComponents(components ...Component) ServerOption {
	return func(s *Server) { s.components = append(s.components, components...) }
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, limiters *limiter.Holder, opts ...ServerOption) *Server {
	server := &Server{
		router:    gin.New(),
		config:    cfg,
		apiConfig: apiCfg,
		limiters:  limiters,
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.metrics == nil {
		server.metrics = metrics.NewMetrics("tokenquota")
	}
	if server.logger == nil {
		server.logger = logging.NewLogger()
	}
	server.checker = limiters
	if apiCfg.FailOpen {
		server.checker = failopen.NewChecker(limiters, server.logger, server.metrics)
	}

	server.router.HandleMethodNotAllowed = true
	server.router.Use(gin.Recovery())
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(loggingMiddleware(server.logger))
	server.router.Use(metrics.Middleware(server.metrics, server.logger))

	server.setupRoutes()
	server.httpServer = newHTTPServer(cfg, server.router)
	return server
}

// loggingMiddleware tags the request with an ID and logs it on completion.
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx := c.Request.Context()
		if id := c.GetHeader(logging.RequestIDHeader); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		}
		ctx, requestID := logging.EnsureRequestID(ctx)
		if identity := c.Param("identity"); identity != "" {
			ctx = logging.WithIdentity(ctx, identity)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(logging.RequestIDHeader, requestID)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

// bodyLimitMiddleware limits the size of request bodies
func bodyLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Unauthenticated
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/health", s.handleHealth)

	auth := NewAuthenticator(s.apiConfig.Auth, s.logger)
	read, write := Require(ScopeRead), Require(ScopeWrite)

	quotas := s.router.Group(s.apiConfig.BasePath + "/quotas")
	quotas.Use(auth.Middleware())
	{
		quotas.GET("", read, s.handleListQuotas)
		quotas.GET("/:identity", read, s.handleGetStats)
		quotas.GET("/:identity/check", read, s.handleCheck)
		quotas.GET("/:identity/remaining", read, s.handleRemaining)
		quotas.POST("/:identity/usage", write, s.handleRecordUsage)
		quotas.DELETE("/:identity", write, s.handleReset)
	}

	if s.muter != nil {
		mute := s.router.Group(s.apiConfig.BasePath+"/alerts/mute", auth.Middleware())
		mute.GET("", read, s.handleGetMute)
		mute.POST("", write, s.handleMute)
		mute.DELETE("", write, s.handleUnmute)
	}
}

// Run starts the HTTP or HTTPS server based on TLS configuration
func (s *Server) Run() error {
	addr := s.config.Addr()
	if s.apiConfig.Auth.Enabled {
		s.logger.Info("API authentication enabled",
			"keys", MaskAPIKeys(s.apiConfig.Auth.APIKeys),
			"read_only_keys", MaskAPIKeys(s.apiConfig.Auth.ReadOnlyKeys),
		)
	}

	if s.config.TLS.Enabled {
		if err := loadTLS(s.httpServer, s.config.TLS); err != nil {
			return &errors.ErrServerStart{Addr: addr, Err: err}
		}
		s.logger.Info("starting HTTPS server", "addr", addr, "cert_file", s.config.TLS.CertFile)
		return s.serve(func() error { return s.httpServer.ListenAndServeTLS("", "") })
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	return s.serve(s.httpServer.ListenAndServe)
}

func (s *Server) serve(listen func() error) error {
	if err := listen(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: s.config.Addr(), Err: err}
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones, then stops
// the registered components.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	if err := stopAll(ctx, s.logger, s.httpServer, s.components); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return &errors.ErrServerShutdown{Err: err}
	}

	s.logger.Info("shutdown complete")
	return nil
}
