package api

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/logging"
)

// Component is a dependency stopped after the HTTP server has drained.
type Component struct {
	Name string
	Stop func(ctx context.Context) error
}

// StopFunc wraps a context-free stop function.
func StopFunc(name string, stop func() error) Component {
	return Component{Name: name, Stop: func(context.Context) error { return stop() }}
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// loadTLS attaches the configured certificate to srv. Clients older than
// TLS 1.2 are refused.
func loadTLS(srv *http.Server, cfg config.TLSConfig) error {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}
	srv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return nil
}

// stopAll drains srv and then stops every component in order. A failing
// component does not prevent the rest from stopping.
func stopAll(ctx context.Context, logger *logging.Logger, srv *http.Server, components []Component) error {
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	for _, c := range components {
		start := time.Now()
		if err := c.Stop(ctx); err != nil {
			logger.Warn("component stop failed", "component", c.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		logger.Debug("component stopped", "component", c.Name, "duration_ms", time.Since(start).Milliseconds())
	}
	return stderrors.Join(errs...)
}
