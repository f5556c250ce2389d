package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quotaguard/tokenquota/internal/alerts"
	"github.com/quotaguard/tokenquota/internal/api"
	"github.com/quotaguard/tokenquota/internal/cleanup"
	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/failopen"
	"github.com/quotaguard/tokenquota/internal/limiter"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/metrics"
	"github.com/quotaguard/tokenquota/internal/store"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the tokenquota HTTP API",
	Long: `Start the tokenquota server in main mode.

This command starts the HTTP API that records usage and answers quota
checks, the alert service, and scheduled ledger compaction. Edits to the
configuration file are applied without a restart; storage and server
settings still require one.

Example:
  tokenquota serve --config config.yaml

The server will start listening on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	TLS     bool
	TLSCert string
	TLSKey  string
	NoWatch bool
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().BoolVar(&serveFlags.TLS, "tls", false, "Enable TLS/HTTPS")
	serveCmd.Flags().StringVar(&serveFlags.TLSCert, "cert", "", "TLS certificate file path")
	serveCmd.Flags().StringVar(&serveFlags.TLSKey, "key", "", "TLS key file path")
	serveCmd.Flags().BoolVar(&serveFlags.NoWatch, "no-watch", false, "Disable configuration hot reload")

	RootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cfg *config.Config) error {
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.TLS {
		cfg.Server.TLS.Enabled = true
	}
	if serveFlags.TLSCert != "" {
		cfg.Server.TLS.CertFile = serveFlags.TLSCert
	}
	if serveFlags.TLSKey != "" {
		cfg.Server.TLS.KeyFile = serveFlags.TLSKey
	}
	if err := cfg.Server.Validate(); err != nil {
		return err
	}
	if cfg.Server.TLS.Enabled {
		return validateTLSConfig(cfg.Server.TLS)
	}
	return nil
}

// validateTLSConfig checks that the certificate and key files exist
func validateTLSConfig(tls config.TLSConfig) error {
	if _, err := os.Stat(tls.CertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file does not exist: %s", tls.CertFile)
	}
	if _, err := os.Stat(tls.KeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file does not exist: %s", tls.KeyFile)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := applyServeFlags(cfg); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	logger := newLogger(cfg)
	loader.SetLogger(logger)
	m := metrics.NewMetrics("tokenquota")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	logger.Info("storage ready", "backend", cfg.Storage.Backend)
	if guarded, ok := st.(*failopen.Store); ok {
		m.SetCircuitState(cfg.Storage.Backend, int(failopen.CircuitClosed))
		guarded.Breaker().OnStateChange(func(name string, state failopen.CircuitState) {
			m.SetCircuitState(name, int(state))
			logger.Warn("storage circuit breaker changed state", "backend", name, "state", state.String())
		})
	}

	alertSvc := newAlertService(cfg, logger, m)
	alertSvc.Start()

	deps := limiterDeps{store: st, metrics: m, logger: logger, onThreshold: alertSvc.OnThreshold}
	l, err := buildLimiter(cfg, deps)
	if err != nil {
		_ = alertSvc.Stop()
		_ = st.Close()
		return fmt.Errorf("invalid quota configuration: %w", err)
	}
	holder := limiter.NewHolder(l)

	var components []api.Component

	if !serveFlags.NoWatch {
		loader.SetOnChange(func(next *config.Config) {
			reloadLimiter(holder, cfg.Storage, next, deps)
		})
		if err := loader.StartWatcher(); err != nil {
			logger.Warn("config hot reload unavailable", "path", loader.Path(), "error", err.Error())
		} else {
			components = append(components, api.StopFunc("config watcher", func() error {
				loader.StopWatcher()
				return nil
			}))
		}
	}

	if mgr := newCleanupManager(cfg, holder, st, logger, m); mgr != nil {
		if err := mgr.Start(ctx); err != nil {
			logger.Warn("scheduled compaction unavailable", "error", err.Error())
		} else {
			components = append(components, api.StopFunc("compaction scheduler", func() error {
				mgr.Stop()
				return nil
			}))
		}
	}

	components = append(components,
		api.StopFunc("alerts", alertSvc.Stop),
		api.StopFunc("storage", st.Close),
	)

	server := api.NewServer(cfg.Server, cfg.API, holder,
		api.WithMetrics(m),
		api.WithLogger(logger),
		api.WithAlertMuter(alertSvc),
		api.WithComponents(components...),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-errCh:
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newAlertService(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) *alerts.Service {
	sinks := []alerts.Sink{alerts.NewLogSink(logger)}

	bot, err := newTelegramBot(cfg.Telegram)
	if err != nil {
		logger.Warn("telegram notifications unavailable", "error", err.Error())
	} else if bot != nil {
		sinks = append(sinks, alerts.NewBotSink(bot))
	}

	return alerts.NewService(alerts.Config{
		Enabled:                    cfg.Alerts.Enabled || bot != nil,
		RateLimitPerMinute:         cfg.Alerts.RateLimitPerMinute,
		IdentityRateLimitPerMinute: cfg.Alerts.PerIdentityPerMinute,
		QueueSize:                  cfg.Alerts.QueueSize,
		ShutdownTimeout:            cfg.Alerts.ShutdownTimeout,
	}, sinks, alerts.WithLogger(logger), alerts.WithMetrics(m))
}

// newCleanupManager returns nil when compaction is disabled or the store
// cannot enumerate identities.
func newCleanupManager(cfg *config.Config, compactor cleanup.Compactor, st ledgerStore, logger *logging.Logger, m *metrics.Metrics) *cleanup.Manager {
	if !cfg.Cleanup.Enabled {
		return nil
	}
	lister, ok := st.(store.Lister)
	if !ok {
		logger.Warn("scheduled compaction disabled: storage backend cannot list identities", "backend", cfg.Storage.Backend)
		return nil
	}

	opts := []cleanup.Option{cleanup.WithLogger(logger), cleanup.WithMetrics(m)}
	if v, ok := st.(cleanup.Vacuumer); ok && cfg.Cleanup.Vacuum {
		opts = append(opts, cleanup.WithVacuumer(v))
	}
	mgr, err := cleanup.NewManager(cleanup.Config{Schedule: cfg.Cleanup.Schedule, Vacuum: cfg.Cleanup.Vacuum}, compactor, lister, opts...)
	if err != nil {
		logger.Warn("scheduled compaction disabled", "error", err.Error())
		return nil
	}
	return mgr
}

// reloadLimiter swaps in a limiter built from next. Storage changes need a
// restart and are only reported.
func reloadLimiter(holder *limiter.Holder, storage config.StorageConfig, next *config.Config, deps limiterDeps) {
	if next.Storage.Backend != storage.Backend {
		deps.logger.Warn("storage backend change ignored until restart",
			"current", storage.Backend, "configured", next.Storage.Backend)
	}

	l, err := buildLimiter(next, deps)
	if err != nil {
		deps.logger.Error("config reload rejected", "error", err.Error())
		deps.metrics.RecordConfigReload("error")
		return
	}
	holder.Swap(l)
	deps.metrics.RecordConfigReload("success")
	deps.logger.Info("quota configuration reloaded", "limits", len(l.Config().Limits))
}
