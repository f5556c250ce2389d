package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quotaguard/tokenquota/internal/config"
	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/failopen"
	"github.com/quotaguard/tokenquota/internal/limiter"
	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/metrics"
	"github.com/quotaguard/tokenquota/internal/models"
	"github.com/quotaguard/tokenquota/internal/pricing"
	"github.com/quotaguard/tokenquota/internal/store"
)

// ledgerStore is a store the CLI owns and must close.
type ledgerStore interface {
	store.Store
	Close() error
}

// loadConfig reads the file named by --config. A missing file falls back to
// the defaults so one-off commands work without any setup.
func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err == nil {
		return loader, cfg, nil
	}
	var notFound *errors.ErrConfigNotFound
	if stderrors.As(err, &notFound) {
		return loader, config.Default(), nil
	}
	return nil, nil, err
}

func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.ParseLevel(cfg.Server.LogLevel)
	if globalFlags.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.WithLevel(level), logging.WithOutput(os.Stderr))
}

// openStore connects the configured storage backend. Remote backends are
// guarded by a per-call timeout and a circuit breaker.
func openStore(ctx context.Context, cfg config.StorageConfig) (ledgerStore, error) {
	st, err := openBackend(ctx, cfg)
	if err != nil || !cfg.Remote() {
		return st, err
	}
	return failopen.NewStore(cfg.Backend, st, cfg.Timeout, failopen.BreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		OpenTimeout:      cfg.CircuitBreaker.Timeout,
		HalfOpenLimit:    cfg.CircuitBreaker.HalfOpenLimit,
	}), nil
}

// backendStore is what every backend provides.
type backendStore interface {
	ledgerStore
	store.Lister
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (backendStore, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return store.NewMemoryStore(), nil
	case config.BackendSQLite:
		return store.NewSQLiteStore(cfg.SQLite.Path)
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, &errors.ErrDatabaseOpen{Path: cfg.Redis.Addr, Err: err}
		}
		opts := []store.KVOption{store.WithTTL(cfg.Redis.TTL)}
		if cfg.Redis.KeyPrefix != "" {
			opts = append(opts, store.WithKeyPrefix(cfg.Redis.KeyPrefix))
		}
		return store.NewKVStore(store.NewRedisKV(client), opts...), nil
	case config.BackendPostgres:
		var opts []store.PostgresOption
		if cfg.Postgres.TablePrefix != "" {
			opts = append(opts, store.WithTablePrefix(cfg.Postgres.TablePrefix))
		}
		return store.OpenPostgres(ctx, cfg.Postgres.DSN, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func pricingTable(cfg *config.Config) pricing.Table {
	return pricing.Default().Merge(cfg.Pricing)
}

// limiterDeps are the collaborators shared by every limiter built for one
// process, so reloads keep the same store and metrics.
type limiterDeps struct {
	store       store.Store
	metrics     *metrics.Metrics
	logger      *logging.Logger
	onThreshold models.ThresholdFunc
}

func buildLimiter(cfg *config.Config, deps limiterDeps) (*limiter.Limiter, error) {
	qc := cfg.Quota.ToQuotaConfig()
	qc.OnThreshold = deps.onThreshold

	opts := []limiter.Option{
		limiter.WithStore(deps.store),
		limiter.WithPricing(pricingTable(cfg)),
	}
	if deps.metrics != nil {
		opts = append(opts, limiter.WithMetrics(deps.metrics))
	}
	if deps.logger != nil {
		opts = append(opts, limiter.WithLogger(deps.logger))
	}
	return limiter.New(qc, opts...)
}

// withLimiter opens the configured store, builds a limiter over it and runs
// fn. The store is closed afterwards.
func withLimiter(ctx context.Context, fn func(*config.Config, *limiter.Limiter, ledgerStore) error) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}
	defer st.Close()

	l, err := buildLimiter(cfg, limiterDeps{store: st, logger: newLogger(cfg)})
	if err != nil {
		return fmt.Errorf("invalid quota configuration: %w", err)
	}
	return fn(cfg, l, st)
}
