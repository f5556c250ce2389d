package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/quotaguard/tokenquota/internal/models"
	"github.com/quotaguard/tokenquota/internal/pricing"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config represents the complete application configuration.
type Config struct {
	Version  string                   `yaml:"version"`
	Server   ServerConfig             `yaml:"server"`
	API      APIConfig                `yaml:"api"`
	Quota    QuotaSection             `yaml:"quota"`
	Storage  StorageConfig            `yaml:"storage"`
	Pricing  map[string]pricing.Price `yaml:"pricing,omitempty"`
	Telegram TelegramConfig           `yaml:"telegram"`
	Alerts   AlertsConfig             `yaml:"alerts"`
	Cleanup  CleanupConfig            `yaml:"cleanup"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	LogLevel        string        `yaml:"log_level"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	BasePath string     `yaml:"base_path"`
	Auth     AuthConfig `yaml:"auth"`
	// FailOpen answers quota checks with "allowed" when storage is unavailable.
	FailOpen bool `yaml:"fail_open"`
}

// AuthConfig contains authentication configuration.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
	// ReadOnlyKeys may query quotas but not record usage or reset.
	ReadOnlyKeys []string `yaml:"read_only_keys"`
	HeaderName   string   `yaml:"header_name"`
}

// QuotaSection configures the limiter. Either the simple form (limit and
// window) or an explicit limits list may be used; the list wins when both
// are set.
type QuotaSection struct {
	// Limit is the token ceiling of the simple form. Default: 100000
	Limit *float64 `yaml:"limit"`
	// Window is the window of the simple form. Default: 1h
	Window       time.Duration `yaml:"window"`
	Limits       []LimitConfig `yaml:"limits"`
	BurstPercent float64       `yaml:"burst_percent"`
	// CostCeiling of 0 is treated as unset.
	CostCeiling *float64 `yaml:"cost_ceiling"`
	TrackCost   bool     `yaml:"track_cost"`
	// Thresholds defaults to [80, 90, 100] when omitted. An explicit empty
	// list disables threshold notifications.
	Thresholds []float64 `yaml:"thresholds"`
}

// LimitConfig is one entry of QuotaSection.Limits.
type LimitConfig struct {
	Tokens float64       `yaml:"tokens"`
	Window time.Duration `yaml:"window"`
}

// StorageConfig selects and configures the ledger store.
type StorageConfig struct {
	Backend  string         `yaml:"backend"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	// Timeout bounds each call to a remote backend. Default: 2s
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig guards remote backends (redis, postgres).
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default: 5
	FailureThreshold int `yaml:"failure_threshold"`
	// Timeout is how long the circuit stays open. Default: 30s
	Timeout time.Duration `yaml:"timeout"`
	// HalfOpenLimit successful probes close the circuit. Default: 3
	HalfOpenLimit int `yaml:"half_open_limit"`
}

// Remote reports whether the backend is reached over the network.
func (s StorageConfig) Remote() bool {
	return s.Backend == BackendRedis || s.Backend == BackendPostgres
}

// SQLiteConfig contains the embedded database settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	TablePrefix string `yaml:"table_prefix"`
}

// TelegramConfig contains Telegram bot configuration.
type TelegramConfig struct {
	Enabled   bool              `yaml:"enabled"`
	BotToken  string            `yaml:"bot_token"`
	ChatID    int64             `yaml:"chat_id"`
	RateLimit TelegramRateLimit `yaml:"rate_limit"`
	// APIEndpoint points at a self-hosted Bot API server. Empty uses api.telegram.org.
	APIEndpoint string `yaml:"api_endpoint"`
	// Timeout bounds each Bot API request. Default: 10s
	Timeout time.Duration `yaml:"timeout"`
	// DedupWindow suppresses repeats of the same alert. Default: 5m
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// TelegramRateLimit contains Telegram rate limiting configuration.
type TelegramRateLimit struct {
	MessagesPerMinute int `yaml:"messages_per_minute"`
}

// AlertsConfig contains alert service configuration.
type AlertsConfig struct {
	// Enabled turns threshold crossings into alerts.
	Enabled bool `yaml:"enabled"`
	// RateLimitPerMinute limits the number of alerts per minute.
	// Default: 30
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// PerIdentityPerMinute caps alerts for a single identity. 0 disables it.
	PerIdentityPerMinute int `yaml:"per_identity_per_minute"`
	// QueueSize bounds pending alerts. Default: 100
	QueueSize int `yaml:"queue_size"`
	// ShutdownTimeout is the timeout for graceful shutdown.
	// Default: 25s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CleanupConfig contains ledger compaction configuration.
type CleanupConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a standard cron expression. Default: "*/15 * * * *"
	Schedule string `yaml:"schedule"`
	// Vacuum runs VACUUM after compaction when the store supports it.
	Vacuum bool `yaml:"vacuum"`
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Quota.Validate(); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	for model, p := range c.Pricing {
		if p.Input < 0 || p.Output < 0 {
			return fmt.Errorf("pricing: %s: prices must be non-negative", model)
		}
	}
	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	if err := c.Cleanup.Validate(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.IdleTimeout < 0 {
		return fmt.Errorf("read, write and idle timeouts must not be negative")
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 2 * time.Minute
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" {
			return fmt.Errorf("tls cert_file is required when TLS is enabled")
		}
		if s.TLS.KeyFile == "" {
			return fmt.Errorf("tls key_file is required when TLS is enabled")
		}
	}
	return nil
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.BasePath == "" {
		a.BasePath = "/api/v1"
	}
	if !strings.HasPrefix(a.BasePath, "/") {
		return fmt.Errorf("base_path must start with /")
	}
	a.BasePath = strings.TrimRight(a.BasePath, "/")
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	if a.Auth.Enabled && len(a.Auth.APIKeys)+len(a.Auth.ReadOnlyKeys) == 0 {
		return fmt.Errorf("auth: api_keys or read_only_keys is required when auth is enabled")
	}
	return nil
}

// Validate applies the simple-form defaults and checks the resulting limits.
func (q *QuotaSection) Validate() error {
	if len(q.Limits) == 0 {
		if q.Limit == nil {
			v := float64(models.DefaultTokenLimit)
			q.Limit = &v
		}
		if q.Window == 0 {
			q.Window = models.DefaultWindow
		}
	}
	return q.ToQuotaConfig().Validate()
}

// ToQuotaConfig builds the limiter configuration. OnThreshold is left unset.
func (q QuotaSection) ToQuotaConfig() models.QuotaConfig {
	cfg := models.QuotaConfig{
		BurstPercent: q.BurstPercent,
		TrackCost:    q.TrackCost,
		Thresholds:   q.Thresholds,
	}
	if q.CostCeiling != nil && *q.CostCeiling != 0 {
		cfg.CostCeiling = q.CostCeiling
	}
	if len(q.Limits) > 0 {
		cfg.Limits = make([]models.LimitSpec, len(q.Limits))
		for i, l := range q.Limits {
			cfg.Limits[i] = models.LimitSpec{Tokens: l.Tokens, Window: l.Window}
		}
		return cfg
	}

	limit := float64(models.DefaultTokenLimit)
	if q.Limit != nil {
		limit = *q.Limit
	}
	window := q.Window
	if window == 0 {
		window = models.DefaultWindow
	}
	cfg.Limits = []models.LimitSpec{{Tokens: limit, Window: window}}
	return cfg
}

// Validate validates storage configuration.
func (s *StorageConfig) Validate() error {
	if s.Backend == "" {
		s.Backend = BackendMemory
	}
	switch s.Backend {
	case BackendMemory:
	case BackendSQLite:
		if s.SQLite.Path == "" {
			s.SQLite.Path = "data/tokenquota.db"
		}
	case BackendRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis: addr is required")
		}
		if s.Redis.TTL < 0 {
			return fmt.Errorf("redis: ttl must not be negative")
		}
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("postgres: dsn is required")
		}
	default:
		return fmt.Errorf("backend must be one of: memory, sqlite, redis, postgres")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Second
	}
	cb := &s.CircuitBreaker
	if cb.FailureThreshold < 0 || cb.Timeout < 0 || cb.HalfOpenLimit < 0 {
		return fmt.Errorf("circuit_breaker: values must not be negative")
	}
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.Timeout == 0 {
		cb.Timeout = 30 * time.Second
	}
	if cb.HalfOpenLimit == 0 {
		cb.HalfOpenLimit = 3
	}
	return nil
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram is enabled")
	}
	if t.RateLimit.MessagesPerMinute <= 0 {
		t.RateLimit.MessagesPerMinute = 20
	}
	if t.Timeout < 0 || t.DedupWindow < 0 {
		return fmt.Errorf("timeout and dedup_window must be non-negative")
	}
	if t.Timeout == 0 {
		t.Timeout = 10 * time.Second
	}
	if t.DedupWindow == 0 {
		t.DedupWindow = 5 * time.Minute
	}
	return nil
}

// Validate validates alerts configuration and applies defaults.
func (a *AlertsConfig) Validate() error {
	if a.RateLimitPerMinute <= 0 {
		a.RateLimitPerMinute = 30
	}
	if a.PerIdentityPerMinute < 0 {
		return fmt.Errorf("per_identity_per_minute must be non-negative")
	}
	if a.QueueSize <= 0 {
		a.QueueSize = 100
	}
	if a.ShutdownTimeout <= 0 {
		a.ShutdownTimeout = 25 * time.Second
	}
	if a.ShutdownTimeout >= 30*time.Second {
		return fmt.Errorf("shutdown_timeout must be less than 30s")
	}
	return nil
}

// Validate validates cleanup configuration.
func (c *CleanupConfig) Validate() error {
	if c.Schedule == "" {
		c.Schedule = "*/15 * * * *"
	}
	return nil
}
