// Package cleanup compacts stored ledgers on a cron schedule.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/metrics"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs compaction every fifteen minutes.
const DefaultSchedule = "*/15 * * * *"

// Compactor drops expired events from one identity's ledger.
type Compactor interface {
	Compact(ctx context.Context, identity string) (int, error)
}

// Lister enumerates the identities to compact.
type Lister interface {
	Identities(ctx context.Context) ([]string, error)
}

// Vacuumer is implemented by stores that can reclaim disk space.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// Config contains the cleanup manager configuration.
type Config struct {
	Schedule string `json:"schedule"`
	Vacuum   bool   `json:"vacuum"`
}

// Result describes one compaction run.
type Result struct {
	Identities   int           `json:"identities"`
	Compacted    int           `json:"compacted"`
	EventsPruned int           `json:"events_pruned"`
	Failures     int           `json:"failures"`
	Vacuumed     bool          `json:"vacuumed"`
	Duration     time.Duration `json:"duration"`
	StartedAt    time.Time     `json:"started_at"`
}

// Stats contains cleanup statistics.
type Stats struct {
	TotalRuns         int       `json:"total_runs"`
	TotalEventsPruned int64     `json:"total_events_pruned"`
	LastRun           *Result   `json:"last_run,omitempty"`
	NextRunAt         time.Time `json:"next_run_at"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records compaction runs.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithVacuumer enables a vacuum pass after each run when Config.Vacuum is set.
func WithVacuumer(v Vacuumer) Option {
	return func(m *Manager) { m.vacuumer = v }
}

// Manager handles periodic compaction of stored ledgers.
type Manager struct {
	config    Config
	compactor Compactor
	lister    Lister
	vacuumer  Vacuumer
	logger    *logging.Logger
	metrics   *metrics.Metrics

	cron    *cron.Cron
	running bool
	mu      sync.Mutex
	runMu   sync.Mutex

	statsMu sync.RWMutex
	stats   Stats
}

// NewManager creates a new cleanup manager. An invalid schedule is reported
// here rather than at Start.
func NewManager(config Config, compactor Compactor, lister Lister, opts ...Option) (*Manager, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", config.Schedule, err)
	}

	m := &Manager{
		config:    config,
		compactor: compactor,
		lister:    lister,
		logger:    logging.Nop(),
		cron:      cron.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start schedules compaction. Runs stop when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("cleanup manager is already running")
	}

	if _, err := m.cron.AddFunc(m.config.Schedule, func() {
		if _, err := m.RunOnce(ctx); err != nil {
			m.logger.Error("scheduled compaction failed", "error", err.Error())
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule compaction: %w", err)
	}

	m.cron.Start()
	m.running = true
	m.logger.Info("cleanup manager started", "schedule", m.config.Schedule)

	go func() {
		<-ctx.Done()
		m.Stop()
	}()

	return nil
}

// Stop stops the scheduler and waits for a running compaction to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.running = false
	m.logger.Info("cleanup manager stopped")
}

// IsRunning returns whether the cleanup manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// NextRun returns the next scheduled run, or the zero time when not running.
func (m *Manager) NextRun() time.Time {
	entries := m.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce compacts every stored ledger immediately. A failure on one
// identity is logged and counted; the run continues with the rest.
func (m *Manager) RunOnce(ctx context.Context) (*Result, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	start := time.Now()
	result := &Result{StartedAt: start}

	identities, err := m.lister.Identities(ctx)
	if err != nil {
		m.record("error", result)
		return nil, fmt.Errorf("list identities: %w", err)
	}
	result.Identities = len(identities)

	for _, id := range identities {
		if err := ctx.Err(); err != nil {
			m.record("cancelled", result)
			return result, err
		}
		removed, err := m.compactor.Compact(ctx, id)
		if err != nil {
			result.Failures++
			m.logger.Warn("ledger compaction failed", "identity", id, "error", err.Error())
			continue
		}
		if removed > 0 {
			result.Compacted++
			result.EventsPruned += removed
		}
	}

	if m.config.Vacuum && m.vacuumer != nil {
		if err := m.vacuumer.Vacuum(ctx); err != nil {
			m.logger.Warn("vacuum failed", "error", err.Error())
		} else {
			result.Vacuumed = true
		}
	}

	result.Duration = time.Since(start)
	status := "success"
	if result.Failures > 0 {
		status = "partial"
	}
	m.record(status, result)

	m.logger.Info("compaction completed",
		"identities", result.Identities,
		"compacted", result.Compacted,
		"events_pruned", result.EventsPruned,
		"failures", result.Failures,
		"duration", result.Duration.String(),
	)
	return result, nil
}

func (m *Manager) record(status string, result *Result) {
	if m.metrics != nil {
		m.metrics.RecordCompaction(status, result.EventsPruned)
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats.TotalRuns++
	m.stats.TotalEventsPruned += int64(result.EventsPruned)
	copied := *result
	m.stats.LastRun = &copied
}

// GetStats returns the current cleanup statistics.
func (m *Manager) GetStats() Stats {
	m.statsMu.RLock()
	stats := m.stats
	m.statsMu.RUnlock()

	stats.NextRunAt = m.NextRun()
	return stats
}
