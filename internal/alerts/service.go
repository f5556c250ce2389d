package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quotaguard/tokenquota/internal/logging"
	"github.com/quotaguard/tokenquota/internal/metrics"
)

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Config represents alert service configuration
type Config struct {
	Enabled            bool
	RateLimitPerMinute int
	// IdentityRateLimitPerMinute caps alerts per identity; 0 disables it.
	IdentityRateLimitPerMinute int
	QueueSize                  int
	SendTimeout                time.Duration
	ShutdownTimeout            time.Duration
}

// Service turns threshold crossings into alerts and fans them out to sinks.
// Deliveries are asynchronous once started and rate limited by a Throttler.
type Service struct {
	config    Config
	sinks     []Sink
	throttler *Throttler
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	queue chan Alert

	mu        sync.RWMutex
	muteState MuteState
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// ServiceOption is a functional option for Service
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics records deliveries.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for alert timestamps and muting.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a new alert service
func NewService(config Config, sinks []Sink, opts ...ServiceOption) *Service {
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 25 * time.Second
	}

	s := &Service{
		config:    config,
		sinks:     sinks,
		throttler: NewThrottler(config.RateLimitPerMinute, config.IdentityRateLimitPerMinute),
		logger:    logging.Nop(),
		now:       time.Now,
		queue:     make(chan Alert, config.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the delivery goroutine
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.processAlerts()
}

// Stop stops the delivery goroutine and flushes queued alerts
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.flush()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		return fmt.Errorf("timeout waiting for alert service to stop")
	}
}

// IsRunning returns whether the service is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// OnThreshold matches models.ThresholdFunc. It never blocks the caller
// while the service is running.
func (s *Service) OnThreshold(identity string, threshold float64) {
	if err := s.Enqueue(NewThresholdAlert(identity, threshold, s.now())); err != nil {
		s.logger.Warn("alert dropped",
			"identity", identity,
			"threshold", threshold,
			"error", err.Error(),
		)
	}
}

// Enqueue schedules an alert for delivery. When the service is not running
// the alert is delivered synchronously.
func (s *Service) Enqueue(alert Alert) error {
	if !s.config.Enabled {
		return nil
	}

	s.mu.RLock()
	muted := s.muteState.IsMuted(s.now())
	remaining := s.muteState.Remaining(s.now())
	running := s.running
	s.mu.RUnlock()

	if muted {
		s.record("all", "muted")
		return fmt.Errorf("alerts are muted for %v", remaining)
	}
	if !s.throttler.AllowIdentity(alert.Identity) {
		s.record("all", "throttled")
		return fmt.Errorf("alert rate for %s exceeded", alert.Identity)
	}

	if !running {
		s.deliver(context.Background(), alert)
		return nil
	}

	select {
	case s.queue <- alert:
		return nil
	default:
		s.record("all", "dropped")
		return fmt.Errorf("alert queue is full")
	}
}

// Mute suppresses alerts for duration
func (s *Service) Mute(duration time.Duration, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.muteState = MuteState{Muted: true, Until: s.now().Add(duration), Reason: reason}
}

// Unmute resumes alert delivery
func (s *Service) Unmute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muteState = MuteState{}
}

// MuteStatus returns the mute state, zeroed once it has expired.
func (s *Service) MuteStatus() MuteState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.muteState.IsMuted(s.now()) {
		return MuteState{}
	}
	return s.muteState
}

// IsMuted returns whether alerts are muted
func (s *Service) IsMuted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muteState.IsMuted(s.now())
}

func (s *Service) processAlerts() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case alert := <-s.queue:
			if !s.waitForToken() {
				s.deliver(context.Background(), alert)
				return
			}
			s.deliver(s.ctx, alert)
		}
	}
}

func (s *Service) waitForToken() bool {
	return s.throttler.Wait(s.ctx) == nil
}

func (s *Service) flush() {
	for {
		select {
		case alert := <-s.queue:
			s.deliver(context.Background(), alert)
		default:
			return
		}
	}
}

func (s *Service) deliver(ctx context.Context, alert Alert) {
	for _, sink := range s.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
		err := sink.Send(sendCtx, alert)
		cancel()

		status := "sent"
		if err != nil {
			status = "failed"
			s.logger.Error("alert delivery failed",
				"sink", sink.Name(),
				"alert_id", alert.ID,
				"identity", alert.Identity,
				"error", err.Error(),
			)
		}
		s.record(sink.Name(), status)
	}
}

func (s *Service) record(sink, status string) {
	if s.metrics != nil {
		s.metrics.RecordAlert(sink, status)
	}
}
