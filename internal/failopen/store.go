package failopen

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/models"
	"github.com/quotaguard/tokenquota/internal/store"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 2 * time.Second

// backend is a ledger store that can enumerate identities and be closed.
type backend interface {
	store.Store
	store.Lister
	Close() error
}

// Store guards a remote ledger store with a per-call timeout and a circuit
// breaker. Timeouts and calls refused by an open circuit are reported as
// *errors.ErrBackendUnavailable; the latter wraps *CircuitOpenError.
type Store struct {
	inner   backend
	timeout time.Duration
	breaker *CircuitBreaker
}

// NewStore wraps inner. A zero timeout uses DefaultTimeout.
func NewStore(name string, inner backend, timeout time.Duration, breaker BreakerConfig) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		inner:   inner,
		timeout: timeout,
		breaker: NewCircuitBreaker(name, breaker),
	}
}

// Breaker exposes the circuit breaker for state reporting.
func (s *Store) Breaker() *CircuitBreaker {
	return s.breaker
}

// Load implements store.Store.
func (s *Store) Load(ctx context.Context, identity string) (*models.Ledger, error) {
	var ledger *models.Ledger
	err := s.call(ctx, "load", func(ctx context.Context) error {
		var err error
		ledger, err = s.inner.Load(ctx, identity)
		return err
	})
	return ledger, err
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, identity string, ledger *models.Ledger) error {
	return s.call(ctx, "save", func(ctx context.Context) error {
		return s.inner.Save(ctx, identity, ledger)
	})
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, identity string) error {
	return s.call(ctx, "delete", func(ctx context.Context) error {
		return s.inner.Delete(ctx, identity)
	})
}

// Identities implements store.Lister. Listing scans the whole keyspace, so
// it is not bounded by the per-call timeout.
func (s *Store) Identities(ctx context.Context) ([]string, error) {
	if !s.breaker.Allow() {
		return nil, s.refused("identities")
	}
	ids, err := s.inner.Identities(ctx)
	s.record(ctx, err)
	return ids, err
}

// Close closes the wrapped store.
func (s *Store) Close() error {
	return s.inner.Close()
}

func (s *Store) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if !s.breaker.Allow() {
		return s.refused(op)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = &errors.ErrBackendUnavailable{
			Backend:   s.breaker.name,
			Operation: op,
			Err:       fmt.Errorf("backend call exceeded %s: %w", s.timeout, err),
		}
	}
	s.record(ctx, err)
	return err
}

func (s *Store) refused(op string) error {
	return &errors.ErrBackendUnavailable{
		Backend:    s.breaker.name,
		Operation:  op,
		RetryAfter: s.breaker.RetryAfter(),
		Err:        &CircuitOpenError{Name: s.breaker.name},
	}
}

// record counts err against the breaker unless the caller gave up first.
func (s *Store) record(ctx context.Context, err error) {
	switch {
	case err == nil:
		s.breaker.RecordSuccess()
	case ctx.Err() != nil:
	default:
		s.breaker.RecordFailure()
	}
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Lister = (*Store)(nil)
)
