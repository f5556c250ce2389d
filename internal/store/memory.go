package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/quotaguard/tokenquota/internal/models"
)

// MemoryStore keeps ledgers in a map guarded by a mutex. Ledgers are cloned
// on Save and Load, so callers never alias stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	ledgers map[string]*models.Ledger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ledgers: map[string]*models.Ledger{}}
}

func (s *MemoryStore) Load(ctx context.Context, identity string) (*models.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ledger := s.ledgers[identity]
	s.mu.RUnlock()

	if ledger == nil {
		return nil, nil
	}
	return ledger.Clone(), nil
}

// Save stores a copy of ledger; a nil ledger is stored as an empty one.
func (s *MemoryStore) Save(ctx context.Context, identity string, ledger *models.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := models.NewLedger()
	if ledger != nil {
		stored = ledger.Clone()
	}
	s.mu.Lock()
	s.ledgers[identity] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.ledgers, identity)
	s.mu.Unlock()
	return nil
}

// Identities returns the stored identities in sorted order.
func (s *MemoryStore) Identities(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.ledgers)), nil
}

// Close is a no-op; the ledgers are dropped with the store.
func (s *MemoryStore) Close() error { return nil }

var (
	_ Store  = (*MemoryStore)(nil)
	_ Lister = (*MemoryStore)(nil)
)
