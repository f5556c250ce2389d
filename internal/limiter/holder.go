package limiter

import (
	"context"
	"sync/atomic"

	"github.com/quotaguard/tokenquota/internal/models"
)

// Holder publishes the current Limiter to concurrent readers. A config
// reload builds a new Limiter over the same store and swaps it in.
type Holder struct {
	current atomic.Pointer[Limiter]
}

// NewHolder returns a Holder serving l.
func NewHolder(l *Limiter) *Holder {
	h := &Holder{}
	h.current.Store(l)
	return h
}

// Get returns the current limiter.
func (h *Holder) Get() *Limiter {
	return h.current.Load()
}

// Swap installs l and returns the previous limiter.
func (h *Holder) Swap(l *Limiter) *Limiter {
	return h.current.Swap(l)
}

// Check delegates to the current limiter.
func (h *Holder) Check(ctx context.Context, identity string) (bool, error) {
	return h.Get().Check(ctx, identity)
}

// Stats delegates to the current limiter.
func (h *Holder) Stats(ctx context.Context, identity string) (models.Stats, error) {
	return h.Get().Stats(ctx, identity)
}

// Compact delegates to the current limiter so scheduled compaction follows
// reloaded limits.
func (h *Holder) Compact(ctx context.Context, identity string) (int, error) {
	return h.Get().Compact(ctx, identity)
}
