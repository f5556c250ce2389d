// Package store persists per-identity usage ledgers.
package store

import (
	"context"

	"github.com/quotaguard/tokenquota/internal/models"
)

// Store is the storage port used by the limiter. Implementations need not be
// atomic across calls; the limiter performs one Load and one Save per
// mutating operation.
type Store interface {
	// Load returns the ledger for identity, or nil and no error when absent.
	Load(ctx context.Context, identity string) (*models.Ledger, error)
	// Save replaces the ledger for identity.
	Save(ctx context.Context, identity string, ledger *models.Ledger) error
	// Delete removes the ledger for identity. Deleting an absent ledger is not an error.
	Delete(ctx context.Context, identity string) error
}

// Lister is implemented by stores that can enumerate stored identities.
type Lister interface {
	Identities(ctx context.Context) ([]string, error)
}
