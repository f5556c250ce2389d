package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/models"
)

// PostgresStore keeps ledgers in a PostgreSQL table as JSONB documents.
type PostgresStore struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTablePrefix sets the table name prefix (default "tokenquota_").
func WithTablePrefix(prefix string) PostgresOption {
	return func(s *PostgresStore) { s.tablePrefix = prefix }
}

// NewPostgresStore creates a store over an existing pool. Call EnsureSchema
// before first use.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		pool:        pool,
		tablePrefix: "tokenquota_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenPostgres connects to dsn, verifies the connection and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: "postgres", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &errors.ErrDatabaseOpen{Path: "postgres", Err: err}
	}
	s := NewPostgresStore(pool, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) table() string { return s.tablePrefix + "ledgers" }

// EnsureSchema creates the ledger table if it doesn't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			identity TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.table())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return &errors.ErrDatabaseMigration{Version: 1, Err: err}
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, identity string) (*models.Ledger, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE identity = $1`, s.table()),
		identity,
	).Scan(&data)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "load ledger", Err: err}
	}

	return decodeLedger(identity, data)
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, identity string, ledger *models.Ledger) error {
	data, err := encodeLedger(ledger)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (identity, data, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (identity) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, s.table()),
		identity, data,
	)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save ledger", Err: err}
	}
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, identity string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE identity = $1`, s.table()), identity)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete ledger", Err: err}
	}
	return nil
}

// Identities implements Lister.
func (s *PostgresStore) Identities(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT identity FROM %s ORDER BY identity`, s.table()))
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list identities", Err: err}
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list identities", Err: err}
	}
	return ids, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Lister = (*PostgresStore)(nil)
)
