//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/tokenquota_test?sslmode=disable"
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}

	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := NewPostgresStore(pool, WithTablePrefix(prefix))
	require.NoError(t, s.EnsureSchema(ctx))
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", s.table()))
		pool.Close()
	})
	return s
}

func TestPostgresStore_Contract(t *testing.T) {
	storeContract(t, newTestPostgresStore(t))
}

func TestPostgresStore_Identities(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.Save(ctx, "b", sampleLedger()))
	require.NoError(t, s.Save(ctx, "a", sampleLedger()))

	ids, err := s.Identities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
