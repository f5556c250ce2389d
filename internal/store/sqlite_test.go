package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	require.NoError(t, err, "database file should exist")
	assert.Equal(t, dbPath, s.Path())
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContract(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_MigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "user-1", sampleLedger()))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	var version int
	require.NoError(t, reopened.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(sqliteSchema), version)

	ledger, err := reopened.Load(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.Len(t, ledger.Events, 2)
}

func TestSQLiteStore_Identities(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	ids, err := s.Identities(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.Save(ctx, "zed", sampleLedger()))
	require.NoError(t, s.Save(ctx, "amy", sampleLedger()))

	ids, err = s.Identities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, ids)
}

func TestSQLiteStore_CorruptPayload(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.db.Exec("INSERT INTO ledgers (identity, data) VALUES (?, ?)", "user-1", "{broken")
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "user-1")
	var decodeErr *errors.ErrLedgerDecode
	assert.True(t, stderrors.As(err, &decodeErr))
}

func TestSQLiteStore_ClosedDatabase(t *testing.T) {
	s := newTestSQLiteStore(t)
	require.NoError(t, s.Close())

	_, err := s.Load(context.Background(), "user-1")
	var queryErr *errors.ErrDatabaseQuery
	assert.True(t, stderrors.As(err, &queryErr))
}

func TestSQLiteStore_ConcurrentSaves(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Save(ctx, fmt.Sprintf("user-%d", i%5), sampleLedger()))
		}(i)
	}
	wg.Wait()

	ids, err := s.Identities(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
}

func TestSQLiteStore_Vacuum(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "user-1", sampleLedger()))
	require.NoError(t, s.Delete(ctx, "user-1"))

	assert.NoError(t, s.Vacuum(ctx))
}
