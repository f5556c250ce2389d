package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/models"
	_ "modernc.org/sqlite"
)

// sqlitePragmas enable WAL so readers do not block the single writer, and
// make writers wait for a busy database instead of failing at once.
const sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// sqliteSchema holds one statement per schema version. The version applied
// last is tracked in PRAGMA user_version.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledgers (
		identity   TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledgers_updated_at ON ledgers(updated_at)`,
}

// SQLiteStore keeps one JSON ledger row per identity in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database at path, creating it and its parent
// directory when missing, and brings the schema up to date.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path+sqlitePragmas)
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: path, Err: err}
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: path, Err: err}
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func migrateSQLite(db *sql.DB) error {
	var applied int
	if err := db.QueryRow("PRAGMA user_version").Scan(&applied); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "read schema version", Err: err}
	}

	for i := applied; i < len(sqliteSchema); i++ {
		version := i + 1
		tx, err := db.Begin()
		if err != nil {
			return &errors.ErrDatabaseMigration{Version: version, Err: err}
		}
		if _, err := tx.Exec(sqliteSchema[i]); err != nil {
			_ = tx.Rollback()
			return &errors.ErrDatabaseMigration{Version: version, Err: err}
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			_ = tx.Rollback()
			return &errors.ErrDatabaseMigration{Version: version, Err: err}
		}
		if err := tx.Commit(); err != nil {
			return &errors.ErrDatabaseMigration{Version: version, Err: err}
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, identity string) (*models.Ledger, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM ledgers WHERE identity = ?`, identity).Scan(&data)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, &errors.ErrDatabaseQuery{Operation: "load ledger", Err: err}
	}
	return decodeLedger(identity, []byte(data))
}

func (s *SQLiteStore) Save(ctx context.Context, identity string, ledger *models.Ledger) error {
	data, err := encodeLedger(ledger)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledgers (identity, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		identity, string(data), time.Now().UTC(),
	)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save ledger", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, identity string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ledgers WHERE identity = ?`, identity); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete ledger", Err: err}
	}
	return nil
}

// Identities returns every stored identity in sorted order.
func (s *SQLiteStore) Identities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity FROM ledgers ORDER BY identity`)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list identities", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan identity", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list identities", Err: err}
	}
	return ids, nil
}

// Vacuum reclaims the pages freed by compaction and refreshes planner
// statistics.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	for _, stmt := range []string{"VACUUM", "ANALYZE"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &errors.ErrDatabaseQuery{Operation: stmt, Err: err}
		}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Lister = (*SQLiteStore)(nil)
)
