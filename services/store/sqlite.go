package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sensornode/errcode"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaKV = `
CREATE TABLE IF NOT EXISTS kv (
    namespace TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (namespace, key)
);
`

const (
	selectValueSQL = `SELECT value FROM kv WHERE namespace = ? AND key = ?`

	upsertValueSQL = `
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`

	deleteValueSQL = `DELETE FROM kv WHERE namespace = ? AND key = ?`
)

// SQLite is a file-backed Backend. Each handle commit is one transaction.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database file at path and ensures the
// schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// One writer; the store is tiny and commits must serialise anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaKV); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply kv schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already prepared database.
func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Open(ctx context.Context, ns string) (Handle, error) {
	if s.db == nil {
		return nil, errcode.StoreOpen
	}
	return newHandle(ctx, s, ns), nil
}

func (s *SQLite) load(ctx context.Context, ns, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, selectValueSQL, ns, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLite) apply(ctx context.Context, ns string, puts map[string]string, dels []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for k, v := range puts {
		if _, err := tx.ExecContext(ctx, upsertValueSQL, ns, k, v, now); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", ns, k, err)
		}
	}
	for _, k := range dels {
		if _, err := tx.ExecContext(ctx, deleteValueSQL, ns, k); err != nil {
			return fmt.Errorf("delete %s/%s: %w", ns, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
