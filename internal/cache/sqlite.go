package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps every cache as rows of a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_name TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	stored_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (cache_name, key)
);
`

// NewSQLiteStore opens (and migrates) the database at path, creating its directory if needed.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "sqlite: create dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, name string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM cache_entries WHERE cache_name = ?`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s", name)
	}
	defer rows.Close() //nolint:errcheck

	tbl := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan")
		}
		if !json.Valid([]byte(value)) {
			zap.L().Warn("sqlite: skipping corrupt cache row",
				zap.String("cache", name),
				zap.String("key", key),
			)
			continue
		}
		tbl[key] = json.RawMessage(value)
	}
	return tbl, eris.Wrap(rows.Err(), "sqlite: iterate")
}

func (s *SQLiteStore) Persist(ctx context.Context, name, key string, table map[string]json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_name, key, value, stored_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (cache_name, key) DO UPDATE SET
			value = excluded.value,
			stored_at = excluded.stored_at`,
		name, key, string(table[key]),
	)
	return eris.Wrapf(err, "sqlite: persist %s/%s", name, key)
}

func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT cache_name FROM cache_entries ORDER BY cache_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list caches")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: iterate")
}

func (s *SQLiteStore) Drop(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name)
	return eris.Wrapf(err, "sqlite: drop %s", name)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
