// Package sqlite opens healthcore stores backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"healthcore/internal/infra/persistence/sqlstore"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "healthcore.db"

// Open opens the database file at path, creating parent directories.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, errors.Wrap(err, "create dirs")
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer keeps transactions from tripping SQLITE_BUSY
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewStore opens path and applies the schema.
func NewStore(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	store := sqlstore.New(db, sqlstore.SQLite)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
