// Package db opens and configures the embedded sqlite database shared by
// the catalog store and the reindex job store.
package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested record does not exist.
// Use errors.Is() to check for it in calling code.
var ErrNotFound = errors.New("record not found")

// Open opens the sqlite database at path and applies the pragmas the
// stores rely on. Pass ":memory:" for an in-memory database in tests.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// modernc sqlite serializes writes per connection; a single connection
	// avoids SQLITE_BUSY races between the job store goroutines.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}
