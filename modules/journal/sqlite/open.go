// Package sqlite implements the persistent turn journal and episode
// store on a single SQLite database. It uses modernc.org/sqlite (pure
// Go, no CGO) with WAL mode and FTS5 full-text search over episode
// summaries.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mnemo-ai/mnemo/internal/memory"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // milliseconds

// Compile-time interface guards.
var (
	_ memory.Journal         = (*Store)(nil)
	_ memory.EpisodeStore    = (*Store)(nil)
	_ memory.SummarySearcher = (*Store)(nil)
)

// Store backs both the turn journal and the episode store with one
// database file, so a turn's excision mark and its episode land in the
// same WAL.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates its
// schema. The database is configured with WAL mode, a 5 s busy timeout,
// and a single connection (SQLite serialises writes).
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
