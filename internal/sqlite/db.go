package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const currentVersion = 1

// Store implements domain.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path, configures
// pragmas, and runs migrations. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection: the processor is the only writer and SQLite handles
	// one writer at a time anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *Store) migrateV1() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			uri TEXT PRIMARY KEY,
			cid TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB,
			reply_parent TEXT,
			reply_root TEXT,
			indexed_at INTEGER NOT NULL,
			score REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_indexed_at ON posts(indexed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_score ON posts(score)`,
		// No live foreign key from likes to posts: the subject post may be
		// evicted while the like is still pending training. The referential
		// gate is enforced at write time instead.
		`CREATE TABLE IF NOT EXISTS likes (
			uri TEXT PRIMARY KEY,
			cid TEXT NOT NULL,
			post_uri TEXT NOT NULL,
			post_cid TEXT NOT NULL,
			author TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			trained_on INTEGER NOT NULL DEFAULT 0,
			UNIQUE(post_uri, author)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_likes_trained_on ON likes(trained_on)`,
		`CREATE TABLE IF NOT EXISTS sub_state (
			service TEXT PRIMARY KEY,
			cursor INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate v1: %w", err)
		}
	}
	return nil
}

// placeholders returns a comma-joined list of n SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func uriArgs(uris []string) []any {
	args := make([]any, len(uris))
	for i, u := range uris {
		args[i] = u
	}
	return args
}
