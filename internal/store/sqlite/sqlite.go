// Package sqlite implements the store interfaces using SQLite.
// It backs sqlite:// connection strings, mainly for development and
// single-binary deployments without a PostgreSQL server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides the SQLite-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id           TEXT PRIMARY KEY,
    command          TEXT NOT NULL,
    status           TEXT NOT NULL,
    created_at       TIMESTAMP NOT NULL,
    completed_at     TIMESTAMP,
    error_summary    TEXT,
    policy           TEXT NOT NULL DEFAULT '{}',
    runner_requested TEXT,
    runner_selected  TEXT,
    selection_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at DESC, job_id DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);

CREATE TABLE IF NOT EXISTS attempts (
    attempt_id    TEXT PRIMARY KEY,
    job_id        TEXT NOT NULL REFERENCES jobs (job_id),
    seq           INTEGER NOT NULL,
    status        TEXT NOT NULL,
    started_at    TIMESTAMP,
    finished_at   TIMESTAMP,
    exit_code     INTEGER,
    error_summary TEXT,
    created_at    TIMESTAMP NOT NULL,
    UNIQUE (job_id, seq)
);

CREATE TABLE IF NOT EXISTS artifacts (
    job_id       TEXT NOT NULL REFERENCES jobs (job_id),
    name         TEXT NOT NULL,
    path         TEXT NOT NULL,
    sha256       TEXT NOT NULL,
    size_bytes   INTEGER NOT NULL,
    content_type TEXT NOT NULL,
    created_at   TIMESTAMP NOT NULL,
    PRIMARY KEY (job_id, name)
);

CREATE TABLE IF NOT EXISTS attempt_logs (
    attempt_id TEXT NOT NULL REFERENCES attempts (attempt_id),
    seq        INTEGER NOT NULL,
    ts         TIMESTAMP NOT NULL,
    level      TEXT NOT NULL,
    message    TEXT NOT NULL,
    PRIMARY KEY (attempt_id, seq)
);
`

// Path extracts the filesystem path from a sqlite:// connection string.
// An empty path means an in-memory database.
func Path(databaseURL string) string {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return strings.TrimPrefix(databaseURL, "sqlite://")
	}
	path := parsed.Path
	if parsed.Host != "" {
		// sqlite://relative/path parses the first segment as a host
		path = parsed.Host + path
	}
	for strings.HasPrefix(path, "//") {
		path = path[1:]
	}
	if path == "" || path == "/" {
		return ":memory:"
	}
	return path
}

// New opens (creating if needed) the SQLite database and applies the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	path := Path(databaseURL)

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent attempts.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }
