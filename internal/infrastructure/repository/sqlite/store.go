package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// Open opens a single-connection database. One connection makes every
// transaction a serial writer, which is the locking model the topic store
// relies on.
func Open(path string) (*sql.DB, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "sqlite://")
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const query = `
CREATE TABLE IF NOT EXISTS research_domains (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	last_used_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS research_topics (
	id TEXT PRIMARY KEY,
	domain_id TEXT NOT NULL REFERENCES research_domains(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	first_researched_at INTEGER NOT NULL,
	last_mentioned_at INTEGER NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	sources TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	UNIQUE (domain_id, name_key),
	CHECK (last_mentioned_at >= first_researched_at)
);

CREATE INDEX IF NOT EXISTS idx_research_topics_recent ON research_topics(domain_id, last_mentioned_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_research_domains_last_used ON research_domains(last_used_at DESC);
`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func toUnixMicro(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromUnixMicro(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.WrapError(domain.ErrStorageUnavailable, op, err)
}
