package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const schemaLockKey int64 = 2026011001

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS research_domains (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	keywords JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS research_topics (
	id TEXT PRIMARY KEY,
	domain_id TEXT NOT NULL REFERENCES research_domains(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	first_researched_at TIMESTAMPTZ NOT NULL,
	last_mentioned_at TIMESTAMPTZ NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	sources JSONB NOT NULL DEFAULT '[]'::jsonb,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	CONSTRAINT research_topics_domain_name_key UNIQUE (domain_id, name_key),
	CONSTRAINT research_topics_mention_order CHECK (last_mentioned_at >= first_researched_at)
);

CREATE INDEX IF NOT EXISTS idx_research_topics_recent ON research_topics(domain_id, last_mentioned_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_research_domains_last_used ON research_domains(last_used_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerialization       = "40001"
	pgDeadlock            = "40P01"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// storageError keeps caller cancellation visible and reports everything else
// as the store being unavailable.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch pgErrorCode(err) {
	case pgSerialization, pgDeadlock:
		return domain.WrapError(domain.ErrConflict, op, err)
	}
	return domain.WrapError(domain.ErrStorageUnavailable, op, err)
}
