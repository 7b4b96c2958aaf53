package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements bootstraps the database on startup. Every statement is
// idempotent, so restarting against an existing database is a no-op. One
// statement per entry: pgx's extended protocol rejects multi-command strings.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		plex_id       BIGINT UNIQUE NOT NULL,
		plex_username TEXT NOT NULL,
		plex_email    TEXT NOT NULL DEFAULT '',
		is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS audiobooks (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		asin            TEXT UNIQUE NOT NULL,
		title           TEXT NOT NULL,
		author          TEXT NOT NULL DEFAULT '',
		narrator        TEXT NOT NULL DEFAULT '',
		runtime_minutes INTEGER NOT NULL DEFAULT 0,
		cover_url       TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS requests (
		id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id         UUID NOT NULL REFERENCES users(id),
		audiobook_id    UUID NOT NULL REFERENCES audiobooks(id),
		status          TEXT NOT NULL,
		error_message   TEXT,
		search_attempts INTEGER NOT NULL DEFAULT 0,
		selection       JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// One live request per user per audiobook. A denied request does not
	// block asking again.
	`CREATE UNIQUE INDEX IF NOT EXISTS requests_live_per_user
		ON requests (user_id, audiobook_id)
		WHERE status <> 'denied'`,

	`CREATE INDEX IF NOT EXISTS requests_by_user
		ON requests (user_id, created_at DESC, id DESC)`,

	`CREATE INDEX IF NOT EXISTS requests_by_status
		ON requests (status, updated_at ASC)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		type          TEXT NOT NULL,
		payload       JSONB NOT NULL,
		status        TEXT NOT NULL DEFAULT 'queued',
		attempts      INTEGER NOT NULL DEFAULT 0,
		max_attempts  INTEGER NOT NULL DEFAULT 3,
		scheduled_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		claimed_by    TEXT,
		heartbeat_at  TIMESTAMPTZ,
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		result        JSONB,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Serves the claim query's status+type+due filter.
	`CREATE INDEX IF NOT EXISTS jobs_claimable
		ON jobs (status, scheduled_at ASC)`,

	`CREATE INDEX IF NOT EXISTS jobs_by_type
		ON jobs (type, created_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS indexers (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name       TEXT UNIQUE NOT NULL,
		kind       TEXT NOT NULL,
		base_url   TEXT NOT NULL,
		api_key    TEXT NOT NULL DEFAULT '',
		protocol   TEXT NOT NULL,
		priority   INTEGER NOT NULL DEFAULT 0,
		enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS flag_rules (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		flag       TEXT UNIQUE NOT NULL,
		points     DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema applies the bootstrap DDL. Safe to call on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
