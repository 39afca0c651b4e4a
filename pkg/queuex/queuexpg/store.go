// Package queuexpg implements queuex.Store on PostgreSQL. Leasing uses
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never claim the
// same job, and the singleton-key guarantee is enforced by a partial
// unique index over non-terminal states.
package queuexpg

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PgStore is the PostgreSQL-backed job store.
type PgStore struct {
	db *sqlx.DB
}

// NewPgStore creates a store over an existing sqlx connection.
func NewPgStore(db *sqlx.DB) *PgStore {
	return &PgStore{db: db}
}

// nonTerminalStates is the predicate shared by the singleton index, the
// duplicate lookup and the lease query.
const nonTerminalStates = `('created', 'active', 'retry_pending')`

// Migrate creates the queue tables and indexes if they do not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS courier_jobs (
			id UUID PRIMARY KEY,
			queue TEXT NOT NULL,
			payload JSONB NOT NULL,
			state TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			retry_count INT NOT NULL DEFAULT 0,
			retry_limit INT NOT NULL DEFAULT 3,
			retry_delay_seconds INT NOT NULL DEFAULT 30,
			retry_backoff BOOLEAN NOT NULL DEFAULT FALSE,
			singleton_key TEXT,
			last_error TEXT,
			start_after TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expire_in_seconds INT NOT NULL DEFAULT 300,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS courier_jobs_singleton_key_idx
			ON courier_jobs (singleton_key)
			WHERE state IN ` + nonTerminalStates,
		`CREATE INDEX IF NOT EXISTS courier_jobs_lease_idx
			ON courier_jobs (queue, state, start_after)`,
		`CREATE TABLE IF NOT EXISTS courier_dead_letters (
			id UUID PRIMARY KEY,
			queue TEXT NOT NULL,
			payload JSONB NOT NULL,
			error_message TEXT NOT NULL,
			error_detail TEXT,
			attempt_count INT NOT NULL,
			failed_at TIMESTAMPTZ NOT NULL,
			notified_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS courier_dead_letters_pending_idx
			ON courier_dead_letters (failed_at)
			WHERE notified_at IS NULL`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return pgErrors.NewWithCause(ErrMigrate, err)
		}
	}
	return nil
}
