// Package postgres provides a PostgreSQL-backed implementation of the voxpipe
// conversation memory ([memory.TurnStore] and [memory.SessionStore]).
//
// Both stores share a single [pgxpool.Pool] connection pool. [Migrate] runs
// automatically on [NewStore] and is idempotent, so no external migration
// tooling is required.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.TouchSession(ctx, sessionID, userID)
//	_ = store.AppendTurn(ctx, turn)
//	turns, _ := store.RecentTurns(ctx, userID, sessionID, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT         PRIMARY KEY,
    user_id       TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_activity TIMESTAMPTZ  NOT NULL DEFAULT now(),
    active        BOOLEAN      NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id
    ON sessions (user_id);

CREATE INDEX IF NOT EXISTS idx_sessions_last_activity
    ON sessions (last_activity);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id             TEXT         PRIMARY KEY,
    user_id        TEXT         NOT NULL,
    session_id     TEXT         NOT NULL,
    transcript     TEXT         NOT NULL DEFAULT '',
    response_text  TEXT         NOT NULL DEFAULT '',
    input_audio    BYTEA,
    response_audio BYTEA,
    sample_rate    INTEGER      NOT NULL DEFAULT 0,
    format         TEXT         NOT NULL DEFAULT '',
    timestamp      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_user_id
    ON turns (user_id);

CREATE INDEX IF NOT EXISTS idx_turns_session_id
    ON turns (session_id);

CREATE INDEX IF NOT EXISTS idx_turns_user_timestamp
    ON turns (user_id, timestamp DESC);
`

// Migrate creates or ensures all required database tables and indexes exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlSessions,
		ddlTurns,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
