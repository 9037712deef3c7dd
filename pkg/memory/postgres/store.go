package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxpipe/voxpipe/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// defaultRecentLimit is applied when RecentTurns is called with a
// non-positive limit.
const defaultRecentLimit = memory.DefaultRecentLimit

// Store is the PostgreSQL-backed conversation memory. It holds a single
// [pgxpool.Pool] and implements both [memory.TurnStore] and
// [memory.SessionStore]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure all required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// AppendTurn implements [memory.TurnStore]. It inserts turn into the turns
// table, assigning an id and timestamp when absent.
func (s *Store) AppendTurn(ctx context.Context, turn memory.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	const q = `
		INSERT INTO turns
		    (id, user_id, session_id, transcript, response_text,
		     input_audio, response_audio, sample_rate, format, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		turn.ID,
		turn.UserID,
		turn.SessionID,
		turn.Transcript,
		turn.ResponseText,
		turn.InputAudio,
		turn.ResponseAudio,
		turn.SampleRate,
		turn.Format,
		turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append turn: %w", err)
	}
	return nil
}

// RecentTurns implements [memory.TurnStore]. It returns up to limit turns for
// userID ordered newest first. An empty sessionID spans all of the user's
// sessions.
func (s *Store) RecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]memory.Turn, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	args := []any{userID}
	q := `
		SELECT id, user_id, session_id, transcript, response_text,
		       input_audio, response_audio, sample_rate, format, timestamp
		FROM   turns
		WHERE  user_id = $1`
	if sessionID != "" {
		args = append(args, sessionID)
		q += fmt.Sprintf("\n  AND  session_id = $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf("\nORDER  BY timestamp DESC\nLIMIT  $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent turns: %w", err)
	}
	return collectTurns(rows)
}

// TouchSession implements [memory.SessionStore]. It upserts the session
// record, bumping last_activity when the row already exists.
func (s *Store) TouchSession(ctx context.Context, sessionID, userID string) error {
	const q = `
		INSERT INTO sessions (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET last_activity = now()`

	if _, err := s.pool.Exec(ctx, q, sessionID, userID); err != nil {
		return fmt.Errorf("postgres store: touch session: %w", err)
	}
	return nil
}

// GetSession implements [memory.SessionStore]. It returns nil without error
// when no session with the given id exists.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*memory.Session, error) {
	const q = `
		SELECT id, user_id, created_at, last_activity, active
		FROM   sessions
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}

	sess, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (memory.Session, error) {
		var s memory.Session
		err := row.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.LastActivity, &s.Active)
		return s, err
	})
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}
	return &sess, nil
}

// Ping verifies connectivity to the database. Useful as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// collectTurns scans pgx rows into a slice of Turn values.
func collectTurns(rows pgx.Rows) ([]memory.Turn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Turn, error) {
		var t memory.Turn
		err := row.Scan(
			&t.ID,
			&t.UserID,
			&t.SessionID,
			&t.Transcript,
			&t.ResponseText,
			&t.InputAudio,
			&t.ResponseAudio,
			&t.SampleRate,
			&t.Format,
			&t.Timestamp,
		)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	return turns, nil
}
