// Package memory defines the persistence layer for conversation turns and
// sessions.
//
//   - [TurnStore] is the append-only log of completed exchanges, queryable
//     by user and session with a limit, newest first. It feeds the context
//     window that enriches the generation stage.
//   - [SessionStore] tracks logical conversations: created on first contact,
//     its activity timestamp bumped on every turn.
//
// The interfaces are public so external packages can supply alternative
// backends (Postgres, in-memory, …) without depending on voxpipe internals.
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Turn is one completed request/response exchange within a conversation.
// Turns are immutable once appended; the core path never updates them.
type Turn struct {
	// ID is the unique turn identifier (a UUID).
	ID string

	// UserID identifies the speaker. Never empty — anonymous callers get a
	// fixed placeholder id.
	UserID string

	// SessionID identifies the conversation this turn belongs to.
	SessionID string

	// Transcript is the recognised text of the user's speech.
	Transcript string

	// ResponseText is the assistant's reply text.
	ResponseText string

	// InputAudio is the user's speech as raw PCM. May be nil when audio
	// retention is disabled.
	InputAudio []byte

	// ResponseAudio is the synthesised reply as raw PCM. Nil when synthesis
	// failed and the turn degraded to text-only.
	ResponseAudio []byte

	// SampleRate is the audio sample rate in Hz for both payloads.
	SampleRate int

	// Format is the audio container label (e.g. "pcm16").
	Format string

	// Timestamp is when the turn completed.
	Timestamp time.Time
}

// Session is a logical conversation spanning one or more turns for one user.
type Session struct {
	// ID is the session identifier.
	ID string

	// UserID is the owner of the session.
	UserID string

	// CreatedAt is when the session was first touched.
	CreatedAt time.Time

	// LastActivity is when the session last completed a turn.
	LastActivity time.Time

	// Active reports whether the session accepts new turns. The core never
	// deactivates a session; that is an administrative action.
	Active bool
}

// TurnStore is the append-only log of conversation turns.
type TurnStore interface {
	// AppendTurn stores turn. It never updates an existing record.
	AppendTurn(ctx context.Context, turn Turn) error

	// RecentTurns returns up to limit turns for userID ordered newest first.
	// A non-empty sessionID restricts the result to that session; an empty
	// one spans all of the user's sessions. A limit of 0 or less applies the
	// implementation's default.
	RecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]Turn, error)
}

// SessionStore tracks session lifecycle.
type SessionStore interface {
	// TouchSession creates the session record if absent, otherwise only
	// updates its LastActivity timestamp.
	TouchSession(ctx context.Context, sessionID, userID string) error

	// GetSession returns the session with the given id, or nil when no such
	// session exists.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// Store combines both persistence concerns behind one handle.
type Store interface {
	TurnStore
	SessionStore

	// Close releases the store's resources.
	Close() error
}
