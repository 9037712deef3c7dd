package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRecentLimit is applied when RecentTurns is called with a
// non-positive limit.
const DefaultRecentLimit = 10

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process deployments without a database and for
// testing. The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	turns    []Turn
	sessions map[string]Session
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]Session),
	}
}

// AppendTurn implements [TurnStore.AppendTurn].
func (s *MemStore) AppendTurn(ctx context.Context, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, turn)
	return nil
}

// RecentTurns implements [TurnStore.RecentTurns].
func (s *MemStore) RecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Turns are appended chronologically, so walking backwards yields
	// newest-first order without sorting.
	result := make([]Turn, 0, limit)
	for i := len(s.turns) - 1; i >= 0 && len(result) < limit; i-- {
		t := s.turns[i]
		if t.UserID != userID {
			continue
		}
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}

// TouchSession implements [SessionStore.TouchSession].
func (s *MemStore) TouchSession(ctx context.Context, sessionID, userID string) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions == nil {
		s.sessions = make(map[string]Session)
	}

	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivity = now
		s.sessions[sessionID] = sess
		return nil
	}

	s.sessions[sessionID] = Session{
		ID:           sessionID,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}
	return nil
}

// GetSession implements [SessionStore.GetSession].
func (s *MemStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// Close implements [Store.Close]. It is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
