// Package mock provides configurable in-memory test doubles for the memory
// store interfaces. Unlike [memory.MemStore] the mocks record every call and
// can be primed to fail, which makes them suitable for exercising the
// best-effort persistence path.
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// Store is a call-recording [memory.Store] double. Configure the exported
// fields before use; the zero value stores turns and sessions in memory and
// never fails. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// AppendErr, when non-nil, is returned by AppendTurn.
	AppendErr error
	// RecentErr, when non-nil, is returned by RecentTurns.
	RecentErr error
	// TouchErr, when non-nil, is returned by TouchSession.
	TouchErr error
	// GetErr, when non-nil, is returned by GetSession.
	GetErr error

	// Turns holds every turn passed to AppendTurn, in call order.
	Turns []memory.Turn
	// Sessions holds the sessions created by TouchSession, keyed by id.
	Sessions map[string]memory.Session

	// RecentCalls records the arguments of every RecentTurns call.
	RecentCalls []RecentCall
	// TouchCalls records the (sessionID, userID) pairs passed to TouchSession.
	TouchCalls []TouchCall
}

// RecentCall captures the arguments of one RecentTurns invocation.
type RecentCall struct {
	UserID    string
	SessionID string
	Limit     int
}

// TouchCall captures the arguments of one TouchSession invocation.
type TouchCall struct {
	SessionID string
	UserID    string
}

// AppendTurn implements [memory.TurnStore].
func (s *Store) AppendTurn(ctx context.Context, turn memory.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.Turns = append(s.Turns, turn)
	return nil
}

// RecentTurns implements [memory.TurnStore]. It filters the recorded turns
// the same way a real store would: by user, optionally by session, newest
// (most recently appended) first.
func (s *Store) RecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.RecentCalls = append(s.RecentCalls, RecentCall{UserID: userID, SessionID: sessionID, Limit: limit})
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	if limit <= 0 {
		limit = memory.DefaultRecentLimit
	}

	result := make([]memory.Turn, 0, limit)
	for i := len(s.Turns) - 1; i >= 0 && len(result) < limit; i-- {
		t := s.Turns[i]
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

// TouchSession implements [memory.SessionStore].
func (s *Store) TouchSession(ctx context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TouchCalls = append(s.TouchCalls, TouchCall{SessionID: sessionID, UserID: userID})
	if s.TouchErr != nil {
		return s.TouchErr
	}
	if s.Sessions == nil {
		s.Sessions = make(map[string]memory.Session)
	}
	if sess, ok := s.Sessions[sessionID]; ok {
		s.Sessions[sessionID] = sess
		return nil
	}
	s.Sessions[sessionID] = memory.Session{ID: sessionID, UserID: userID, Active: true}
	return nil
}

// GetSession implements [memory.SessionStore].
func (s *Store) GetSession(ctx context.Context, sessionID string) (*memory.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}
	sess, ok := s.Sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

// Close implements [memory.Store]. It is a no-op.
func (s *Store) Close() error { return nil }

// Reset clears all recorded calls and stored data while keeping the
// configured errors.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Turns = nil
	s.Sessions = nil
	s.RecentCalls = nil
	s.TouchCalls = nil
}
