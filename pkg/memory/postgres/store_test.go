package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxpipe/voxpipe/pkg/memory"
	"github.com/voxpipe/voxpipe/pkg/memory/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXPIPE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXPIPE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXPIPE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop the schema before migrating fresh.
	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS turns CASCADE",
		"DROP TABLE IF EXISTS sessions CASCADE",
	} {
		if _, err := cleanPool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndRecentTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	seed := []memory.Turn{
		{UserID: "alice", SessionID: "s1", Transcript: "first", ResponseText: "r1", Timestamp: now.Add(-3 * time.Minute)},
		{UserID: "alice", SessionID: "s1", Transcript: "second", ResponseText: "r2", Timestamp: now.Add(-2 * time.Minute)},
		{UserID: "alice", SessionID: "s2", Transcript: "other session", Timestamp: now.Add(-1 * time.Minute)},
		{UserID: "bob", SessionID: "s1", Transcript: "not alice", Timestamp: now},
	}
	for _, turn := range seed {
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	turns, err := store.RecentTurns(ctx, "alice", "s1", 5)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Transcript != "second" || turns[1].Transcript != "first" {
		t.Errorf("wrong order: got %q then %q, want newest first", turns[0].Transcript, turns[1].Transcript)
	}
	if turns[0].ID == "" {
		t.Error("turn id was not assigned")
	}

	all, err := store.RecentTurns(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("RecentTurns (all sessions): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("got %d turns across sessions, want 3", len(all))
	}
}

func TestRecentTurnsAudioRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turn := memory.Turn{
		UserID:        "alice",
		SessionID:     "s1",
		Transcript:    "hello",
		ResponseText:  "hi there",
		InputAudio:    []byte{0x01, 0x02, 0x03},
		ResponseAudio: []byte{0x04, 0x05},
		SampleRate:    16000,
		Format:        "pcm16",
	}
	if err := store.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turns, err := store.RecentTurns(ctx, "alice", "s1", 1)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(turns))
	}
	got := turns[0]
	if string(got.InputAudio) != string(turn.InputAudio) {
		t.Errorf("InputAudio = %v, want %v", got.InputAudio, turn.InputAudio)
	}
	if string(got.ResponseAudio) != string(turn.ResponseAudio) {
		t.Errorf("ResponseAudio = %v, want %v", got.ResponseAudio, turn.ResponseAudio)
	}
	if got.SampleRate != 16000 || got.Format != "pcm16" {
		t.Errorf("audio metadata = (%d, %q), want (16000, pcm16)", got.SampleRate, got.Format)
	}
}

func TestTouchSessionUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.TouchSession(ctx, "s1", "alice"); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	first, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if first == nil {
		t.Fatal("session not created")
	}
	if first.UserID != "alice" || !first.Active {
		t.Errorf("session = %+v, want active session owned by alice", first)
	}

	time.Sleep(10 * time.Millisecond)
	if err := store.TouchSession(ctx, "s1", "alice"); err != nil {
		t.Fatalf("TouchSession (second): %v", err)
	}
	second, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !second.LastActivity.After(first.LastActivity) {
		t.Error("LastActivity was not advanced by the second touch")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("CreatedAt changed on upsert")
	}
}

func TestGetSessionMissing(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Errorf("got %+v, want nil for a missing session", sess)
	}
}
