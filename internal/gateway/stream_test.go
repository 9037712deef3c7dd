package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxpipe/voxpipe/internal/gateway"
	"github.com/voxpipe/voxpipe/internal/pipeline"
	"github.com/voxpipe/voxpipe/pkg/audio"
)

// dialStream starts an httptest server for g and opens a websocket to the
// streaming endpoint.
func dialStream(t *testing.T, g *gateway.Gateway, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(g.Router())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/turns/stream" + query
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendFragment(t *testing.T, conn *websocket.Conn, frag audio.Fragment) {
	t.Helper()
	data, err := json.Marshal(frag)
	if err != nil {
		t.Fatalf("marshal fragment: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write fragment: %v", err)
	}
}

func readFragment(t *testing.T, conn *websocket.Conn) audio.Fragment {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read fragment: %v", err)
	}
	var frag audio.Fragment
	if err := json.Unmarshal(data, &frag); err != nil {
		t.Fatalf("unmarshal fragment: %v", err)
	}
	return frag
}

// readReply collects reply fragments until one with Final set.
func readReply(t *testing.T, conn *websocket.Conn) []audio.Fragment {
	t.Helper()
	var frags []audio.Fragment
	for {
		frag := readFragment(t, conn)
		frags = append(frags, frag)
		if frag.Final {
			return frags
		}
	}
}

func TestStream_RoundTrip(t *testing.T) {
	replyAudio := make([]byte, 10000)
	for i := range replyAudio {
		replyAudio[i] = byte(i)
	}
	out := successOutcome()
	out.ResponseAudio = replyAudio
	runner := &stubRunner{outcome: out}
	g := newTestGateway(t, runner, nil)

	conn := dialStream(t, g, "?user_id=alice&session_id=s1")

	// Send the utterance in three fragments.
	input := make([]byte, 900)
	sendFragment(t, conn, audio.Fragment{SessionID: "s1", Sequence: 0, Data: input[:400]})
	sendFragment(t, conn, audio.Fragment{SessionID: "s1", Sequence: 1, Data: input[400:800]})
	sendFragment(t, conn, audio.Fragment{SessionID: "s1", Sequence: 2, Data: input[800:], Final: true})

	frags := readReply(t, conn)

	// 10000 bytes at the default 4096 chunk size is three fragments.
	if len(frags) != 3 {
		t.Fatalf("got %d reply fragments, want 3", len(frags))
	}
	var reply []byte
	for i, frag := range frags {
		if frag.SessionID != "s1" {
			t.Errorf("frags[%d].SessionID = %q", i, frag.SessionID)
		}
		if frag.Sequence != int64(i) {
			t.Errorf("frags[%d].Sequence = %d, want %d", i, frag.Sequence, i)
		}
		reply = append(reply, frag.Data...)
	}
	if !bytes.Equal(reply, replyAudio) {
		t.Errorf("reassembled reply differs from pipeline output (%d vs %d bytes)", len(reply), len(replyAudio))
	}

	// The runner received the fully reassembled utterance.
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.requests) != 1 {
		t.Fatalf("runner saw %d requests, want 1", len(runner.requests))
	}
	req := runner.requests[0]
	if req.UserID != "alice" || req.SessionID != "s1" {
		t.Errorf("runner request identity = %q / %q", req.UserID, req.SessionID)
	}
	if !bytes.Equal(req.Audio.Data, input) {
		t.Errorf("runner got %d audio bytes, want %d", len(req.Audio.Data), len(input))
	}
}

func TestStream_FailedTurnSendsErrorSentinel(t *testing.T) {
	runner := &stubRunner{outcome: pipeline.Outcome{
		Success:    false,
		Stage:      pipeline.StageActivity,
		ErrMessage: "no speech detected in audio",
	}}
	g := newTestGateway(t, runner, nil)

	conn := dialStream(t, g, "?session_id=s1")
	sendFragment(t, conn, audio.Fragment{SessionID: "s1", Data: []byte{0, 0}, Final: true})

	frag := readFragment(t, conn)
	if frag.Sequence != audio.ErrorSequence {
		t.Errorf("Sequence = %d, want %d", frag.Sequence, audio.ErrorSequence)
	}
	if !frag.Final {
		t.Error("error sentinel must be final")
	}
	// No payload: a client playing fragment data must never receive the
	// error text as samples.
	if len(frag.Data) != 0 {
		t.Errorf("sentinel data = %q, want empty", frag.Data)
	}
}

func TestStream_DegradedTurnSendsEmptyFinalFragment(t *testing.T) {
	out := successOutcome()
	out.ResponseAudio = nil
	runner := &stubRunner{outcome: out}
	g := newTestGateway(t, runner, nil)

	conn := dialStream(t, g, "?session_id=s1")
	sendFragment(t, conn, audio.Fragment{SessionID: "s1", Data: []byte{1, 2}, Final: true})

	frags := readReply(t, conn)
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if !frags[0].Final || len(frags[0].Data) != 0 || frags[0].Sequence != 0 {
		t.Errorf("fragment = %+v, want empty final fragment", frags[0])
	}
}

func TestStream_DefaultsUserWhenAbsent(t *testing.T) {
	runner := &stubRunner{outcome: successOutcome()}
	g := newTestGateway(t, runner, nil)

	conn := dialStream(t, g, "")
	sendFragment(t, conn, audio.Fragment{Data: []byte{1}, Final: true})
	_ = readReply(t, conn)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.requests) != 1 {
		t.Fatalf("runner saw %d requests, want 1", len(runner.requests))
	}
	if runner.requests[0].UserID != gateway.StreamUser {
		t.Errorf("UserID = %q, want %q", runner.requests[0].UserID, gateway.StreamUser)
	}
	if runner.requests[0].SessionID == "" {
		t.Error("no session id was assigned to the stream")
	}
}

func TestStream_MultipleTurnsPerConnection(t *testing.T) {
	runner := &stubRunner{outcome: successOutcome()}
	g := newTestGateway(t, runner, nil)

	conn := dialStream(t, g, "?session_id=s1")

	for i := 0; i < 2; i++ {
		sendFragment(t, conn, audio.Fragment{SessionID: "s1", Data: []byte{byte(i)}, Final: true})
		_ = readReply(t, conn)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.requests) != 2 {
		t.Fatalf("runner saw %d requests, want 2", len(runner.requests))
	}
	// Utterances do not bleed into each other.
	if !bytes.Equal(runner.requests[1].Audio.Data, []byte{1}) {
		t.Errorf("second utterance = %v, want [1]", runner.requests[1].Audio.Data)
	}
}
