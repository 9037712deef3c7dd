package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxpipe/voxpipe/internal/pipeline"
	"github.com/voxpipe/voxpipe/pkg/audio"
)

// StreamUser is the user id assigned to streaming connections that carry
// none.
const StreamUser = "stream_user"

// handleStream serves GET /v1/turns/stream. Both directions speak
// [audio.Fragment] encoded as JSON text messages.
//
// The client sends audio fragments in arrival order; a fragment with final
// set completes the utterance and triggers the pipeline. The reply audio
// comes back as a sequence of fragments whose last one has final set. A turn
// without reply audio (text-only degradation) produces a single empty final
// fragment. A failed turn produces one empty sentinel fragment with sequence
// [audio.ErrorSequence]; the failure details are logged server-side.
//
// The connection survives across turns: after a final fragment the same
// session can start the next utterance. Disconnecting mid-utterance discards
// the partial buffer.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = StreamUser
	}
	defaultSession := r.URL.Query().Get("session_id")
	if defaultSession == "" {
		defaultSession = uuid.NewString()
	}

	ctx := r.Context()
	m := g.metrics
	m.ActiveStreams.Add(ctx, 1)
	defer m.ActiveStreams.Add(ctx, -1)

	reasm := audio.NewReassembler(g.sampleRate)
	open := make(map[string]struct{})
	defer func() {
		// Drop partial utterances from a vanished client.
		for sessionID := range open {
			reasm.Abort(sessionID)
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				conn.Close(websocket.StatusNormalClosure, "")
			} else if !errors.Is(err, context.Canceled) {
				g.log.Debug("stream read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			g.writeStreamError(ctx, conn, defaultSession, "fragments must be JSON text messages")
			continue
		}

		var frag audio.Fragment
		if err := json.Unmarshal(data, &frag); err != nil {
			g.writeStreamError(ctx, conn, defaultSession, "invalid fragment: "+err.Error())
			continue
		}
		if frag.SessionID == "" {
			frag.SessionID = defaultSession
		}

		payload, done := reasm.Feed(frag)
		if !done {
			open[frag.SessionID] = struct{}{}
			continue
		}
		delete(open, frag.SessionID)

		if err := g.runStreamTurn(ctx, conn, userID, frag.SessionID, payload); err != nil {
			g.log.Debug("stream write ended", "error", err)
			return
		}
	}
}

// runStreamTurn processes one completed utterance and writes the reply
// fragments. A returned error means the connection is unusable.
func (g *Gateway) runStreamTurn(ctx context.Context, conn *websocket.Conn, userID, sessionID string, payload audio.Payload) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	out := g.safeRun(ctx, pipeline.TurnRequest{
		Audio:     payload,
		UserID:    userID,
		SessionID: sessionID,
	})
	g.sem.Release(1)

	if !out.Success {
		return g.writeStreamError(ctx, conn, sessionID, out.ErrMessage)
	}

	for _, frag := range audio.Split(sessionID, out.ResponseAudio, g.chunkSize) {
		if err := g.writeFragment(ctx, conn, frag); err != nil {
			return err
		}
	}
	return nil
}

// writeStreamError sends the error sentinel fragment for sessionID. The
// sentinel carries no payload so clients that play fragment data never render
// an error string as audio; the message itself goes to the log.
func (g *Gateway) writeStreamError(ctx context.Context, conn *websocket.Conn, sessionID, msg string) error {
	g.log.Warn("stream turn failed", "session_id", sessionID, "error", msg)
	return g.writeFragment(ctx, conn, audio.Fragment{
		SessionID: sessionID,
		Sequence:  audio.ErrorSequence,
		Final:     true,
	})
}

func (g *Gateway) writeFragment(ctx context.Context, conn *websocket.Conn, frag audio.Fragment) error {
	data, err := json.Marshal(frag)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
