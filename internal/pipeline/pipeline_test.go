package pipeline_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/internal/pipeline"
	"github.com/voxpipe/voxpipe/internal/resilience"
	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/memory"
	memmock "github.com/voxpipe/voxpipe/pkg/memory/mock"
	llmmock "github.com/voxpipe/voxpipe/pkg/provider/llm/mock"
	sttmock "github.com/voxpipe/voxpipe/pkg/provider/stt/mock"
	"github.com/voxpipe/voxpipe/pkg/provider/stt"
	ttsmock "github.com/voxpipe/voxpipe/pkg/provider/tts/mock"
	vadmock "github.com/voxpipe/voxpipe/pkg/provider/vad/mock"
)

var errProvider = errors.New("provider unavailable")

// fixtures bundles the mocks behind a test pipeline.
type fixtures struct {
	vad   *vadmock.Detector
	stt   *sttmock.Transcriber
	llm   *llmmock.Generator
	tts   *ttsmock.Synthesizer
	store *memmock.Store
}

// newFixtures returns mocks primed for a fully successful turn.
func newFixtures() *fixtures {
	return &fixtures{
		vad: &vadmock.Detector{
			Present:  true,
			Segments: []audio.Payload{audio.NewPayload([]byte{1, 2, 3, 4})},
		},
		stt:   &sttmock.Transcriber{Result: stt.Result{Text: "hello there", Confidence: 0.9}},
		llm:   &llmmock.Generator{Reply: "hi, how can I help?"},
		tts:   &ttsmock.Synthesizer{Audio: []byte{9, 9, 9}},
		store: &memmock.Store{},
	}
}

func newTestPipeline(t *testing.T, f *fixtures, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	opts = append([]pipeline.Option{
		pipeline.WithRetryPolicy(resilience.RetryPolicy{Attempts: 2, InitialBackoff: time.Millisecond}),
	}, opts...)
	p, err := pipeline.New(pipeline.Deps{
		VAD:      f.vad,
		STT:      f.stt,
		LLM:      f.llm,
		TTS:      f.tts,
		Turns:    f.store,
		Sessions: f.store,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func speech() audio.Payload {
	return audio.NewPayload(make([]byte, 9000))
}

func TestRun_SuccessfulTurn(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech(), UserID: "alice", SessionID: "s1"})

	if !out.Success {
		t.Fatalf("Run failed at stage %v: %s", out.Stage, out.ErrMessage)
	}
	if out.Stage != pipeline.StageComplete {
		t.Errorf("Stage = %v, want complete", out.Stage)
	}
	if out.Transcript != "hello there" {
		t.Errorf("Transcript = %q", out.Transcript)
	}
	if out.ResponseText != "hi, how can I help?" {
		t.Errorf("ResponseText = %q", out.ResponseText)
	}
	if string(out.ResponseAudio) != string([]byte{9, 9, 9}) {
		t.Errorf("ResponseAudio = %v", out.ResponseAudio)
	}
	if out.Result() != "completed" {
		t.Errorf("Result = %q, want completed", out.Result())
	}

	// The reply was synthesised from the generated text.
	if got := len(f.tts.SynthesizeCalls); got != 1 {
		t.Fatalf("Synthesize calls = %d, want 1", got)
	}
	if f.tts.SynthesizeCalls[0].Text != "hi, how can I help?" {
		t.Errorf("synthesised %q", f.tts.SynthesizeCalls[0].Text)
	}

	// The turn was persisted with both transcript and reply.
	if len(f.store.Turns) != 1 {
		t.Fatalf("persisted %d turns, want 1", len(f.store.Turns))
	}
	turn := f.store.Turns[0]
	if turn.Transcript != "hello there" || turn.ResponseText != "hi, how can I help?" {
		t.Errorf("persisted turn = %+v", turn)
	}
	if len(f.store.TouchCalls) != 1 {
		t.Errorf("TouchSession calls = %d, want 1", len(f.store.TouchCalls))
	}
}

func TestRun_NoSpeechShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.vad.Present = false
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech(), SessionID: "s1"})

	if out.Success {
		t.Fatal("turn with no speech should fail")
	}
	if out.Stage != pipeline.StageActivity {
		t.Errorf("Stage = %v, want activity", out.Stage)
	}
	if out.Result() != "failed" {
		t.Errorf("Result = %q, want failed", out.Result())
	}

	// Nothing downstream may run.
	if len(f.stt.TranscribeCalls) != 0 {
		t.Error("Transcribe was called for silent audio")
	}
	if len(f.llm.GenerateCalls) != 0 {
		t.Error("Generate was called for silent audio")
	}
	if len(f.store.Turns) != 0 {
		t.Error("silent turn was persisted")
	}
}

func TestRun_NoSegmentsFails(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.vad.Segments = nil
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if out.Success || out.Stage != pipeline.StageSegmentation {
		t.Fatalf("outcome = %+v, want segmentation failure", out)
	}
	if len(f.stt.TranscribeCalls) != 0 {
		t.Error("Transcribe was called without segments")
	}
}

func TestRun_FirstSegmentWins(t *testing.T) {
	t.Parallel()

	first := audio.NewPayload([]byte{1, 1})
	second := audio.NewPayload([]byte{2, 2})
	f := newFixtures()
	f.vad.Segments = []audio.Payload{first, second}
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if !out.Success {
		t.Fatalf("Run failed: %s", out.ErrMessage)
	}
	if len(f.stt.TranscribeCalls) != 1 {
		t.Fatalf("Transcribe calls = %d, want 1", len(f.stt.TranscribeCalls))
	}
	if string(f.stt.TranscribeCalls[0].Payload.Data) != string(first.Data) {
		t.Error("transcription did not use the first segment")
	}
}

func TestRun_TranscriptionFailureStopsTurn(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.stt.Err = errProvider
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if out.Success || out.Stage != pipeline.StageTranscription {
		t.Fatalf("outcome = %+v, want transcription failure", out)
	}
	if len(f.llm.GenerateCalls) != 0 {
		t.Error("Generate was called after failed transcription")
	}
	if len(f.store.Turns) != 0 {
		t.Error("failed turn was persisted")
	}
}

func TestRun_EmptyTranscriptStopsTurn(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.stt.Result = stt.Result{}
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if out.Success || out.Stage != pipeline.StageTranscription {
		t.Fatalf("outcome = %+v, want transcription failure", out)
	}
}

func TestRun_GenerationFailureUsesFallback(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.llm.Err = errProvider
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if !out.Success {
		t.Fatalf("turn should survive generation failure: %s", out.ErrMessage)
	}
	if out.ResponseText != pipeline.FallbackResponse {
		t.Errorf("ResponseText = %q, want fallback", out.ResponseText)
	}
	// The fallback is still synthesised and persisted.
	if len(f.tts.SynthesizeCalls) != 1 || f.tts.SynthesizeCalls[0].Text != pipeline.FallbackResponse {
		t.Errorf("Synthesize calls = %+v, want one call with the fallback text", f.tts.SynthesizeCalls)
	}
	if len(f.store.Turns) != 1 || f.store.Turns[0].ResponseText != pipeline.FallbackResponse {
		t.Error("fallback turn was not persisted")
	}
}

func TestRun_SynthesisFailureDegradesToText(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.tts.Err = errProvider
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if !out.Success {
		t.Fatalf("turn should survive synthesis failure: %s", out.ErrMessage)
	}
	if out.ResponseAudio != nil {
		t.Errorf("ResponseAudio = %v, want nil", out.ResponseAudio)
	}
	if out.ResponseText != "hi, how can I help?" {
		t.Errorf("ResponseText = %q", out.ResponseText)
	}
	if out.Result() != "degraded" {
		t.Errorf("Result = %q, want degraded", out.Result())
	}
	// Synthesis is retried before giving up.
	if got := len(f.tts.SynthesizeCalls); got != 2 {
		t.Errorf("Synthesize calls = %d, want 2 (one retry)", got)
	}
	// The text-only turn is still persisted.
	if len(f.store.Turns) != 1 || f.store.Turns[0].ResponseAudio != nil {
		t.Error("degraded turn was not persisted without audio")
	}
	// The absorbed failure is reported, not swallowed.
	if !strings.Contains(out.ErrMessage, "synthesis failed") {
		t.Errorf("ErrMessage = %q, want synthesis failure explanation", out.ErrMessage)
	}
}

func TestRun_PersistenceFailureIsInformational(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.store.AppendErr = errProvider
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if !out.Success {
		t.Fatalf("turn should survive persistence failure: %s", out.ErrMessage)
	}
	if out.Result() != "completed" {
		t.Errorf("Result = %q, want completed", out.Result())
	}
	// Only ErrMessage reflects the persistence failure.
	if !strings.Contains(out.ErrMessage, "save") && !strings.Contains(out.ErrMessage, "saving") {
		t.Errorf("ErrMessage = %q, want persistence failure explanation", out.ErrMessage)
	}
	if out.ResponseText != "hi, how can I help?" || out.ResponseAudio == nil {
		t.Error("persistence failure must not touch the response payload")
	}
}

func TestRun_ContextFailureShrinksPrompt(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	f.store.RecentErr = errProvider
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if !out.Success {
		t.Fatalf("turn should survive history failure: %s", out.ErrMessage)
	}
	if len(f.llm.GenerateCalls) != 1 {
		t.Fatalf("Generate calls = %d, want 1", len(f.llm.GenerateCalls))
	}
	if len(f.llm.GenerateCalls[0].History) != 0 {
		t.Errorf("history = %+v, want empty", f.llm.GenerateCalls[0].History)
	}
}

func TestRun_SessionContinuity(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	p := newTestPipeline(t, f)
	ctx := t.Context()

	first := p.Run(ctx, pipeline.TurnRequest{Audio: speech(), UserID: "alice", SessionID: "s1"})
	if !first.Success {
		t.Fatalf("first turn failed: %s", first.ErrMessage)
	}

	second := p.Run(ctx, pipeline.TurnRequest{Audio: speech(), UserID: "alice", SessionID: "s1"})
	if !second.Success {
		t.Fatalf("second turn failed: %s", second.ErrMessage)
	}

	if len(f.llm.GenerateCalls) != 2 {
		t.Fatalf("Generate calls = %d, want 2", len(f.llm.GenerateCalls))
	}
	history := f.llm.GenerateCalls[1].History
	if len(history) != 2 {
		t.Fatalf("second turn history = %d messages, want 2", len(history))
	}
	if history[0].Content != "hello there" || history[1].Content != "hi, how can I help?" {
		t.Errorf("history = %+v, want the first exchange", history)
	}
}

func TestRun_AnonymousDefaults(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	p := newTestPipeline(t, f)

	out := p.Run(t.Context(), pipeline.TurnRequest{Audio: speech()})

	if !out.Success {
		t.Fatalf("Run failed: %s", out.ErrMessage)
	}
	if out.SessionID == "" {
		t.Error("no session id was generated")
	}
	if len(f.store.Turns) != 1 {
		t.Fatalf("persisted %d turns, want 1", len(f.store.Turns))
	}
	if f.store.Turns[0].UserID != pipeline.AnonymousUser {
		t.Errorf("UserID = %q, want %q", f.store.Turns[0].UserID, pipeline.AnonymousUser)
	}
	if f.store.Turns[0].SessionID != out.SessionID {
		t.Error("persisted session id does not match the outcome")
	}
}

func TestRun_HistoryIsBounded(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	p := newTestPipeline(t, f, pipeline.WithMaxHistoryTurns(3))

	_ = p.Run(t.Context(), pipeline.TurnRequest{Audio: speech(), UserID: "alice", SessionID: "s1"})

	if len(f.store.RecentCalls) != 1 {
		t.Fatalf("RecentTurns calls = %d, want 1", len(f.store.RecentCalls))
	}
	if f.store.RecentCalls[0].Limit != 3 {
		t.Errorf("limit = %d, want 3", f.store.RecentCalls[0].Limit)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	_, err := pipeline.New(pipeline.Deps{
		STT:      f.stt,
		LLM:      f.llm,
		TTS:      f.tts,
		Turns:    f.store,
		Sessions: f.store,
	})
	if err == nil {
		t.Fatal("New accepted nil VAD detector")
	}
}

func TestContextWindow_ChronologicalPairs(t *testing.T) {
	t.Parallel()

	// Newest first, as RecentTurns returns them.
	turns := []memory.Turn{
		{Transcript: "second question", ResponseText: "second answer"},
		{Transcript: "first question", ResponseText: "first answer"},
	}

	msgs := pipeline.ContextWindow(turns)

	want := []string{"first question", "first answer", "second question", "second answer"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, content := range want {
		if msgs[i].Content != content {
			t.Errorf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, content)
		}
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %q, %q, want user, assistant", msgs[0].Role, msgs[1].Role)
	}
}

func TestContextWindow_SkipsEmptyHalves(t *testing.T) {
	t.Parallel()

	turns := []memory.Turn{
		{Transcript: "question", ResponseText: ""},
	}
	msgs := pipeline.ContextWindow(turns)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Role != "user" {
		t.Errorf("role = %q, want user", msgs[0].Role)
	}
}

func TestRun_LanguageOverride(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	p := newTestPipeline(t, f, pipeline.WithLanguage("en"))

	p.Run(t.Context(), pipeline.TurnRequest{Audio: speech(), SessionID: "s1"})
	p.Run(t.Context(), pipeline.TurnRequest{Audio: speech(), SessionID: "s1", Language: "de"})

	if got := len(f.stt.TranscribeCalls); got != 2 {
		t.Fatalf("Transcribe calls = %d, want 2", got)
	}
	if lang := f.stt.TranscribeCalls[0].Language; lang != "en" {
		t.Errorf("first turn language = %q, want configured default en", lang)
	}
	if lang := f.stt.TranscribeCalls[1].Language; lang != "de" {
		t.Errorf("second turn language = %q, want per-request de", lang)
	}
}
