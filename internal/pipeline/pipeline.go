// Package pipeline implements the conversation turn pipeline: spoken audio
// in, spoken (or text-only) reply out.
//
// A turn runs through seven stages: voice-activity check, speech
// segmentation, transcription, context assembly, reply generation, speech
// synthesis, and persistence. The first three are hard requirements — if any
// of them fails the turn fails and reports the stage that stopped it. The
// remaining stages are best-effort: a missing context window shrinks the
// prompt, a failed generation falls back to [FallbackResponse], a failed
// synthesis degrades the turn to text-only, and a failed persistence leaves
// the turn successful. Absorbed failures are reported through the outcome's
// ErrMessage so callers can still see them.
//
// Each stage runs under its own timeout so one stuck provider cannot consume
// the whole request budget. Synthesis and persistence are additionally
// retried, and the generation and synthesis providers sit behind circuit
// breakers so a provider outage fails fast instead of burning the stage
// timeout on every turn.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/resilience"
	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/memory"
	"github.com/voxpipe/voxpipe/pkg/provider/llm"
	"github.com/voxpipe/voxpipe/pkg/provider/stt"
	"github.com/voxpipe/voxpipe/pkg/provider/tts"
	"github.com/voxpipe/voxpipe/pkg/provider/vad"
)

// AnonymousUser is the user id assigned to requests that carry none.
const AnonymousUser = "anonymous"

// DefaultMaxHistoryTurns is how many recent turns feed the context window.
const DefaultMaxHistoryTurns = 5

// Timeouts holds the per-stage processing deadlines. The activity and
// segmentation stages run in-process and need none.
type Timeouts struct {
	Transcription time.Duration
	Generation    time.Duration
	Synthesis     time.Duration
	Persistence   time.Duration
}

// DefaultTimeouts returns the stage deadlines used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcription: 15 * time.Second,
		Generation:    30 * time.Second,
		Synthesis:     20 * time.Second,
		Persistence:   5 * time.Second,
	}
}

// withDefaults replaces unset deadlines with their defaults.
func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Transcription <= 0 {
		t.Transcription = def.Transcription
	}
	if t.Generation <= 0 {
		t.Generation = def.Generation
	}
	if t.Synthesis <= 0 {
		t.Synthesis = def.Synthesis
	}
	if t.Persistence <= 0 {
		t.Persistence = def.Persistence
	}
	return t
}

// Deps bundles the providers and stores a [Pipeline] operates on.
// VAD, STT, LLM, TTS, Turns and Sessions are required.
type Deps struct {
	VAD      vad.Detector
	STT      stt.Transcriber
	LLM      llm.Generator
	TTS      tts.Synthesizer
	Turns    memory.TurnStore
	Sessions memory.SessionStore

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Pipeline processes conversation turns. It is safe for concurrent use; each
// [Pipeline.Run] call is independent.
type Pipeline struct {
	deps Deps

	language   string
	maxHistory int
	voice      tts.Voice
	timeouts   Timeouts
	retry      resilience.RetryPolicy
	log        *slog.Logger

	llmBreaker *resilience.Breaker
	ttsBreaker *resilience.Breaker
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithLanguage sets the transcription language hint (e.g. "en").
func WithLanguage(lang string) Option {
	return func(p *Pipeline) { p.language = lang }
}

// WithMaxHistoryTurns sets how many recent turns feed the context window.
func WithMaxHistoryTurns(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxHistory = n
		}
	}
}

// WithVoice sets the synthesis voice.
func WithVoice(v tts.Voice) Option {
	return func(p *Pipeline) { p.voice = v }
}

// WithTimeouts overrides the per-stage deadlines. Unset fields keep their
// defaults.
func WithTimeouts(t Timeouts) Option {
	return func(p *Pipeline) { p.timeouts = t.withDefaults() }
}

// WithRetryPolicy overrides the retry policy for the synthesis and
// persistence stages.
func WithRetryPolicy(rp resilience.RetryPolicy) Option {
	return func(p *Pipeline) { p.retry = rp }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New creates a [Pipeline] with the given dependencies.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.VAD == nil:
		return nil, fmt.Errorf("pipeline: nil VAD detector")
	case deps.STT == nil:
		return nil, fmt.Errorf("pipeline: nil transcriber")
	case deps.LLM == nil:
		return nil, fmt.Errorf("pipeline: nil generator")
	case deps.TTS == nil:
		return nil, fmt.Errorf("pipeline: nil synthesizer")
	case deps.Turns == nil:
		return nil, fmt.Errorf("pipeline: nil turn store")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("pipeline: nil session store")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	p := &Pipeline{
		deps:       deps,
		maxHistory: DefaultMaxHistoryTurns,
		timeouts:   DefaultTimeouts(),
		log:        slog.Default(),
		llmBreaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "generation"}),
		ttsBreaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "synthesis"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// TurnRequest is one spoken input to process.
type TurnRequest struct {
	// Audio is the complete input utterance.
	Audio audio.Payload

	// UserID identifies the speaker. Empty means [AnonymousUser].
	UserID string

	// SessionID continues an existing conversation. Empty starts a new
	// session with a generated id.
	SessionID string

	// Language overrides the pipeline's configured transcription language
	// hint for this turn. Empty keeps the configured default.
	Language string
}

// Run processes one turn and always returns a well-formed [Outcome]; it never
// returns an error. Cancelling ctx aborts in-flight provider calls; the
// resulting outcome reports the stage that was interrupted.
func (p *Pipeline) Run(ctx context.Context, req TurnRequest) Outcome {
	start := time.Now()
	m := p.deps.Metrics

	userID := req.UserID
	if userID == "" {
		userID = AnonymousUser
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log := p.log.With("session_id", sessionID, "user_id", userID)

	m.ActiveTurns.Add(ctx, 1)
	defer m.ActiveTurns.Add(ctx, -1)

	language := req.Language
	if language == "" {
		language = p.language
	}

	outcome := p.run(ctx, log, userID, sessionID, language, req.Audio)

	m.RecordTurn(ctx, outcome.Result(), time.Since(start))
	if outcome.Success {
		log.Info("turn finished",
			"result", outcome.Result(),
			"duration", time.Since(start))
	} else {
		log.Warn("turn failed",
			"stage", outcome.Stage.String(),
			"error", outcome.ErrMessage,
			"duration", time.Since(start))
	}
	return outcome
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, userID, sessionID, language string, input audio.Payload) Outcome {
	m := p.deps.Metrics

	// ─── Stage 1: voice activity ─────────────────────────────────────────

	stageStart := time.Now()
	present, err := p.deps.VAD.SpeechPresent(input)
	m.RecordStage(ctx, StageActivity.String(), time.Since(stageStart))
	if err != nil {
		m.RecordProviderError(ctx, "vad", StageActivity.String())
		return failure(StageActivity, sessionID, "", fmt.Sprintf("voice activity check failed: %v", err))
	}
	if !present {
		return failure(StageActivity, sessionID, "", "no speech detected in audio")
	}

	// ─── Stage 2: segmentation ───────────────────────────────────────────

	stageStart = time.Now()
	segments, err := p.deps.VAD.ExtractSegments(input)
	m.RecordStage(ctx, StageSegmentation.String(), time.Since(stageStart))
	if err != nil {
		m.RecordProviderError(ctx, "vad", StageSegmentation.String())
		return failure(StageSegmentation, sessionID, "", fmt.Sprintf("speech segmentation failed: %v", err))
	}
	if len(segments) == 0 {
		return failure(StageSegmentation, sessionID, "", "no speech segments found")
	}
	// Only the first segment is transcribed. Later segments belong to the
	// next turn, not this one.
	segment := segments[0]
	if len(segments) > 1 {
		log.Debug("multiple speech segments, using first", "segments", len(segments))
	}

	// ─── Stage 3: transcription ──────────────────────────────────────────

	stageStart = time.Now()
	sctx, cancel := context.WithTimeout(ctx, p.timeouts.Transcription)
	result, err := p.deps.STT.Transcribe(sctx, segment, language)
	cancel()
	m.RecordStage(ctx, StageTranscription.String(), time.Since(stageStart))
	if err != nil {
		m.RecordProviderError(ctx, "stt", StageTranscription.String())
		return failure(StageTranscription, sessionID, "", fmt.Sprintf("transcription failed: %v", err))
	}
	if result.Text == "" {
		return failure(StageTranscription, sessionID, "", "transcription produced no text")
	}
	transcript := result.Text
	log.Debug("transcribed", "transcript", transcript, "confidence", result.Confidence)

	// ─── Stage 4: context assembly (best-effort) ─────────────────────────

	stageStart = time.Now()
	sctx, cancel = context.WithTimeout(ctx, p.timeouts.Persistence)
	turns, err := p.deps.Turns.RecentTurns(sctx, userID, sessionID, p.maxHistory)
	cancel()
	m.RecordStage(ctx, StageContext.String(), time.Since(stageStart))
	if err != nil {
		log.Warn("context assembly failed, continuing without history", "error", err)
		turns = nil
	}
	history := ContextWindow(turns)

	// ─── Stage 5: generation (falls back on failure) ─────────────────────

	stageStart = time.Now()
	var reply string
	sctx, cancel = context.WithTimeout(ctx, p.timeouts.Generation)
	err = p.llmBreaker.Execute(sctx, func(ctx context.Context) error {
		var genErr error
		reply, genErr = p.deps.LLM.Generate(ctx, transcript, history)
		return genErr
	})
	cancel()
	m.RecordStage(ctx, StageGeneration.String(), time.Since(stageStart))
	if err != nil {
		m.RecordProviderError(ctx, "llm", StageGeneration.String())
		log.Warn("generation failed, using fallback response", "error", err)
		reply = FallbackResponse
	}
	if reply == "" {
		log.Warn("generation produced no text, using fallback response")
		reply = FallbackResponse
	}

	// ─── Stage 6: synthesis (degrades to text-only) ──────────────────────

	// Absorbed best-effort failures still surface to the caller.
	var degradations []string

	stageStart = time.Now()
	var replyAudio []byte
	sctx, cancel = context.WithTimeout(ctx, p.timeouts.Synthesis)
	err = p.ttsBreaker.Execute(sctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, p.retry, func(ctx context.Context) error {
			var synthErr error
			replyAudio, synthErr = p.deps.TTS.Synthesize(ctx, reply, p.voice)
			return synthErr
		})
	})
	cancel()
	m.RecordStage(ctx, StageSynthesis.String(), time.Since(stageStart))
	if err != nil {
		m.RecordProviderError(ctx, "tts", StageSynthesis.String())
		log.Warn("synthesis failed, returning text-only response", "error", err)
		replyAudio = nil
		degradations = append(degradations, fmt.Sprintf("speech synthesis failed: %v", err))
	}

	// ─── Stage 7: persistence (informational) ────────────────────────────

	stageStart = time.Now()
	sctx, cancel = context.WithTimeout(ctx, p.timeouts.Persistence)
	err = resilience.Retry(sctx, p.retry, func(ctx context.Context) error {
		if err := p.deps.Sessions.TouchSession(ctx, sessionID, userID); err != nil {
			return err
		}
		return p.deps.Turns.AppendTurn(ctx, memory.Turn{
			UserID:        userID,
			SessionID:     sessionID,
			Transcript:    transcript,
			ResponseText:  reply,
			InputAudio:    input.Data,
			ResponseAudio: replyAudio,
			SampleRate:    input.SampleRate,
			Format:        string(input.Encoding),
			Timestamp:     time.Now().UTC(),
		})
	})
	cancel()
	m.RecordStage(ctx, StagePersistence.String(), time.Since(stageStart))
	if err != nil {
		log.Warn("failed to persist turn", "error", err)
		degradations = append(degradations, fmt.Sprintf("response generated but saving the turn failed: %v", err))
	}

	return Outcome{
		Success:       true,
		Stage:         StageComplete,
		SessionID:     sessionID,
		Transcript:    transcript,
		ResponseText:  reply,
		ResponseAudio: replyAudio,
		SampleRate:    input.SampleRate,
		ErrMessage:    strings.Join(degradations, "; "),
	}
}
