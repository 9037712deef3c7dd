// Package gateway exposes the turn pipeline over HTTP.
//
// Endpoints:
//
//   - POST /v1/turns        — process one complete utterance, JSON in/out
//   - GET  /v1/turns/stream — WebSocket: chunked audio in, chunked reply out
//   - GET  /v1/history      — recent conversation turns for a user
//   - GET  /healthz         — liveness probe
//   - GET  /readyz          — readiness probe (runs registered checks)
//   - GET  /metrics         — Prometheus scrape endpoint
//
// The gateway bounds concurrent pipeline work with a weighted semaphore;
// requests beyond the limit wait until a slot frees or their context ends.
// A panicking pipeline never takes the process down: the turn is reported as
// a well-formed failure instead.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/pipeline"
	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/memory"
)

// DefaultMaxConcurrentTurns bounds simultaneous pipeline runs.
const DefaultMaxConcurrentTurns = 8

// DefaultHistoryLimit is the /v1/history limit when none is given.
const DefaultHistoryLimit = 10

// TurnRunner processes one turn. *pipeline.Pipeline is the production
// implementation.
type TurnRunner interface {
	Run(ctx context.Context, req pipeline.TurnRequest) pipeline.Outcome
}

// Checker is a named readiness check, evaluated on each /readyz request.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// checkTimeout caps a single readiness check.
const checkTimeout = 5 * time.Second

// Gateway routes HTTP and WebSocket traffic into a [TurnRunner].
type Gateway struct {
	runner   TurnRunner
	turns    memory.TurnStore
	metrics  *observe.Metrics
	log      *slog.Logger
	sem      *semaphore.Weighted
	checkers []Checker

	chunkSize  int
	sampleRate int
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithMaxConcurrentTurns bounds simultaneous pipeline runs.
func WithMaxConcurrentTurns(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithChunkSize sets the streaming reply fragment size in bytes.
func WithChunkSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.chunkSize = n
		}
	}
}

// WithSampleRate sets the sample rate assumed for incoming raw audio.
func WithSampleRate(hz int) Option {
	return func(g *Gateway) {
		if hz > 0 {
			g.sampleRate = hz
		}
	}
}

// WithChecker registers a readiness check served by /readyz.
func WithChecker(c Checker) Option {
	return func(g *Gateway) { g.checkers = append(g.checkers, c) }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// New creates a [Gateway]. runner and turns are required.
func New(runner TurnRunner, turns memory.TurnStore, opts ...Option) (*Gateway, error) {
	if runner == nil {
		return nil, fmt.Errorf("gateway: nil turn runner")
	}
	if turns == nil {
		return nil, fmt.Errorf("gateway: nil turn store")
	}
	g := &Gateway{
		runner:     runner,
		turns:      turns,
		metrics:    observe.DefaultMetrics(),
		log:        slog.Default(),
		sem:        semaphore.NewWeighted(DefaultMaxConcurrentTurns),
		chunkSize:  audio.DefaultChunkSize,
		sampleRate: audio.DefaultSampleRate,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Router returns the gateway's HTTP handler.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(observe.Middleware(g.metrics))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", g.handleHealthz)
	r.Get("/readyz", g.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/turns", g.handleTurn)
		v1.Get("/turns/stream", g.handleStream)
		v1.Get("/history", g.handleHistory)
	})
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// Unary turn processing
// ─────────────────────────────────────────────────────────────────────────────

// turnRequest is the POST /v1/turns request body.
type turnRequest struct {
	// Audio is base64-encoded PCM16 audio.
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Language   string `json:"language,omitempty"`
	// Format names the audio encoding. Only "pcm16" is accepted; empty
	// defaults to it.
	Format string `json:"format,omitempty"`
}

// turnResponse is the JSON representation of a pipeline outcome.
type turnResponse struct {
	Success       bool   `json:"success"`
	Stage         string `json:"stage"`
	SessionID     string `json:"session_id"`
	Transcript    string `json:"transcript,omitempty"`
	ResponseText  string `json:"response_text,omitempty"`
	ResponseAudio string `json:"response_audio,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Format        string `json:"format,omitempty"`
	Error         string `json:"error,omitempty"`
}

// toResponse converts a pipeline outcome to its wire shape.
func toResponse(out pipeline.Outcome) turnResponse {
	resp := turnResponse{
		Success:      out.Success,
		Stage:        out.Stage.String(),
		SessionID:    out.SessionID,
		Transcript:   out.Transcript,
		ResponseText: out.ResponseText,
		SampleRate:   out.SampleRate,
		Error:        out.ErrMessage,
	}
	if len(out.ResponseAudio) > 0 {
		resp.ResponseAudio = base64.StdEncoding.EncodeToString(out.ResponseAudio)
		resp.Format = string(audio.EncodingPCM16)
	}
	return resp
}

func (g *Gateway) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Audio == "" {
		writeError(w, http.StatusBadRequest, "audio is required")
		return
	}
	if req.Format != "" && req.Format != string(audio.EncodingPCM16) {
		writeError(w, http.StatusBadRequest, "unsupported audio format: "+req.Format)
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio is not valid base64: "+err.Error())
		return
	}

	payload := audio.NewPayload(pcm)
	if req.SampleRate > 0 {
		payload.SampleRate = req.SampleRate
	} else if g.sampleRate > 0 {
		payload.SampleRate = g.sampleRate
	}

	if err := g.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down or request cancelled")
		return
	}
	defer g.sem.Release(1)

	out := g.safeRun(r.Context(), pipeline.TurnRequest{
		Audio:     payload,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Language:  req.Language,
	})

	status := http.StatusOK
	if !out.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, toResponse(out))
}

// safeRun invokes the runner and converts a panic into a failed outcome so
// one bad turn cannot crash the gateway.
func (g *Gateway) safeRun(ctx context.Context, req pipeline.TurnRequest) (out pipeline.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error("pipeline panic",
				"panic", rec,
				"stack", string(debug.Stack()))
			out = pipeline.Outcome{
				Success:    false,
				Stage:      pipeline.StageActivity,
				SessionID:  req.SessionID,
				ErrMessage: fmt.Sprintf("internal error: %v", rec),
			}
		}
	}()
	return g.runner.Run(ctx, req)
}

// ─────────────────────────────────────────────────────────────────────────────
// History
// ─────────────────────────────────────────────────────────────────────────────

// historyTurn is one entry of the /v1/history response. Audio blobs are
// summarised by length rather than inlined.
type historyTurn struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Transcript   string    `json:"transcript"`
	ResponseText string    `json:"response_text"`
	HasAudio     bool      `json:"has_audio"`
	AudioBytes   int       `json:"audio_bytes,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type historyResponse struct {
	UserID string        `json:"user_id"`
	Turns  []historyTurn `json:"turns"`
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = pipeline.AnonymousUser
	}
	sessionID := r.URL.Query().Get("session_id")

	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := g.turns.RecentTurns(r.Context(), userID, sessionID, limit)
	if err != nil {
		g.log.Error("history query failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	resp := historyResponse{UserID: userID, Turns: make([]historyTurn, 0, len(turns))}
	for _, t := range turns {
		resp.Turns = append(resp.Turns, historyTurn{
			ID:           t.ID,
			SessionID:    t.SessionID,
			Transcript:   t.Transcript,
			ResponseText: t.ResponseText,
			HasAudio:     len(t.ResponseAudio) > 0,
			AudioBytes:   len(t.ResponseAudio),
			Timestamp:    t.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─────────────────────────────────────────────────────────────────────────────
// Health
// ─────────────────────────────────────────────────────────────────────────────

type healthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(g.checkers))
	allOK := true
	for _, c := range g.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := healthResult{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
