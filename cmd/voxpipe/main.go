// Command voxpipe is the main entry point for the voxpipe conversation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxpipe/voxpipe/internal/config"
	"github.com/voxpipe/voxpipe/internal/gateway"
	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/pipeline"
	"github.com/voxpipe/voxpipe/internal/resilience"
	"github.com/voxpipe/voxpipe/pkg/memory"
	mempostgres "github.com/voxpipe/voxpipe/pkg/memory/postgres"
	"github.com/voxpipe/voxpipe/pkg/provider/llm"
	"github.com/voxpipe/voxpipe/pkg/provider/llm/anyllm"
	"github.com/voxpipe/voxpipe/pkg/provider/stt"
	sttopenai "github.com/voxpipe/voxpipe/pkg/provider/stt/openai"
	"github.com/voxpipe/voxpipe/pkg/provider/stt/whisper"
	"github.com/voxpipe/voxpipe/pkg/provider/tts"
	"github.com/voxpipe/voxpipe/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/voxpipe/voxpipe/pkg/provider/tts/openai"
	"github.com/voxpipe/voxpipe/pkg/provider/vad"
	"github.com/voxpipe/voxpipe/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", "", "optional .env file with provider credentials")
	flag.Parse()

	// ── Environment ────────────────────────────────────────────────────────────
	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			fmt.Fprintf(os.Stderr, "voxpipe: load env file %q: %v\n", *envPath, err)
			return 1
		}
	} else {
		// A .env in the working directory is optional.
		_ = godotenv.Load()
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxpipe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxpipe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("voxpipe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxpipe",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	detector, transcriber, generator, synthesizer, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Conversation store ────────────────────────────────────────────────────
	var store memory.Store
	if cfg.Database.DSN != "" {
		pg, err := mempostgres.NewStore(ctx, cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		store = pg
		slog.Info("using postgres conversation store")
	} else {
		store = memory.NewMemStore()
		slog.Warn("no database configured, conversations are kept in memory only")
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	voice := tts.Voice{
		ID:       cfg.Providers.TTS.Voice,
		Language: cfg.Pipeline.Language,
		Speed:    cfg.Pipeline.VoiceSpeed,
	}
	pipe, err := pipeline.New(
		pipeline.Deps{
			VAD:      detector,
			STT:      transcriber,
			LLM:      generator,
			TTS:      synthesizer,
			Turns:    store,
			Sessions: store,
			Metrics:  metrics,
		},
		pipeline.WithLanguage(cfg.Pipeline.Language),
		pipeline.WithMaxHistoryTurns(cfg.Pipeline.MaxHistoryTurns),
		pipeline.WithVoice(voice),
		pipeline.WithTimeouts(pipeline.Timeouts{
			Transcription: cfg.Pipeline.Timeouts.Transcription,
			Generation:    cfg.Pipeline.Timeouts.Generation,
			Synthesis:     cfg.Pipeline.Timeouts.Synthesis,
			Persistence:   cfg.Pipeline.Timeouts.Persistence,
		}),
		pipeline.WithRetryPolicy(resilience.RetryPolicy{
			Attempts:       cfg.Pipeline.RetryAttempts,
			InitialBackoff: cfg.Pipeline.RetryBackoff,
		}),
	)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── Gateway ───────────────────────────────────────────────────────────────
	gwOpts := []gateway.Option{
		gateway.WithMetrics(metrics),
		gateway.WithMaxConcurrentTurns(cfg.Server.MaxConcurrentTurns),
		gateway.WithChunkSize(cfg.Server.ChunkSize),
	}
	if pg, ok := store.(*mempostgres.Store); ok {
		gwOpts = append(gwOpts, gateway.WithChecker(gateway.Checker{
			Name:  "database",
			Check: func(ctx context.Context) error { return pg.Ping(ctx) },
		}))
	}
	gw, err := gateway.New(pipe, store, gwOpts...)
	if err != nil {
		slog.Error("failed to build gateway", "err", err)
		return 1
	}

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := gateway.NewServer(addr, gw.Router(), logger)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Detector, error) {
		var opts []energy.Option
		if v := optFloat(entry.Options, "rms_threshold"); v > 0 {
			opts = append(opts, energy.WithRMSThreshold(v))
		}
		if v := optInt(entry.Options, "window_ms"); v > 0 {
			opts = append(opts, energy.WithWindowMs(v))
		}
		if v := optInt(entry.Options, "hangover_windows"); v > 0 {
			opts = append(opts, energy.WithHangoverWindows(v))
		}
		return energy.New(opts...), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// All any-llm backends share the same pattern: optional APIKey + optional
	// BaseURL (ollama and the llama servers only use BaseURL).
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Generator, error) {
			var backendOpts []anyllmlib.Option
			if entry.APIKey != "" {
				backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			var opts []anyllm.Option
			if prompt := optString(entry.Options, "system_prompt"); prompt != "" {
				opts = append(opts, anyllm.WithSystemPrompt(prompt))
			}
			return anyllm.New(providerName, entry.Model, backendOpts, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the four pipeline providers named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (vad.Detector, stt.Transcriber, llm.Generator, tts.Synthesizer, error) {
	vadEntry := cfg.Providers.VAD
	if vadEntry.Name == "" {
		vadEntry.Name = "energy"
	}
	detector, err := reg.CreateVAD(vadEntry)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create vad provider %q: %w", vadEntry.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", vadEntry.Name)

	transcriber, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	generator, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	synthesizer, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "voice", cfg.Providers.TTS.Voice)

	return detector, transcriber, generator, synthesizer, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an int value from a provider Options map. YAML decodes
// numbers as int, so only that case is handled.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	n, _ := opts[key].(int)
	return n
}

// optFloat extracts a numeric value from a provider Options map, accepting
// both int and float YAML scalars.
func optFloat(opts map[string]any, key string) float64 {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
