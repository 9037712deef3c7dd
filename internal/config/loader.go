package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"energy"},
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxConcurrentTurns < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_turns must not be negative"))
	}
	if cfg.Server.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("server.chunk_size must not be negative"))
	}

	// Providers. VAD defaults to the built-in energy detector; the remote
	// stages need an explicit choice.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, fmt.Errorf("providers.tts.name is required"))
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Database
	if cfg.Database.DSN == "" {
		slog.Warn("database.dsn is empty; conversations will only be kept in memory")
	}

	// Pipeline
	if cfg.Pipeline.MaxHistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_history_turns must not be negative"))
	}
	if cfg.Pipeline.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retry_attempts must not be negative"))
	}
	if cfg.Pipeline.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retry_backoff must not be negative"))
	}
	if cfg.Pipeline.VoiceSpeed != 0 {
		if cfg.Pipeline.VoiceSpeed < 0.5 || cfg.Pipeline.VoiceSpeed > 2.0 {
			errs = append(errs, fmt.Errorf("pipeline.voice_speed %.2f is out of range [0.5, 2.0]", cfg.Pipeline.VoiceSpeed))
		}
	}
	for _, t := range []struct {
		name  string
		value int64
	}{
		{"transcription", int64(cfg.Pipeline.Timeouts.Transcription)},
		{"generation", int64(cfg.Pipeline.Timeouts.Generation)},
		{"synthesis", int64(cfg.Pipeline.Timeouts.Synthesis)},
		{"persistence", int64(cfg.Pipeline.Timeouts.Persistence)},
	} {
		if t.value < 0 {
			errs = append(errs, fmt.Errorf("pipeline.timeouts.%s must not be negative", t.name))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
