package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
  max_concurrent_turns: 16
  chunk_size: 4096
providers:
  vad:
    name: energy
  stt:
    name: openai
    api_key: sk-test
    model: whisper-1
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  tts:
    name: elevenlabs
    api_key: el-test
    voice: aria
database:
  dsn: "postgres://localhost:5432/voxpipe"
pipeline:
  language: en
  max_history_turns: 5
  retry_attempts: 2
  retry_backoff: 250ms
  voice_speed: 1.0
  timeouts:
    transcription: 15s
    generation: 30s
    synthesis: 20s
    persistence: 5s
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.TTS.Name != "elevenlabs" || cfg.Providers.TTS.Voice != "aria" {
		t.Errorf("TTS = %+v", cfg.Providers.TTS)
	}
	if cfg.Pipeline.Timeouts.Generation != 30*time.Second {
		t.Errorf("generation timeout = %v", cfg.Pipeline.Timeouts.Generation)
	}
	if cfg.Pipeline.RetryBackoff != 250*time.Millisecond {
		t.Errorf("retry backoff = %v", cfg.Pipeline.RetryBackoff)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := validYAML + "\nunknown_section:\n  foo: bar\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown top-level field was accepted")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "missing stt provider",
			mutate:  func(c *Config) { c.Providers.STT.Name = "" },
			wantErr: "providers.stt.name",
		},
		{
			name:    "missing llm provider",
			mutate:  func(c *Config) { c.Providers.LLM.Name = "" },
			wantErr: "providers.llm.name",
		},
		{
			name:    "missing tts provider",
			mutate:  func(c *Config) { c.Providers.TTS.Name = "" },
			wantErr: "providers.tts.name",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Server.MaxConcurrentTurns = -1 },
			wantErr: "max_concurrent_turns",
		},
		{
			name:    "voice speed out of range",
			mutate:  func(c *Config) { c.Pipeline.VoiceSpeed = 3.5 },
			wantErr: "voice_speed",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Pipeline.Timeouts.Synthesis = -time.Second },
			wantErr: "timeouts.synthesis",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("base config invalid: %v", err)
			}
			tc.mutate(cfg)
			err = Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("empty config passed validation")
	}
	for _, want := range []string{"providers.stt.name", "providers.llm.name", "providers.tts.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error does not mention %q", want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	if err == nil {
		t.Fatal("Load accepted a missing file")
	}
}

func TestLogLevel(t *testing.T) {
	if !LogDebug.IsValid() || !LogError.IsValid() {
		t.Error("known levels reported invalid")
	}
	if LogLevel("trace").IsValid() {
		t.Error("unknown level reported valid")
	}
	if LogWarn.SlogLevel().String() != "WARN" {
		t.Errorf("SlogLevel(warn) = %v", LogWarn.SlogLevel())
	}
	if LogLevel("").SlogLevel().String() != "INFO" {
		t.Errorf("SlogLevel(empty) = %v", LogLevel("").SlogLevel())
	}
}
