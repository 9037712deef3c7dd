// Package openai provides a transcriber backed by the OpenAI audio API
// (Whisper models).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Provider implements stt.Transcriber using the OpenAI audio transcription
// endpoint. Provider is safe for concurrent use.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL (e.g. for
// API-compatible local servers).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// New constructs a new OpenAI transcription Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}

	cfg := &config{model: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe implements stt.Transcriber. The payload is wrapped in a WAV
// container since the API rejects bare PCM uploads.
//
// The transcription endpoint does not report a confidence score, so
// Result.Confidence is always zero.
func (p *Provider) Transcribe(ctx context.Context, payload audio.Payload, language string) (stt.Result, error) {
	if payload.Empty() {
		return stt.Result{}, fmt.Errorf("openai stt: empty audio payload")
	}

	sampleRate := payload.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	channels := payload.Channels
	if channels <= 0 {
		channels = 1
	}
	wav := audio.EncodeWAV(payload.Data, sampleRate, channels)

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	if language != "" {
		params.Language = param.NewOpt(language)
	}

	tr, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcription request: %w", err)
	}

	return stt.Result{Text: strings.TrimSpace(tr.Text)}, nil
}
