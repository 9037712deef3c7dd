// Package elevenlabs provides a synthesizer backed by the ElevenLabs
// stream-input WebSocket API.
//
// The stream-input endpoint is built for incremental text, but it is also the
// cheapest way to get raw PCM out of ElevenLabs: one connection, the full
// reply text, a flush, then drain the audio messages until the socket closes.
// Synthesize collects the drained chunks into a single buffer for the
// pipeline.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/voxpipe/voxpipe/pkg/provider/tts"
)

const (
	wsEndpointFmt = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"

	defaultModel = "eleven_turbo_v2_5"

	// defaultOutputFormat requests 16 kHz mono 16-bit PCM, the pipeline's
	// native format.
	defaultOutputFormat = "pcm_16000"
)

// Compile-time assertion that Provider implements tts.Synthesizer.
var _ tts.Synthesizer = (*Provider)(nil)

// Provider implements tts.Synthesizer against the ElevenLabs API.
// Provider is safe for concurrent use; each Synthesize call opens its own
// WebSocket connection.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the ElevenLabs model id. Defaults to eleven_turbo_v2_5.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat overrides the requested audio format. Defaults to
// pcm_16000 (16 kHz mono 16-bit PCM).
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// New constructs an ElevenLabs Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFormat,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire messages ----------------------------------------------------------

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text acts as the end-of-input flush command.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings tunes the synthesis characteristics.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// boiMessage is the initial "begin of input" handshake carrying the API key.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// audioResponse is a JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio chunk
	IsFinal bool   `json:"isFinal"`
}

// ---- Synthesize -------------------------------------------------------------

// Synthesize implements tts.Synthesizer.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) ([]byte, error) {
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, voice.ID, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

	// BOI handshake. ElevenLabs requires a non-empty first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: vs,
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	if err := p.write(ctx, conn, boi); err != nil {
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	// Full reply text, then the empty-text flush command.
	if err := p.write(ctx, conn, textMessage{Text: text, VoiceSettings: vs}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	if err := p.write(ctx, conn, textMessage{}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	// Drain audio messages until the final marker or the server closes.
	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("elevenlabs: read: %w", ctx.Err())
			}
			// Normal closure after the final chunk is how the stream ends.
			break
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio chunk: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}

	if len(pcm) == 0 {
		return nil, errors.New("elevenlabs: no audio received")
	}
	return pcm, nil
}

// write marshals v and sends it as a text frame.
func (p *Provider) write(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
