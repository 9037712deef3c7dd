// Package mock provides a test double for the tts.Synthesizer interface.
//
// Configure the synthesis outcome via the Audio and Err fields, then inspect
// the recorded calls:
//
//	s := &mock.Synthesizer{Audio: []byte("pcm")}
//	out, _ := s.Synthesize(ctx, "hello", tts.Voice{ID: "alloy"})
//	if s.SynthesizeCalls[0].Text != "hello" { ... }
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesizer.Synthesize.
type SynthesizeCall struct {
	// Text is the reply text passed to Synthesize.
	Text string
	// Voice is the voice profile passed to Synthesize.
	Voice tts.Voice
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned by Synthesize.
	Audio []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Compile-time assertion that Synthesizer implements tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the call and returns Audio, Err.
func (s *Synthesizer) Synthesize(_ context.Context, text string, voice tts.Voice) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Audio, nil
}

// Reset clears all recorded calls.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
}
