// Package mock provides a test double for the stt package interfaces.
//
// Configure the transcription outcome via the Result and Err fields, then
// inspect the recorded calls:
//
//	tr := &mock.Transcriber{Result: stt.Result{Text: "hello", Confidence: 0.9}}
//	res, _ := tr.Transcribe(ctx, payload, "en")
//	if len(tr.TranscribeCalls) != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Payload is the audio passed to Transcribe.
	Payload audio.Payload
	// Language is the language code passed to Transcribe.
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns Result, Err.
func (t *Transcriber) Transcribe(_ context.Context, p audio.Payload, language string) (stt.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Payload: p, Language: language})
	if t.Err != nil {
		return stt.Result{}, t.Err
	}
	return t.Result, nil
}

// Reset clears all recorded calls.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
}
