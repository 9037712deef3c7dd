// Package mock provides a test double for the vad package interfaces.
//
// Configure the detection outcome via the Present and Segments fields, then
// inspect the recorded calls:
//
//	d := &mock.Detector{Present: true, Segments: []audio.Payload{seg}}
//	ok, _ := d.SpeechPresent(payload)
//	if len(d.SpeechPresentCalls) != 1 { ... }
package mock

import (
	"sync"

	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/provider/vad"
)

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Present is returned by SpeechPresent.
	Present bool

	// PresentErr, if non-nil, is returned as the error from SpeechPresent.
	PresentErr error

	// Segments is returned by ExtractSegments.
	Segments []audio.Payload

	// SegmentsErr, if non-nil, is returned as the error from ExtractSegments.
	SegmentsErr error

	// SpeechPresentCalls records the payload of every SpeechPresent call.
	SpeechPresentCalls []audio.Payload

	// ExtractSegmentsCalls records the payload of every ExtractSegments call.
	ExtractSegmentsCalls []audio.Payload
}

// Compile-time assertion that Detector implements vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// SpeechPresent records the call and returns Present, PresentErr.
func (d *Detector) SpeechPresent(p audio.Payload) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SpeechPresentCalls = append(d.SpeechPresentCalls, p)
	if d.PresentErr != nil {
		return false, d.PresentErr
	}
	return d.Present, nil
}

// ExtractSegments records the call and returns Segments, SegmentsErr.
func (d *Detector) ExtractSegments(p audio.Payload) ([]audio.Payload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ExtractSegmentsCalls = append(d.ExtractSegmentsCalls, p)
	if d.SegmentsErr != nil {
		return nil, d.SegmentsErr
	}
	return d.Segments, nil
}

// Reset clears all recorded calls.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SpeechPresentCalls = nil
	d.ExtractSegmentsCalls = nil
}
