// Package energy provides a local RMS-energy voice-activity detector.
//
// The detector slices 16-bit PCM into fixed windows, computes each window's
// root-mean-square energy, and classifies windows above a threshold as
// speech. Adjacent speech windows are merged into segments, with a hangover
// allowance bridging short pauses so one utterance is not split at every
// breath. It is deliberately simple — a model-based detector can replace it
// behind the same interface — but it is fast, dependency-free, and good
// enough to gate the transcription stage.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/provider/vad"
)

const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) above which a window is classified as speech. The maximum
	// possible value for 16-bit audio is 32 767; 300 corresponds to
	// near-silence.
	defaultRMSThreshold = 300.0

	// defaultWindowMs is the analysis window duration.
	defaultWindowMs = 30

	// defaultHangoverWindows is how many consecutive sub-threshold windows
	// are tolerated inside a segment before it is closed.
	defaultHangoverWindows = 8

	// defaultMinSegmentWindows is the minimum speech-window run length for a
	// region to count as a segment; shorter bursts are treated as noise.
	defaultMinSegmentWindows = 2
)

// Compile-time assertion that Detector satisfies vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Detector is an RMS-energy [vad.Detector]. The zero value is not usable;
// construct with [New]. Detector is stateless and safe for concurrent use.
type Detector struct {
	rmsThreshold      float64
	windowMs          int
	hangoverWindows   int
	minSegmentWindows int
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithRMSThreshold overrides the speech RMS threshold (16-bit PCM units).
func WithRMSThreshold(v float64) Option {
	return func(d *Detector) { d.rmsThreshold = v }
}

// WithWindowMs overrides the analysis window duration in milliseconds.
func WithWindowMs(ms int) Option {
	return func(d *Detector) { d.windowMs = ms }
}

// WithHangoverWindows overrides how many silent windows may occur inside a
// segment before it is closed.
func WithHangoverWindows(n int) Option {
	return func(d *Detector) { d.hangoverWindows = n }
}

// New constructs a Detector with the default thresholds, then applies opts.
func New(opts ...Option) *Detector {
	d := &Detector{
		rmsThreshold:      defaultRMSThreshold,
		windowMs:          defaultWindowMs,
		hangoverWindows:   defaultHangoverWindows,
		minSegmentWindows: defaultMinSegmentWindows,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SpeechPresent implements vad.Detector.
func (d *Detector) SpeechPresent(p audio.Payload) (bool, error) {
	windows, err := d.windowRMS(p)
	if err != nil {
		return false, err
	}
	for _, rms := range windows {
		if rms >= d.rmsThreshold {
			return true, nil
		}
	}
	return false, nil
}

// ExtractSegments implements vad.Detector.
func (d *Detector) ExtractSegments(p audio.Payload) ([]audio.Payload, error) {
	windows, err := d.windowRMS(p)
	if err != nil {
		return nil, err
	}

	winBytes := d.windowBytes(p)
	var segments []audio.Payload

	start := -1    // first window index of the open segment
	speechRun := 0 // speech windows inside the open segment
	silentRun := 0 // consecutive silent windows inside the open segment

	closeSegment := func(endWindow int) {
		if start < 0 {
			return
		}
		if speechRun >= d.minSegmentWindows {
			lo := start * winBytes
			hi := endWindow * winBytes
			if hi > len(p.Data) {
				hi = len(p.Data)
			}
			seg := p
			seg.Data = p.Data[lo:hi]
			segments = append(segments, seg)
		}
		start, speechRun, silentRun = -1, 0, 0
	}

	for i, rms := range windows {
		if rms >= d.rmsThreshold {
			if start < 0 {
				start = i
			}
			speechRun++
			silentRun = 0
			continue
		}
		if start < 0 {
			continue
		}
		silentRun++
		if silentRun > d.hangoverWindows {
			closeSegment(i - silentRun + 1)
		}
	}
	closeSegment(len(windows) - silentRun)

	return segments, nil
}

// windowBytes returns the byte length of one analysis window for p's format.
func (d *Detector) windowBytes(p audio.Payload) int {
	rate := p.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	channels := p.Channels
	if channels <= 0 {
		channels = 1
	}
	return rate * d.windowMs / 1000 * 2 * channels
}

// windowRMS slices p into analysis windows and returns each window's RMS
// energy. A trailing partial window is included.
func (d *Detector) windowRMS(p audio.Payload) ([]float64, error) {
	if p.Encoding != "" && p.Encoding != audio.EncodingPCM16 {
		return nil, fmt.Errorf("energy: unsupported encoding %q", p.Encoding)
	}
	if len(p.Data)%2 != 0 {
		return nil, fmt.Errorf("energy: odd byte count %d in 16-bit PCM payload", len(p.Data))
	}

	winBytes := d.windowBytes(p)
	if winBytes <= 0 {
		return nil, fmt.Errorf("energy: invalid window size for sample rate %d", p.SampleRate)
	}

	var out []float64
	for off := 0; off < len(p.Data); off += winBytes {
		end := off + winBytes
		if end > len(p.Data) {
			end = len(p.Data)
		}
		out = append(out, rms(p.Data[off:end]))
	}
	return out, nil
}

// rms returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, expressed in PCM sample units (0–32 767).
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
