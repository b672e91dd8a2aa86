// Package generator implements the sample-accurate, phase-continuous sine
// generator described in spec.md §4.5: per call it fills a caller-provided
// buffer with signed 16-bit samples, carrying phase and amplitude envelope
// state across calls.
package generator

import (
	"math"
	"sync/atomic"

	"github.com/n0call/cwengine/internal/cwerr"
)

// Preferred sample rates, spec.md §3's Generator attributes: 44100 if the
// backend accepts it, else 48000.
const (
	PreferredSampleRate = 44100
	FallbackSampleRate  = 48000
)

// AmplitudeMax is the top of the sample-domain amplitude range (2^15).
const AmplitudeMax = 1 << 15

// state is the single-writer, possibly-torn-read set of fields the audio
// thread samples every buffer: volume, frequency, and slope are written by
// the dispatcher's goroutine and read by the background audio thread. Per
// spec.md §5's "Ordering" note, a single-word atomic is sufficient and the
// envelope design tolerates an occasional torn read, so each field gets its
// own atomic rather than one lock shared with the hot sample loop.
type state struct {
	frequencyHz atomic.Int64
	volume      atomic.Int64 // percent, 0..100
}

// Generator produces sine-wave samples with a phase-continuous envelope,
// per spec.md §4.5. It does not own a sink; callers feed its output to one.
type Generator struct {
	sampleRate int

	st state

	// phase/amplitude/slope are only ever touched from the audio thread
	// that calls NextBlock, so they need no synchronization of their own.
	phaseOffset float64
	amplitude   float64
	slope       float64
}

// New returns a Generator at the given sample rate. sampleRate must be
// PreferredSampleRate or FallbackSampleRate; anything else is rejected.
func New(sampleRate int) (*Generator, error) {
	if sampleRate != PreferredSampleRate && sampleRate != FallbackSampleRate {
		return nil, cwerr.New(cwerr.KindInvalidArgument, "generator: unsupported sample rate")
	}
	return &Generator{sampleRate: sampleRate}, nil
}

// SetTone sets the target frequency and arms the envelope slope toward the
// current volume's peak amplitude (attack), or toward zero (release) when
// frequencyHz is 0. The slope magnitude is chosen so attack/release time is
// roughly constant regardless of volume, per spec.md §4.5, with a floor of
// 1 so a zero-volume tone doesn't stall with slope 0.
func (g *Generator) SetTone(frequencyHz int) {
	g.st.frequencyHz.Store(int64(frequencyHz))
	vol := g.st.volume.Load()
	if vol == 0 {
		vol = 100
	}
	magnitude := int64(vol) * envelopeSlopeUnit / 100
	if magnitude < 1 {
		magnitude = 1
	}
	if frequencyHz == 0 {
		g.slope = -float64(magnitude)
	} else {
		g.slope = float64(magnitude)
	}
}

// envelopeSlopeUnit is the per-sample amplitude step at 100% volume; it
// fixes attack/release time at a few milliseconds regardless of sample
// rate, matching the "roughly constant in real time" requirement.
const envelopeSlopeUnit = 164

// SetVolume sets the 0..100 volume percent used as the envelope's peak.
func (g *Generator) SetVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return cwerr.New(cwerr.KindInvalidArgument, "generator: volume out of range")
	}
	g.st.volume.Store(int64(percent))
	return nil
}

// peakAmplitude returns volume·2^15/100, the attack's target amplitude.
func (g *Generator) peakAmplitude() float64 {
	vol := g.st.volume.Load()
	return float64(vol) * AmplitudeMax / 100
}

// NextBlock fills buf with buf-length samples, advancing phase and the
// envelope. It is called from the audio thread only. Returns the number of
// samples actually carrying non-zero amplitude, which callers may ignore;
// it exists so a sink can decide whether to keep calling after a release
// has fully decayed (spec.md §4.3's "silence" transition is driven by the
// dispatcher, not by the generator, but sinks running their own background
// loop use this to know when it's safe to idle).
func (g *Generator) NextBlock(buf []int16) int {
	freq := float64(g.st.frequencyHz.Load())
	sr := float64(g.sampleRate)
	sounding := 0

	for i := range buf {
		g.amplitude += g.slope
		switch {
		case g.amplitude <= 0:
			g.amplitude = 0
			if g.slope < 0 {
				g.slope = 0
			}
		case g.amplitude >= AmplitudeMax:
			g.amplitude = AmplitudeMax
		}
		if g.slope > 0 && g.amplitude >= g.peakAmplitude() {
			g.amplitude = g.peakAmplitude()
			g.slope = 0
		}

		sample := g.amplitude * math.Sin(2*math.Pi*freq*float64(i)/sr+g.phaseOffset)
		buf[i] = int16(math.Round(sample))
		if g.amplitude > 0 {
			sounding++
		}
	}

	g.phaseOffset = math.Mod(2*math.Pi*freq*float64(len(buf))/sr+g.phaseOffset, 2*math.Pi)
	return sounding
}

// Releasing reports whether the envelope is currently decaying toward
// silence (slope < 0, amplitude not yet 0): this is the source of the
// known, accepted tone-duration overshoot documented in spec.md §4.5/§9 —
// the dispatcher moves on to the next tone or silence as soon as its timer
// fires, but the generator keeps producing a decaying tail for
// release-time samples afterward. Implementations must not "fix" this by
// truncating the release early.
func (g *Generator) Releasing() bool {
	return g.slope < 0 && g.amplitude > 0
}

// Amplitude returns the current sample-domain amplitude, for diagnostics.
func (g *Generator) Amplitude() float64 { return g.amplitude }

// SampleRate returns the generator's configured sample rate.
func (g *Generator) SampleRate() int { return g.sampleRate }
