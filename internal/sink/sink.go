// Package sink implements the audio sink variant described in spec.md
// §4.4/§6: a uniform open/close/write_block/set_tone contract over four
// backends — silent, console buzzer, OSS, and ALSA — plus a malgo-backed
// soundcard variant for hosts without a raw PCM device node.
package sink

import (
	"github.com/n0call/cwengine/internal/cwerr"
)

// Variant names the backend a Sink was built for, as selected by config's
// sink_variant.
type Variant string

const (
	VariantSilent          Variant = "silent"
	VariantConsole         Variant = "console"
	VariantOSS             Variant = "oss"
	VariantALSA            Variant = "alsa"
	VariantCaptureLoopback Variant = "capture-loopback" // malgo Playback device
)

// ToneState is the set_tone(state) argument from spec.md §4.4.
type ToneState int

const (
	Silent ToneState = iota
	Sounding
)

// Sink is the uniform contract every backend implements: probe, open,
// close, write_block (soundcard variants only — no-op elsewhere), and
// set_tone, per spec.md §4.4.
type Sink interface {
	// Probe reports whether this backend is usable on the given device
	// without committing any resources.
	Probe(device string) bool
	// Open acquires the backend's resources. It must release any
	// partially acquired resource on an early-return error, per spec.md
	// §4.4's open/close scoping rule.
	Open(device string) error
	// Close releases all resources. The generate flag (if any) is
	// cleared before closing descriptors so a background thread has a
	// chance to observe it, per spec.md §4.4.
	Close() error
	// WriteBlock writes one block of samples; a no-op for backends that
	// have no background audio thread (Silent, Console).
	WriteBlock(samples []int16) error
	// SetTone transitions to the given frequency, or to Silent state
	// with frequencyHz 0.
	SetTone(state ToneState, frequencyHz int) error
}

// errNotOpen is returned by any operation attempted before Open or after
// Close, modeled as cwerr.StateError so callers can distinguish it from a
// backend-specific failure.
func errNotOpen(backend string) error {
	return cwerr.New(cwerr.KindStateError, backend+": not open")
}

// SilentSink accepts every call and advances no state, per spec.md §4.4's
// "used when no backend is viable".
type SilentSink struct{}

// NewSilent returns a SilentSink.
func NewSilent() *SilentSink { return &SilentSink{} }

func (s *SilentSink) Probe(device string) bool                      { return true }
func (s *SilentSink) Open(device string) error                      { return nil }
func (s *SilentSink) Close() error                                  { return nil }
func (s *SilentSink) WriteBlock(samples []int16) error              { return nil }
func (s *SilentSink) SetTone(state ToneState, frequencyHz int) error { return nil }
