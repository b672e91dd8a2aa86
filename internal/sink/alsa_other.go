//go:build !linux

package sink

import (
	"github.com/n0call/cwengine/internal/cwerr"
	"github.com/n0call/cwengine/internal/generator"
)

// ALSASink is unavailable outside Linux: ALSA is a Linux kernel sound API.
type ALSASink struct{}

// NewALSA returns an ALSASink that always fails to open.
func NewALSA(gen *generator.Generator) *ALSASink { return &ALSASink{} }

func (a *ALSASink) Probe(device string) bool { return false }

func (a *ALSASink) Open(device string) error {
	return cwerr.New(cwerr.KindNotFound, "alsa sink: unsupported on this platform")
}

func (a *ALSASink) Close() error                     { return nil }
func (a *ALSASink) WriteBlock(samples []int16) error { return errNotOpen("alsa sink") }
func (a *ALSASink) SetTone(state ToneState, frequencyHz int) error {
	return cwerr.New(cwerr.KindNotFound, "alsa sink: unsupported on this platform")
}
func (a *ALSASink) LastError() error { return nil }
