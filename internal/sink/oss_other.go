//go:build !linux

package sink

import (
	"github.com/n0call/cwengine/internal/cwerr"
	"github.com/n0call/cwengine/internal/generator"
)

// OSSSink is unavailable outside Linux: OSS's SNDCTL_* ioctls are a
// Linux/BSD-era soundcard API with no portable equivalent here.
type OSSSink struct{}

// NewOSS returns an OSSSink that always fails to open.
func NewOSS(gen *generator.Generator) *OSSSink { return &OSSSink{} }

func (o *OSSSink) Probe(device string) bool { return false }

func (o *OSSSink) Open(device string) error {
	return cwerr.New(cwerr.KindNotFound, "oss sink: unsupported on this platform")
}

func (o *OSSSink) Close() error                     { return nil }
func (o *OSSSink) WriteBlock(samples []int16) error { return errNotOpen("oss sink") }
func (o *OSSSink) SetTone(state ToneState, frequencyHz int) error {
	return cwerr.New(cwerr.KindNotFound, "oss sink: unsupported on this platform")
}
func (o *OSSSink) LastError() error { return nil }
