//go:build !linux

package sink

import "github.com/n0call/cwengine/internal/cwerr"

// ConsoleSink is unavailable outside Linux: KIOCSOUND is a Linux console
// ioctl with no portable equivalent.
type ConsoleSink struct{}

// NewConsole returns a ConsoleSink that always fails to open.
func NewConsole() *ConsoleSink { return &ConsoleSink{} }

func (c *ConsoleSink) Probe(device string) bool { return false }

func (c *ConsoleSink) Open(device string) error {
	return cwerr.New(cwerr.KindNotFound, "console sink: unsupported on this platform")
}

func (c *ConsoleSink) Close() error                      { return nil }
func (c *ConsoleSink) WriteBlock(samples []int16) error  { return nil }
func (c *ConsoleSink) SetTone(state ToneState, frequencyHz int) error {
	return cwerr.New(cwerr.KindNotFound, "console sink: unsupported on this platform")
}
