//go:build linux

package sink

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// kiocsound is the console tty ioctl that drives the PC speaker's internal
// tone generator, per spec.md §4.4: the parameter is 1_193_180/frequency,
// or 0 to stop. golang.org/x/sys/unix is already an indirect dependency
// (via viper's stack) and a direct one in other pack repos doing raw
// ioctls; this is its first direct use here.
const kiocsound = 0x4B2F

// consoleDivisorBase is the PIT clock frequency the divisor is derived
// from.
const consoleDivisorBase = 1_193_180

// ConsoleSink drives the console buzzer via ioctl(KIOCSOUND), per
// spec.md §4.4. It has no background thread: SetTone is a single ioctl.
type ConsoleSink struct {
	device string
	fd     int
	open   bool
}

// NewConsole returns a ConsoleSink.
func NewConsole() *ConsoleSink { return &ConsoleSink{} }

// Probe reports whether the device node exists and is writable.
func (c *ConsoleSink) Probe(device string) bool {
	if device == "" {
		device = "/dev/console"
	}
	f, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Open acquires the console device's file descriptor.
func (c *ConsoleSink) Open(device string) error {
	if device == "" {
		device = "/dev/console"
	}
	fd, err := unix.Open(device, unix.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("console sink: open %s: %w", device, err)
	}
	c.device = device
	c.fd = fd
	c.open = true
	return nil
}

// Close silences the buzzer and releases the descriptor. The buzzer is
// silenced before the descriptor is closed, matching spec.md §4.4's
// open/close scoping rule even though there is no background thread to
// wait for here.
func (c *ConsoleSink) Close() error {
	if !c.open {
		return nil
	}
	unix.IoctlSetInt(c.fd, kiocsound, 0)
	err := unix.Close(c.fd)
	c.open = false
	if err != nil {
		return fmt.Errorf("console sink: close: %w", err)
	}
	return nil
}

// WriteBlock is a no-op: the console backend has no sample buffer.
func (c *ConsoleSink) WriteBlock(samples []int16) error { return nil }

// SetTone installs the hardware-timer divisor 1_193_180/frequency, or 0 to
// silence, per spec.md §4.4.
func (c *ConsoleSink) SetTone(state ToneState, frequencyHz int) error {
	if !c.open {
		return errNotOpen("console sink")
	}
	divisor := 0
	if state == Sounding && frequencyHz > 0 {
		divisor = consoleDivisorBase / frequencyHz
	}
	if err := unix.IoctlSetInt(c.fd, kiocsound, divisor); err != nil {
		return fmt.Errorf("console sink: KIOCSOUND: %w", err)
	}
	return nil
}
