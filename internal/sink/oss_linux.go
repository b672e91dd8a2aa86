//go:build linux

package sink

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/n0call/cwengine/internal/generator"
)

// OSS ioctl request codes (sys/soundcard.h), used via unix.IoctlSetInt since
// they are all "set an int" shaped requests.
const (
	sndctlDspSetfmt   = 0xC0045005
	sndctlDspChannels = 0xC0045003
	sndctlDspSpeed    = 0xC0045002
	sndctlDspSetfrag  = 0xC004500A
	afmtS16LE         = 0x00000010
)

// ossFragmentShift requests a fragment size of 2^7 = 128 bytes, which is 64
// signed 16-bit mono samples; writeLoop writes one such fragment per pass.
const ossFragmentShift = 7

// OSSSink writes signed 16-bit mono PCM to an OSS /dev/dsp-style device
// from a background goroutine, per spec.md §4.4.
type OSSSink struct {
	mu       sync.Mutex
	fd       int
	open     bool
	gen      *generator.Generator
	sr       int
	generate atomic.Bool
	wg       sync.WaitGroup
	lastErr  atomic.Value // error
}

// NewOSS returns an OSSSink driven by gen for sample production.
func NewOSS(gen *generator.Generator) *OSSSink {
	return &OSSSink{gen: gen, sr: gen.SampleRate()}
}

// Probe reports whether the device node can be opened write-only.
func (o *OSSSink) Probe(device string) bool {
	if device == "" {
		device = "/dev/dsp"
	}
	fd, err := unix.Open(device, unix.O_WRONLY, 0)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}

// Open configures the device for signed 16-bit native-endian mono at the
// generator's sample rate, requests a small fragment, and starts the
// background write thread.
func (o *OSSSink) Open(device string) error {
	if device == "" {
		device = "/dev/dsp"
	}
	fd, err := unix.Open(device, unix.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("oss sink: open %s: %w", device, err)
	}

	fragArg := (4 << 16) | ossFragmentShift // 4 fragments of 2^7 bytes
	if err := unix.IoctlSetInt(fd, sndctlDspSetfrag, fragArg); err != nil {
		unix.Close(fd)
		return fmt.Errorf("oss sink: SNDCTL_DSP_SETFRAGMENT: %w", err)
	}
	if err := unix.IoctlSetInt(fd, sndctlDspSetfmt, afmtS16LE); err != nil {
		unix.Close(fd)
		return fmt.Errorf("oss sink: SNDCTL_DSP_SETFMT: %w", err)
	}
	if err := unix.IoctlSetInt(fd, sndctlDspChannels, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("oss sink: SNDCTL_DSP_CHANNELS: %w", err)
	}
	speed := o.sr
	if err := unix.IoctlSetInt(fd, sndctlDspSpeed, speed); err != nil {
		unix.Close(fd)
		return fmt.Errorf("oss sink: SNDCTL_DSP_SPEED: %w", err)
	}

	o.mu.Lock()
	o.fd = fd
	o.open = true
	o.mu.Unlock()

	o.generate.Store(true)
	o.wg.Add(1)
	go o.writeLoop()
	return nil
}

// writeLoop repeatedly computes a fragment's worth of samples and writes
// it blocking, per spec.md §4.4. It exits cleanly on an irrecoverable
// write failure, recording the error for the next Close/Stop to observe.
func (o *OSSSink) writeLoop() {
	defer o.wg.Done()
	buf := make([]int16, 1<<ossFragmentShift/2)
	raw := make([]byte, len(buf)*2)
	for o.generate.Load() {
		o.gen.NextBlock(buf)
		for i, s := range buf {
			raw[2*i] = byte(s)
			raw[2*i+1] = byte(s >> 8)
		}
		o.mu.Lock()
		fd := o.fd
		open := o.open
		o.mu.Unlock()
		if !open {
			return
		}
		if _, err := unix.Write(fd, raw); err != nil {
			o.lastErr.Store(err)
			log.Printf("oss sink: write: %v", err)
			return
		}
	}
}

// Close stops the generate flag, waits briefly for the audio thread to
// notice, then closes the descriptor, per spec.md §4.4's open/close
// scoping rule.
func (o *OSSSink) Close() error {
	o.generate.Store(false)
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open {
		return nil
	}
	err := unix.Close(o.fd)
	o.open = false
	if err != nil {
		return fmt.Errorf("oss sink: close: %w", err)
	}
	return nil
}

// WriteBlock is unused directly; the background thread drives writes via
// the generator. Exposed to satisfy Sink for callers that want to inject a
// raw-debug mirror.
func (o *OSSSink) WriteBlock(samples []int16) error {
	o.mu.Lock()
	fd, open := o.fd, o.open
	o.mu.Unlock()
	if !open {
		return errNotOpen("oss sink")
	}
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		raw[2*i] = byte(s)
		raw[2*i+1] = byte(s >> 8)
	}
	_, err := unix.Write(fd, raw)
	return err
}

// SetTone adjusts the generator's slope sign, producing a controlled
// attack or release; the write thread picks up the new target on its
// next iteration, per spec.md §4.4.
func (o *OSSSink) SetTone(state ToneState, frequencyHz int) error {
	if state == Sounding {
		o.gen.SetTone(frequencyHz)
	} else {
		o.gen.SetTone(0)
	}
	return nil
}

// LastError returns the most recent write error recorded by the
// background thread, or nil, per spec.md §6's "embedder may observe this
// on the next stop or delete".
func (o *OSSSink) LastError() error {
	if v := o.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}
