//go:build linux

package sink

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	yalsa "github.com/yobert/alsa"

	"github.com/n0call/cwengine/internal/generator"
)

// ALSASink writes mono S16 PCM to an ALSA playback device from a
// background goroutine, per spec.md §4.4. Grounded on the ausocean ALSA
// capture device (other_examples/..._ausocean-av__device-alsa-alsa.go.go),
// adapted from Record to Play and from a ring-buffer reader to a
// generator-driven writer.
type ALSASink struct {
	mu       sync.Mutex
	dev      *yalsa.Device
	open     bool
	title    string
	gen      *generator.Generator
	periodSz int
	generate atomic.Bool
	wg       sync.WaitGroup
	lastErr  atomic.Value // error
}

// NewALSA returns an ALSASink driven by gen.
func NewALSA(gen *generator.Generator) *ALSASink {
	return &ALSASink{gen: gen}
}

// Probe reports whether a playback-capable PCM device matching the given
// title (or the first one found, if empty) exists.
func (a *ALSASink) Probe(device string) bool {
	dev, err := findPlaybackDevice(device)
	if err != nil {
		return false
	}
	return dev != nil
}

func findPlaybackDevice(title string) (*yalsa.Device, error) {
	cards, err := yalsa.OpenCards()
	if err != nil {
		return nil, err
	}
	defer yalsa.CloseCards(cards)

	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, dev := range devices {
			if dev.Type != yalsa.PCM || !dev.Play {
				continue
			}
			if title == "" || dev.Title == title {
				return dev, nil
			}
		}
	}
	return nil, errors.New("alsa sink: no playback device found")
}

// Open negotiates format (S16), rate (44100 preferred else 48000),
// channels (1), an accepted buffer size, and a period count, per
// spec.md §4.4, then starts the background write thread.
func (a *ALSASink) Open(device string) error {
	dev, err := findPlaybackDevice(device)
	if err != nil {
		return fmt.Errorf("alsa sink: %w", err)
	}
	if err := dev.Open(); err != nil {
		return fmt.Errorf("alsa sink: open: %w", err)
	}

	if _, err := dev.NegotiateChannels(1); err != nil {
		dev.Close()
		return fmt.Errorf("alsa sink: negotiate channels: %w", err)
	}

	rate := a.gen.SampleRate()
	if _, err := dev.NegotiateRate(rate); err != nil {
		dev.Close()
		return fmt.Errorf("alsa sink: negotiate rate %d: %w", rate, err)
	}

	if _, err := dev.NegotiateFormat(yalsa.S16_LE); err != nil {
		dev.Close()
		return fmt.Errorf("alsa sink: negotiate format: %w", err)
	}

	periodSize, err := dev.NegotiatePeriodSize(256)
	if err != nil {
		dev.Close()
		return fmt.Errorf("alsa sink: negotiate period size: %w", err)
	}

	if _, err := dev.NegotiateBufferSize(periodSize * 4); err != nil {
		dev.Close()
		return fmt.Errorf("alsa sink: negotiate buffer size: %w", err)
	}

	if err := dev.Prepare(); err != nil {
		dev.Close()
		return fmt.Errorf("alsa sink: prepare: %w", err)
	}

	a.mu.Lock()
	a.dev = dev
	a.periodSz = periodSize
	a.open = true
	a.mu.Unlock()

	a.generate.Store(true)
	a.wg.Add(1)
	go a.writeLoop()
	return nil
}

// writeLoop calls the blocking writei for one period's worth of samples
// each iteration, recovering from underrun by preparing the handle and
// continuing, per spec.md §4.4.
func (a *ALSASink) writeLoop() {
	defer a.wg.Done()
	buf := make([]int16, a.periodSz)
	for a.generate.Load() {
		a.gen.NextBlock(buf)

		a.mu.Lock()
		dev := a.dev
		open := a.open
		a.mu.Unlock()
		if !open {
			return
		}

		if err := dev.Write(buf); err != nil {
			// ALSA reports a buffer underrun as a write error rather than
			// a typed sentinel in this library; recover the same way
			// regardless of the underlying errno by re-preparing the
			// handle and continuing, per spec.md §4.4.
			if perr := dev.Prepare(); perr != nil {
				a.lastErr.Store(fmt.Errorf("write: %w (re-prepare also failed: %v)", err, perr))
				log.Printf("alsa sink: re-prepare after write error: %v", perr)
				return
			}
			continue
		}
	}
}

// Close stops the generate flag, waits for the write thread, and closes
// the PCM handle, per spec.md §4.4's open/close scoping rule.
func (a *ALSASink) Close() error {
	a.generate.Store(false)
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil
	}
	a.dev.Close()
	a.open = false
	return nil
}

// WriteBlock writes a caller-supplied block directly; used by tests and
// by a raw-debug mirror.
func (a *ALSASink) WriteBlock(samples []int16) error {
	a.mu.Lock()
	dev, open := a.dev, a.open
	a.mu.Unlock()
	if !open {
		return errNotOpen("alsa sink")
	}
	return dev.Write(samples)
}

// SetTone adjusts the generator's slope sign; the write thread picks up
// the new envelope target on its next period, per spec.md §4.4.
func (a *ALSASink) SetTone(state ToneState, frequencyHz int) error {
	if state == Sounding {
		a.gen.SetTone(frequencyHz)
	} else {
		a.gen.SetTone(0)
	}
	return nil
}

// LastError returns the most recent write/underrun-recovery error
// recorded by the background thread, or nil.
func (a *ALSASink) LastError() error {
	if v := a.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}
