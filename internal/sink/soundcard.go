package sink

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/n0call/cwengine/internal/generator"
)

// SoundcardSink plays through the default (or named) playback device via
// malgo, mirroring the teacher's internal/audio/capture.go almost field
// for field but for malgo.Playback instead of malgo.Capture.
type SoundcardSink struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running atomic.Bool
	gen     *generator.Generator
}

// NewSoundcard returns a SoundcardSink driven by gen.
func NewSoundcard(gen *generator.Generator) *SoundcardSink {
	return &SoundcardSink{gen: gen}
}

// Probe initializes a throwaway malgo context to check a playback backend
// is available, then tears it down.
func (s *SoundcardSink) Probe(device string) bool {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return false
	}
	defer ctx.Uninit()
	defer ctx.Free()
	_, err = ctx.Devices(malgo.Playback)
	return err == nil
}

// Open initializes the malgo context and starts a playback device whose
// callback pulls samples from the generator.
func (s *SoundcardSink) Open(device string) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("soundcard sink: init context: %w", err)
	}

	deviceConfig := malgo.DeviceConfig{
		DeviceType:         malgo.Playback,
		SampleRate:         uint32(s.gen.SampleRate()),
		PeriodSizeInFrames: 256,
		Playback: malgo.SubConfig{
			Format:   malgo.FormatS16,
			Channels: 1,
		},
	}

	onSendFrames := func(outputSamples, inputSamples []byte, frameCount uint32) {
		buf := make([]int16, frameCount)
		s.gen.NextBlock(buf)
		for i, v := range buf {
			outputSamples[2*i] = byte(v)
			outputSamples[2*i+1] = byte(v >> 8)
		}
	}

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSendFrames})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("soundcard sink: init device: %w", err)
	}

	if err := dev.Start(); err != nil {
		dev.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("soundcard sink: start device: %w", err)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.device = dev
	s.mu.Unlock()
	s.running.Store(true)
	return nil
}

// Close stops and tears down the playback device and context.
func (s *SoundcardSink) Close() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		if err := s.device.Stop(); err != nil {
			log.Printf("soundcard sink: stop: %v", err)
		}
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		if err := s.ctx.Uninit(); err != nil {
			return fmt.Errorf("soundcard sink: uninit context: %w", err)
		}
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}

// WriteBlock is a no-op: samples are pulled by the malgo callback, not
// pushed by the caller.
func (s *SoundcardSink) WriteBlock(samples []int16) error { return nil }

// SetTone adjusts the generator's slope sign; the malgo callback picks up
// the new envelope target on its next call.
func (s *SoundcardSink) SetTone(state ToneState, frequencyHz int) error {
	if state == Sounding {
		s.gen.SetTone(frequencyHz)
	} else {
		s.gen.SetTone(0)
	}
	return nil
}
