// Package engine is the library-scope handle described in spec.md §6/§9:
// it bundles the timing solver, tone queue, dispatcher, generator, sink,
// keyer, straight key, and receiver behind one Handle, replacing the
// reference implementation's process globals with an explicit,
// re-entrant-safe lifecycle (New/Start/Stop/Delete/CompleteReset,
// RegisterSignalHandler).
package engine

import (
	"os"
	"os/signal"
	"sync"

	"github.com/n0call/cwengine/internal/config"
	"github.com/n0call/cwengine/internal/cw"
	"github.com/n0call/cwengine/internal/cwerr"
	"github.com/n0call/cwengine/internal/dispatcher"
	"github.com/n0call/cwengine/internal/generator"
	"github.com/n0call/cwengine/internal/keyer"
	"github.com/n0call/cwengine/internal/metrics"
	"github.com/n0call/cwengine/internal/morsetable"
	"github.com/n0call/cwengine/internal/recovery"
	"github.com/n0call/cwengine/internal/sink"
	"github.com/n0call/cwengine/internal/straightkey"
	"github.com/n0call/cwengine/internal/timing"
	"github.com/n0call/cwengine/internal/toneq"
)

// sinkAdapter narrows the richer sink.Sink contract (Probe/Open/Close/
// WriteBlock/SetTone(state, freq) error) down to the plain SetTone(freq)+
// Silence() shape the dispatcher, keyer, and straight key all share. Errors
// from the backend are routed to onError rather than surfaced through the
// adapter, since none of those three callers' Sink interfaces return one.
type sinkAdapter struct {
	backend sink.Sink
	onError func(error)
}

func (a *sinkAdapter) SetTone(frequencyHz int) {
	if err := a.backend.SetTone(sink.Sounding, frequencyHz); err != nil && a.onError != nil {
		a.onError(err)
	}
}

func (a *sinkAdapter) Silence() {
	if err := a.backend.SetTone(sink.Silent, 0); err != nil && a.onError != nil {
		a.onError(err)
	}
}

// Handle is the library-scope instance, spec.md §6's "Library lifecycle".
// All process-global state in the reference implementation (generator,
// queue, dispatcher, keyer, receiver) lives here instead.
type Handle struct {
	mu sync.Mutex

	cfg     *config.Settings
	metrics *metrics.Registry

	solver      *timing.Solver
	queue       *toneq.Queue
	dispatcher  *dispatcher.Dispatcher
	generator   *generator.Generator
	backend     sink.Sink
	keyer       *keyer.Keyer
	straightKey *straightkey.StraightKey
	receiver    *cw.Receiver
	lookup      cw.Lookup
	adaptive    *cw.AdaptivePostProcessor

	lastErr error
	started bool
	deleted bool
	sigStop chan struct{}
	sigDone chan struct{}
}

// New builds a Handle from validated settings, wiring every subsystem per
// spec.md §4's component designs. It does not start the audio backend;
// call Start for that. reg may be nil, in which case every metrics update
// is a no-op.
func New(cfg *config.Settings, reg *metrics.Registry) (*Handle, error) {
	h := &Handle{cfg: cfg, metrics: reg, lookup: morsetable.Table}

	h.solver = timing.New()
	if err := h.applySolverSettingsLocked(); err != nil {
		return nil, err
	}

	gen, err := generator.New(generator.PreferredSampleRate)
	if err != nil {
		gen, err = generator.New(generator.FallbackSampleRate)
		if err != nil {
			return nil, err
		}
	}
	h.generator = gen

	backend, err := sink.New(sink.Variant(cfg.SinkVariant), gen)
	if err != nil {
		return nil, err
	}
	h.backend = backend

	adapter := &sinkAdapter{backend: backend, onError: h.recordBackendError}

	var d *dispatcher.Dispatcher
	h.queue = toneq.New(h.isOtherBusy, func() { d.Kick() })
	d = dispatcher.New(h.queue, adapter)
	h.dispatcher = d

	if cfg.QueueLowWater > 0 {
		if err := h.queue.RegisterLowWater(h.onLowWater, cfg.QueueLowWater); err != nil {
			return nil, err
		}
	}

	h.keyer = keyer.New(adapter, h.isKeyerBusy, h.notifyActivity, h.dispatcher.ScheduleFinalization)
	h.keyer.SetCurtisModeB(cfg.CurtisModeB)
	send := h.solver.Send()
	h.keyer.SetTiming(send.DotLen, send.DashLen, send.EndOfElement)
	h.keyer.SetFrequency(h.solver.Frequency())

	h.straightKey = straightkey.New(adapter, h.isStraightKeyBusy, h.notifyActivity, h.dispatcher.ScheduleFinalization)
	h.straightKey.SetFrequency(h.solver.Frequency())

	h.receiver = cw.NewReceiver(h.solver)

	if cfg.AdaptiveTiming {
		h.adaptive = cw.NewAdaptivePostProcessor(h.solver, cw.AdaptiveConfig{Enabled: true})
	}

	h.sigStop = make(chan struct{})
	h.sigDone = make(chan struct{})
	close(h.sigDone) // no signal watcher running until RegisterSignalHandler

	return h, nil
}

func (h *Handle) applySolverSettingsLocked() error {
	if err := h.solver.SetSendSpeed(h.cfg.SendWPM); err != nil {
		return err
	}
	if h.cfg.AdaptiveTiming {
		h.solver.EnableAdaptive()
	} else if err := h.solver.SetRecvSpeed(h.cfg.RecvWPM); err != nil {
		return err
	}
	if err := h.solver.SetGap(h.cfg.GapDots); err != nil {
		return err
	}
	if err := h.solver.SetTolerance(h.cfg.TolerancePct); err != nil {
		return err
	}
	if err := h.solver.SetWeighting(h.cfg.Weighting); err != nil {
		return err
	}
	if err := h.solver.SetFrequency(int(h.cfg.ToneFrequency)); err != nil {
		return err
	}
	if err := h.solver.SetVolume(h.cfg.VolumePercent); err != nil {
		return err
	}
	return h.solver.SetNoiseThreshold(h.cfg.NoiseThresholdUsec)
}

// isOtherBusy is the tone queue's BusyChecker: enqueue fails Busy if the
// straight key or keyer currently own the sink, per spec.md §4.2.
func (h *Handle) isOtherBusy() bool {
	return h.straightKey.Down() || h.keyer.State() != keyer.Idle
}

// isKeyerBusy is the keyer's BusyChecker: paddle input fails Busy if the
// tone queue or straight key currently own the sink, per spec.md §4.6.
func (h *Handle) isKeyerBusy() bool {
	return h.queue.IsBusy() || h.straightKey.Down()
}

// isStraightKeyBusy is the straight key's BusyChecker, symmetric with
// isKeyerBusy per spec.md §4.7.
func (h *Handle) isStraightKeyBusy() bool {
	return h.queue.IsBusy() || h.keyer.State() != keyer.Idle
}

func (h *Handle) notifyActivity() {
	h.dispatcher.NotifyActivity()
}

func (h *Handle) onLowWater() {
	h.metrics.SetQueueDepth(h.queue.Length(), h.cfg.QueueLowWater)
}

func (h *Handle) recordBackendError(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
	h.metrics.RecordReceiverError("system")
}

// LastBackendError returns the most recent error recorded by the audio
// backend's background thread, per spec.md §7's "the audio thread records
// its most recent errno-equivalent ... the embedder may observe this on
// the next stop or delete."
func (h *Handle) LastBackendError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Start opens the audio backend, per spec.md §6's generator_start.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleted {
		return cwerr.New(cwerr.KindStateError, "engine: handle already deleted")
	}
	if h.started {
		return nil
	}
	device := h.deviceLocked()
	if err := h.backend.Open(device); err != nil {
		return err
	}
	h.started = true
	return nil
}

func (h *Handle) deviceLocked() string {
	switch sink.Variant(h.cfg.SinkVariant) {
	case sink.VariantConsole:
		return h.cfg.ConsoleDevice
	case sink.VariantOSS:
		return h.cfg.OSSDevice
	case sink.VariantALSA:
		return h.cfg.ALSADevice
	default:
		return ""
	}
}

// Stop closes the audio backend and cancels any pending dispatcher timer,
// per spec.md §6's generator_stop. The handle can be Start-ed again.
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return nil
	}
	h.dispatcher.Stop()
	err := h.backend.Close()
	h.started = false
	return err
}

// Delete tears the handle down permanently, per spec.md §6's
// generator_delete. After Delete, every operation fails StateError.
func (h *Handle) Delete() error {
	h.mu.Lock()
	deleted := h.deleted
	h.mu.Unlock()
	if deleted {
		return nil
	}
	err := h.Stop()
	h.mu.Lock()
	h.deleted = true
	h.mu.Unlock()
	return err
}

// CompleteReset drains the queue, resets the keyer, straight key, and
// receiver, silences the sink, and disables the finalization lockout, per
// spec.md §6. It is safe to call from a signal handler (RegisterSignalHandler
// relies on this).
func (h *Handle) CompleteReset() {
	h.queue.Reset()
	h.keyer.Reset()
	h.straightKey.NotifyEvent(false)
	h.receiver.ClearBuffer()
	h.dispatcher.Stop()
}

// RegisterSignalHandler installs a reset-then-callback interposer on the
// given OS signals, per spec.md §6: every delivery first calls
// CompleteReset, then invokes cb. Re-entrant delivery while a previous
// callback is still running is tolerated because signal.Notify buffers one
// pending signal per registered value and the handler loop processes them
// serially.
func (h *Handle) RegisterSignalHandler(cb func(os.Signal), sigs ...os.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)

	h.sigStop = make(chan struct{})
	h.sigDone = make(chan struct{})
	stop, done := h.sigStop, h.sigDone

	go func() {
		defer recovery.HandlePanicFunc(nil)
		defer close(done)
		for {
			select {
			case sig := <-sigCh:
				h.CompleteReset()
				if cb != nil {
					cb(sig)
				}
			case <-stop:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}

// StopSignalHandler tears down a handler installed by RegisterSignalHandler
// and blocks until its goroutine has exited.
func (h *Handle) StopSignalHandler() {
	h.mu.Lock()
	stop := h.sigStop
	done := h.sigDone
	h.mu.Unlock()
	close(stop)
	<-done
}

// Solver, Queue, Keyer, StraightKey, and Receiver expose the wired
// subsystems for callers that need the lower-level API surface (send_character,
// notify_paddles, character classification) beyond what Handle itself
// convenes.
func (h *Handle) Solver() *timing.Solver                { return h.solver }
func (h *Handle) Queue() *toneq.Queue                   { return h.queue }
func (h *Handle) Dispatcher() *dispatcher.Dispatcher    { return h.dispatcher }
func (h *Handle) Keyer() *keyer.Keyer                   { return h.keyer }
func (h *Handle) StraightKey() *straightkey.StraightKey { return h.straightKey }
func (h *Handle) Receiver() *cw.Receiver                { return h.receiver }

// NotifyTone drives the receive-side Receiver from a tone edge: on==true
// for the rising edge (tone start), false for the falling edge (tone end).
// A rising edge first flushes any character left pending by the prior
// silence (via Receiver.Character, composed with the engine's Lookup)
// before starting the new mark, matching spec.md §4.8's usage pattern of
// checking for a finished character on the next tone start. If an adaptive
// post-processor is enabled, every flushed character is fed to it.
func (h *Handle) NotifyTone(on bool, ts cw.Timestamp) (ch rune, eow bool, err error) {
	if !on {
		return 0, false, h.receiver.EndTone(ts)
	}

	switch h.receiver.State() {
	case cw.AfterTone, cw.EndChar, cw.ErrChar, cw.EndWord, cw.ErrWord:
		ch, eow, err = h.receiver.Character(ts, h.lookup)
		if err == cwerr.TryAgain {
			// Gap was still ordinary inter-element spacing inside the
			// same character (spec.md §3's end-of-element range); the
			// receiver is left exactly where it was, nothing to flush.
			ch, eow, err = 0, false, nil
		} else {
			// Character() decided END_CHAR/ERR_CHAR/END_WORD/ERR_WORD;
			// clear back to IDLE so the StartTone below is legal.
			h.receiver.ClearBuffer()
		}
	}

	if startErr := h.receiver.StartTone(ts); err == nil {
		err = startErr
	}

	if h.adaptive != nil && (ch != 0 || eow) {
		h.adaptive.RecordCharacter(ch, eow)
	}

	if ch != 0 {
		h.metrics.RecordCharacter("ok")
	} else if err != nil {
		h.metrics.RecordReceiverError(errKindLabel(err))
	}
	if eow {
		h.metrics.RecordWord()
	}

	return ch, eow, err
}

func errKindLabel(err error) string {
	var ce *cwerr.Error
	if e, ok := err.(*cwerr.Error); ok {
		ce = e
	} else {
		return "unknown"
	}
	switch ce.Kind {
	case cwerr.KindNotFound:
		return "not_found"
	case cwerr.KindNoMemory:
		return "no_memory"
	case cwerr.KindIgnored:
		return "ignored"
	case cwerr.KindStateError:
		return "state_error"
	default:
		return "unknown"
	}
}

// SendCharacter looks up ch's representation via the external lookup
// (internal/morsetable by default) and enqueues the corresponding tones at
// the solver's current send timings, per spec.md §6's "client pulls the
// corresponding representation string via a lookup interface."
func (h *Handle) SendCharacter(ch rune) error {
	repr, ok := morsetable.Representation(ch)
	if !ok {
		return cwerr.New(cwerr.KindNotFound, "engine: no representation for character")
	}
	return h.SendRepresentation(repr)
}

// SendRepresentation enqueues the tones for a raw dot/dash representation
// string, with inter-element gaps between marks and a trailing
// end-of-character gap.
func (h *Handle) SendRepresentation(repr string) error {
	send := h.solver.Send()
	freq := h.solver.Frequency()
	for i, r := range repr {
		var durationUsec int
		switch r {
		case '.':
			durationUsec = send.DotLen
		case '-':
			durationUsec = send.DashLen
		default:
			return cwerr.New(cwerr.KindInvalidArgument, "engine: representation must be only '.' and '-'")
		}
		if err := h.queue.Enqueue(toneq.Tone{DurationUsec: durationUsec, FrequencyHz: freq}); err != nil {
			return err
		}
		if i < len(repr)-1 {
			if err := h.queue.Enqueue(toneq.Tone{DurationUsec: send.EndOfElement, FrequencyHz: 0}); err != nil {
				return err
			}
		}
	}
	return h.queue.Enqueue(toneq.Tone{DurationUsec: send.EndOfCharacter, FrequencyHz: 0})
}
