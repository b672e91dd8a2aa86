// Package dispatcher implements the tone-queue dispatcher and finalization
// countdown described in spec.md §3/§4.3: a single-shot-timer-driven state
// machine that dequeues tones, starts/stops the sink, and fires the keying
// callback on sounding↔silent transitions.
package dispatcher

import (
	"sync"
	"time"

	"github.com/n0call/cwengine/internal/recovery"
	"github.com/n0call/cwengine/internal/toneq"
)

// State is the dispatcher's {IDLE, BUSY} state, spec.md §3.
type State int

const (
	Idle State = iota
	Busy
)

// FinalizationSteps and FinalizationStep implement the 10-second cooldown
// as ten one-second ticks, per spec.md §4.3/§5.
const (
	FinalizationSteps = 10
	FinalizationStep  = time.Second
)

// Sink is the minimal surface the dispatcher needs from an audio sink
// (spec.md §4.4): set the current tone state, silencing on frequency 0.
type Sink interface {
	SetTone(frequencyHz int)
	Silence()
}

// KeyingCallback is invoked on every sounding↔silent transition, never
// invoked twice in a row with the same key-down value (spec.md §4.3).
type KeyingCallback func(keyDown bool)

// Dispatcher drains a toneq.Queue on a timer, per spec.md §4.3.
type Dispatcher struct {
	mu sync.Mutex

	queue *toneq.Queue
	sink  Sink

	state       State
	lastKeyDown bool
	haveKeyed   bool // whether lastKeyDown reflects a real prior callback

	timer *time.Timer

	keyingCB KeyingCallback

	finalizationActive  bool
	finalizationRemain  int
	finalizationArming  bool // re-entrant guard, spec.md §4.3
}

// New returns a Dispatcher wired to the given queue and sink. It does not
// register itself with the queue: the caller passes a closure calling Kick
// as toneq.New's onKick parameter.
func New(queue *toneq.Queue, sink Sink) *Dispatcher {
	d := &Dispatcher{queue: queue, sink: sink, state: Idle}
	return d
}

// Kick is the toneq onKick hook: it arms a zero-delay timer to process the
// first tone, matching spec.md §4.2's "if dispatcher is IDLE, arms a
// zero-delay timer that kicks the dispatcher".
func (d *Dispatcher) Kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelFinalizationLocked()
	if d.state == Busy {
		// Already draining the queue on its own timer; nothing to arm.
		return
	}
	d.state = Busy
	d.queue.SetDispatcherIdle(false)
	d.armLocked(0)
}

// NotifyActivity cancels any pending finalization countdown; called by the
// keyer and straight key on any action, per spec.md §4.3.
func (d *Dispatcher) NotifyActivity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelFinalizationLocked()
}

// ScheduleFinalization arms the ten-second cooldown. The keyer and straight
// key call this when they go idle, since their sounding doesn't pass
// through the queue's own dequeue-to-empty path that normally triggers it.
func (d *Dispatcher) ScheduleFinalization() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startFinalizationLocked()
}

func (d *Dispatcher) cancelFinalizationLocked() {
	d.finalizationActive = false
	d.finalizationRemain = 0
}

// SetKeyingCallback installs (or, with nil, disables) the keying callback.
func (d *Dispatcher) SetKeyingCallback(cb KeyingCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyingCB = cb
}

func (d *Dispatcher) armLocked(delay time.Duration) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.tickWrapper)
}

func (d *Dispatcher) tickWrapper() {
	defer recovery.HandlePanicFunc(nil)
	d.tick()
}

// tick applies any leading zero-duration tones and then at most one timed
// tone, arming the timer for that tone's duration, per spec.md §4.3.
func (d *Dispatcher) tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finalizationActive {
		d.tickFinalizationLocked()
		return
	}

	if d.state != Busy {
		return
	}

	for {
		tone, ok := d.queue.Dequeue()
		if !ok {
			// Queue empty: force silence, fire keying-up, go IDLE,
			// schedule finalization (spec.md §4.3 step 2).
			d.sink.Silence()
			d.fireKeyingLocked(false)
			d.state = Idle
			d.queue.SetDispatcherIdle(true)
			d.startFinalizationLocked()
			return
		}

		if tone.DurationUsec == 0 {
			// Zero-duration directive: apply immediately, stay BUSY, no
			// timer armed; loop to process any further zero-duration
			// tones immediately behind it (spec.md §4.3 step 1's "skip
			// leading zero-duration tones").
			d.applyToneLocked(tone)
			continue
		}

		d.applyToneLocked(tone)
		d.armLocked(time.Duration(tone.DurationUsec) * time.Microsecond)
		return
	}
}

func (d *Dispatcher) applyToneLocked(tone toneq.Tone) {
	if tone.FrequencyHz == 0 {
		d.sink.Silence()
		d.fireKeyingLocked(false)
		return
	}
	d.sink.SetTone(tone.FrequencyHz)
	d.fireKeyingLocked(true)
}

// fireKeyingLocked deduplicates successive identical states, per spec.md
// §4.3's "deduplicates callbacks that would produce equal successive
// states".
func (d *Dispatcher) fireKeyingLocked(keyDown bool) {
	if d.haveKeyed && d.lastKeyDown == keyDown {
		return
	}
	d.haveKeyed = true
	d.lastKeyDown = keyDown
	cb := d.keyingCB
	if cb != nil {
		d.mu.Unlock()
		cb(keyDown)
		d.mu.Lock()
	}
}

func (d *Dispatcher) startFinalizationLocked() {
	d.finalizationActive = true
	d.finalizationRemain = FinalizationSteps
	d.armLocked(FinalizationStep)
}

// tickFinalizationLocked advances the one-second-step countdown. A
// re-entrant guard (finalizationArming) prevents an arming call from
// cancelling the very timer it just armed, per spec.md §4.3.
func (d *Dispatcher) tickFinalizationLocked() {
	if d.finalizationArming {
		return
	}
	d.finalizationRemain--
	if d.finalizationRemain <= 0 {
		d.finalizationActive = false
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		return
	}
	d.finalizationArming = true
	d.armLocked(FinalizationStep)
	d.finalizationArming = false
}

// State returns the current dispatcher state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// FinalizationActive reports whether the ten-second cooldown is currently
// counting down.
func (d *Dispatcher) FinalizationActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finalizationActive
}

// Stop cancels any pending timer, used during full engine teardown.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.finalizationActive = false
}
