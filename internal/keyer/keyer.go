// Package keyer implements the two-paddle iambic keyer described in
// spec.md §3/§4.6: Curtis Mode A/B, latched dot/dash elements, and the
// documented Mode-B quirk where AFTER_DOT_B/AFTER_DASH_B unconditionally
// starts the opposite element regardless of latch state (spec.md §9 —
// reproduced as specified, not "fixed").
package keyer

import (
	"sync"
	"time"

	"github.com/n0call/cwengine/internal/cwerr"
	"github.com/n0call/cwengine/internal/recovery"
)

// State is the keyer's nine-state machine, spec.md §3.
type State int

const (
	Idle State = iota
	InDotA
	InDashA
	AfterDotA
	AfterDashA
	InDotB
	InDashB
	AfterDotB
	AfterDashB
)

func (s State) isAfter() bool {
	switch s {
	case AfterDotA, AfterDashA, AfterDotB, AfterDashB:
		return true
	default:
		return false
	}
}

// Sink is the minimal surface the keyer needs to sound and silence a tone.
type Sink interface {
	SetTone(frequencyHz int)
	Silence()
}

// KeyingCallback fires on every sounding↔silent transition.
type KeyingCallback func(keyDown bool)

// BusyChecker reports whether a competing subsystem (tone queue or
// straight key) currently owns the sink, per spec.md §4.6's Busy rule.
type BusyChecker func() bool

// Keyer is the iambic keyer state machine of spec.md §4.6.
type Keyer struct {
	mu   sync.Mutex
	cond *sync.Cond

	sink        Sink
	frequencyHz int
	dotLen      int // microseconds
	dashLen     int
	eoeDelay    int

	isOtherBusy    BusyChecker
	notifyActivity func()
	keyingCB       KeyingCallback
	onFinalize     func()

	state State

	dotPaddle, dashPaddle             bool
	dotLatch, dashLatch, curtisBLatch bool
	curtisModeB                       bool
	lastElementWasDash                bool

	haveKeyed   bool
	lastKeyDown bool

	timer *time.Timer
	seq   uint64 // bumped on every state transition, for WaitForElement/WaitForKeyer
}

// New returns an idle Keyer bound to sink. notifyActivity cancels the
// dispatcher's finalization countdown (spec.md §4.3); onFinalize starts it.
func New(sink Sink, isOtherBusy BusyChecker, notifyActivity func(), onFinalize func()) *Keyer {
	k := &Keyer{
		sink:           sink,
		isOtherBusy:    isOtherBusy,
		notifyActivity: notifyActivity,
		onFinalize:     onFinalize,
	}
	k.cond = sync.NewCond(&k.mu)
	return k
}

// SetKeyingCallback installs (or, with nil, disables) the keying callback.
func (k *Keyer) SetKeyingCallback(cb KeyingCallback) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keyingCB = cb
}

// SetTiming updates the element/gap durations (microseconds) the keyer
// uses to arm its timers, driven by the engine's timing.Solver.Send().
func (k *Keyer) SetTiming(dotLen, dashLen, eoeDelay int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dotLen, k.dashLen, k.eoeDelay = dotLen, dashLen, eoeDelay
}

// SetFrequency sets the tone frequency sounded for each element.
func (k *Keyer) SetFrequency(hz int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.frequencyHz = hz
}

// SetCurtisModeB enables or disables Curtis Mode B.
func (k *Keyer) SetCurtisModeB(enabled bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.curtisModeB = enabled
}

// NotifyPaddles records the new paddle states and nudges the state
// machine, per spec.md §4.6.
func (k *Keyer) NotifyPaddles(dotState, dashState bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.isOtherBusy != nil && k.isOtherBusy() {
		return cwerr.New(cwerr.KindBusy, "keyer: tone queue or straight key active")
	}

	if !k.dotPaddle && dotState {
		k.dotLatch = true
	}
	if !k.dashPaddle && dashState {
		k.dashLatch = true
	}
	if k.curtisModeB && dotState && dashState {
		k.curtisBLatch = true
	}
	k.dotPaddle = dotState
	k.dashPaddle = dashState

	if k.state == Idle && (k.dotLatch || k.dashLatch) {
		k.notifyActivityLocked()
		k.nudgeIdleLocked()
	}
	return nil
}

func (k *Keyer) notifyActivityLocked() {
	if k.notifyActivity != nil {
		k.mu.Unlock()
		k.notifyActivity()
		k.mu.Lock()
	}
}

// nudgeIdleLocked pretends the keyer has just finished the opposite
// element of whichever paddle was freshly latched, so the immediate
// resolve begins the correct element without waiting for a timer tick,
// per spec.md §4.6. When both paddles latch simultaneously (the Mode-B
// "momentary squeeze" case, spec.md §8 scenario 6), the opposite of the
// last-completed element is pretended, so the keyer alternates rather
// than always favoring one paddle.
func (k *Keyer) nudgeIdleLocked() {
	pretendDash := k.lastElementWasDash
	switch {
	case k.dotLatch && !k.dashLatch:
		pretendDash = true
	case k.dashLatch && !k.dotLatch:
		pretendDash = false
	case k.dotLatch && k.dashLatch:
		pretendDash = !k.lastElementWasDash
	}

	if pretendDash {
		k.state = k.afterDashState()
		k.resolveAfterDashLocked()
	} else {
		k.state = k.afterDotState()
		k.resolveAfterDotLocked()
	}
}

func (k *Keyer) afterDotState() State {
	if k.curtisModeB {
		return AfterDotB
	}
	return AfterDotA
}

func (k *Keyer) afterDashState() State {
	if k.curtisModeB {
		return AfterDashB
	}
	return AfterDashA
}

// tickWrapper is the time.AfterFunc target; it recovers from panics the
// way the dispatcher's timer thread does.
func (k *Keyer) tickWrapper() {
	defer recovery.HandlePanicFunc(nil)
	k.tick()
}

func (k *Keyer) tick() {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch k.state {
	case InDotA, InDotB:
		k.sink.Silence()
		k.fireKeyingLocked(false)
		k.state = k.afterDotState()
		k.bumpSeqLocked()
		k.armLocked(time.Duration(k.eoeDelay) * time.Microsecond)
	case InDashA, InDashB:
		k.sink.Silence()
		k.fireKeyingLocked(false)
		k.state = k.afterDashState()
		k.bumpSeqLocked()
		k.armLocked(time.Duration(k.eoeDelay) * time.Microsecond)
	case AfterDotA, AfterDotB:
		k.resolveAfterDotLocked()
	case AfterDashA, AfterDashB:
		k.resolveAfterDashLocked()
	}
}

// resolveAfterDotLocked implements spec.md §4.6's AFTER_DOT_* rule,
// including the documented (not "corrected") Mode-B quirk: in Mode B this
// unconditionally begins a dash, never consulting dash_latch/curtis_b_latch.
func (k *Keyer) resolveAfterDotLocked() {
	if !k.dotPaddle {
		k.dotLatch = false
	}
	isB := k.state == AfterDotB
	if isB {
		k.beginDashLocked(true)
		return
	}
	if k.dashLatch {
		chosenB := false
		if k.curtisBLatch {
			k.curtisBLatch = false
			chosenB = true
		}
		k.beginDashLocked(chosenB)
		return
	}
	if k.dotLatch {
		k.beginDotLocked(false)
		return
	}
	k.goIdleLocked()
}

// resolveAfterDashLocked is the dash/dot-swapped symmetric counterpart.
func (k *Keyer) resolveAfterDashLocked() {
	if !k.dashPaddle {
		k.dashLatch = false
	}
	isB := k.state == AfterDashB
	if isB {
		k.beginDotLocked(true)
		return
	}
	if k.dotLatch {
		chosenB := false
		if k.curtisBLatch {
			k.curtisBLatch = false
			chosenB = true
		}
		k.beginDotLocked(chosenB)
		return
	}
	if k.dashLatch {
		k.beginDashLocked(false)
		return
	}
	k.goIdleLocked()
}

func (k *Keyer) beginDotLocked(isB bool) {
	k.dotLatch = false
	k.lastElementWasDash = false
	k.sink.SetTone(k.frequencyHz)
	k.fireKeyingLocked(true)
	if isB {
		k.state = InDotB
	} else {
		k.state = InDotA
	}
	k.bumpSeqLocked()
	k.armLocked(time.Duration(k.dotLen) * time.Microsecond)
}

func (k *Keyer) beginDashLocked(isB bool) {
	k.dashLatch = false
	k.lastElementWasDash = true
	k.sink.SetTone(k.frequencyHz)
	k.fireKeyingLocked(true)
	if isB {
		k.state = InDashB
	} else {
		k.state = InDashA
	}
	k.bumpSeqLocked()
	k.armLocked(time.Duration(k.dashLen) * time.Microsecond)
}

func (k *Keyer) goIdleLocked() {
	k.state = Idle
	k.bumpSeqLocked()
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
	if k.onFinalize != nil {
		k.mu.Unlock()
		k.onFinalize()
		k.mu.Lock()
	}
}

func (k *Keyer) bumpSeqLocked() {
	k.seq++
	k.cond.Broadcast()
}

func (k *Keyer) armLocked(delay time.Duration) {
	if k.timer != nil {
		k.timer.Stop()
	}
	k.timer = time.AfterFunc(delay, k.tickWrapper)
}

func (k *Keyer) fireKeyingLocked(keyDown bool) {
	if k.haveKeyed && k.lastKeyDown == keyDown {
		return
	}
	k.haveKeyed = true
	k.lastKeyDown = keyDown
	cb := k.keyingCB
	if cb != nil {
		k.mu.Unlock()
		cb(keyDown)
		k.mu.Lock()
	}
}

// WaitForElement blocks until the state transitions through an AFTER_*
// (element complete), then through an IN_* or IDLE (next element begun or
// idle), per spec.md §4.6.
func (k *Keyer) WaitForElement() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for !k.state.isAfter() {
		k.cond.Wait()
	}
	settled := k.seq
	for k.seq == settled {
		k.cond.Wait()
	}
	return nil
}

// WaitForKeyer blocks until IDLE; fails Deadlock if either paddle is
// still held, per spec.md §4.6.
func (k *Keyer) WaitForKeyer() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dotPaddle || k.dashPaddle {
		return cwerr.New(cwerr.KindDeadlock, "keyer: wait_for_keyer with a paddle held")
	}
	for k.state != Idle {
		k.cond.Wait()
		if k.dotPaddle || k.dashPaddle {
			return cwerr.New(cwerr.KindDeadlock, "keyer: wait_for_keyer with a paddle held")
		}
	}
	return nil
}

// Reset clears all latches, disables Mode B, forces IDLE, silences the
// sink, and schedules finalization, per spec.md §4.6.
func (k *Keyer) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
	k.dotPaddle, k.dashPaddle = false, false
	k.dotLatch, k.dashLatch, k.curtisBLatch = false, false, false
	k.curtisModeB = false
	k.state = Idle
	k.bumpSeqLocked()
	k.sink.Silence()
	k.fireKeyingLocked(false)
	if k.onFinalize != nil {
		k.mu.Unlock()
		k.onFinalize()
		k.mu.Lock()
	}
}

// State returns the current keyer state.
func (k *Keyer) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}
