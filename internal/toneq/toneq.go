// Package toneq implements the bounded single-producer/single-consumer tone
// queue described in spec.md §3/§4.2: a ring of (duration, frequency) tones
// drained by a dispatcher, with backpressure, a low-water callback, and
// blocking wait primitives.
package toneq

import (
	"sync"
	"sync/atomic"

	"github.com/n0call/cwengine/internal/cwerr"
)

// Capacity and high-water mark, fixed by spec.md §3.
const (
	Capacity      = 3000
	HighWaterMark = 2900
)

// Tone is a single (duration, frequency) directive. Frequency 0 denotes
// silence; duration 0 is a legal "set state, no wait" directive.
type Tone struct {
	DurationUsec int
	FrequencyHz  int
}

// LowWaterCallback is invoked exactly when a dequeue drops the queue length
// from above level to at-or-below level.
type LowWaterCallback func()

// BusyChecker reports whether a competing subsystem (straight key or
// keyer) currently owns the sink, per spec.md §4.2 Enqueue's Busy rule.
// The tone queue itself doesn't know about those subsystems; the engine
// wires this in.
type BusyChecker func() bool

// Queue is the bounded tone ring described in spec.md §3.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf        [Capacity]Tone
	head, tail int

	lowWaterLevel int
	lowWaterCB    atomic.Pointer[LowWaterCallback]

	// dispatcherIdle mirrors the dispatcher's IDLE/BUSY state as observed
	// by the queue, updated by the dispatcher via SetDispatcherIdle so
	// Flush/wait_* can block until it flips.
	dispatcherIdle bool

	// signalsMasked makes every wait_* fail Deadlock instead of blocking,
	// modeling §4.2's "fails Deadlock if the dispatcher's delivery signal
	// is masked by the caller" and §5's block_callbacks convenience.
	signalsMasked bool

	isBusy BusyChecker

	// onKick is called once, outside the lock, whenever an enqueue moves
	// the queue from empty to non-empty; the dispatcher uses this to arm
	// its zero-delay timer (spec.md §4.2).
	onKick func()
}

// New returns an empty Queue. isBusy may be nil, meaning nothing else ever
// contends for the sink.
func New(isBusy BusyChecker, onKick func()) *Queue {
	q := &Queue{isBusy: isBusy, onKick: onKick, dispatcherIdle: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func next(i int) int {
	i++
	if i == Capacity {
		return 0
	}
	return i
}

// Enqueue appends a tone. Fails Busy if a competing subsystem is active,
// QueueFull if the ring has no room. Arms the dispatcher kick if the queue
// was empty (IDLE→BUSY edge), per spec.md §4.2.
func (q *Queue) Enqueue(t Tone) error {
	q.mu.Lock()
	if q.isBusy != nil && q.isBusy() {
		q.mu.Unlock()
		return cwerr.New(cwerr.KindBusy, "tone queue: competing subsystem active")
	}
	if next(q.tail) == q.head {
		q.mu.Unlock()
		return cwerr.New(cwerr.KindQueueFull, "tone queue: full")
	}

	wasEmpty := q.head == q.tail
	q.buf[q.tail] = t
	q.tail = next(q.tail)
	q.cond.Broadcast()
	q.mu.Unlock()

	if wasEmpty && q.onKick != nil {
		q.onKick()
	}
	return nil
}

// Dequeue removes and returns the head tone. ok is false if the queue is
// empty. When the dequeue drops the length from above the registered
// low-water level to at or below it, Dequeue itself invokes the low-water
// callback before returning.
func (q *Queue) Dequeue() (Tone, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == q.tail {
		return Tone{}, false
	}
	prevLen := q.lengthLocked()
	t := q.buf[q.head]
	q.head = next(q.head)
	newLen := q.lengthLocked()
	q.cond.Broadcast()

	if prevLen > q.lowWaterLevel && newLen <= q.lowWaterLevel {
		if cbPtr := q.lowWaterCB.Load(); cbPtr != nil {
			cb := *cbPtr
			// Invoked after state has been updated (head already
			// advanced), so a re-entrant Enqueue from inside the
			// callback sees consistent state and can re-arm, per
			// spec.md §4.2.
			q.mu.Unlock()
			cb()
			q.mu.Lock()
		}
	}
	return t, true
}

// RegisterLowWater installs (or, with a nil cb, disables) the low-water
// callback at the given level. Fails InvalidArgument if level is outside
// [0, Capacity-2).
func (q *Queue) RegisterLowWater(cb LowWaterCallback, level int) error {
	if level < 0 || level >= Capacity-2 {
		return cwerr.New(cwerr.KindInvalidArgument, "tone queue: low-water level out of range")
	}
	q.mu.Lock()
	q.lowWaterLevel = level
	q.mu.Unlock()
	if cb == nil {
		q.lowWaterCB.Store(nil)
	} else {
		q.lowWaterCB.Store(&cb)
	}
	return nil
}

// Flush empties the queue immediately (head jumps to tail) and, unless
// signals are masked, waits for the dispatcher to reach IDLE. It never
// fails from the caller's perspective (spec.md §7).
func (q *Queue) Flush() {
	q.mu.Lock()
	q.head = q.tail
	masked := q.signalsMasked
	q.cond.Broadcast()
	if masked {
		q.mu.Unlock()
		return
	}
	for !q.dispatcherIdle {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Reset is like Flush but also clears the low-water callback and forces
// the dispatcher-observed state to IDLE, per spec.md §4.2.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.head = q.tail
	q.dispatcherIdle = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.lowWaterCB.Store(nil)
}

// WaitForTone blocks until the head advances (a tone has been dequeued).
// Fails Deadlock if signals are masked.
func (q *Queue) WaitForTone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.signalsMasked {
		return cwerr.New(cwerr.KindDeadlock, "tone queue: wait_for_tone with signals masked")
	}
	head := q.head
	for q.head == head {
		q.cond.Wait()
	}
	return nil
}

// WaitForQueue blocks until the dispatcher reaches IDLE. Fails Deadlock if
// signals are masked.
func (q *Queue) WaitForQueue() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.signalsMasked {
		return cwerr.New(cwerr.KindDeadlock, "tone queue: wait_for_queue with signals masked")
	}
	for !q.dispatcherIdle {
		q.cond.Wait()
	}
	return nil
}

// WaitForLevel blocks until the queue length is at most n. Fails Deadlock
// if signals are masked.
func (q *Queue) WaitForLevel(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.signalsMasked {
		return cwerr.New(cwerr.KindDeadlock, "tone queue: wait_for_level with signals masked")
	}
	for q.lengthLocked() > n {
		q.cond.Wait()
	}
	return nil
}

// BlockCallbacks masks (true) or unmasks (false) the dispatcher's delivery
// signal as observed by wait_*, per spec.md §5.
func (q *Queue) BlockCallbacks(masked bool) {
	q.mu.Lock()
	q.signalsMasked = masked
	q.cond.Broadcast()
	q.mu.Unlock()
}

// SetDispatcherIdle is called by the dispatcher whenever its state
// transitions, so the queue's wait_for_queue/Flush can observe it.
func (q *Queue) SetDispatcherIdle(idle bool) {
	q.mu.Lock()
	q.dispatcherIdle = idle
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) lengthLocked() int {
	if q.tail >= q.head {
		return q.tail - q.head
	}
	return Capacity - q.head + q.tail
}

// Length returns the current number of queued tones.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lengthLocked()
}

// EffectiveCapacity returns the effective capacity (Capacity-1, since one slot is
// always kept empty to disambiguate full from empty).
func (q *Queue) EffectiveCapacity() int { return Capacity - 1 }

// IsFull reports whether the queue has no room for another tone.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return next(q.tail) == q.head
}

// IsBusy reports whether the dispatcher-observed state is non-idle (i.e.
// there is sound in flight or queued).
func (q *Queue) IsBusy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.dispatcherIdle
}
