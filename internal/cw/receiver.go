// internal/cw/receiver.go
package cw

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/n0call/cwengine/internal/cwerr"
	"github.com/n0call/cwengine/internal/timing"
)

// RecvState is the receiver's timestamp-driven classifier state machine,
// spec.md §3/§4.8.
type RecvState int

const (
	RecvIdle RecvState = iota
	InTone
	AfterTone
	EndChar
	EndWord
	ErrChar
	ErrWord
)

// ReceiverCapacity bounds the representation buffer; spec.md §4.8 moves to
// ErrChar and fails NoMemory one element before it would overflow.
const ReceiverCapacity = 256

// statRingSize is the ring length each statistic kind's delta samples are
// kept in for get_statistics' standard-deviation accumulator.
const statRingSize = 256

// averageRingSize is the moving-average window used by adaptive tracking,
// per spec.md §4.8/§9.
const averageRingSize = 4

// Timestamp is a (seconds, microseconds) pair, spec.md §4.8. A zero value
// means "use wall clock now."
type Timestamp struct {
	Sec  int64
	Usec int64 // must be in [0, 1_000_000)
}

func (t Timestamp) isNull() bool { return t == Timestamp{} }

func (t Timestamp) usecSinceEpoch() (int64, error) {
	if t.Usec < 0 || t.Usec >= 1_000_000 {
		return 0, cwerr.New(cwerr.KindInvalidArgument, "receiver: microseconds out of [0, 1e6) range")
	}
	return t.Sec*1_000_000 + t.Usec, nil
}

func nowTimestamp() Timestamp {
	now := time.Now()
	return Timestamp{Sec: now.Unix(), Usec: int64(now.Nanosecond() / 1000)}
}

// deltaUsec computes end-start in microseconds, clamped to
// math.MaxInt32 on overflow, per spec.md §4.8.
func deltaUsec(start, end Timestamp) (int, error) {
	if end.isNull() {
		end = nowTimestamp()
	}
	s, err := start.usecSinceEpoch()
	if err != nil {
		return 0, err
	}
	e, err := end.usecSinceEpoch()
	if err != nil {
		return 0, err
	}
	d := e - s
	const maxInt32 = 1<<31 - 1
	if d > maxInt32 {
		d = maxInt32
	}
	if d < 0 {
		d = 0
	}
	return int(d), nil
}

// statKind names the statistic ring a delta sample belongs to.
type statKind int

const (
	statDot statKind = iota
	statDash
	statEndOfElement
	statEndOfCharacter
	statKindCount
)

// movingAverage is a small fixed-size ring with a running sum, per
// spec.md §9's "simple ring buffers with running sums" guidance.
type movingAverage struct {
	samples [averageRingSize]int
	next    int
	filled  int
	sum     int
}

func (m *movingAverage) add(v int) {
	if m.filled == averageRingSize {
		m.sum -= m.samples[m.next]
	} else {
		m.filled++
	}
	m.samples[m.next] = v
	m.sum += v
	m.next = (m.next + 1) % averageRingSize
}

func (m *movingAverage) average() int {
	if m.filled == 0 {
		return 0
	}
	return m.sum / m.filled
}

// statRing accumulates delta samples for gonum's standard-deviation
// helper, per spec.md §4.8's get_statistics.
type statRing struct {
	samples [statRingSize]float64
	next    int
	filled  int
}

func (r *statRing) add(v int) {
	r.samples[r.next] = float64(v)
	r.next = (r.next + 1) % statRingSize
	if r.filled < statRingSize {
		r.filled++
	}
}

func (r *statRing) stddev() float64 {
	if r.filled == 0 {
		return 0
	}
	return stat.StdDev(r.samples[:r.filled], nil)
}

func (r *statRing) reset() { *r = statRing{} }

// Lookup is the external character/representation collaborator spec.md §6
// declares out of scope for the core engine; Character() composes the
// classifier with a Lookup to produce decoded runes.
type Lookup interface {
	Character(representation string) (rune, bool)
}

// Receiver is the timestamp-driven mark/space classifier of spec.md
// §3/§4.8.
type Receiver struct {
	mu sync.Mutex

	solver *timing.Solver

	state      RecvState
	toneStart  Timestamp
	lastEnd    Timestamp
	repr       []byte // '.' / '-'
	lastErrVal error  // sticky error variant behind ErrChar/ErrWord, for Representation/Character

	avgDot, avgDash movingAverage
	stats           [statKindCount]statRing
}

// NewReceiver returns an IDLE Receiver bound to solver.
func NewReceiver(solver *timing.Solver) *Receiver {
	return &Receiver{solver: solver, repr: make([]byte, 0, ReceiverCapacity)}
}

// StartTone records the start of a mark, per spec.md §4.8. Permitted only
// in IDLE or AFTER_TONE.
func (r *Receiver) StartTone(ts Timestamp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecvIdle && r.state != AfterTone {
		return cwerr.New(cwerr.KindStateError, "receiver: start_tone outside IDLE/AFTER_TONE")
	}
	if r.state == AfterTone {
		gap, err := deltaUsec(r.lastEnd, ts)
		if err != nil {
			return err
		}
		r.stats[statEndOfElement].add(gap)
	}
	if ts.isNull() {
		ts = nowTimestamp()
	} else if _, err := ts.usecSinceEpoch(); err != nil {
		return err
	}
	r.toneStart = ts
	r.state = InTone
	return nil
}

// EndTone classifies the just-finished mark as a dot or dash, per
// spec.md §4.8. Permitted only in IN_TONE.
func (r *Receiver) EndTone(ts Timestamp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != InTone {
		return cwerr.New(cwerr.KindStateError, "receiver: end_tone outside IN_TONE")
	}

	markUsec, err := deltaUsec(r.toneStart, ts)
	if err != nil {
		return err
	}

	noise := r.solver.NoiseThreshold()
	if noise > 0 && markUsec <= noise {
		// Restore: revert to IDLE or AFTER_TONE depending on whether the
		// buffer is empty, fail Ignored, per spec.md §4.8.
		if len(r.repr) == 0 {
			r.state = RecvIdle
		} else {
			r.state = AfterTone
		}
		return cwerr.New(cwerr.KindIgnored, "receiver: mark at or below noise threshold")
	}

	recv := r.solver.Recv()
	var elem byte
	switch {
	case markUsec >= recv.DotRangeMin && markUsec <= recv.DotRangeMax:
		elem = '.'
		r.stats[statDot].add(markUsec)
	case markUsec >= recv.DashRangeMin:
		elem = '-'
		r.stats[statDash].add(markUsec)
	default:
		if markUsec > recv.EndOfCharacterMax {
			r.state = ErrWord
		} else {
			r.state = ErrChar
		}
		r.lastErrVal = cwerr.NotFound
		r.lastEnd = endOrNow(ts)
		return cwerr.New(cwerr.KindNotFound, "receiver: mark outside dot/dash ranges")
	}

	if r.solver.AdaptiveEnabled() {
		if elem == '.' {
			r.avgDot.add(markUsec)
		} else {
			r.avgDash.add(markUsec)
		}
		avgDot, avgDash := r.avgDot.average(), r.avgDash.average()
		if avgDot > 0 && avgDash > 0 {
			threshold := avgDot + (avgDash-avgDot)/2
			r.solver.SetAdaptiveThreshold(threshold)
		}
	}

	if len(r.repr) >= ReceiverCapacity-1 {
		r.state = ErrChar
		r.lastErrVal = cwerr.NoMemory
		r.lastEnd = endOrNow(ts)
		return cwerr.New(cwerr.KindNoMemory, "receiver: representation buffer full")
	}

	r.repr = append(r.repr, elem)
	r.lastEnd = endOrNow(ts)
	r.state = AfterTone
	return nil
}

func endOrNow(ts Timestamp) Timestamp {
	if ts.isNull() {
		return nowTimestamp()
	}
	return ts
}

// BufferDot appends a dot classified externally by the caller, per
// spec.md §4.8. Permitted only in IDLE or AFTER_TONE.
func (r *Receiver) BufferDot(ts Timestamp) error { return r.bufferElement(ts, '.') }

// BufferDash appends a dash classified externally by the caller.
func (r *Receiver) BufferDash(ts Timestamp) error { return r.bufferElement(ts, '-') }

func (r *Receiver) bufferElement(ts Timestamp, elem byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecvIdle && r.state != AfterTone {
		return cwerr.New(cwerr.KindStateError, "receiver: buffer_dot/dash outside IDLE/AFTER_TONE")
	}
	if len(r.repr) >= ReceiverCapacity-1 {
		r.state = ErrChar
		r.lastErrVal = cwerr.NoMemory
		r.lastEnd = endOrNow(ts)
		return cwerr.New(cwerr.KindNoMemory, "receiver: representation buffer full")
	}
	r.repr = append(r.repr, elem)
	r.lastEnd = endOrNow(ts)
	r.state = AfterTone
	return nil
}

// Representation returns the cached representation and whether it
// terminates a word, per spec.md §4.8.
func (r *Receiver) Representation(ts Timestamp) (repr string, eow bool, errVariant error, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == EndWord || r.state == ErrWord {
		return string(r.repr), true, r.lastErrVal, nil
	}
	if r.state != AfterTone && r.state != EndChar && r.state != ErrChar {
		return "", false, nil, cwerr.New(cwerr.KindStateError, "receiver: representation outside AFTER_TONE/END_CHAR/ERR_CHAR")
	}

	gap, derr := deltaUsec(r.lastEnd, ts)
	if derr != nil {
		return "", false, nil, derr
	}
	recv := r.solver.Recv()

	// A gap at or below the (dot-range-inherited) end-of-element range is
	// still ordinary inter-element spacing within the same character —
	// not yet a decision. Per spec.md §3 "end-of-element inherits dot
	// range," so callers should retry once more silence has accumulated.
	if gap <= recv.DotRangeMax {
		return "", false, nil, cwerr.TryAgain
	}
	if gap <= recv.EndOfCharacterMax {
		r.stats[statEndOfCharacter].add(gap)
		r.state = EndChar
		return string(r.repr), false, r.lastErrVal, nil
	}
	if r.state == ErrChar {
		r.state = ErrWord
	} else {
		r.state = EndWord
	}
	return string(r.repr), true, r.lastErrVal, nil
}

// Character composes Representation with an external Lookup, mapping a
// miss to NotFound, per spec.md §4.8.
func (r *Receiver) Character(ts Timestamp, lookup Lookup) (ch rune, eow bool, err error) {
	repr, eow, errVariant, err := r.Representation(ts)
	if err != nil {
		return 0, false, err
	}
	if errVariant != nil {
		return 0, eow, errVariant
	}
	if repr == "" {
		return 0, eow, nil
	}
	c, ok := lookup.Character(repr)
	if !ok {
		return 0, eow, cwerr.NotFound
	}
	return c, eow, nil
}

// ClearBuffer resets the cursor and moves to IDLE, per spec.md §4.8.
func (r *Receiver) ClearBuffer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repr = r.repr[:0]
	r.lastErrVal = nil
	r.state = RecvIdle
}

// State returns the current receiver state.
func (r *Receiver) State() RecvState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Statistics holds the standard deviation (microseconds) of each kind's
// delta samples, per spec.md §4.8's get_statistics.
type Statistics struct {
	DotStdDev            float64
	DashStdDev           float64
	EndOfElementStdDev   float64
	EndOfCharacterStdDev float64
}

// GetStatistics returns the standard deviation of each kind's ring.
func (r *Receiver) GetStatistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Statistics{
		DotStdDev:            r.stats[statDot].stddev(),
		DashStdDev:           r.stats[statDash].stddev(),
		EndOfElementStdDev:   r.stats[statEndOfElement].stddev(),
		EndOfCharacterStdDev: r.stats[statEndOfCharacter].stddev(),
	}
}

// ResetStatistics clears every statistic ring.
func (r *Receiver) ResetStatistics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.stats {
		r.stats[i].reset()
	}
}
