// Package straightkey implements the direct key-down/up surface of
// spec.md §4.7: a trivial two-state machine that sounds/silences a sink
// and re-arms a half-second refresh timer while the key is held down, to
// keep a soundcard's buffer primed.
package straightkey

import (
	"sync"
	"time"

	"github.com/n0call/cwengine/internal/cwerr"
	"github.com/n0call/cwengine/internal/recovery"
)

// RefreshInterval is the recurring re-arm period while the key is down,
// per spec.md §4.7.
const RefreshInterval = 500 * time.Millisecond

// Sink is the minimal surface the straight key needs.
type Sink interface {
	SetTone(frequencyHz int)
	Silence()
}

// KeyingCallback fires on every sounding↔silent transition.
type KeyingCallback func(keyDown bool)

// BusyChecker reports whether a competing subsystem (tone queue or
// keyer) currently owns the sink.
type BusyChecker func() bool

// StraightKey is the direct key surface of spec.md §4.7.
type StraightKey struct {
	mu sync.Mutex

	sink        Sink
	frequencyHz int

	isOtherBusy    BusyChecker
	notifyActivity func()
	onFinalize     func()
	keyingCB       KeyingCallback

	down  bool
	timer *time.Timer

	haveKeyed   bool
	lastKeyDown bool
}

// New returns a StraightKey bound to sink, up by default.
func New(sink Sink, isOtherBusy BusyChecker, notifyActivity func(), onFinalize func()) *StraightKey {
	return &StraightKey{
		sink:           sink,
		isOtherBusy:    isOtherBusy,
		notifyActivity: notifyActivity,
		onFinalize:     onFinalize,
	}
}

// SetKeyingCallback installs (or, with nil, disables) the keying callback.
func (s *StraightKey) SetKeyingCallback(cb KeyingCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyingCB = cb
}

// SetFrequency sets the tone frequency sounded while the key is down.
func (s *StraightKey) SetFrequency(hz int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frequencyHz = hz
}

// NotifyEvent reports a key-down/up edge. A no-op if the state is
// unchanged. Fails Busy if the tone queue or keyer are active, per
// spec.md §4.7.
func (s *StraightKey) NotifyEvent(down bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if down == s.down {
		return nil
	}
	if s.isOtherBusy != nil && s.isOtherBusy() {
		return cwerr.New(cwerr.KindBusy, "straight key: tone queue or keyer active")
	}

	s.down = down
	if s.notifyActivity != nil {
		s.mu.Unlock()
		s.notifyActivity()
		s.mu.Lock()
	}

	if down {
		s.sink.SetTone(s.frequencyHz)
		s.fireKeyingLocked(true)
		s.armLocked()
		return nil
	}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.sink.Silence()
	s.fireKeyingLocked(false)
	if s.onFinalize != nil {
		s.mu.Unlock()
		s.onFinalize()
		s.mu.Lock()
	}
	return nil
}

func (s *StraightKey) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(RefreshInterval, s.refreshWrapper)
}

// refreshWrapper re-sounds the tone while the key remains down and
// re-arms itself, keeping the soundcard buffer primed, per spec.md §4.7.
func (s *StraightKey) refreshWrapper() {
	defer recovery.HandlePanicFunc(nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.down {
		return
	}
	s.sink.SetTone(s.frequencyHz)
	s.armLocked()
}

func (s *StraightKey) fireKeyingLocked(keyDown bool) {
	if s.haveKeyed && s.lastKeyDown == keyDown {
		return
	}
	s.haveKeyed = true
	s.lastKeyDown = keyDown
	cb := s.keyingCB
	if cb != nil {
		s.mu.Unlock()
		cb(keyDown)
		s.mu.Lock()
	}
}

// Down reports whether the key is currently held down.
func (s *StraightKey) Down() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}
