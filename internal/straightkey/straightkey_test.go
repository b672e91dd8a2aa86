package straightkey

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/n0call/cwengine/internal/cwerr"
)

type fakeSink struct {
	mu       sync.Mutex
	sounding bool
	sets     int
}

func (s *fakeSink) SetTone(freq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sounding = true
	s.sets++
}
func (s *fakeSink) Silence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sounding = false
}
func (s *fakeSink) isSounding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sounding
}
func (s *fakeSink) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

func TestNotifyEventIsNoOpWhenUnchanged(t *testing.T) {
	sink := &fakeSink{}
	k := New(sink, nil, nil, nil)
	if err := k.NotifyEvent(false); err != nil {
		t.Fatal(err)
	}
	if sink.setCount() != 0 {
		t.Errorf("SetTone called %d times on a no-op up->up event", sink.setCount())
	}
}

func TestNotifyEventKeyDownSoundsAndKeyUpSilences(t *testing.T) {
	sink := &fakeSink{}
	var transitions []bool
	var mu sync.Mutex
	k := New(sink, nil, nil, nil)
	k.SetFrequency(600)
	k.SetKeyingCallback(func(down bool) {
		mu.Lock()
		transitions = append(transitions, down)
		mu.Unlock()
	})

	if err := k.NotifyEvent(true); err != nil {
		t.Fatal(err)
	}
	if !sink.isSounding() {
		t.Error("sink not sounding after key down")
	}
	if err := k.NotifyEvent(false); err != nil {
		t.Fatal(err)
	}
	if sink.isSounding() {
		t.Error("sink still sounding after key up")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != true || transitions[1] != false {
		t.Errorf("transitions = %v, want [true false]", transitions)
	}
}

func TestNotifyEventFailsBusy(t *testing.T) {
	k := New(&fakeSink{}, func() bool { return true }, nil, nil)
	if err := k.NotifyEvent(true); !errors.Is(err, cwerr.Busy) {
		t.Errorf("NotifyEvent() err = %v, want Busy", err)
	}
}

func TestRefreshTimerReSoundsWhileKeyHeld(t *testing.T) {
	sink := &fakeSink{}
	k := New(sink, nil, nil, nil)
	k.SetFrequency(600)
	if err := k.NotifyEvent(true); err != nil {
		t.Fatal(err)
	}
	initial := sink.setCount()

	// Force a refresh without waiting the full 500ms: invoke the
	// internal timer's target directly via a short synthetic wait to
	// keep the unit test fast while still exercising the real timer
	// plumbing (armLocked/refreshWrapper) rather than stubbing it out.
	k.mu.Lock()
	k.timer.Stop()
	k.timer = time.AfterFunc(5*time.Millisecond, k.refreshWrapper)
	k.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	if sink.setCount() <= initial {
		t.Error("refresh timer did not re-sound the tone while key held")
	}
}
