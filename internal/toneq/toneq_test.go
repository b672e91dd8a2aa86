package toneq

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/n0call/cwengine/internal/cwerr"
)

func TestEnqueueDequeueFIFOOrder(t *testing.T) {
	q := New(nil, nil)
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(Tone{DurationUsec: i, FrequencyHz: 600}); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		tone, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue() at i=%d: ok = false", i)
		}
		if tone.DurationUsec != i {
			t.Errorf("Dequeue() at i=%d: DurationUsec = %d, want %d", i, tone.DurationUsec, i)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue() on empty queue: ok = true, want false")
	}
}

func TestQueueFullAtEffectiveCapacity(t *testing.T) {
	q := New(nil, nil)
	for i := 0; i < q.EffectiveCapacity(); i++ {
		if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); err != nil {
			t.Fatalf("Enqueue() at i=%d error = %v", i, err)
		}
	}
	if !q.IsFull() {
		t.Fatal("IsFull() = false after filling to effective capacity")
	}
	if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); !errors.Is(err, cwerr.QueueFull) {
		t.Errorf("Enqueue() beyond capacity: err = %v, want QueueFull", err)
	}
}

func TestEnqueueFailsBusyWhenCompetingSubsystemActive(t *testing.T) {
	busy := true
	q := New(func() bool { return busy }, nil)
	if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); !errors.Is(err, cwerr.Busy) {
		t.Errorf("Enqueue() while busy: err = %v, want Busy", err)
	}
	busy = false
	if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); err != nil {
		t.Errorf("Enqueue() once not busy: err = %v, want nil", err)
	}
}

func TestLowWaterCallbackFiresExactlyOnCrossing(t *testing.T) {
	q := New(nil, nil)
	const level = 100
	var fired int32
	if err := q.RegisterLowWater(func() { atomic.AddInt32(&fired, 1) }, level); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < level+1; i++ {
		if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); err != nil {
			t.Fatal(err)
		}
	}
	// length is now level+1 (101); dequeue one to cross from 101 to 100.
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("Dequeue() failed")
	}
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("callback fired %d times on the crossing dequeue, want 1", got)
	}

	// Further dequeues below the level must not re-fire.
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("Dequeue() failed")
	}
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("callback fired %d times after staying below level, want 1", got)
	}
}

func TestRegisterLowWaterRejectsOutOfRangeLevel(t *testing.T) {
	q := New(nil, nil)
	if err := q.RegisterLowWater(func() {}, -1); !errors.Is(err, cwerr.InvalidArgument) {
		t.Errorf("level=-1: err = %v, want InvalidArgument", err)
	}
	if err := q.RegisterLowWater(func() {}, Capacity-2); !errors.Is(err, cwerr.InvalidArgument) {
		t.Errorf("level=Capacity-2: err = %v, want InvalidArgument", err)
	}
	if err := q.RegisterLowWater(func() {}, Capacity-3); err != nil {
		t.Errorf("level=Capacity-3: err = %v, want nil", err)
	}
}

func TestWaitForToneUnblocksOnDequeue(t *testing.T) {
	q := New(nil, nil)
	if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- q.WaitForTone() }()

	time.Sleep(20 * time.Millisecond)
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("Dequeue() failed")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForTone() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForTone() did not unblock after a dequeue")
	}
}

func TestWaitFailsDeadlockWhenSignalsMasked(t *testing.T) {
	q := New(nil, nil)
	q.BlockCallbacks(true)

	if err := q.WaitForTone(); !errors.Is(err, cwerr.Deadlock) {
		t.Errorf("WaitForTone() masked: err = %v, want Deadlock", err)
	}
	if err := q.WaitForQueue(); !errors.Is(err, cwerr.Deadlock) {
		t.Errorf("WaitForQueue() masked: err = %v, want Deadlock", err)
	}
	if err := q.WaitForLevel(0); !errors.Is(err, cwerr.Deadlock) {
		t.Errorf("WaitForLevel() masked: err = %v, want Deadlock", err)
	}
}

func TestFlushEmptiesQueue(t *testing.T) {
	q := New(nil, nil)
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); err != nil {
			t.Fatal(err)
		}
	}
	q.SetDispatcherIdle(true)
	q.Flush()
	if q.Length() != 0 {
		t.Errorf("Length() after Flush() = %d, want 0", q.Length())
	}
}

func TestResetClearsLowWaterCallback(t *testing.T) {
	q := New(nil, nil)
	var fired bool
	if err := q.RegisterLowWater(func() { fired = true }, 0); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}
	q.Reset()
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue() after Reset() should see an empty queue")
	}
	if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("Dequeue() failed")
	}
	if fired {
		t.Error("low-water callback fired after Reset() cleared it")
	}
}

func TestReentrantEnqueueFromLowWaterCallback(t *testing.T) {
	q := New(nil, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	reentered := false
	if err := q.RegisterLowWater(func() {
		defer wg.Done()
		if err := q.Enqueue(Tone{DurationUsec: 99, FrequencyHz: 700}); err != nil {
			t.Errorf("re-entrant Enqueue() from callback: err = %v", err)
			return
		}
		reentered = true
	}, 0); err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(Tone{DurationUsec: 1, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}
	if _, ok := q.Dequeue(); !ok {
		t.Fatal("Dequeue() failed")
	}
	wg.Wait()
	if !reentered {
		t.Fatal("low-water callback did not successfully re-enqueue")
	}
	if q.Length() != 1 {
		t.Errorf("Length() after re-entrant enqueue = %d, want 1", q.Length())
	}
}
