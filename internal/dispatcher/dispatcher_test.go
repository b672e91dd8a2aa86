package dispatcher

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/n0call/cwengine/internal/toneq"
)

type fakeSink struct {
	mu       sync.Mutex
	sounding bool
	lastFreq int
}

func (s *fakeSink) SetTone(freq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sounding = true
	s.lastFreq = freq
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

func newWired(t *testing.T) (*toneq.Queue, *Dispatcher, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	var d *Dispatcher
	q := toneq.New(nil, func() { d.Kick() })
	d = New(q, sink)
	return q, d, sink
}

func TestEnqueueDrainsAndFiresKeyingCallback(t *testing.T) {
	q, d, sink := newWired(t)

	var transitions []bool
	var mu sync.Mutex
	d.SetKeyingCallback(func(down bool) {
		mu.Lock()
		transitions = append(transitions, down)
		mu.Unlock()
	})

	if err := q.Enqueue(toneq.Tone{DurationUsec: 20_000, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.isSounding() == false && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !sink.isSounding() {
		t.Fatal("sink never started sounding")
	}

	if err := q.WaitForQueue(); err != nil {
		t.Fatalf("WaitForQueue() error = %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for sink.isSounding() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sink.isSounding() {
		t.Fatal("sink still sounding after dispatcher reached idle")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != true || transitions[1] != false {
		t.Fatalf("transitions = %v, want [true false]", transitions)
	}
}

func TestDuplicateSuccessiveKeyStatesAreDeduped(t *testing.T) {
	q, d, _ := newWired(t)

	var calls int32
	d.SetKeyingCallback(func(down bool) { atomic.AddInt32(&calls, 1) })

	// Two consecutive sounding tones at the same frequency: only one
	// key-down transition should fire, not two.
	if err := q.Enqueue(toneq.Tone{DurationUsec: 5_000, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(toneq.Tone{DurationUsec: 5_000, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}

	if err := q.WaitForQueue(); err != nil {
		t.Fatalf("WaitForQueue() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("keying callback fired %d times, want 2 (one down, one up)", got)
	}
}

func TestZeroDurationDirectiveAppliesImmediately(t *testing.T) {
	q, d, sink := newWired(t)
	_ = d

	if err := q.Enqueue(toneq.Tone{DurationUsec: 0, FrequencyHz: 700}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(toneq.Tone{DurationUsec: 0, FrequencyHz: 0}); err != nil {
		t.Fatal(err)
	}

	if err := q.WaitForQueue(); err != nil {
		t.Fatalf("WaitForQueue() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if sink.isSounding() {
		t.Error("sink should be silent after the second zero-duration directive set frequency 0")
	}
}

func TestFinalizationStartsAfterQueueEmpties(t *testing.T) {
	q, d, _ := newWired(t)

	if err := q.Enqueue(toneq.Tone{DurationUsec: 1_000, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}
	if err := q.WaitForQueue(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !d.FinalizationActive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !d.FinalizationActive() {
		t.Fatal("finalization never started after queue emptied")
	}
}

func TestActivityCancelsFinalization(t *testing.T) {
	q, d, _ := newWired(t)

	if err := q.Enqueue(toneq.Tone{DurationUsec: 1_000, FrequencyHz: 600}); err != nil {
		t.Fatal(err)
	}
	if err := q.WaitForQueue(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !d.FinalizationActive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !d.FinalizationActive() {
		t.Fatal("finalization never started")
	}

	d.NotifyActivity()
	if d.FinalizationActive() {
		t.Error("finalization still active immediately after NotifyActivity")
	}
}
