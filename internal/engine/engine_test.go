package engine

import (
	"testing"
	"time"

	"github.com/n0call/cwengine/internal/config"
	"github.com/n0call/cwengine/internal/cw"
)

func testSettings() *config.Settings {
	return &config.Settings{
		SampleRate:         44100,
		ToneFrequency:      600,
		SendWPM:            20,
		RecvWPM:            20,
		Weighting:          50,
		GapDots:            0,
		TolerancePct:       50,
		VolumePercent:      100,
		NoiseThresholdUsec: 0,
		SinkVariant:        "silent",
		QueueLowWater:      1,
	}
}

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	h, err := New(testSettings(), nil)
	if err != nil {
		t.Fatalf("New() = %v, want nil error", err)
	}
	return h
}

func TestNewWiresAllSubsystems(t *testing.T) {
	h := newTestHandle(t)
	if h.solver == nil || h.queue == nil || h.dispatcher == nil || h.generator == nil ||
		h.backend == nil || h.keyer == nil || h.straightKey == nil || h.receiver == nil {
		t.Fatal("New() left a subsystem unwired")
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	h := newTestHandle(t)
	if err := h.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := h.Start(); err != nil {
		t.Fatalf("second Start() = %v, want nil", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop() = %v, want nil", err)
	}
}

func TestDeleteRejectsFurtherStart(t *testing.T) {
	h := newTestHandle(t)
	if err := h.Delete(); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if err := h.Start(); err == nil {
		t.Fatal("Start() after Delete() = nil error, want StateError")
	}
	if err := h.Delete(); err != nil {
		t.Fatalf("second Delete() = %v, want nil", err)
	}
}

func TestSendCharacterEnqueuesTones(t *testing.T) {
	h := newTestHandle(t)
	if err := h.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer h.Stop()

	// 'E' is a single dot: one tone, plus a trailing end-of-character gap.
	if err := h.SendCharacter('E'); err != nil {
		t.Fatalf("SendCharacter('E') = %v", err)
	}
}

func TestSendCharacterUnknownReturnsNotFound(t *testing.T) {
	h := newTestHandle(t)
	if err := h.SendCharacter('#'); err == nil {
		t.Fatal("SendCharacter('#') = nil error, want NotFound")
	}
}

func TestSendRepresentationRejectsInvalidSymbols(t *testing.T) {
	h := newTestHandle(t)
	if err := h.SendRepresentation(".x-"); err == nil {
		t.Fatal("SendRepresentation with invalid symbol = nil error, want InvalidArgument")
	}
}

func TestBusyCheckersReflectKeyerAndStraightKeyState(t *testing.T) {
	h := newTestHandle(t)
	if h.isOtherBusy() {
		t.Fatal("isOtherBusy() = true on a freshly wired handle, want false")
	}
	if h.isKeyerBusy() {
		t.Fatal("isKeyerBusy() = true on a freshly wired handle, want false")
	}
	if h.isStraightKeyBusy() {
		t.Fatal("isStraightKeyBusy() = true on a freshly wired handle, want false")
	}

	if err := h.straightKey.NotifyEvent(true); err != nil {
		t.Fatalf("NotifyEvent(true) = %v", err)
	}
	if !h.isOtherBusy() {
		t.Fatal("isOtherBusy() = false with straight key down, want true")
	}
	if !h.isKeyerBusy() {
		t.Fatal("isKeyerBusy() = false with straight key down, want true")
	}
}

func TestCompleteResetLeavesFinalizationDisarmed(t *testing.T) {
	h := newTestHandle(t)
	h.CompleteReset()
	if h.dispatcher.FinalizationActive() {
		t.Fatal("CompleteReset() left finalization armed")
	}
}

func TestRegisterSignalHandlerStopsCleanly(t *testing.T) {
	h := newTestHandle(t)
	h.RegisterSignalHandler(nil)
	h.StopSignalHandler()
}

func tsAt(t time.Time) cw.Timestamp {
	return cw.Timestamp{Sec: t.Unix(), Usec: int64(t.Nanosecond() / 1000)}
}

func TestNotifyToneDecodesADit(t *testing.T) {
	h := newTestHandle(t)

	start := time.Now()
	if _, _, err := h.NotifyTone(true, tsAt(start)); err != nil {
		t.Fatalf("NotifyTone(start) = %v", err)
	}
	if _, _, err := h.NotifyTone(false, tsAt(start.Add(50*time.Millisecond))); err != nil {
		t.Fatalf("NotifyTone(end) = %v", err)
	}

	// The next tone start, after a long enough gap, flushes the buffered
	// dot as a decoded character.
	ch, _, err := h.NotifyTone(true, tsAt(start.Add(500*time.Millisecond)))
	if err != nil {
		t.Fatalf("NotifyTone(next start) = %v", err)
	}
	if ch != 'E' {
		t.Errorf("decoded character = %q, want 'E'", ch)
	}
}

// TestNotifyToneAccumulatesMultiElementCharacter drives "..." ('S') one
// dot at a time with ordinary ~60ms inter-element gaps (wpm=20). Each
// rising edge before the word-ending silence must keep accumulating
// instead of flushing a premature 'E' on the second dot.
func TestNotifyToneAccumulatesMultiElementCharacter(t *testing.T) {
	h := newTestHandle(t)

	start := time.Now()
	cursor := start
	for i := 0; i < 3; i++ {
		if _, _, err := h.NotifyTone(true, tsAt(cursor)); err != nil {
			t.Fatalf("NotifyTone(start %d) = %v", i, err)
		}
		cursor = cursor.Add(50 * time.Millisecond)
		if _, _, err := h.NotifyTone(false, tsAt(cursor)); err != nil {
			t.Fatalf("NotifyTone(end %d) = %v", i, err)
		}
		cursor = cursor.Add(60 * time.Millisecond)
	}

	ch, eow, err := h.NotifyTone(true, tsAt(cursor.Add(400*time.Millisecond)))
	if err != nil {
		t.Fatalf("NotifyTone(flush) = %v", err)
	}
	if ch != 'S' {
		t.Errorf("decoded character = %q, want 'S'", ch)
	}
	if !eow {
		t.Error("eow = false, want true after a long trailing gap")
	}
}
