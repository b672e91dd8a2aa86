package generator

import (
	"errors"
	"testing"

	"github.com/n0call/cwengine/internal/cwerr"
)

func TestNewRejectsUnsupportedSampleRate(t *testing.T) {
	if _, err := New(8000); !errors.Is(err, cwerr.InvalidArgument) {
		t.Errorf("New(8000) err = %v, want InvalidArgument", err)
	}
	if _, err := New(PreferredSampleRate); err != nil {
		t.Errorf("New(%d) err = %v, want nil", PreferredSampleRate, err)
	}
}

func TestAmplitudeStaysWithinBounds(t *testing.T) {
	g, err := New(PreferredSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetVolume(100); err != nil {
		t.Fatal(err)
	}
	g.SetTone(600)

	buf := make([]int16, 4000)
	for block := 0; block < 5; block++ {
		g.NextBlock(buf)
		if g.Amplitude() < 0 || g.Amplitude() > AmplitudeMax {
			t.Fatalf("amplitude out of [0, %d]: %v", AmplitudeMax, g.Amplitude())
		}
	}
}

func TestAttackReachesPeakThenHoldsSlopeZero(t *testing.T) {
	g, err := New(PreferredSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetVolume(50); err != nil {
		t.Fatal(err)
	}
	g.SetTone(600)

	buf := make([]int16, 20000)
	g.NextBlock(buf)

	want := g.peakAmplitude()
	if g.Amplitude() != want {
		t.Errorf("amplitude after long attack = %v, want peak %v", g.Amplitude(), want)
	}
	if g.slope != 0 {
		t.Errorf("slope after attack completes = %v, want 0", g.slope)
	}
}

func TestReleaseDecaysToZeroAndClearsSlope(t *testing.T) {
	g, err := New(PreferredSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetVolume(100); err != nil {
		t.Fatal(err)
	}
	g.SetTone(600)
	g.NextBlock(make([]int16, 20000)) // reach full attack

	g.SetTone(0) // release
	if !g.Releasing() {
		t.Fatal("Releasing() = false immediately after SetTone(0)")
	}

	g.NextBlock(make([]int16, 20000))
	if g.Amplitude() != 0 {
		t.Errorf("amplitude after long release = %v, want 0", g.Amplitude())
	}
	if g.Releasing() {
		t.Error("Releasing() = true after amplitude has reached 0")
	}
}

func TestReleaseOutlastsASingleSampleBlock(t *testing.T) {
	// Documents the accepted spec.md §4.5/§9 overshoot: a release started
	// mid-block is not necessarily complete by the end of that same short
	// block, so the generator (and therefore the audible tone) outlives
	// the dispatcher's declared tone duration.
	g, err := New(PreferredSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetVolume(100); err != nil {
		t.Fatal(err)
	}
	g.SetTone(600)
	g.NextBlock(make([]int16, 20000))

	g.SetTone(0)
	g.NextBlock(make([]int16, 1))
	if !g.Releasing() && g.Amplitude() != 0 {
		t.Fatal("unexpected state after a single-sample block mid-release")
	}
	if g.Amplitude() == 0 {
		t.Fatal("a single sample should not have fully decayed a full-volume release")
	}
}

func TestPhaseContinuityAcrossBlocks(t *testing.T) {
	g1, err := New(PreferredSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := g1.SetVolume(100); err != nil {
		t.Fatal(err)
	}
	g1.SetTone(600)
	g1.NextBlock(make([]int16, 20000)) // settle at peak amplitude, slope 0

	bufA := make([]int16, 64)
	bufB := make([]int16, 64)
	g1.NextBlock(bufA)
	g1.NextBlock(bufB)

	g2, err := New(PreferredSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := g2.SetVolume(100); err != nil {
		t.Fatal(err)
	}
	g2.SetTone(600)
	g2.NextBlock(make([]int16, 20000))

	oneShot := make([]int16, 128)
	g2.NextBlock(oneShot)

	for i := 0; i < 64; i++ {
		if diff := int(bufA[i]) - int(oneShot[i]); diff < -1 || diff > 1 {
			t.Fatalf("sample %d diverges: split=%d continuous=%d", i, bufA[i], oneShot[i])
		}
	}
	for i := 0; i < 64; i++ {
		if diff := int(bufB[i]) - int(oneShot[64+i]); diff < -1 || diff > 1 {
			t.Fatalf("sample %d diverges: split=%d continuous=%d", 64+i, bufB[i], oneShot[64+i])
		}
	}
}

func TestSetVolumeRejectsOutOfRange(t *testing.T) {
	g, err := New(PreferredSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetVolume(-1); !errors.Is(err, cwerr.InvalidArgument) {
		t.Errorf("SetVolume(-1) err = %v, want InvalidArgument", err)
	}
	if err := g.SetVolume(101); !errors.Is(err, cwerr.InvalidArgument) {
		t.Errorf("SetVolume(101) err = %v, want InvalidArgument", err)
	}
}
