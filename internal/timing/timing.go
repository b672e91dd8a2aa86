// Package timing implements the timing parameter solver: it derives dot,
// dash, and inter-element/character/word delays (in microseconds) from
// high-level settings (WPM, weighting, Farnsworth gap, tolerance) and keeps
// send-side and receive-side ranges in sync.
package timing

import (
	"sync"

	"github.com/n0call/cwengine/internal/cwerr"
)

// Limits, mirrored from the teacher's internal/config range-validation
// style (internal/config/config.go Validate()).
const (
	SpeedMin = 4   // WPM
	SpeedMax = 60  // WPM
	FreqMin  = 0   // Hz; 0 denotes silence at the tone-queue layer
	FreqMax  = 4000
	WeightingMin = 20
	WeightingMax = 80
	ToleranceMin = 0
	ToleranceMax = 90
	VolumeMin    = 0
	VolumeMax    = 100
	GapMin       = 0
	GapMax       = 60
)

// SendParams holds the derived send-side durations, all in microseconds.
// Field names and formulas are exactly spec.md §3's "Send parameters
// (derived)".
type SendParams struct {
	Unit           int
	DotLen         int
	DashLen        int
	EndOfElement   int
	EndOfCharacter int
	EndOfWord      int
	GapAdditional  int
	GapAdjustment  int
}

// RecvParams holds the derived receive-side ranges, all in microseconds.
type RecvParams struct {
	Unit               int
	DotLen             int
	DashLen            int
	AdaptiveThreshold  int
	DotRangeMin        int
	DotRangeMax        int
	DashRangeMin       int
	EndOfCharacterMax  int
	Tolerance          int // fixed-mode only; 0 in adaptive mode
}

// Solver derives timings from high-level settings and keeps them
// invalidated/recomputed on any parameter change, per spec.md §4.1.
type Solver struct {
	mu sync.Mutex

	sendWPM    int
	recvWPM    int
	weighting  int
	gapDots    int
	tolerance  int
	frequency  int
	volume     int
	noiseUsec  int
	adaptive   bool

	dirty bool
	send  SendParams
	recv  RecvParams
}

// New returns a Solver at sensible defaults (12 WPM both ways, weighting
// 50, no gap, 50% tolerance, 800 Hz, full volume), matching the teacher's
// config defaults in spirit (internal/config/config.go DefaultConfig).
func New() *Solver {
	s := &Solver{
		sendWPM:   12,
		recvWPM:   12,
		weighting: 50,
		gapDots:   0,
		tolerance: 50,
		frequency: 800,
		volume:    100,
		dirty:     true,
	}
	return s
}

func rangeErr(msg string) error { return cwerr.New(cwerr.KindInvalidArgument, msg) }

// SetSendSpeed sets the send speed in WPM.
func (s *Solver) SetSendSpeed(wpm int) error {
	if wpm < SpeedMin || wpm > SpeedMax {
		return rangeErr("send speed out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendWPM != wpm {
		s.sendWPM = wpm
		s.dirty = true
	}
	return nil
}

// SendSpeed returns the current send speed in WPM.
func (s *Solver) SendSpeed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendWPM
}

// SetRecvSpeed sets the receive speed in WPM. Fails with NotPermitted if
// adaptive receive tracking is currently enabled (spec.md §4.1).
func (s *Solver) SetRecvSpeed(wpm int) error {
	if wpm < SpeedMin || wpm > SpeedMax {
		return rangeErr("recv speed out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adaptive {
		return cwerr.New(cwerr.KindNotPermitted, "cannot set receive speed while adaptive tracking is enabled")
	}
	if s.recvWPM != wpm {
		s.recvWPM = wpm
		s.dirty = true
	}
	return nil
}

// RecvSpeed returns the current receive speed in WPM.
func (s *Solver) RecvSpeed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvWPM
}

// SetGap sets the Farnsworth gap, in dot units added between characters.
func (s *Solver) SetGap(dots int) error {
	if dots < GapMin || dots > GapMax {
		return rangeErr("gap out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gapDots != dots {
		s.gapDots = dots
		s.dirty = true
	}
	return nil
}

// Gap returns the current Farnsworth gap in dot units.
func (s *Solver) Gap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gapDots
}

// SetTolerance sets the receive tolerance percentage used in fixed
// (non-adaptive) receive mode.
func (s *Solver) SetTolerance(pct int) error {
	if pct < ToleranceMin || pct > ToleranceMax {
		return rangeErr("tolerance out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tolerance != pct {
		s.tolerance = pct
		s.dirty = true
	}
	return nil
}

// Tolerance returns the current receive tolerance percentage.
func (s *Solver) Tolerance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tolerance
}

// SetWeighting sets the send weighting percentage (50 = unweighted).
func (s *Solver) SetWeighting(pct int) error {
	if pct < WeightingMin || pct > WeightingMax {
		return rangeErr("weighting out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.weighting != pct {
		s.weighting = pct
		s.dirty = true
	}
	return nil
}

// Weighting returns the current send weighting percentage.
func (s *Solver) Weighting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weighting
}

// SetFrequency sets the tone frequency in Hz. 0 means silence.
func (s *Solver) SetFrequency(hz int) error {
	if hz != 0 && (hz < FreqMin || hz > FreqMax) {
		return rangeErr("frequency out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frequency != hz {
		s.frequency = hz
		s.dirty = true
	}
	return nil
}

// Frequency returns the current tone frequency in Hz.
func (s *Solver) Frequency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frequency
}

// SetVolume sets the volume percentage (0-100).
func (s *Solver) SetVolume(pct int) error {
	if pct < VolumeMin || pct > VolumeMax {
		return rangeErr("volume out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.volume != pct {
		s.volume = pct
		s.dirty = true
	}
	return nil
}

// Volume returns the current volume percentage.
func (s *Solver) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetNoiseThreshold sets the noise threshold in microseconds; marks shorter
// than or equal to this are ignored by the receiver (spec.md §4.8).
func (s *Solver) SetNoiseThreshold(usec int) error {
	if usec < 0 {
		return rangeErr("noise threshold must be non-negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noiseUsec != usec {
		s.noiseUsec = usec
		s.dirty = true
	}
	return nil
}

// NoiseThreshold returns the current noise threshold in microseconds.
func (s *Solver) NoiseThreshold() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noiseUsec
}

// EnableAdaptive turns on adaptive receive speed tracking.
func (s *Solver) EnableAdaptive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enableAdaptiveLocked()
}

// enableAdaptiveLocked implements the §4.8 "adaptive re-sync quirk": toggling
// adaptive mode drops it briefly, resolves once, re-enables, and resolves
// again so that parameters other than the threshold itself reflect the new
// mode too. Reproduced deliberately, not simplified away.
func (s *Solver) enableAdaptiveLocked() {
	s.adaptive = false
	s.dirty = true
	s.resolveLocked()
	s.adaptive = true
	s.dirty = true
	s.resolveLocked()
}

// DisableAdaptive turns off adaptive receive speed tracking and re-solves.
func (s *Solver) DisableAdaptive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adaptive = false
	s.dirty = true
	s.resolveLocked()
}

// AdaptiveEnabled reports whether adaptive receive tracking is on.
func (s *Solver) AdaptiveEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adaptive
}

// SetAdaptiveThreshold feeds a newly-tracked threshold (in microseconds)
// back into the solver from the receiver (spec.md §4.8: "recompute
// adaptive_threshold ... then re-solve"). wpmRecv is derived as
// 1_200_000 / (threshold/2) and clamped to [SpeedMin, SpeedMax]; if
// clamping occurs, adaptive mode is dropped, resolved at the clamped fixed
// speed, then re-enabled and resolved again (spec.md §4.1).
func (s *Solver) SetAdaptiveThreshold(thresholdUsec int) {
	if thresholdUsec <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wpm := 1_200_000 / (thresholdUsec / 2)
	clamped := wpm
	if clamped < SpeedMin {
		clamped = SpeedMin
	}
	if clamped > SpeedMax {
		clamped = SpeedMax
	}

	s.recvWPM = clamped
	s.dirty = true

	if clamped != wpm {
		// Clamp path: resolve once at fixed speed, then re-enable adaptive
		// and resolve again (spec.md §4.1).
		s.adaptive = false
		s.resolveLocked()
		s.enableAdaptiveLocked()
		return
	}
	s.resolveLocked()
}

// Resolve recomputes derived timings if the dirty bit is set. It is safe
// (and idempotent) to call before every operation that needs current
// timings, per spec.md §4.1's "invoked lazily" rationale.
func (s *Solver) Resolve() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveLocked()
}

func (s *Solver) resolveLocked() {
	if !s.dirty {
		return
	}
	s.send = computeSend(s.sendWPM, s.weighting, s.gapDots)
	s.recv = computeRecv(s.recvWPM, s.tolerance, s.adaptive)
	s.dirty = false
}

// Send returns the current derived send parameters, resolving first if
// dirty.
func (s *Solver) Send() SendParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveLocked()
	return s.send
}

// Recv returns the current derived receive parameters, resolving first if
// dirty.
func (s *Solver) Recv() RecvParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveLocked()
	return s.recv
}

// computeSend implements spec.md §3's "Send parameters (derived)" formulas
// exactly.
func computeSend(wpm, weighting, gapDots int) SendParams {
	unit := 1_200_000 / wpm
	weightAdj := 2 * (weighting - 50) * unit / 100
	dotLen := unit + weightAdj
	dashLen := 3 * dotLen
	eoe := unit - (28*weightAdj)/22
	eoc := 3*unit - eoe
	eow := 7*unit - eoc
	gapAdditional := gapDots * unit
	gapAdjustment := (7 * gapAdditional) / 3

	return SendParams{
		Unit:           unit,
		DotLen:         dotLen,
		DashLen:        dashLen,
		EndOfElement:   eoe,
		EndOfCharacter: eoc,
		EndOfWord:      eow,
		GapAdditional:  gapAdditional,
		GapAdjustment:  gapAdjustment,
	}
}

// computeRecv implements spec.md §3's "Receive parameters (derived)"
// formulas exactly, for both fixed and adaptive mode.
func computeRecv(wpm, tolerancePct int, adaptive bool) RecvParams {
	unit := 1_200_000 / wpm
	dotLen := unit
	dashLen := 3 * unit

	r := RecvParams{
		Unit:    unit,
		DotLen:  dotLen,
		DashLen: dashLen,
	}

	if adaptive {
		r.DotRangeMin = 0
		r.DotRangeMax = 2 * dotLen
		r.DashRangeMin = 2*dotLen + 1
		r.EndOfCharacterMax = 5 * dotLen
		r.AdaptiveThreshold = 2 * unit
		return r
	}

	tolerance := dotLen * tolerancePct / 100
	r.Tolerance = tolerance
	r.DotRangeMin = max0(dotLen - tolerance)
	r.DotRangeMax = dotLen + tolerance
	r.DashRangeMin = dashLen - tolerance
	r.EndOfCharacterMax = 3*unit + tolerance
	return r
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
