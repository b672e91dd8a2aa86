// internal/cw/adaptive.go
// Package cw implements dictionary-assisted adaptive timing correction,
// layered as an optional decorator on top of Receiver.
package cw

import (
	"strings"
	"sync"

	"github.com/n0call/cwengine/internal/timing"
)

// Element timing constants
const (
	// MinPatternConfidence is the minimum confidence score to trigger adjustment (0.0-1.0)
	MinPatternConfidence = 0.7
	// MinMatchesForAdjustment is the minimum pattern matches before adjusting timing
	MinMatchesForAdjustment = 3
	// AdaptiveAdjustmentRate is how fast to nudge the solver's tolerance (EMA factor)
	AdaptiveAdjustmentRate = 0.1
	// recognizedTolerancePct is the tolerance percentage a confidently
	// recognized word nudges the solver towards: fewer legitimate
	// mis-reads need as much slack once the dictionary keeps confirming
	// the current speed estimate.
	recognizedTolerancePct = 35
	// wordBufferCap bounds the rolling decoded-character buffer.
	wordBufferCap = MaxPatternLength
	// MaxPatternLength is the longest dictionary entry tracked.
	MaxPatternLength = 8
)

// MorsePattern is a known CW word or prosign the adaptive post-processor
// recognizes in the Receiver's decoded output.
type MorsePattern struct {
	Text     string // the decoded text, e.g. "CQ"
	Priority int    // higher priority wins ties when multiple patterns fit
}

// CommonPatterns contains frequently used CW words and phrases, grounded
// on standard amateur-radio Q-codes and prosigns.
var CommonPatterns = []MorsePattern{
	{Text: "CQ", Priority: 10},
	{Text: "DE", Priority: 10},
	{Text: "73", Priority: 9},
	{Text: "5NN", Priority: 9},
	{Text: "599", Priority: 8},
	{Text: "QTH", Priority: 7},
	{Text: "QRZ", Priority: 7},
	{Text: "QSO", Priority: 7},
	{Text: "QSL", Priority: 7},
	{Text: "TU", Priority: 8},
	{Text: "GM", Priority: 7},
	{Text: "GA", Priority: 7},
	{Text: "GE", Priority: 7},
	{Text: "UR", Priority: 6},
	{Text: "FB", Priority: 6},
	{Text: "ES", Priority: 6},
	{Text: "HR", Priority: 5},
}

var patternsByText = func() map[string]*MorsePattern {
	m := make(map[string]*MorsePattern, len(CommonPatterns))
	for i := range CommonPatterns {
		m[CommonPatterns[i].Text] = &CommonPatterns[i]
	}
	return m
}()

// AdaptiveConfig holds configuration for the adaptive post-processor.
type AdaptiveConfig struct {
	// Enabled turns on dictionary-assisted tolerance nudging.
	Enabled bool
	// MinConfidence is unused by exact-text matching but kept for
	// embedders that want to gate on it externally (from config:
	// adaptive_min_confidence).
	MinConfidence float64
	// AdjustmentRate is the EMA rate for tolerance nudges (from config:
	// adaptive_adjustment_rate).
	AdjustmentRate float64
	// MinMatchesForAdjust is how many times a word must recur before its
	// recognition nudges the solver (from config: adaptive_min_matches).
	MinMatchesForAdjust int
}

// CorrectedOutput reports a dictionary match and any resulting timing
// adjustment.
type CorrectedOutput struct {
	// Word is the decoded text that matched.
	Word string
	// Pattern is the matched dictionary entry.
	Pattern *MorsePattern
	// MatchCount is how many times this word has now been recognized.
	MatchCount int
	// TimingAdjusted is true if the solver's tolerance was nudged.
	TimingAdjusted bool
}

// CorrectedCallback is called when a dictionary match occurs.
type CorrectedCallback func(output CorrectedOutput)

// AdaptivePostProcessor observes a Receiver's decoded characters (fed via
// RecordCharacter, driven by the caller's Receiver.Character() calls) and
// nudges a timing.Solver's tolerance towards recognizedTolerancePct once a
// dictionary word recurs often enough. It never changes the Receiver's own
// observable behavior — it only watches its output and adjusts the solver
// the Receiver itself reads from.
type AdaptivePostProcessor struct {
	solver *timing.Solver
	config AdaptiveConfig

	mu          sync.Mutex
	wordBuffer  []rune
	matchCounts map[string]int

	correctedCallback CorrectedCallback
}

// NewAdaptivePostProcessor wraps solver with dictionary-assisted tolerance
// nudging. Off by default via config.Enabled; always safe to construct.
func NewAdaptivePostProcessor(solver *timing.Solver, config AdaptiveConfig) *AdaptivePostProcessor {
	if config.AdjustmentRate <= 0 {
		config.AdjustmentRate = AdaptiveAdjustmentRate
	}
	if config.MinMatchesForAdjust <= 0 {
		config.MinMatchesForAdjust = MinMatchesForAdjustment
	}
	if config.MinConfidence <= 0 {
		config.MinConfidence = MinPatternConfidence
	}

	return &AdaptivePostProcessor{
		solver:      solver,
		config:      config,
		wordBuffer:  make([]rune, 0, wordBufferCap),
		matchCounts: make(map[string]int),
	}
}

// SetCorrectedCallback sets the callback invoked on dictionary matches.
func (a *AdaptivePostProcessor) SetCorrectedCallback(cb CorrectedCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.correctedCallback = cb
}

// RecordCharacter feeds one decoded character into the rolling word
// buffer. Call this with every non-zero rune Receiver.Character() returns;
// pass isWordEnd true on a word-space boundary to flush and check the
// buffer against the dictionary.
func (a *AdaptivePostProcessor) RecordCharacter(ch rune, isWordEnd bool) {
	if !a.config.Enabled {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ch != 0 {
		a.wordBuffer = append(a.wordBuffer, ch)
		if len(a.wordBuffer) > wordBufferCap {
			a.wordBuffer = a.wordBuffer[len(a.wordBuffer)-wordBufferCap:]
		}
	}

	if isWordEnd {
		a.checkPatternLocked()
		a.wordBuffer = a.wordBuffer[:0]
	}
}

func (a *AdaptivePostProcessor) checkPatternLocked() {
	if len(a.wordBuffer) == 0 {
		return
	}
	word := strings.ToUpper(string(a.wordBuffer))
	pattern, ok := patternsByText[word]
	if !ok {
		return
	}

	a.matchCounts[pattern.Text]++
	count := a.matchCounts[pattern.Text]

	output := CorrectedOutput{Word: word, Pattern: pattern, MatchCount: count}
	if count >= a.config.MinMatchesForAdjust {
		output.TimingAdjusted = a.nudgeToleranceLocked()
	}

	if a.correctedCallback != nil {
		a.correctedCallback(output)
	}
}

// nudgeToleranceLocked moves the solver's tolerance one EMA step towards
// recognizedTolerancePct, clamped to the solver's valid range.
func (a *AdaptivePostProcessor) nudgeToleranceLocked() bool {
	current := float64(a.solver.Tolerance())
	next := current*(1-a.config.AdjustmentRate) + recognizedTolerancePct*a.config.AdjustmentRate
	rounded := int(next + 0.5)
	if rounded < timing.ToleranceMin {
		rounded = timing.ToleranceMin
	}
	if rounded > timing.ToleranceMax {
		rounded = timing.ToleranceMax
	}
	if rounded == a.solver.Tolerance() {
		return false
	}
	return a.solver.SetTolerance(rounded) == nil
}

// GetPatternMatchCounts returns the count of dictionary matches seen so far.
func (a *AdaptivePostProcessor) GetPatternMatchCounts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[string]int, len(a.matchCounts))
	for k, v := range a.matchCounts {
		counts[k] = v
	}
	return counts
}

// Reset clears the rolling word buffer and match counts.
func (a *AdaptivePostProcessor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.wordBuffer = a.wordBuffer[:0]
	a.matchCounts = make(map[string]int)
}
