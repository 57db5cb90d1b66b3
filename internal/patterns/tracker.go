// Package patterns accumulates remediation outcomes per detection pattern so
// ranking confidence can drift towards what actually gets fixed.
package patterns

import (
	"log/slog"
	"sync"

	"github.com/probestack/medic/internal/models"
)

// maxAdjustment bounds how far observed outcomes can move a pattern's
// ranking confidence.
const maxAdjustment = 0.05

// Tracker is safe for concurrent use. A nil *Tracker is valid and inert, so
// callers never need to branch on whether learning is enabled.
type Tracker struct {
	logger *slog.Logger

	mu    sync.Mutex
	stats map[string]*outcomeStats
}

type outcomeStats struct {
	attempts  int
	successes int
}

// NewTracker returns an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger, stats: make(map[string]*outcomeStats)}
}

// RecordOutcome notes whether remediating an issue detected by a pattern
// succeeded. Issues without a pattern id (the unknown-error fallback) are
// ignored.
func (t *Tracker) RecordOutcome(issue models.Issue, succeeded bool) {
	if t == nil || issue.PatternID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[issue.PatternID]
	if !ok {
		s = &outcomeStats{}
		t.stats[issue.PatternID] = s
	}
	s.attempts++
	if succeeded {
		s.successes++
	}
}

// SuccessRate reports the observed remediation rate for one pattern. The
// second return is false when the pattern has no recorded outcomes.
func (t *Tracker) SuccessRate(patternID string) (float64, bool) {
	if t == nil {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[patternID]
	if !ok || s.attempts == 0 {
		return 0, false
	}
	return float64(s.successes) / float64(s.attempts), true
}

// Adjust nudges a base confidence by the pattern's observed success rate.
// Patterns whose fixes keep working drift up, patterns whose fixes keep
// failing drift down, never by more than maxAdjustment. Unobserved patterns
// pass through unchanged.
func (t *Tracker) Adjust(patternID string, base float64) float64 {
	rate, ok := t.SuccessRate(patternID)
	if !ok {
		return base
	}

	delta := (rate - 0.5) * 2 * maxAdjustment
	adjusted := base + delta
	if adjusted > 1 {
		adjusted = 1
	}
	if adjusted < 0 {
		adjusted = 0
	}
	return adjusted
}
