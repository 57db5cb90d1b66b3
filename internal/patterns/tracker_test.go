package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/probestack/medic/internal/models"
)

func TestTrackerSuccessRate(t *testing.T) {
	tr := NewTracker(nil)

	issue := models.Issue{IssueID: "1", PatternID: "connection_refused"}
	tr.RecordOutcome(issue, true)
	tr.RecordOutcome(issue, true)
	tr.RecordOutcome(issue, false)

	rate, ok := tr.SuccessRate("connection_refused")
	assert.True(t, ok)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)

	_, ok = tr.SuccessRate("never_seen")
	assert.False(t, ok)
}

func TestTrackerIgnoresPatternlessIssues(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordOutcome(models.Issue{IssueID: "1", Type: models.IssueUnknownError}, true)

	_, ok := tr.SuccessRate("")
	assert.False(t, ok)
}

func TestTrackerAdjust(t *testing.T) {
	tr := NewTracker(nil)
	issue := models.Issue{IssueID: "1", PatternID: "timeout_error"}

	// unobserved patterns pass through
	assert.Equal(t, 0.9, tr.Adjust("timeout_error", 0.9))

	// all successes push up by the full bound
	tr.RecordOutcome(issue, true)
	tr.RecordOutcome(issue, true)
	assert.InDelta(t, 0.95, tr.Adjust("timeout_error", 0.9), 1e-9)

	// clamped at 1.0
	assert.Equal(t, 1.0, tr.Adjust("timeout_error", 0.98))
}

func TestTrackerAdjustPushesDown(t *testing.T) {
	tr := NewTracker(nil)
	issue := models.Issue{IssueID: "1", PatternID: "auth_error"}

	tr.RecordOutcome(issue, false)
	tr.RecordOutcome(issue, false)
	assert.InDelta(t, 0.87, tr.Adjust("auth_error", 0.92), 1e-9)
}

func TestNilTrackerIsInert(t *testing.T) {
	var tr *Tracker
	tr.RecordOutcome(models.Issue{PatternID: "x"}, true)

	_, ok := tr.SuccessRate("x")
	assert.False(t, ok)
	assert.Equal(t, 0.8, tr.Adjust("x", 0.8))
}
