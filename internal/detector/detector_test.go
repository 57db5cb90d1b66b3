package detector

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/connector/connectortest"
	"github.com/probestack/medic/internal/models"
	"github.com/probestack/medic/internal/patterns"
	"github.com/probestack/medic/internal/utils"
)

func newTestDetector(factory *connectortest.Fake) *Detector {
	return New(utils.NewLoggerTo(io.Discard, "error", false), factory, 200*time.Millisecond, nil, nil)
}

func failedResult(testName, errorInfo, message string) models.TestResult {
	return models.TestResult{
		TestName:  testName,
		Status:    models.StatusFailed,
		Message:   message,
		ErrorInfo: errorInfo,
		Timestamp: time.Now().UTC(),
	}
}

func TestAnalyzeFailuresConnectionRefused(t *testing.T) {
	d := newTestDetector(nil)

	issues := d.AnalyzeFailures([]models.TestResult{
		failedResult("demo_connectivity", "ConnectionRefusedError: [Errno 61] Connection refused", ""),
	})

	require.Len(t, issues, 1)
	assert.Equal(t, models.IssueConnectionFailure, issues[0].Type)
	assert.Equal(t, models.SeverityHigh, issues[0].Severity)
	assert.GreaterOrEqual(t, issues[0].Confidence, 0.90)
	assert.Equal(t, "demo", issues[0].ServerName)
	assert.NotEmpty(t, issues[0].SuggestedRemediation)
}

func TestAnalyzeFailuresIgnoresPassed(t *testing.T) {
	d := newTestDetector(nil)

	issues := d.AnalyzeFailures([]models.TestResult{
		{TestName: "demo_connectivity", Status: models.StatusPassed},
		{TestName: "demo_discovery", Status: models.StatusSkipped},
	})
	assert.Empty(t, issues)
}

func TestAnalyzeFailuresUnknownError(t *testing.T) {
	d := newTestDetector(nil)

	issues := d.AnalyzeFailures([]models.TestResult{
		{
			TestName:  "demo_echo_execution",
			Status:    models.StatusError,
			Message:   "something inexplicable happened",
			ErrorInfo: "something inexplicable happened",
		},
	})

	require.Len(t, issues, 1)
	assert.Equal(t, models.IssueUnknownError, issues[0].Type)
	assert.Equal(t, 0.6, issues[0].Confidence)
}

func TestAnalyzeFailuresGroupsDuplicates(t *testing.T) {
	d := newTestDetector(nil)

	results := []models.TestResult{
		failedResult("demo_connectivity", "Connection refused", ""),
		failedResult("demo_a_execution", "connection refused by peer", ""),
		failedResult("demo_b_execution", "ConnectionRefusedError", ""),
	}

	issues := d.AnalyzeFailures(results)
	require.Len(t, issues, 1)
	assert.Len(t, issues[0].RelatedIssues, 2)
	assert.Equal(t, 1.0, issues[0].Confidence)
}

func TestAnalyzeFailuresLearnsFromOutcomes(t *testing.T) {
	logger := utils.NewLoggerTo(io.Discard, "error", false)
	tracker := patterns.NewTracker(logger)
	d := New(logger, nil, 200*time.Millisecond, nil, tracker)

	// Matches exactly one connection_refused regex, so the score is the
	// pattern base with no multi-match boost.
	result := failedResult("demo_connectivity", "spawn failed: no such file or directory", "")
	issues := d.AnalyzeFailures([]models.TestResult{result})
	require.Len(t, issues, 1)
	baseline := issues[0].Confidence
	require.InDelta(t, 0.95, baseline, 1e-9)

	// Every remediation for this pattern fails, so its score drifts down.
	for i := 0; i < 4; i++ {
		tracker.RecordOutcome(issues[0], false)
	}
	issues = d.AnalyzeFailures([]models.TestResult{result})
	require.Len(t, issues, 1)
	assert.InDelta(t, baseline-0.05, issues[0].Confidence, 1e-9)

	// A streak of successes pulls it back above the baseline.
	for i := 0; i < 16; i++ {
		tracker.RecordOutcome(issues[0], true)
	}
	issues = d.AnalyzeFailures([]models.TestResult{result})
	require.Len(t, issues, 1)
	assert.Greater(t, issues[0].Confidence, baseline)
}

func TestMatchConfidenceTimeoutBoost(t *testing.T) {
	d := newTestDetector(nil)

	slow := models.TestResult{
		TestName:      "demo_echo_execution",
		Status:        models.StatusFailed,
		ExecutionTime: 31 * time.Second,
		ErrorInfo:     "operation timed out",
	}
	issues := d.AnalyzeFailures([]models.TestResult{slow})

	require.Len(t, issues, 1)
	require.Equal(t, models.IssueTimeout, issues[0].Type)
	// base 0.90 plus the slow-execution boost
	assert.Greater(t, issues[0].Confidence, 0.95)
}

func TestCategorize(t *testing.T) {
	d := newTestDetector(nil)

	issues := []models.Issue{
		{IssueID: "1", Type: models.IssueTimeout, Severity: models.SeverityMedium, Confidence: 0.95, ServerName: "demo", Timestamp: time.Now().UTC()},
		{IssueID: "2", Type: models.IssueConnectionFailure, Severity: models.SeverityHigh, Confidence: 0.75, ServerName: "other", Timestamp: time.Now().UTC().Add(-48 * time.Hour)},
		{IssueID: "3", Type: models.IssueUnknownError, Severity: models.SeverityMedium, Confidence: 0.6, ServerName: "demo", Timestamp: time.Now().UTC()},
	}

	cats := d.Categorize(issues)
	assert.Len(t, cats.ByType[models.IssueTimeout], 1)
	assert.Len(t, cats.BySeverity[models.SeverityMedium], 2)
	assert.Len(t, cats.ByServer["demo"], 2)
	assert.Len(t, cats.ByConfidence["high"], 1)
	assert.Len(t, cats.ByConfidence["medium"], 1)
	assert.Len(t, cats.ByConfidence["low"], 1)
	assert.Len(t, cats.Recent, 2)
	assert.Empty(t, cats.Recurring)
}

func TestCategorizeRecurring(t *testing.T) {
	d := newTestDetector(nil)

	// Three analyzed occurrences of the same signature make it recurring.
	for i := 0; i < 3; i++ {
		d.AnalyzeFailures([]models.TestResult{
			failedResult("demo_connectivity", "Connection refused", ""),
		})
	}

	issue := models.Issue{IssueID: "x", Type: models.IssueConnectionFailure, ServerName: "demo", Confidence: 0.9, Timestamp: time.Now().UTC()}
	cats := d.Categorize([]models.Issue{issue})
	assert.Len(t, cats.Recurring, 1)
}

func TestSuggestRemediation(t *testing.T) {
	d := newTestDetector(nil)

	issue := models.Issue{
		Type:                 models.IssueConnectionFailure,
		Confidence:           0.95,
		ErrorMessage:         "bash: demo-server: command not found",
		Context:              map[string]any{"command": "demo-server"},
		SuggestedRemediation: []string{"Verify the server command path is correct"},
	}
	suggestions := d.SuggestRemediation(issue)
	require.NotEmpty(t, suggestions)
	assert.Contains(t, suggestions[0], "demo-server")

	lowConfidence := models.Issue{Type: models.IssueUnknownError, Confidence: 0.6}
	suggestions = d.SuggestRemediation(lowConfidence)
	assert.Contains(t, suggestions[len(suggestions)-1], "manual verification recommended")
}

func TestIssueHistoryFilters(t *testing.T) {
	d := newTestDetector(nil)

	d.AnalyzeFailures([]models.TestResult{
		failedResult("demo_connectivity", "Connection refused", ""),
		failedResult("other_echo_execution", "operation timed out", ""),
	})

	assert.Len(t, d.IssueHistory("", "", time.Time{}), 2)
	assert.Len(t, d.IssueHistory("demo", "", time.Time{}), 1)
	assert.Len(t, d.IssueHistory("", models.IssueTimeout, time.Time{}), 1)
	assert.Empty(t, d.IssueHistory("", "", time.Now().UTC().Add(time.Hour)))
}

func TestMonitorHealthFirstProbe(t *testing.T) {
	fake := &connectortest.Fake{Operations: []string{"echo"}}
	d := newTestDetector(fake)

	m := d.MonitorHealth(context.Background(), config.ServerSpec{Name: "demo", Command: "demo-server"})
	assert.Equal(t, 1.0, m.ConnectionSuccessRate)
	assert.Equal(t, 1.0, m.ToolExecutionSuccessRate)
	assert.Equal(t, 100.0, m.UptimePercentage)
	assert.Equal(t, 0, m.ConsecutiveFailures)
	assert.Equal(t, 1, fake.Closes())
}

func TestMonitorHealthEMA(t *testing.T) {
	fake := &connectortest.Fake{Operations: []string{"echo"}, OpenErrs: []error{nil, errors.New("refused")}}
	d := newTestDetector(fake)

	spec := config.ServerSpec{Name: "demo", Command: "demo-server"}
	first := d.MonitorHealth(context.Background(), spec)
	require.Equal(t, 1.0, first.ConnectionSuccessRate)

	second := d.MonitorHealth(context.Background(), spec)
	assert.InDelta(t, 0.8, second.ConnectionSuccessRate, 1e-9)
	assert.Equal(t, 1, second.ConsecutiveFailures)
	assert.Equal(t, 1, second.ErrorCount)
}

func TestMonitorHealthEmptyCapabilityWarns(t *testing.T) {
	fake := &connectortest.Fake{}
	d := newTestDetector(fake)

	m := d.MonitorHealth(context.Background(), config.ServerSpec{Name: "demo", Command: "demo-server"})
	assert.Equal(t, 1.0, m.ConnectionSuccessRate)
	assert.Equal(t, 0.0, m.ToolExecutionSuccessRate)
	assert.Equal(t, 1, m.WarningCount)
}

func TestLoadPatternsPack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	pack := `patterns:
  - id: disk_full
    type: resource_exhaustion
    severity: critical
    error_patterns:
      - "no space left on device"
    confidence_base: 0.94
    remediation:
      - "Free disk space"
`
	require.NoError(t, os.WriteFile(path, []byte(pack), 0o644))

	patterns, err := LoadPatterns(path, nil)
	require.NoError(t, err)
	assert.Len(t, patterns, len(DefaultPatterns())+1)
	assert.Equal(t, "disk_full", patterns[len(patterns)-1].PatternID)
}

func TestLoadPatternsMissingFileUsesDefaults(t *testing.T) {
	patterns, err := LoadPatterns("/nonexistent/patterns.yaml", nil)
	require.NoError(t, err)
	assert.Len(t, patterns, len(DefaultPatterns()))
}
