// Package detector turns failed check results into classified, confidence
// scored issues, monitors server health, and synthesises remediation
// suggestions.
package detector

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/probestack/medic/internal/connector"
	"github.com/probestack/medic/internal/models"
	"github.com/probestack/medic/internal/patterns"
)

// detectionThreshold is the minimum match confidence to report an issue.
const detectionThreshold = 0.5

type compiledPattern struct {
	models.IssuePattern
	regexes []*regexp.Regexp
}

// Detector owns the pattern library, the per-server health ledger and the
// issue history. Safe for concurrent use.
type Detector struct {
	logger       *slog.Logger
	factory      connector.Factory
	probeTimeout time.Duration
	patterns     []compiledPattern
	tracker      *patterns.Tracker

	mu      sync.Mutex
	health  map[string]models.HealthMetrics
	history []models.Issue
}

// New compiles the pattern library. Patterns with invalid regexes are logged
// and dropped rather than failing construction, so a bad pack entry cannot
// disable the built-ins. factory may be nil when health probing is unused;
// tracker may be nil when outcome learning is unused.
func New(logger *slog.Logger, factory connector.Factory, probeTimeout time.Duration, library []models.IssuePattern, tracker *patterns.Tracker) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if library == nil {
		library = DefaultPatterns()
	}

	compiled := make([]compiledPattern, 0, len(library))
	for _, p := range library {
		cp := compiledPattern{IssuePattern: p}
		for _, expr := range p.ErrorPatterns {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				logger.Warn("invalid issue pattern regex",
					slog.String("pattern", p.PatternID), slog.String("expr", expr), slog.Any("error", err))
				continue
			}
			cp.regexes = append(cp.regexes, re)
		}
		if len(cp.regexes) > 0 {
			compiled = append(compiled, cp)
		}
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Detector{
		logger:       logger,
		factory:      factory,
		probeTimeout: probeTimeout,
		patterns:     compiled,
		tracker:      tracker,
		health:       make(map[string]models.HealthMetrics),
	}
}

// AnalyzeFailures inspects failed and errored results, matches them against
// the pattern library, groups duplicates and appends findings to the history.
func (d *Detector) AnalyzeFailures(results []models.TestResult) []models.Issue {
	var detected []models.Issue
	for _, result := range results {
		if result.Status != models.StatusFailed && result.Status != models.StatusError {
			continue
		}
		detected = append(detected, d.analyzeSingle(result)...)
	}

	grouped := groupRelated(detected)

	d.mu.Lock()
	d.history = append(d.history, grouped...)
	d.mu.Unlock()

	return grouped
}

func (d *Detector) analyzeSingle(result models.TestResult) []models.Issue {
	errorText := result.ErrorInfo
	if result.Message != "" {
		errorText += " " + result.Message
	}

	var issues []models.Issue
	for _, pattern := range d.patterns {
		// Remediation outcomes recorded against the pattern drift its base
		// confidence; a nil tracker passes the base through unchanged.
		base := d.tracker.Adjust(pattern.PatternID, pattern.ConfidenceBase)
		confidence := matchConfidence(pattern, base, errorText, result)
		if confidence <= detectionThreshold {
			continue
		}
		issues = append(issues, models.Issue{
			IssueID:    uuid.NewString(),
			Type:       pattern.Type,
			Severity:   pattern.Severity,
			Confidence: confidence,
			Title:      fmt.Sprintf("%s in %s", titleForType(pattern.Type), result.TestName),
			Description: fmt.Sprintf("Detected %s with %.0f%% confidence. Check %q ended with status %s.",
				strings.ReplaceAll(string(pattern.Type), "_", " "), confidence*100, result.TestName, result.Status),
			ServerName:           serverFromTestName(result.TestName),
			TestName:             result.TestName,
			Timestamp:            time.Now().UTC(),
			ErrorMessage:         result.Message,
			StackTrace:           result.ErrorInfo,
			Context:              issueContext(result),
			SuggestedRemediation: append([]string(nil), pattern.Remediation...),
			PatternID:            pattern.PatternID,
		})
	}

	// Unmatched errored results still surface, at reduced confidence.
	if len(issues) == 0 && result.Status == models.StatusError {
		issues = append(issues, models.Issue{
			IssueID:      uuid.NewString(),
			Type:         models.IssueUnknownError,
			Severity:     models.SeverityMedium,
			Confidence:   0.6,
			Title:        fmt.Sprintf("Unknown Error in %s", result.TestName),
			Description:  fmt.Sprintf("An unrecognized error occurred during check execution: %s", result.Message),
			ServerName:   serverFromTestName(result.TestName),
			TestName:     result.TestName,
			Timestamp:    time.Now().UTC(),
			ErrorMessage: result.Message,
			StackTrace:   result.ErrorInfo,
			Context:      issueContext(result),
			SuggestedRemediation: []string{
				"Review error message and stack trace",
				"Check server logs for additional information",
				"Verify server configuration and dependencies",
				"Consider enabling debug mode for more details",
			},
		})
	}
	return issues
}

// matchConfidence scores one pattern against failure text. Zero means no
// match; a single regex hit scores base, additional hits boost towards 1.0.
func matchConfidence(pattern compiledPattern, base float64, errorText string, result models.TestResult) float64 {
	matches := 0
	for _, re := range pattern.regexes {
		if re.MatchString(errorText) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}

	confidence := base
	if matches > 1 {
		ratio := float64(matches) / float64(len(pattern.regexes))
		if ratio > 1 {
			ratio = 1
		}
		confidence += (1 - base) * ratio * 0.5
	}

	if pattern.Type == models.IssueTimeout && result.ExecutionTime > 10*time.Second {
		confidence = clamp(confidence + 0.10)
	}
	if result.Status == models.StatusError {
		confidence = clamp(confidence + 0.05)
	}
	return confidence
}

// groupRelated merges issues sharing a server and type: the first becomes
// primary with boosted confidence and carries the ids of the duplicates.
func groupRelated(issues []models.Issue) []models.Issue {
	groups := make(map[string][]models.Issue)
	var order []string
	for _, issue := range issues {
		key := issue.ServerName + "_" + string(issue.Type)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], issue)
	}

	var out []models.Issue
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		primary := group[0]
		primary.Confidence = clamp(primary.Confidence + float64(len(group)-1)*0.05)
		for _, dup := range group[1:] {
			primary.RelatedIssues = append(primary.RelatedIssues, dup.IssueID)
		}
		out = append(out, primary)
	}
	return out
}

// Categories buckets issues along the axes callers filter on.
type Categories struct {
	ByType       map[models.IssueType][]models.Issue
	BySeverity   map[models.IssueSeverity][]models.Issue
	ByServer     map[string][]models.Issue
	ByConfidence map[string][]models.Issue
	Recent       []models.Issue
	Recurring    []models.Issue
}

// Categorize buckets issues by type, severity, server and confidence band,
// flags issues from the last 24h, and marks signatures seen more than twice
// across the detector's history as recurring.
func (d *Detector) Categorize(issues []models.Issue) Categories {
	cats := Categories{
		ByType:       make(map[models.IssueType][]models.Issue),
		BySeverity:   make(map[models.IssueSeverity][]models.Issue),
		ByServer:     make(map[string][]models.Issue),
		ByConfidence: make(map[string][]models.Issue),
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	for _, issue := range issues {
		cats.ByType[issue.Type] = append(cats.ByType[issue.Type], issue)
		cats.BySeverity[issue.Severity] = append(cats.BySeverity[issue.Severity], issue)
		cats.ByServer[issue.ServerName] = append(cats.ByServer[issue.ServerName], issue)

		band := "low"
		switch {
		case issue.Confidence >= 0.9:
			band = "high"
		case issue.Confidence >= 0.7:
			band = "medium"
		}
		cats.ByConfidence[band] = append(cats.ByConfidence[band], issue)

		if issue.Timestamp.After(cutoff) {
			cats.Recent = append(cats.Recent, issue)
		}
	}

	signatures := make(map[string]int)
	d.mu.Lock()
	for _, issue := range d.history {
		signatures[issue.ServerName+"_"+string(issue.Type)]++
	}
	d.mu.Unlock()

	for _, issue := range issues {
		if signatures[issue.ServerName+"_"+string(issue.Type)] > 2 {
			cats.Recurring = append(cats.Recurring, issue)
		}
	}
	return cats
}

// SuggestRemediation returns the issue's suggestions enriched with context
// specific advice and a disclaimer for low-confidence detections.
func (d *Detector) SuggestRemediation(issue models.Issue) []string {
	suggestions := append([]string(nil), issue.SuggestedRemediation...)

	switch issue.Type {
	case models.IssueConnectionFailure:
		if strings.Contains(strings.ToLower(issue.ErrorMessage), "command not found") {
			command, _ := issue.Context["command"].(string)
			if command == "" {
				command = "unknown"
			}
			suggestions = prepend(suggestions, fmt.Sprintf("Install the required server executable: %s", command))
		}
	case models.IssueTimeout:
		if execTime, ok := issue.Context["execution_time"].(float64); ok && execTime > 30 {
			suggestions = prepend(suggestions, "Consider implementing asynchronous processing for long-running operations")
		}
	case models.IssueAuthenticationErr:
		suggestions = prepend(suggestions, "Check environment variables and authentication configuration")
	}

	if issue.Confidence < 0.8 {
		suggestions = append(suggestions, "This issue detection has lower confidence - manual verification recommended")
	}
	return suggestions
}

// IssueHistory returns history entries matching the optional filters.
func (d *Detector) IssueHistory(serverName string, issueType models.IssueType, since time.Time) []models.Issue {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []models.Issue
	for _, issue := range d.history {
		if serverName != "" && issue.ServerName != serverName {
			continue
		}
		if issueType != "" && issue.Type != issueType {
			continue
		}
		if !since.IsZero() && issue.Timestamp.Before(since) {
			continue
		}
		out = append(out, issue)
	}
	return out
}

func issueContext(result models.TestResult) map[string]any {
	ctx := map[string]any{
		"execution_time": result.ExecutionTime.Seconds(),
		"test_status":    string(result.Status),
	}
	for k, v := range result.Details {
		ctx[k] = v
	}
	return ctx
}

func serverFromTestName(testName string) string {
	if idx := strings.Index(testName, "_"); idx > 0 {
		return testName[:idx]
	}
	return "unknown"
}

func titleForType(t models.IssueType) string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func prepend(list []string, item string) []string {
	return append([]string{item}, list...)
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
