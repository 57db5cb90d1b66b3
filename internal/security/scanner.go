// Package security probes tool servers with hostile inputs: credential
// handling, operation exposure and argument validation. Findings are
// best-effort signals derived from observable behaviour, never proof of
// exploitability.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/connector"
	"github.com/probestack/medic/internal/models"
)

// maxExposedOperations is the capability-list size above which a server is
// flagged for exposing too much surface without access control.
const maxExposedOperations = 10

// dangerousOperationKeywords mark operation names that suggest direct system
// access.
var dangerousOperationKeywords = []string{"exec", "shell", "command", "system", "admin", "root", "sudo"}

// hostilePayloads is the malicious-input corpus driven through every exposed
// operation. Order is fixed so scan output is deterministic.
var hostilePayloads = []struct {
	name  string
	value string
}{
	{"sql_injection", `'; DROP TABLE users; --`},
	{"script_injection", `<script>alert('XSS')</script>`},
	{"command_injection", `; rm -rf /`},
	{"path_traversal", `../../../etc/passwd`},
	{"oversized_input", strings.Repeat("A", 10000)},
	{"null_byte", "test\x00.txt"},
	{"unicode_override", "\u202e"},
	{"json_injection", `{"malicious": true}`},
	{"entity_expansion", `<?xml version='1.0'?><!DOCTYPE lolz [<!ENTITY lol 'lol'>]><lolz>&lol;</lolz>`},
}

// Vulnerability is a single scan finding.
type Vulnerability struct {
	Type        string
	Severity    models.IssueSeverity
	Description string
	Component   string
	Payload     string
	Confidence  float64
}

// Report summarises accumulated findings.
type Report struct {
	Total      int
	BySeverity map[models.IssueSeverity]int
	Advice     []string
}

// Scanner runs security checks against configured servers. Safe for
// concurrent use; findings accumulate across scans.
type Scanner struct {
	logger  *slog.Logger
	factory connector.Factory
	cfg     *config.Config

	mu    sync.Mutex
	vulns []Vulnerability
}

// New constructs a scanner using the engine's connector factory and
// thresholds.
func New(logger *slog.Logger, factory connector.Factory, cfg *config.Config) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{logger: logger, factory: factory, cfg: cfg}
}

// Scan runs every check against one server, keyed by check name. Checks run
// sequentially so one server never sees overlapping scan sessions.
func (s *Scanner) Scan(ctx context.Context, spec config.ServerSpec) map[string]models.TestResult {
	results := make(map[string]models.TestResult, 3)
	results["credential_handling"] = s.CheckCredentialHandling(ctx, spec)
	results["operation_exposure"] = s.CheckOperationExposure(ctx, spec)
	results["input_handling"] = s.CheckInputHandling(ctx, spec)
	return results
}

// CheckCredentialHandling opens sessions with the credential environment
// stripped and with obviously bogus credentials. A server that comes up
// either way is not verifying what it is given.
func (s *Scanner) CheckCredentialHandling(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_credential_handling"

	bogusEnv := map[string]string{
		"API_KEY":  "invalid_key_12345",
		"TOKEN":    "fake_token",
		"PASSWORD": "wrong_password",
	}

	trials := []struct {
		detail  string
		payload string
		env     map[string]string
	}{
		{"accepts connections with no credentials", "no_credentials", nil},
		{"accepts invalid credentials", fmt.Sprintf("%v", bogusEnv), bogusEnv},
	}

	var found []Vulnerability
	passed := 0
	for _, trial := range trials {
		stripped := spec
		stripped.Env = trial.env
		if s.opens(ctx, stripped) {
			found = append(found, Vulnerability{
				Type:        "credential_bypass",
				Severity:    models.SeverityHigh,
				Description: fmt.Sprintf("server %q %s", spec.Name, trial.detail),
				Component:   "credential_handling",
				Payload:     trial.payload,
				Confidence:  0.85,
			})
		} else {
			passed++
		}
	}
	s.append(found)

	confidence := 0.80
	if passed == len(trials) {
		confidence = 0.90
	}
	return s.result(testName, found, confidence, time.Since(start), map[string]any{
		"total_tests":  len(trials),
		"passed_tests": passed,
	})
}

// CheckOperationExposure inspects the capability list for operations that
// hand out system access and for an unbounded surface.
func (s *Scanner) CheckOperationExposure(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_operation_exposure"

	operations, err := s.listOperations(ctx, spec)
	if err != nil {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusError,
			Confidence:    0.80,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Operation exposure check error: %v", err),
			Timestamp:     time.Now().UTC(),
			ErrorInfo:     err.Error(),
		}
	}

	var found []Vulnerability
	checks := 2
	passed := 0

	var dangerous []string
	for _, name := range operations {
		lower := strings.ToLower(name)
		for _, keyword := range dangerousOperationKeywords {
			if strings.Contains(lower, keyword) {
				dangerous = append(dangerous, name)
				break
			}
		}
	}
	if len(dangerous) > 0 {
		found = append(found, Vulnerability{
			Type:        "privilege_escalation",
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("server %q exposes operations with system access: %s", spec.Name, strings.Join(dangerous, ", ")),
			Component:   "operation_exposure",
			Payload:     strings.Join(dangerous, ","),
			Confidence:  0.85,
		})
	} else {
		passed++
	}

	if len(operations) > maxExposedOperations {
		found = append(found, Vulnerability{
			Type:        "unrestricted_access",
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("server %q exposes %d operations without access control", spec.Name, len(operations)),
			Component:   "operation_exposure",
			Payload:     fmt.Sprintf("operation_count_%d", len(operations)),
			Confidence:  0.85,
		})
	} else {
		passed++
	}
	s.append(found)

	confidence := 0.75
	if passed == checks {
		confidence = 0.88
	}
	return s.result(testName, found, confidence, time.Since(start), map[string]any{
		"total_tests":          checks,
		"passed_tests":         passed,
		"operations":           len(operations),
		"dangerous_operations": dangerous,
	})
}

// CheckInputHandling drives the hostile payload corpus through every exposed
// operation. A clean rejection counts as validated; a reflected payload or an
// unexplained error is a finding.
func (s *Scanner) CheckInputHandling(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_input_handling"

	openCtx, cancel := context.WithTimeout(ctx, s.cfg.Thresholds.ConnectTimeout)
	session, err := s.factory.Open(openCtx, spec)
	cancel()
	if err != nil {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusError,
			Confidence:    0.75,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Input handling check error: %v", err),
			Timestamp:     time.Now().UTC(),
			ErrorInfo:     err.Error(),
		}
	}
	defer session.Close()

	operations, err := session.ListOperations(ctx, false)
	if err != nil {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusError,
			Confidence:    0.75,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Input handling check error: %v", err),
			Timestamp:     time.Now().UTC(),
			ErrorInfo:     err.Error(),
		}
	}

	excluded := make(map[string]bool, len(spec.ExcludeOperations))
	for _, name := range spec.ExcludeOperations {
		excluded[name] = true
	}

	var found []Vulnerability
	total := 0
	passed := 0
	for _, operation := range operations {
		if excluded[operation] {
			continue
		}
		for _, payload := range hostilePayloads {
			total++

			invokeCtx, cancel := context.WithTimeout(ctx, s.cfg.Thresholds.ExecuteTimeout)
			raw, err := session.Invoke(invokeCtx, operation, map[string]any{"input": payload.value})
			cancel()

			if err != nil {
				if connector.ClassifyInvokeError(err).Secure {
					passed++
					continue
				}
				found = append(found, Vulnerability{
					Type:        "input_handling_error",
					Severity:    models.SeverityMedium,
					Description: fmt.Sprintf("operation %q errored on %s payload: %v", operation, payload.name, err),
					Component:   "operation_" + operation,
					Payload:     truncatePayload(payload.value),
					Confidence:  0.70,
				})
				continue
			}

			if strings.Contains(strings.ToLower(string(raw)), strings.ToLower(payload.value)) {
				found = append(found, Vulnerability{
					Type:        "input_reflection",
					Severity:    models.SeverityHigh,
					Description: fmt.Sprintf("operation %q reflects %s payload in its output", operation, payload.name),
					Component:   "operation_" + operation,
					Payload:     truncatePayload(payload.value),
					Confidence:  0.80,
				})
				continue
			}
			passed++
		}
	}
	s.append(found)

	confidence := 0.60
	if total > 0 {
		confidence = 0.85
	}
	return s.result(testName, found, confidence, time.Since(start), map[string]any{
		"total_tests":       total,
		"passed_tests":      passed,
		"operations_tested": len(operations),
	})
}

// Vulnerabilities returns a copy of every finding recorded so far.
func (s *Scanner) Vulnerabilities() []Vulnerability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Vulnerability(nil), s.vulns...)
}

// GenerateReport tallies findings by severity and derives remediation advice
// from the finding types seen.
func (s *Scanner) GenerateReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{
		Total:      len(s.vulns),
		BySeverity: make(map[models.IssueSeverity]int),
	}
	types := make(map[string]bool)
	for _, v := range s.vulns {
		report.BySeverity[v.Severity]++
		types[v.Type] = true
	}

	if types["credential_bypass"] {
		report.Advice = append(report.Advice, "Require and verify credentials on every connection")
	}
	if types["privilege_escalation"] || types["unrestricted_access"] {
		report.Advice = append(report.Advice, "Restrict or gate operations that grant system access")
	}
	if types["input_reflection"] || types["input_handling_error"] {
		report.Advice = append(report.Advice, "Validate and sanitise operation arguments before use")
	}
	if len(report.Advice) == 0 {
		report.Advice = append(report.Advice, "Continue regular security scanning")
	}
	return report
}

func (s *Scanner) result(testName string, found []Vulnerability, confidence float64, elapsed time.Duration, details map[string]any) models.TestResult {
	status := models.StatusPassed
	if len(found) > 0 {
		status = models.StatusFailed
	}

	summaries := make([]map[string]any, 0, len(found))
	for _, v := range found {
		summaries = append(summaries, map[string]any{
			"type":        v.Type,
			"severity":    string(v.Severity),
			"description": v.Description,
		})
	}
	details["vulnerabilities"] = len(found)
	details["vulnerability_details"] = summaries

	return models.TestResult{
		TestName:      testName,
		Status:        status,
		Confidence:    confidence,
		ExecutionTime: elapsed,
		Message:       fmt.Sprintf("Check completed: %d vulnerabilities found", len(found)),
		Details:       details,
		Timestamp:     time.Now().UTC(),
	}
}

// opens reports whether a session can be established with the given spec.
func (s *Scanner) opens(ctx context.Context, spec config.ServerSpec) bool {
	openCtx, cancel := context.WithTimeout(ctx, s.cfg.Thresholds.ConnectTimeout)
	defer cancel()

	session, err := s.factory.Open(openCtx, spec)
	if err != nil {
		return false
	}
	_ = session.Close()
	return true
}

func (s *Scanner) listOperations(ctx context.Context, spec config.ServerSpec) ([]string, error) {
	openCtx, cancel := context.WithTimeout(ctx, s.cfg.Thresholds.ConnectTimeout)
	defer cancel()

	session, err := s.factory.Open(openCtx, spec)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.ListOperations(ctx, false)
}

func (s *Scanner) append(found []Vulnerability) {
	if len(found) == 0 {
		return
	}
	s.mu.Lock()
	s.vulns = append(s.vulns, found...)
	s.mu.Unlock()

	for _, v := range found {
		s.logger.Warn("security finding",
			slog.String("type", v.Type),
			slog.String("severity", string(v.Severity)),
			slog.String("component", v.Component))
	}
}

func truncatePayload(payload string) string {
	if len(payload) > 64 {
		return payload[:64] + "..."
	}
	return payload
}
