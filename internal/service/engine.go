// Package service wires the orchestrator, detector, remediation engine, load
// tester and security scanner into the diagnosis workflow the daemon runs.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/detector"
	"github.com/probestack/medic/internal/loadtest"
	"github.com/probestack/medic/internal/metrics"
	"github.com/probestack/medic/internal/models"
	"github.com/probestack/medic/internal/orchestrator"
	"github.com/probestack/medic/internal/patterns"
	"github.com/probestack/medic/internal/remedy"
	"github.com/probestack/medic/internal/repo"
	"github.com/probestack/medic/internal/security"
	"github.com/probestack/medic/internal/utils"
)

// Diagnosis is the outcome of one diagnosis cycle for a single server.
type Diagnosis struct {
	Suite        models.TestSuite
	Issues       []models.Issue
	Remediations []models.RemediationResult
}

// Engine runs the diagnose-remediate cycle. One failing server degrades its
// own diagnosis only.
type Engine struct {
	logger       *slog.Logger
	cfg          *config.Config
	orchestrator *orchestrator.Orchestrator
	detector     *detector.Detector
	remedy       *remedy.Engine
	tester       *loadtest.Tester
	scanner      *security.Scanner
	store        repo.Store
	tracker      *patterns.Tracker
	latencies    *utils.LatencyTracker
}

// New constructs the engine. tracker may be nil.
func New(
	logger *slog.Logger,
	cfg *config.Config,
	orch *orchestrator.Orchestrator,
	det *detector.Detector,
	rem *remedy.Engine,
	tester *loadtest.Tester,
	scanner *security.Scanner,
	store repo.Store,
	tracker *patterns.Tracker,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:       logger,
		cfg:          cfg,
		orchestrator: orch,
		detector:     det,
		remedy:       rem,
		tester:       tester,
		scanner:      scanner,
		store:        store,
		tracker:      tracker,
		latencies:    utils.NewLatencyTracker(1024),
	}
}

// DiagnoseAll runs the full cycle for every configured server: check suite,
// failure analysis, remediation of confident issues, persistence, learning.
func (e *Engine) DiagnoseAll(ctx context.Context) map[string]Diagnosis {
	start := time.Now()
	suites := e.orchestrator.RunSuite(ctx, "")

	diagnoses := make(map[string]Diagnosis, len(suites))
	for name, suite := range suites {
		diagnoses[name] = e.diagnoseServer(ctx, name, suite)
	}

	elapsed := time.Since(start)
	e.latencies.Observe(elapsed)
	if count := e.latencies.Count(); count >= 20 && count%20 == 0 {
		e.logger.Info("diagnosis latency",
			slog.Duration("p95", e.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return diagnoses
}

func (e *Engine) diagnoseServer(ctx context.Context, name string, suite models.TestSuite) Diagnosis {
	start := time.Now()
	diagnosis := Diagnosis{Suite: suite}

	if err := e.store.SaveSuite(ctx, suite); err != nil {
		e.logger.Error("persist suite failed", slog.String("server", name), slog.Any("error", err))
	}

	issues := e.detector.AnalyzeFailures(suite.Results)
	diagnosis.Issues = issues
	for _, issue := range issues {
		metrics.ObserveIssue(string(issue.Type), string(issue.Severity))
	}
	if len(issues) > 0 {
		if err := e.store.SaveIssues(ctx, issues); err != nil {
			e.logger.Error("persist issues failed", slog.String("server", name), slog.Any("error", err))
		}
	}

	spec, known := e.cfg.Servers[name]
	for _, issue := range issues {
		if !known || issue.Confidence < e.cfg.Thresholds.ConfidenceThreshold {
			continue
		}

		result := e.remedy.Remediate(ctx, issue, spec)
		diagnosis.Remediations = append(diagnosis.Remediations, result)
		metrics.ObserveRemediation(string(result.Strategy), string(result.Status))
		if err := e.store.SaveRemediation(ctx, result); err != nil {
			e.logger.Error("persist remediation failed", slog.String("server", name), slog.Any("error", err))
		}
		e.tracker.RecordOutcome(issue, result.Status == models.RemediationSuccess)
	}

	outcome := "success"
	if suite.FailedTests+suite.ErrorTests > 0 {
		outcome = "degraded"
	}
	metrics.ObserveProbe("diagnosis", outcome, time.Since(start))
	return diagnosis
}

// DiagnoseLoop runs full diagnosis cycles on the given interval until the
// context is cancelled. The first cycle starts immediately.
func (e *Engine) DiagnoseLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.DiagnoseAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.DiagnoseAll(ctx)
		}
	}
}

// MonitorLoop probes server health on the given interval until the context
// is cancelled.
func (e *Engine) MonitorLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.probeAll(ctx)
		}
	}
}

func (e *Engine) probeAll(ctx context.Context) {
	for name, spec := range e.cfg.Servers {
		start := time.Now()
		m := e.detector.MonitorHealth(ctx, spec)

		outcome := "success"
		if m.ConsecutiveFailures > 0 {
			outcome = "failure"
		}
		metrics.ObserveProbe("health", outcome, time.Since(start))

		if err := e.store.SaveHealth(ctx, m); err != nil {
			e.logger.Error("persist health failed", slog.String("server", name), slog.Any("error", err))
		}
	}
}

// RunLoadSuite executes the full load scenario set for one server. The
// orchestration checks are untouched; load runs use their own sessions.
func (e *Engine) RunLoadSuite(ctx context.Context, serverName string) map[string]models.TestResult {
	spec, ok := e.cfg.Servers[serverName]
	if !ok {
		return nil
	}

	before := len(e.tester.Results())
	results := map[string]models.TestResult{
		"operation_benchmark":    e.tester.BenchmarkOperations(ctx, spec),
		"concurrent_connections": e.tester.EscalateConcurrency(ctx, spec),
		"response_times":         e.tester.MeasureLatencyProfile(ctx, spec),
		"resource_usage":         e.tester.MonitorResourceUsage(ctx, spec),
	}

	for _, scenario := range e.tester.Results()[before:] {
		metrics.ObserveLoadScenario(scenario.PerformanceGrade)
	}
	return results
}

// RunSecurityScan drives the hostile-input checks for one server, persists
// the resulting suite and feeds failures through issue analysis. Scans are
// read-only: findings are reported, never remediated automatically.
func (e *Engine) RunSecurityScan(ctx context.Context, serverName string) (map[string]models.TestResult, []models.Issue) {
	spec, ok := e.cfg.Servers[serverName]
	if !ok {
		return nil, nil
	}

	start := time.Now()
	results := e.scanner.Scan(ctx, spec)

	flat := make([]models.TestResult, 0, len(results))
	outcome := "success"
	for _, r := range results {
		flat = append(flat, r)
		if r.Status != models.StatusPassed {
			outcome = "degraded"
		}
	}

	suite := models.NewSuite(serverName, flat, time.Since(start))
	if err := e.store.SaveSuite(ctx, suite); err != nil {
		e.logger.Error("persist scan suite failed", slog.String("server", serverName), slog.Any("error", err))
	}

	issues := e.detector.AnalyzeFailures(flat)
	for _, issue := range issues {
		metrics.ObserveIssue(string(issue.Type), string(issue.Severity))
	}
	if len(issues) > 0 {
		if err := e.store.SaveIssues(ctx, issues); err != nil {
			e.logger.Error("persist scan issues failed", slog.String("server", serverName), slog.Any("error", err))
		}
	}

	metrics.ObserveProbe("security", outcome, time.Since(start))
	return results, issues
}

// LatencyP95 reports the current p95 diagnosis latency.
func (e *Engine) LatencyP95() time.Duration {
	return e.latencies.Percentile(95)
}

// Close releases orchestrator sessions.
func (e *Engine) Close() {
	e.orchestrator.Close()
}
