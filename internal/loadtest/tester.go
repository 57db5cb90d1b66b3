// Package loadtest benchmarks tool servers under sequential, concurrent and
// sustained load, grades the outcome and flags bottlenecks and leak
// suspicions.
package loadtest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/connector"
	"github.com/probestack/medic/internal/models"
)

const (
	benchmarkIterations = 10
	benchmarkMaxOps     = 5
	sustainedMaxOps     = 3
	workerPause         = 10 * time.Millisecond
	warmCallPause       = 100 * time.Millisecond
	cooldown            = 2 * time.Second
)

// Tester runs load scenarios against target servers. Scenario results are
// retained for reporting.
type Tester struct {
	logger  *slog.Logger
	factory connector.Factory
	cfg     *config.Config

	// injectable for tests
	sleep func(context.Context, time.Duration) error

	mu      sync.Mutex
	results []models.LoadTestResult
}

// New constructs a Tester.
func New(logger *slog.Logger, factory connector.Factory, cfg *config.Config) *Tester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tester{
		logger:  logger,
		factory: factory,
		cfg:     cfg,
		sleep:   pause,
	}
}

// BenchmarkOperations invokes up to five operations ten times each in
// sequence and grades the aggregate.
func (t *Tester) BenchmarkOperations(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_operation_benchmark"

	session, names, result := t.openAndList(ctx, spec, testName, 0.85)
	if session == nil {
		return result
	}
	defer session.Close()

	if len(names) == 0 {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusSkipped,
			Confidence:    0.95,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("No operations available for benchmarking in %s", spec.Name),
			Timestamp:     time.Now().UTC(),
		}
	}

	ops := names
	if len(ops) > benchmarkMaxOps {
		ops = ops[:benchmarkMaxOps]
	}

	var overall models.PerformanceMetrics
	perOp := make(map[string]any, len(ops))
	for _, op := range ops {
		opStart := time.Now()
		var metrics models.PerformanceMetrics
		for i := 0; i < benchmarkIterations; i++ {
			elapsed, err := t.invokeOnce(ctx, session, op)
			if err != nil {
				metrics.FailureCount++
				continue
			}
			metrics.ResponseTimes = append(metrics.ResponseTimes, elapsed)
			metrics.SuccessCount++
		}
		metrics.CalculateDerived(time.Since(opStart))
		overall.Merge(metrics)
		perOp[op] = map[string]any{
			"avg_response_time": metrics.AvgResponseTime,
			"success_rate":      metrics.SuccessRate,
		}
	}

	elapsed := time.Since(start)
	overall.CalculateDerived(elapsed)
	letter := grade(overall, t.cfg.Thresholds.MaxResponseTimeMs, t.cfg.Thresholds.MinSuccessRate)

	var issues []string
	if overall.AvgResponseTime > t.cfg.Thresholds.MaxResponseTimeMs {
		issues = append(issues, fmt.Sprintf("Average response time (%.1fms) exceeds threshold", overall.AvgResponseTime))
	}
	if overall.SuccessRate < t.cfg.Thresholds.MinSuccessRate {
		issues = append(issues, fmt.Sprintf("Success rate (%.2f) below threshold", overall.SuccessRate))
	}

	status := models.StatusPassed
	if len(issues) > 0 {
		status = models.StatusFailed
	}
	confidence := 0.90
	if len(names) < 3 {
		confidence = 0.75
	}

	return models.TestResult{
		TestName:      testName,
		Status:        status,
		Confidence:    confidence,
		ExecutionTime: elapsed,
		Message:       fmt.Sprintf("Operation benchmark completed: Grade %s", letter),
		Details: map[string]any{
			"performance_grade":    letter,
			"operations_tested":    len(ops),
			"avg_response_time_ms": overall.AvgResponseTime,
			"p95_response_time_ms": overall.P95ResponseTime,
			"success_rate":         overall.SuccessRate,
			"throughput_rps":       overall.ThroughputRPS,
			"operation_benchmarks": perOp,
			"issues":               issues,
		},
		Timestamp: time.Now().UTC(),
	}
}

// EscalateConcurrency climbs the connection ladder until the server degrades
// below 50% success and reports the highest stable level.
func (t *Tester) EscalateConcurrency(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_concurrent_connections"

	levels := []int{1, 5, 10, 20, 30}
	if t.cfg.Thresholds.MaxConcurrent > 30 {
		levels = append(levels, t.cfg.Thresholds.MaxConcurrent)
	}

	duration := t.cfg.Thresholds.LoadTestDuration
	if duration > 30*time.Second {
		duration = 30 * time.Second
	}

	var scenarios []models.LoadTestResult
	for _, users := range levels {
		t.logger.Info("load scenario starting",
			slog.String("server", spec.Name), slog.Int("concurrency", users))

		scenario := t.runScenario(ctx, spec, users, duration)
		scenarios = append(scenarios, scenario)
		t.record(scenario)

		if scenario.Metrics.SuccessRate < 0.5 {
			break
		}
		if err := t.sleep(ctx, cooldown); err != nil {
			break
		}
	}

	maxStable := 0
	breakdown := 0
	for _, scenario := range scenarios {
		if scenario.Metrics.SuccessRate >= t.cfg.Thresholds.MinSuccessRate {
			maxStable = scenario.ConcurrentUsers
		} else {
			breakdown = scenario.ConcurrentUsers
			break
		}
	}

	var (
		status     models.TestStatus
		confidence float64
	)
	switch {
	case maxStable >= 10:
		status, confidence = models.StatusPassed, 0.90
	case maxStable >= 5:
		status, confidence = models.StatusPassed, 0.80
	default:
		status, confidence = models.StatusFailed, 0.85
	}

	summaries := make([]map[string]any, 0, len(scenarios))
	for _, scenario := range scenarios {
		summaries = append(summaries, map[string]any{
			"concurrent_users":  scenario.ConcurrentUsers,
			"success_rate":      scenario.Metrics.SuccessRate,
			"avg_response_time": scenario.Metrics.AvgResponseTime,
			"throughput_rps":    scenario.Metrics.ThroughputRPS,
			"performance_grade": scenario.PerformanceGrade,
		})
	}

	return models.TestResult{
		TestName:      testName,
		Status:        status,
		Confidence:    confidence,
		ExecutionTime: time.Since(start),
		Message:       fmt.Sprintf("Concurrency test completed: max stable level = %d", maxStable),
		Details: map[string]any{
			"max_stable_concurrency": maxStable,
			"breakdown_point":        breakdown,
			"scenarios":              summaries,
		},
		Timestamp: time.Now().UTC(),
	}
}

func (t *Tester) runScenario(ctx context.Context, spec config.ServerSpec, users int, duration time.Duration) models.LoadTestResult {
	start := time.Now()

	var (
		sessionMu sync.Mutex
		sessions  []connector.Session
	)
	var setup errgroup.Group
	for i := 0; i < users; i++ {
		setup.Go(func() error {
			openCtx, cancel := context.WithTimeout(ctx, t.cfg.Thresholds.ConnectTimeout)
			defer cancel()
			session, err := t.factory.Open(openCtx, spec)
			if err != nil {
				return nil
			}
			sessionMu.Lock()
			sessions = append(sessions, session)
			sessionMu.Unlock()
			return nil
		})
	}
	_ = setup.Wait()

	var (
		metricsMu sync.Mutex
		metrics   models.PerformanceMetrics
	)
	metrics.FailureCount = users - len(sessions)

	deadline := time.Now().Add(duration)
	var workers errgroup.Group
	for _, session := range sessions {
		session := session
		workers.Go(func() error {
			defer session.Close()

			listCtx, cancel := context.WithTimeout(ctx, t.cfg.Thresholds.ConnectTimeout)
			names, err := session.ListOperations(listCtx, false)
			cancel()
			if err != nil || len(names) == 0 {
				return nil
			}
			op := names[0]

			for time.Now().Before(deadline) {
				elapsed, invokeErr := t.invokeOnce(ctx, session, op)

				metricsMu.Lock()
				if invokeErr != nil {
					metrics.FailureCount++
				} else {
					metrics.ResponseTimes = append(metrics.ResponseTimes, elapsed)
					metrics.SuccessCount++
				}
				metricsMu.Unlock()

				if err := t.sleep(ctx, workerPause); err != nil {
					return nil
				}
			}
			return nil
		})
	}
	_ = workers.Wait()

	actual := time.Since(start)
	metrics.CalculateDerived(actual)

	return models.LoadTestResult{
		ScenarioName:       fmt.Sprintf("load_test_%d_users", users),
		ConcurrentUsers:    users,
		TestDuration:       actual,
		Metrics:            metrics,
		PerformanceGrade:   grade(metrics, t.cfg.Thresholds.MaxResponseTimeMs, t.cfg.Thresholds.MinSuccessRate),
		BottlenecksFlagged: detectBottlenecks(metrics, t.cfg.Thresholds.MaxResponseTimeMs, t.cfg.Thresholds.MinSuccessRate),
	}
}

// MeasureLatencyProfile measures cold-start, warm-sequential and burst
// latencies for the first discovered operation.
func (t *Tester) MeasureLatencyProfile(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_response_times"

	session, names, result := t.openAndList(ctx, spec, testName, 0.80)
	if session == nil {
		return result
	}
	defer session.Close()

	if len(names) == 0 {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusSkipped,
			Confidence:    0.95,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("No operations available for latency profiling in %s", spec.Name),
			Timestamp:     time.Now().UTC(),
		}
	}
	op := names[0]

	var overall models.PerformanceMetrics
	scenarioDetails := make(map[string]any, 3)

	// Cold start: single call on the fresh session.
	cold := t.timedCalls(ctx, session, op, 1, 0)
	overall.Merge(cold)
	scenarioDetails["cold_start"] = scenarioSummary(cold)

	// Warm sequential: spaced calls on the now-warm session.
	warm := t.timedCalls(ctx, session, op, 10, warmCallPause)
	overall.Merge(warm)
	scenarioDetails["warm_sequential"] = scenarioSummary(warm)

	// Burst: five concurrent calls.
	var (
		burstMu sync.Mutex
		burst   models.PerformanceMetrics
	)
	var group errgroup.Group
	for i := 0; i < 5; i++ {
		group.Go(func() error {
			elapsed, err := t.invokeOnce(ctx, session, op)
			burstMu.Lock()
			defer burstMu.Unlock()
			if err != nil {
				burst.FailureCount++
				return nil
			}
			burst.ResponseTimes = append(burst.ResponseTimes, elapsed)
			burst.SuccessCount++
			return nil
		})
	}
	_ = group.Wait()
	burst.CalculateDerived(0)
	overall.Merge(burst)
	scenarioDetails["burst"] = scenarioSummary(burst)

	if len(overall.ResponseTimes) == 0 {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusFailed,
			Confidence:    0.85,
			ExecutionTime: time.Since(start),
			Message:       "No response times could be measured",
			Timestamp:     time.Now().UTC(),
		}
	}

	elapsed := time.Since(start)
	overall.CalculateDerived(elapsed)
	deviation := stddev(overall.ResponseTimes)

	var issues []string
	if overall.P95ResponseTime > t.cfg.Thresholds.MaxResponseTimeMs {
		issues = append(issues, fmt.Sprintf("P95 response time (%.1fms) exceeds threshold", overall.P95ResponseTime))
	}
	if overall.MaxResponseTime > t.cfg.Thresholds.MaxResponseTimeMs*2 {
		issues = append(issues, fmt.Sprintf("Maximum response time (%.1fms) is excessive", overall.MaxResponseTime))
	}
	if len(overall.ResponseTimes) > 1 && deviation > overall.AvgResponseTime*0.5 {
		issues = append(issues, "High response time variability detected")
	}

	status := models.StatusPassed
	if len(issues) > 0 {
		status = models.StatusFailed
	}

	return models.TestResult{
		TestName:      testName,
		Status:        status,
		Confidence:    0.88,
		ExecutionTime: elapsed,
		Message:       fmt.Sprintf("Latency profile completed: avg %.1fms", overall.AvgResponseTime),
		Details: map[string]any{
			"avg_response_time_ms": overall.AvgResponseTime,
			"min_response_time_ms": overall.MinResponseTime,
			"max_response_time_ms": overall.MaxResponseTime,
			"p95_response_time_ms": overall.P95ResponseTime,
			"p99_response_time_ms": overall.P99ResponseTime,
			"response_time_std":    deviation,
			"scenarios":            scenarioDetails,
			"issues":               issues,
		},
		Timestamp: time.Now().UTC(),
	}
}

// MonitorResourceUsage drives sustained load while sampling the engine
// process, then flags threshold breaches and memory-leak suspicion.
func (t *Tester) MonitorResourceUsage(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_resource_usage"

	monitor := NewResourceMonitor(t.logger)
	monitor.Start(ctx)

	session, names, result := t.openAndList(ctx, spec, testName, 0.75)
	if session == nil {
		monitor.Stop()
		return result
	}
	defer session.Close()

	if len(names) == 0 {
		monitor.Stop()
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusSkipped,
			Confidence:    0.95,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("No operations available for resource monitoring in %s", spec.Name),
			Timestamp:     time.Now().UTC(),
		}
	}

	ops := names
	if len(ops) > sustainedMaxOps {
		ops = ops[:sustainedMaxOps]
	}

	duration := t.cfg.Thresholds.LoadTestDuration
	if duration > 60*time.Second {
		duration = 60 * time.Second
	}

	operationCount := 0
	deadline := time.Now().Add(duration)
loop:
	for time.Now().Before(deadline) {
		for _, op := range ops {
			if _, err := t.invokeOnce(ctx, session, op); err == nil {
				operationCount++
			}
			if err := t.sleep(ctx, warmCallPause); err != nil {
				break loop
			}
		}
	}

	sample := monitor.Stop()
	trend := memoryTrend(sample.MemorySamples)

	var issues []string
	if sample.PeakMemoryMB > t.cfg.Thresholds.MaxMemoryMB {
		issues = append(issues, fmt.Sprintf("Peak memory usage (%.1fMB) exceeds threshold", sample.PeakMemoryMB))
	}
	if sample.AvgCPUPct > t.cfg.Thresholds.MaxCPUPercent {
		issues = append(issues, fmt.Sprintf("Average CPU usage (%.1f%%) exceeds threshold", sample.AvgCPUPct))
	}
	if trend > 0.1 {
		issues = append(issues, fmt.Sprintf("Potential memory leak detected (trend: +%.1f%%)", trend*100))
	}

	status := models.StatusPassed
	if len(issues) > 0 {
		status = models.StatusFailed
	}

	return models.TestResult{
		TestName:      testName,
		Status:        status,
		Confidence:    0.85,
		ExecutionTime: time.Since(start),
		Message:       fmt.Sprintf("Resource usage test completed: %d issues found", len(issues)),
		Details: map[string]any{
			"test_duration_seconds": duration.Seconds(),
			"operations_performed":  operationCount,
			"peak_memory_mb":        sample.PeakMemoryMB,
			"avg_memory_mb":         sample.AvgMemoryMB,
			"peak_cpu_percent":      sample.PeakCPUPct,
			"avg_cpu_percent":       sample.AvgCPUPct,
			"memory_trend":          trend,
			"issues":                issues,
		},
		Timestamp: time.Now().UTC(),
	}
}

// Results returns the recorded load scenarios.
func (t *Tester) Results() []models.LoadTestResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.LoadTestResult(nil), t.results...)
}

// Report aggregates recorded scenarios into a grade distribution and an
// overall score on a 1-5 scale.
func (t *Tester) Report() map[string]any {
	results := t.Results()
	if len(results) == 0 {
		return map[string]any{"message": "No load scenarios recorded"}
	}

	gradeScores := map[string]int{"A": 5, "B": 4, "C": 3, "D": 2, "F": 1}
	distribution := make(map[string]int)
	totalScore := 0
	summaries := make([]map[string]any, 0, len(results))
	for _, r := range results {
		distribution[r.PerformanceGrade]++
		totalScore += gradeScores[r.PerformanceGrade]
		summaries = append(summaries, map[string]any{
			"scenario":          r.ScenarioName,
			"concurrent_users":  r.ConcurrentUsers,
			"duration_seconds":  r.TestDuration.Seconds(),
			"success_rate":      r.Metrics.SuccessRate,
			"avg_response_time": r.Metrics.AvgResponseTime,
			"throughput_rps":    r.Metrics.ThroughputRPS,
			"grade":             r.PerformanceGrade,
			"bottlenecks":       r.BottlenecksFlagged,
		})
	}

	return map[string]any{
		"total_scenarios":    len(results),
		"grade_distribution": distribution,
		"average_score":      float64(totalScore) / float64(len(results)),
		"scenarios":          summaries,
	}
}

func (t *Tester) record(result models.LoadTestResult) {
	t.mu.Lock()
	t.results = append(t.results, result)
	t.mu.Unlock()
}

// openAndList opens a session and lists its operations. On failure it
// returns a nil session plus a ready error result carrying errConfidence.
func (t *Tester) openAndList(ctx context.Context, spec config.ServerSpec, testName string, errConfidence float64) (connector.Session, []string, models.TestResult) {
	start := time.Now()

	openCtx, cancel := context.WithTimeout(ctx, t.cfg.Thresholds.ConnectTimeout)
	session, err := t.factory.Open(openCtx, spec)
	cancel()
	if err != nil {
		return nil, nil, models.TestResult{
			TestName:      testName,
			Status:        models.StatusError,
			Confidence:    errConfidence,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Connection error for %s: %v", spec.Name, err),
			ErrorInfo:     err.Error(),
			Timestamp:     time.Now().UTC(),
		}
	}

	listCtx, cancel := context.WithTimeout(ctx, t.cfg.Thresholds.ConnectTimeout)
	names, err := session.ListOperations(listCtx, false)
	cancel()
	if err != nil {
		_ = session.Close()
		return nil, nil, models.TestResult{
			TestName:      testName,
			Status:        models.StatusError,
			Confidence:    errConfidence,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Discovery error for %s: %v", spec.Name, err),
			ErrorInfo:     err.Error(),
			Timestamp:     time.Now().UTC(),
		}
	}
	return session, names, models.TestResult{}
}

// invokeOnce runs one deadline-bounded invocation and reports its latency in
// milliseconds.
func (t *Tester) invokeOnce(ctx context.Context, session connector.Session, operation string) (float64, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, t.cfg.Thresholds.ExecuteTimeout)
	defer cancel()

	start := time.Now()
	_, err := session.Invoke(invokeCtx, operation, nil)
	if err != nil {
		return 0, err
	}
	return float64(time.Since(start).Microseconds()) / 1000, nil
}

// timedCalls performs sequential invocations with an optional pause.
func (t *Tester) timedCalls(ctx context.Context, session connector.Session, operation string, count int, gap time.Duration) models.PerformanceMetrics {
	var metrics models.PerformanceMetrics
	for i := 0; i < count; i++ {
		elapsed, err := t.invokeOnce(ctx, session, operation)
		if err != nil {
			metrics.FailureCount++
		} else {
			metrics.ResponseTimes = append(metrics.ResponseTimes, elapsed)
			metrics.SuccessCount++
		}
		if gap > 0 && i < count-1 {
			if err := t.sleep(ctx, gap); err != nil {
				break
			}
		}
	}
	metrics.CalculateDerived(0)
	return metrics
}

func scenarioSummary(m models.PerformanceMetrics) map[string]any {
	return map[string]any{
		"avg_response_time": m.AvgResponseTime,
		"min_response_time": m.MinResponseTime,
		"max_response_time": m.MaxResponseTime,
		"success_rate":      m.SuccessRate,
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
