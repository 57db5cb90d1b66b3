package models

import (
	"math"
	"sort"
	"time"
)

// PerformanceMetrics accumulates raw samples during a load scenario. Response
// times are milliseconds, memory samples MB, CPU samples percent. Derived
// fields are only valid after CalculateDerived has run.
type PerformanceMetrics struct {
	ResponseTimes []float64
	MemoryUsage   []float64
	CPUUsage      []float64
	SuccessCount  int
	FailureCount  int
	ErrorCount    int

	AvgResponseTime float64
	MinResponseTime float64
	MaxResponseTime float64
	P95ResponseTime float64
	P99ResponseTime float64

	AvgMemoryUsage  float64
	PeakMemoryUsage float64
	AvgCPUUsage     float64
	PeakCPUUsage    float64

	SuccessRate   float64
	ThroughputRPS float64
}

// CalculateDerived computes every derived field from the raw samples in one
// pass, so the struct is never partially valid.
func (m *PerformanceMetrics) CalculateDerived(duration time.Duration) {
	if len(m.ResponseTimes) > 0 {
		m.AvgResponseTime = mean(m.ResponseTimes)
		m.MinResponseTime = minOf(m.ResponseTimes)
		m.MaxResponseTime = maxOf(m.ResponseTimes)
		m.P95ResponseTime = percentile(m.ResponseTimes, 0.95)
		m.P99ResponseTime = percentile(m.ResponseTimes, 0.99)
	}
	if len(m.MemoryUsage) > 0 {
		m.AvgMemoryUsage = mean(m.MemoryUsage)
		m.PeakMemoryUsage = maxOf(m.MemoryUsage)
	}
	if len(m.CPUUsage) > 0 {
		m.AvgCPUUsage = mean(m.CPUUsage)
		m.PeakCPUUsage = maxOf(m.CPUUsage)
	}

	total := m.SuccessCount + m.FailureCount + m.ErrorCount
	if total > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(total)
	}
	if secs := duration.Seconds(); secs > 0 {
		m.ThroughputRPS = float64(total) / secs
	}
}

// Merge folds another metrics block's raw samples and counts into m.
func (m *PerformanceMetrics) Merge(other PerformanceMetrics) {
	m.ResponseTimes = append(m.ResponseTimes, other.ResponseTimes...)
	m.MemoryUsage = append(m.MemoryUsage, other.MemoryUsage...)
	m.CPUUsage = append(m.CPUUsage, other.CPUUsage...)
	m.SuccessCount += other.SuccessCount
	m.FailureCount += other.FailureCount
	m.ErrorCount += other.ErrorCount
}

// LoadTestResult is the graded outcome of one load scenario.
type LoadTestResult struct {
	ScenarioName       string
	ConcurrentUsers    int
	TestDuration       time.Duration
	Metrics            PerformanceMetrics
	PerformanceGrade   string
	BottlenecksFlagged []string
}

func mean(samples []float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func minOf(samples []float64) float64 {
	min := samples[0]
	for _, s := range samples[1:] {
		if s < min {
			min = s
		}
	}
	return min
}

func maxOf(samples []float64) float64 {
	max := samples[0]
	for _, s := range samples[1:] {
		if s > max {
			max = s
		}
	}
	return max
}

// percentile sorts a copy and indexes at floor(p*n), clamped to the last
// element. Five samples at p95 therefore select index 4.
func percentile(samples []float64, p float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(math.Floor(p * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
