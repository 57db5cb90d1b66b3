package loadtest

import (
	"math"

	"github.com/probestack/medic/internal/models"
)

// grade scores a metrics block from 100 down and maps the remainder to a
// letter. Thresholds come from the engine configuration.
func grade(m models.PerformanceMetrics, maxResponseMs, minSuccessRate float64) string {
	score := 100

	switch {
	case m.AvgResponseTime > maxResponseMs:
		score -= 20
	case m.AvgResponseTime > maxResponseMs*0.8:
		score -= 10
	}

	switch {
	case m.SuccessRate < minSuccessRate:
		score -= 30
	case m.SuccessRate < 0.98:
		score -= 15
	}

	if m.P95ResponseTime > maxResponseMs*1.5 {
		score -= 15
	}

	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// detectBottlenecks names the independent saturation signals in a metrics
// block.
func detectBottlenecks(m models.PerformanceMetrics, maxResponseMs, minSuccessRate float64) []string {
	var bottlenecks []string
	if m.AvgResponseTime > maxResponseMs {
		bottlenecks = append(bottlenecks, "High average response time")
	}
	if m.SuccessRate < minSuccessRate {
		bottlenecks = append(bottlenecks, "Low success rate")
	}
	if m.P95ResponseTime > m.AvgResponseTime*3 {
		bottlenecks = append(bottlenecks, "High response time variability")
	}
	if m.ThroughputRPS < 1.0 {
		bottlenecks = append(bottlenecks, "Low throughput")
	}
	return bottlenecks
}

// memoryTrend fits a least-squares line through the samples and reports the
// projected growth over the window as a fraction of the mean. Fewer than ten
// samples is too noisy to call, so it reports zero.
func memoryTrend(samples []float64) float64 {
	n := len(samples)
	if n < 10 {
		return 0
	}

	xMean := float64(n-1) / 2
	yMean := 0.0
	for _, s := range samples {
		yMean += s
	}
	yMean /= float64(n)

	numerator := 0.0
	denominator := 0.0
	for i, s := range samples {
		dx := float64(i) - xMean
		numerator += dx * (s - yMean)
		denominator += dx * dx
	}
	if denominator == 0 || yMean <= 0 {
		return 0
	}

	slope := numerator / denominator
	return slope * float64(n) / yMean
}

// stddev is the sample standard deviation.
func stddev(samples []float64) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}
	mean := 0.0
	for _, s := range samples {
		mean += s
	}
	mean /= float64(n)

	sumSq := 0.0
	for _, s := range samples {
		d := s - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}
