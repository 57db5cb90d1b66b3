package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateDerived(t *testing.T) {
	m := PerformanceMetrics{
		ResponseTimes: []float64{100, 200, 150, 300, 250},
		SuccessCount:  4,
		FailureCount:  1,
	}
	m.CalculateDerived(5 * time.Second)

	assert.Equal(t, 200.0, m.AvgResponseTime)
	assert.Equal(t, 100.0, m.MinResponseTime)
	assert.Equal(t, 300.0, m.MaxResponseTime)
	assert.Equal(t, 300.0, m.P95ResponseTime)
	assert.Equal(t, 0.8, m.SuccessRate)
	assert.Equal(t, 1.0, m.ThroughputRPS)
}

func TestCalculateDerivedEmpty(t *testing.T) {
	var m PerformanceMetrics
	m.CalculateDerived(time.Second)

	assert.Zero(t, m.AvgResponseTime)
	assert.Zero(t, m.SuccessRate)
	assert.Zero(t, m.ThroughputRPS)
}

func TestMerge(t *testing.T) {
	a := PerformanceMetrics{ResponseTimes: []float64{10}, SuccessCount: 1}
	b := PerformanceMetrics{ResponseTimes: []float64{20, 30}, SuccessCount: 2, FailureCount: 1}

	a.Merge(b)
	assert.Len(t, a.ResponseTimes, 3)
	assert.Equal(t, 3, a.SuccessCount)
	assert.Equal(t, 1, a.FailureCount)
}

func TestNewSuiteTallies(t *testing.T) {
	results := []TestResult{
		{Status: StatusPassed, Confidence: 0.9},
		{Status: StatusFailed, Confidence: 0.8},
		{Status: StatusError, Confidence: 0.7},
		{Status: StatusSkipped, Confidence: 0.6},
	}
	suite := NewSuite("demo", results, time.Second)

	assert.Equal(t, 4, suite.TotalTests)
	assert.Equal(t, 1, suite.PassedTests)
	assert.Equal(t, 1, suite.FailedTests)
	assert.Equal(t, 1, suite.ErrorTests)
	assert.Equal(t, 1, suite.SkippedTests)
	assert.InDelta(t, 0.75, suite.OverallConfidence, 1e-9)
}
