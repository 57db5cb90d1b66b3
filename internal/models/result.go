package models

import "time"

// TestStatus enumerates check execution states.
type TestStatus string

const (
	StatusPending TestStatus = "pending"
	StatusRunning TestStatus = "running"
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
	StatusSkipped TestStatus = "skipped"
	StatusError   TestStatus = "error"
)

// TestResult is the immutable outcome of a single check against a server.
type TestResult struct {
	TestName      string
	Status        TestStatus
	Confidence    float64
	ExecutionTime time.Duration
	Message       string
	Details       map[string]any
	Timestamp     time.Time
	ErrorInfo     string
}

// TestSuite aggregates the results of one orchestration run for a server.
type TestSuite struct {
	ServerName        string
	TotalTests        int
	PassedTests       int
	FailedTests       int
	ErrorTests        int
	SkippedTests      int
	OverallConfidence float64
	ExecutionTime     time.Duration
	Results           []TestResult
	Timestamp         time.Time
}

// NewSuite tallies statuses and averages confidences over the given results.
func NewSuite(serverName string, results []TestResult, elapsed time.Duration) TestSuite {
	suite := TestSuite{
		ServerName:    serverName,
		TotalTests:    len(results),
		ExecutionTime: elapsed,
		Results:       results,
		Timestamp:     time.Now().UTC(),
	}

	sum := 0.0
	for _, r := range results {
		sum += r.Confidence
		switch r.Status {
		case StatusPassed:
			suite.PassedTests++
		case StatusFailed:
			suite.FailedTests++
		case StatusError:
			suite.ErrorTests++
		case StatusSkipped:
			suite.SkippedTests++
		}
	}
	if len(results) > 0 {
		suite.OverallConfidence = sum / float64(len(results))
	}
	return suite
}
