package models

import "time"

// RemediationStatus tracks the state machine of one repair attempt.
type RemediationStatus string

const (
	RemediationPending        RemediationStatus = "pending"
	RemediationInProgress     RemediationStatus = "in_progress"
	RemediationSuccess        RemediationStatus = "success"
	RemediationFailed         RemediationStatus = "failed"
	RemediationPartialSuccess RemediationStatus = "partial_success"
	RemediationSkipped        RemediationStatus = "skipped"
)

// RemediationStrategy enumerates categories of automated repair.
type RemediationStrategy string

const (
	StrategyRetry              RemediationStrategy = "retry"
	StrategyConfigurationFix   RemediationStrategy = "configuration_fix"
	StrategyDependencyInstall  RemediationStrategy = "dependency_install"
	StrategyPermissionFix      RemediationStrategy = "permission_fix"
	StrategyEnvironmentSetup   RemediationStrategy = "environment_setup"
	StrategyResourceCleanup    RemediationStrategy = "resource_cleanup"
	StrategyServiceRestart     RemediationStrategy = "service_restart"
	StrategyManualIntervention RemediationStrategy = "manual_intervention"
)

// RiskLevel grades how invasive an action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RemediationAction is a static catalog entry describing one candidate repair.
type RemediationAction struct {
	ActionID        string
	Strategy        RemediationStrategy
	Description     string
	Confidence      float64
	EstimatedTime   time.Duration
	Risk            RiskLevel
	Prerequisites   []string
	Commands        []string
	ValidationSteps []string
	RollbackSteps   []string
}

// RemediationResult records the outcome of one attempted action. Appended to
// an append-only history; always references a previously produced Issue.
type RemediationResult struct {
	ActionID        string
	IssueID         string
	Strategy        RemediationStrategy
	Status          RemediationStatus
	Confidence      float64
	ExecutionTime   time.Duration
	Message         string
	Timestamp       time.Time
	Details         map[string]any
	ErrorInfo       string
	FollowUpActions []string
}

// RetryConfig bounds the exponential-backoff retry strategy.
type RetryConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	Timeout         time.Duration
}

// DefaultRetryConfig mirrors the documented defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		Timeout:         30 * time.Second,
	}
}
