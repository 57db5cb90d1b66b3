package models

import "time"

// IssueType classifies a diagnosed failure.
type IssueType string

const (
	IssueConnectionFailure  IssueType = "connection_failure"
	IssueTimeout            IssueType = "timeout"
	IssueAuthenticationErr  IssueType = "authentication_error"
	IssueToolExecutionErr   IssueType = "tool_execution_error"
	IssueConfigurationErr   IssueType = "configuration_error"
	IssueResourceExhaustion IssueType = "resource_exhaustion"
	IssueProtocolError      IssueType = "protocol_error"
	IssueDependencyMissing  IssueType = "dependency_missing"
	IssuePermissionDenied   IssueType = "permission_denied"
	IssueUnknownError       IssueType = "unknown_error"
)

// IssueSeverity captures impact levels.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
	SeverityInfo     IssueSeverity = "info"
)

// Issue is a classified, confidence-scored finding derived from failed checks.
type Issue struct {
	IssueID              string
	Type                 IssueType
	Severity             IssueSeverity
	Confidence           float64
	Title                string
	Description          string
	ServerName           string
	TestName             string
	Timestamp            time.Time
	ErrorMessage         string
	StackTrace           string
	Context              map[string]any
	SuggestedRemediation []string
	RelatedIssues        []string
	PatternID            string
}

// IssuePattern is one entry of the static recognition library. The regex
// alternatives are matched case-insensitively against failure text.
type IssuePattern struct {
	PatternID       string        `yaml:"id"`
	Type            IssueType     `yaml:"type"`
	Severity        IssueSeverity `yaml:"severity"`
	ErrorPatterns   []string      `yaml:"error_patterns"`
	ConfidenceBase  float64       `yaml:"confidence_base"`
	Remediation     []string      `yaml:"remediation"`
}

// HealthMetrics is the live, EMA-smoothed health record for one server.
type HealthMetrics struct {
	ServerName               string
	Timestamp                time.Time
	ConnectionSuccessRate    float64
	ToolExecutionSuccessRate float64
	AverageResponseTime      time.Duration
	ErrorCount               int
	WarningCount             int
	UptimePercentage         float64
	LastSuccessfulConnection time.Time
	ConsecutiveFailures      int
}
