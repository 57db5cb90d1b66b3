// Package repo defines the persistence contract for diagnosis artifacts and
// provides an in-memory implementation. The engine depends only on the Store
// interface; durable backends plug in behind it.
package repo

import (
	"context"
	"time"

	"github.com/probestack/medic/internal/models"
)

// IssueFilter narrows issue queries. Zero values match everything.
type IssueFilter struct {
	ServerName string
	Type       models.IssueType
	Severity   models.IssueSeverity
	Since      time.Time
}

// RemediationFilter narrows remediation queries. Zero values match
// everything.
type RemediationFilter struct {
	IssueID string
	Status  models.RemediationStatus
	Since   time.Time
}

// Store persists suites, issues, remediation attempts and health snapshots.
type Store interface {
	SaveSuite(ctx context.Context, suite models.TestSuite) error
	Suites(ctx context.Context, serverName string) ([]models.TestSuite, error)

	SaveIssues(ctx context.Context, issues []models.Issue) error
	Issues(ctx context.Context, filter IssueFilter) ([]models.Issue, error)

	SaveRemediation(ctx context.Context, result models.RemediationResult) error
	Remediations(ctx context.Context, filter RemediationFilter) ([]models.RemediationResult, error)

	SaveHealth(ctx context.Context, metrics models.HealthMetrics) error
	Health(ctx context.Context, serverName string) (models.HealthMetrics, bool, error)
}
