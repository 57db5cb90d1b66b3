package repo

import (
	"context"
	"sync"

	"github.com/probestack/medic/internal/models"
)

// MemoryStore is the default Store. All writes serialize through one mutex;
// reads return copies so callers can never alias internal state.
type MemoryStore struct {
	mu           sync.RWMutex
	suites       []models.TestSuite
	issues       []models.Issue
	remediations []models.RemediationResult
	health       map[string]models.HealthMetrics
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{health: make(map[string]models.HealthMetrics)}
}

// SaveSuite appends one orchestration run.
func (s *MemoryStore) SaveSuite(_ context.Context, suite models.TestSuite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suites = append(s.suites, suite)
	return nil
}

// Suites returns runs, optionally filtered by server name, oldest first.
func (s *MemoryStore) Suites(_ context.Context, serverName string) ([]models.TestSuite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TestSuite
	for _, suite := range s.suites {
		if serverName != "" && suite.ServerName != serverName {
			continue
		}
		out = append(out, suite)
	}
	return out, nil
}

// SaveIssues appends detected issues.
func (s *MemoryStore) SaveIssues(_ context.Context, issues []models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = append(s.issues, issues...)
	return nil
}

// Issues returns issues matching the filter, oldest first.
func (s *MemoryStore) Issues(_ context.Context, filter IssueFilter) ([]models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Issue
	for _, issue := range s.issues {
		if filter.ServerName != "" && issue.ServerName != filter.ServerName {
			continue
		}
		if filter.Type != "" && issue.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && issue.Severity != filter.Severity {
			continue
		}
		if !filter.Since.IsZero() && issue.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, issue)
	}
	return out, nil
}

// SaveRemediation appends one remediation attempt.
func (s *MemoryStore) SaveRemediation(_ context.Context, result models.RemediationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remediations = append(s.remediations, result)
	return nil
}

// Remediations returns attempts matching the filter, oldest first.
func (s *MemoryStore) Remediations(_ context.Context, filter RemediationFilter) ([]models.RemediationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.RemediationResult
	for _, r := range s.remediations {
		if filter.IssueID != "" && r.IssueID != filter.IssueID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && r.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// SaveHealth upserts the latest health snapshot per server.
func (s *MemoryStore) SaveHealth(_ context.Context, metrics models.HealthMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[metrics.ServerName] = metrics
	return nil
}

// Health returns the latest snapshot for one server.
func (s *MemoryStore) Health(_ context.Context, serverName string) (models.HealthMetrics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.health[serverName]
	return m, ok, nil
}
