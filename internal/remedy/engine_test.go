package remedy

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/models"
	"github.com/probestack/medic/internal/utils"
)

// proberStub consumes scripted probe outcomes; once exhausted every probe
// succeeds.
type proberStub struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *proberStub) ProbeConnectivity(ctx context.Context, spec config.ServerSpec, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func newTestEngine(prober Prober) *Engine {
	e := New(utils.NewLoggerTo(io.Discard, "error", false), prober, models.DefaultRetryConfig())
	e.sleep = func(context.Context, time.Duration) error { return nil }
	e.random = func() float64 { return 0 }
	return e
}

func connectionIssue() models.Issue {
	return models.Issue{
		IssueID:    "issue-1",
		Type:       models.IssueConnectionFailure,
		Severity:   models.SeverityHigh,
		Confidence: 0.95,
		ServerName: "demo",
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := models.RetryConfig{BaseDelay: time.Second, MaxDelay: 60 * time.Second, ExponentialBase: 2}

	assert.Equal(t, time.Second, backoffDelay(cfg, 1, nil))
	assert.Equal(t, 2*time.Second, backoffDelay(cfg, 2, nil))
	assert.Equal(t, 4*time.Second, backoffDelay(cfg, 3, nil))

	cfg.MaxDelay = 3 * time.Second
	assert.Equal(t, 3*time.Second, backoffDelay(cfg, 3, nil))
}

func TestBackoffDelayJitterRange(t *testing.T) {
	cfg := models.RetryConfig{BaseDelay: time.Second, MaxDelay: 60 * time.Second, ExponentialBase: 2, Jitter: true}

	assert.Equal(t, 500*time.Millisecond, backoffDelay(cfg, 1, func() float64 { return 0 }))
	assert.Less(t, backoffDelay(cfg, 1, func() float64 { return 0.9999 }), time.Second)
	assert.GreaterOrEqual(t, backoffDelay(cfg, 1, func() float64 { return 0.5 }), 500*time.Millisecond)
}

func TestRemediateRetrySucceedsOnThirdAttempt(t *testing.T) {
	prober := &proberStub{errs: []error{errors.New("refused"), errors.New("refused"), nil}}
	e := newTestEngine(prober)

	// Command path does not exist, so the permission fix fast-fails without
	// consuming a probe; the config fix is not applicable to this issue type.
	spec := config.ServerSpec{Name: "demo", Command: "/nonexistent/demo-server"}
	result := e.Remediate(context.Background(), connectionIssue(), spec)

	assert.Equal(t, models.RemediationSuccess, result.Status)
	assert.Equal(t, "retry_connection", result.ActionID)
	assert.Equal(t, 3, result.Details["attempts"])
}

func TestRemediateSkippedWithoutActions(t *testing.T) {
	e := newTestEngine(&proberStub{})

	issue := connectionIssue()
	issue.Type = models.IssueProtocolError
	result := e.Remediate(context.Background(), issue, config.ServerSpec{Name: "demo"})

	assert.Equal(t, models.RemediationSkipped, result.Status)
	assert.Equal(t, "no_action", result.ActionID)
	assert.Empty(t, e.History(""))
}

func TestRemediateAllActionsFail(t *testing.T) {
	prober := &proberStub{errs: []error{
		errors.New("refused"), errors.New("refused"), errors.New("refused"),
	}}
	e := newTestEngine(prober)
	e.SetRetryConfig("demo", models.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2, Timeout: time.Second})

	spec := config.ServerSpec{Name: "demo", Command: "/nonexistent/demo-server"}
	result := e.Remediate(context.Background(), connectionIssue(), spec)

	assert.Equal(t, models.RemediationFailed, result.Status)
	assert.Equal(t, "all_failed", result.ActionID)
	assert.Contains(t, result.FollowUpActions, "Manual intervention required")
	// one history entry per attempted catalog action
	assert.Len(t, e.History("issue-1"), 3)
}

func TestRetryConfigOverride(t *testing.T) {
	prober := &proberStub{errs: []error{errors.New("refused")}}
	e := newTestEngine(prober)
	e.SetRetryConfig("demo", models.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2, Timeout: time.Second})

	action := actionCatalog()[models.IssueConnectionFailure][0]
	result := e.executeRetry(context.Background(), action, connectionIssue(), config.ServerSpec{Name: "demo"})

	assert.Equal(t, models.RemediationFailed, result.Status)
	assert.Equal(t, 1, result.Details["attempts"])
	assert.Equal(t, "refused", result.ErrorInfo)
}

func TestConfigFixTimeoutProbe(t *testing.T) {
	e := newTestEngine(&proberStub{})

	issue := connectionIssue()
	issue.Type = models.IssueTimeout
	action := models.RemediationAction{ActionID: "increase_timeout", Strategy: models.StrategyConfigurationFix, Confidence: 0.75}

	result := e.executeConfigFix(context.Background(), action, issue, config.ServerSpec{Name: "demo"})
	assert.Equal(t, models.RemediationSuccess, result.Status)
	assert.Equal(t, 0.75, result.Confidence)
}

func TestConfigFixConfigurationErrorPartial(t *testing.T) {
	e := newTestEngine(&proberStub{})

	issue := connectionIssue()
	issue.Type = models.IssueConfigurationErr
	action := models.RemediationAction{ActionID: "validate_config", Strategy: models.StrategyConfigurationFix, Confidence: 0.85}

	result := e.executeConfigFix(context.Background(), action, issue, config.ServerSpec{Name: "demo"})
	assert.Equal(t, models.RemediationPartialSuccess, result.Status)
	assert.InDelta(t, 0.68, result.Confidence, 1e-9)
	assert.NotEmpty(t, result.FollowUpActions)
}

func TestPermissionFixMissingExecutable(t *testing.T) {
	e := newTestEngine(&proberStub{})

	action := models.RemediationAction{ActionID: "fix_permissions", Strategy: models.StrategyPermissionFix, Confidence: 0.85}
	result := e.executePermissionFix(context.Background(), action, connectionIssue(), config.ServerSpec{Name: "demo", Command: "/nonexistent/demo-server"})

	assert.Equal(t, models.RemediationFailed, result.Status)
	assert.Contains(t, result.Message, "Executable not found")
}

func TestPermissionFixRecordsOriginalPermissions(t *testing.T) {
	dir := t.TempDir()
	command := filepath.Join(dir, "demo-server")
	require.NoError(t, os.WriteFile(command, []byte("#!/bin/sh\n"), 0o755))

	e := newTestEngine(&proberStub{})
	action := models.RemediationAction{ActionID: "fix_permissions", Strategy: models.StrategyPermissionFix, Confidence: 0.85}
	result := e.executePermissionFix(context.Background(), action, connectionIssue(), config.ServerSpec{Name: "demo", Command: command})

	assert.Equal(t, models.RemediationSuccess, result.Status)
	assert.Equal(t, "755", result.Details["original_permissions"])
}

func TestEnvironmentSetupReportsMissingVars(t *testing.T) {
	e := newTestEngine(&proberStub{})

	issue := connectionIssue()
	issue.Type = models.IssueAuthenticationErr
	action := models.RemediationAction{ActionID: "check_environment_vars", Strategy: models.StrategyEnvironmentSetup, Confidence: 0.85}

	result := e.executeEnvironmentSetup(context.Background(), action, issue, config.ServerSpec{Name: "demo"})
	assert.Equal(t, models.RemediationPartialSuccess, result.Status)
	assert.Contains(t, result.Message, "Missing environment variables")
	assert.NotEmpty(t, result.FollowUpActions)
}

func TestResourceCleanupPartialOnPersistentIssue(t *testing.T) {
	prober := &proberStub{errs: []error{errors.New("still exhausted")}}
	e := newTestEngine(prober)

	issue := connectionIssue()
	issue.Type = models.IssueResourceExhaustion
	action := models.RemediationAction{ActionID: "cleanup_resources", Strategy: models.StrategyResourceCleanup, Confidence: 0.8}

	result := e.executeResourceCleanup(context.Background(), action, issue, config.ServerSpec{Name: "demo"})
	assert.Equal(t, models.RemediationPartialSuccess, result.Status)
	assert.InDelta(t, 0.4, result.Confidence, 1e-9)
}

func TestExtractDependencyName(t *testing.T) {
	assert.Equal(t, "requests", extractDependencyName("ModuleNotFoundError: No module named 'requests'"))
	assert.Equal(t, "lodash", extractDependencyName("Error: Cannot find module 'lodash'"))
	assert.Equal(t, "example.com/pkg", extractDependencyName(`cannot find package "example.com/pkg" in any of`))
	assert.Empty(t, extractDependencyName("some unrelated failure"))
}

func TestSuccessRate(t *testing.T) {
	prober := &proberStub{errs: []error{errors.New("refused"), errors.New("refused"), nil}}
	e := newTestEngine(prober)

	spec := config.ServerSpec{Name: "demo", Command: "/nonexistent/demo-server"}
	result := e.Remediate(context.Background(), connectionIssue(), spec)
	require.Equal(t, models.RemediationSuccess, result.Status)

	// three recorded attempts, one success
	assert.InDelta(t, 1.0/3.0, e.SuccessRate(""), 1e-9)
	assert.InDelta(t, 1.0/3.0, e.SuccessRate(models.IssueConnectionFailure), 1e-9)
	assert.Equal(t, 0.0, e.SuccessRate(models.IssueTimeout))
}
