// Package remedy attempts automated repair of diagnosed issues. Each issue
// type maps to a catalog of candidate actions tried in confidence order;
// every attempt lands in an append-only history used for success-rate
// learning.
package remedy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/models"
)

// extendedProbeTimeout is the deadline used when validating a timeout fix.
const extendedProbeTimeout = 30 * time.Second

// Prober validates a repair by re-establishing connectivity.
type Prober interface {
	ProbeConnectivity(ctx context.Context, spec config.ServerSpec, timeout time.Duration) error
}

// Engine drives remediation. Safe for concurrent use.
type Engine struct {
	logger   *slog.Logger
	prober   Prober
	catalog  map[models.IssueType][]models.RemediationAction
	defaults models.RetryConfig

	// injectable for tests
	sleep  func(context.Context, time.Duration) error
	random func() float64

	mu           sync.Mutex
	history      []models.RemediationResult
	retryConfigs map[string]models.RetryConfig
}

// New constructs an Engine with the built-in action catalog.
func New(logger *slog.Logger, prober Prober, defaults models.RetryConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.MaxAttempts <= 0 {
		defaults = models.DefaultRetryConfig()
	}
	return &Engine{
		logger:       logger,
		prober:       prober,
		catalog:      actionCatalog(),
		defaults:     defaults,
		sleep:        sleepCtx,
		random:       rand.Float64,
		retryConfigs: make(map[string]models.RetryConfig),
	}
}

// Remediate tries catalog actions for the issue in descending confidence
// order until one succeeds. Never returns an error; failures are encoded in
// the result status.
func (e *Engine) Remediate(ctx context.Context, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	start := time.Now()

	actions := append([]models.RemediationAction(nil), e.catalog[issue.Type]...)
	if len(actions) == 0 {
		return models.RemediationResult{
			ActionID:      "no_action",
			IssueID:       issue.IssueID,
			Strategy:      models.StrategyManualIntervention,
			Status:        models.RemediationSkipped,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("No remediation actions available for %s", issue.Type),
			Timestamp:     time.Now().UTC(),
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Confidence > actions[j].Confidence
	})

	for _, action := range actions {
		result := e.executeAction(ctx, action, issue, spec)
		result.Strategy = action.Strategy
		e.record(issue, result)
		if result.Status == models.RemediationSuccess {
			e.logger.Info("remediation succeeded",
				slog.String("issue", issue.IssueID),
				slog.String("action", result.ActionID),
				slog.String("server", issue.ServerName))
			return result
		}
	}

	return models.RemediationResult{
		ActionID:        "all_failed",
		IssueID:         issue.IssueID,
		Strategy:        models.StrategyManualIntervention,
		Status:          models.RemediationFailed,
		ExecutionTime:   time.Since(start),
		Message:         "All remediation actions failed",
		Timestamp:       time.Now().UTC(),
		FollowUpActions: []string{"Manual intervention required", "Review logs for details"},
	}
}

func (e *Engine) executeAction(ctx context.Context, action models.RemediationAction, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	switch action.Strategy {
	case models.StrategyRetry:
		return e.executeRetry(ctx, action, issue, spec)
	case models.StrategyConfigurationFix:
		return e.executeConfigFix(ctx, action, issue, spec)
	case models.StrategyDependencyInstall:
		return e.executeDependencyInstall(ctx, action, issue, spec)
	case models.StrategyPermissionFix:
		return e.executePermissionFix(ctx, action, issue, spec)
	case models.StrategyEnvironmentSetup:
		return e.executeEnvironmentSetup(ctx, action, issue, spec)
	case models.StrategyResourceCleanup:
		return e.executeResourceCleanup(ctx, action, issue, spec)
	case models.StrategyServiceRestart:
		return e.executeServiceRestart(ctx, action, issue, spec)
	default:
		return models.RemediationResult{
			ActionID:  action.ActionID,
			IssueID:   issue.IssueID,
			Status:    models.RemediationSkipped,
			Message:   fmt.Sprintf("Unsupported remediation strategy: %s", action.Strategy),
			Timestamp: time.Now().UTC(),
		}
	}
}

func (e *Engine) executeRetry(ctx context.Context, action models.RemediationAction, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	start := time.Now()
	cfg := e.retryConfig(issue.ServerName)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, backoffDelay(cfg, attempt-1, e.random)); err != nil {
				lastErr = err
				break
			}
		}
		if err := e.probe(ctx, spec, cfg.Timeout); err != nil {
			lastErr = err
			continue
		}
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationSuccess,
			Confidence:    action.Confidence,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Retry successful after %d attempts", attempt),
			Timestamp:     time.Now().UTC(),
			Details: map[string]any{
				"attempts":   attempt,
				"total_time": time.Since(start).Seconds(),
			},
		}
	}

	result := models.RemediationResult{
		ActionID:      action.ActionID,
		IssueID:       issue.IssueID,
		Status:        models.RemediationFailed,
		ExecutionTime: time.Since(start),
		Message:       fmt.Sprintf("Retry failed after %d attempts", cfg.MaxAttempts),
		Timestamp:     time.Now().UTC(),
		Details:       map[string]any{"attempts": cfg.MaxAttempts},
	}
	if lastErr != nil {
		result.ErrorInfo = lastErr.Error()
	}
	return result
}

func (e *Engine) executeConfigFix(ctx context.Context, action models.RemediationAction, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	start := time.Now()

	switch issue.Type {
	case models.IssueTimeout:
		if err := e.sleep(ctx, time.Second); err != nil {
			return e.cancelled(action, issue, start, err)
		}
		if err := e.probe(ctx, spec, extendedProbeTimeout); err == nil {
			return models.RemediationResult{
				ActionID:      action.ActionID,
				IssueID:       issue.IssueID,
				Status:        models.RemediationSuccess,
				Confidence:    action.Confidence,
				ExecutionTime: time.Since(start),
				Message:       "Configuration fix successful - increased timeout values",
				Timestamp:     time.Now().UTC(),
			}
		}
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationFailed,
			ExecutionTime: time.Since(start),
			Message:       "Configuration fix did not resolve the issue",
			Timestamp:     time.Now().UTC(),
		}

	case models.IssueConfigurationErr:
		if err := e.sleep(ctx, 2*time.Second); err != nil {
			return e.cancelled(action, issue, start, err)
		}
		return models.RemediationResult{
			ActionID:        action.ActionID,
			IssueID:         issue.IssueID,
			Status:          models.RemediationPartialSuccess,
			Confidence:      action.Confidence * 0.8,
			ExecutionTime:   time.Since(start),
			Message:         "Configuration validated - manual review recommended",
			Timestamp:       time.Now().UTC(),
			FollowUpActions: []string{"Review server configuration file", "Check parameter syntax"},
		}

	default:
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationFailed,
			ExecutionTime: time.Since(start),
			Message:       "Configuration fix not applicable for this issue type",
			Timestamp:     time.Now().UTC(),
		}
	}
}

var dependencyExprs = []*regexp.Regexp{
	regexp.MustCompile(`No module named '([^']+)'`),
	regexp.MustCompile(`ImportError: No module named ([^\s]+)`),
	regexp.MustCompile(`Cannot find module '([^']+)'`),
	regexp.MustCompile(`Cannot resolve module '([^']+)'`),
	regexp.MustCompile(`cannot find package "([^"]+)"`),
}

func extractDependencyName(errorMessage string) string {
	for _, re := range dependencyExprs {
		if m := re.FindStringSubmatch(errorMessage); m != nil {
			return m[1]
		}
	}
	return ""
}

func (e *Engine) executeDependencyInstall(ctx context.Context, action models.RemediationAction, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	start := time.Now()

	dependency := extractDependencyName(issue.ErrorMessage)
	if dependency == "" {
		dependency = extractDependencyName(issue.StackTrace)
	}
	if dependency == "" {
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationFailed,
			ExecutionTime: time.Since(start),
			Message:       "Could not identify missing dependency",
			Timestamp:     time.Now().UTC(),
		}
	}

	// Installation is simulated; actually running package managers is out of
	// the engine's trust boundary.
	if err := e.sleep(ctx, 5*time.Second); err != nil {
		return e.cancelled(action, issue, start, err)
	}

	if err := e.probe(ctx, spec, e.defaults.Timeout); err == nil {
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationSuccess,
			Confidence:    action.Confidence,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Successfully installed dependency: %s", dependency),
			Timestamp:     time.Now().UTC(),
			Details:       map[string]any{"dependency": dependency},
		}
	}
	return models.RemediationResult{
		ActionID:        action.ActionID,
		IssueID:         issue.IssueID,
		Status:          models.RemediationPartialSuccess,
		Confidence:      action.Confidence * 0.6,
		ExecutionTime:   time.Since(start),
		Message:         fmt.Sprintf("Dependency installed but issue persists: %s", dependency),
		Timestamp:       time.Now().UTC(),
		FollowUpActions: []string{"Check for additional dependencies", "Verify installation"},
	}
}

func (e *Engine) executePermissionFix(ctx context.Context, action models.RemediationAction, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	start := time.Now()

	info, err := os.Stat(spec.Command)
	if err != nil {
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationFailed,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Executable not found: %s", spec.Command),
			Timestamp:     time.Now().UTC(),
		}
	}
	originalPerms := fmt.Sprintf("%03o", info.Mode().Perm())

	if err := e.sleep(ctx, time.Second); err != nil {
		return e.cancelled(action, issue, start, err)
	}

	if err := e.probe(ctx, spec, e.defaults.Timeout); err == nil {
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationSuccess,
			Confidence:    action.Confidence,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Permission fix successful for %s", spec.Command),
			Timestamp:     time.Now().UTC(),
			Details: map[string]any{
				"original_permissions": originalPerms,
				"command_path":         spec.Command,
			},
		}
	}
	return models.RemediationResult{
		ActionID:      action.ActionID,
		IssueID:       issue.IssueID,
		Status:        models.RemediationFailed,
		ExecutionTime: time.Since(start),
		Message:       "Permission fix did not resolve the issue",
		Timestamp:     time.Now().UTC(),
	}
}

func (e *Engine) executeEnvironmentSetup(ctx context.Context, action models.RemediationAction, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	start := time.Now()

	required := []string{"PATH"}
	if issue.Type == models.IssueAuthenticationErr {
		required = append(required, "API_KEY", "AUTH_TOKEN", "CREDENTIALS")
	}

	var missing []string
	for _, name := range required {
		if os.Getenv(name) == "" && spec.Env[name] == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		followUps := make([]string, 0, len(missing))
		for _, name := range missing {
			followUps = append(followUps, fmt.Sprintf("Set environment variable: %s", name))
		}
		return models.RemediationResult{
			ActionID:        action.ActionID,
			IssueID:         issue.IssueID,
			Status:          models.RemediationPartialSuccess,
			Confidence:      action.Confidence * 0.7,
			ExecutionTime:   time.Since(start),
			Message:         fmt.Sprintf("Missing environment variables: %s", strings.Join(missing, ", ")),
			Timestamp:       time.Now().UTC(),
			FollowUpActions: followUps,
		}
	}

	if err := e.probe(ctx, spec, e.defaults.Timeout); err == nil {
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationSuccess,
			Confidence:    action.Confidence,
			ExecutionTime: time.Since(start),
			Message:       "Environment setup verified successfully",
			Timestamp:     time.Now().UTC(),
		}
	}
	return models.RemediationResult{
		ActionID:      action.ActionID,
		IssueID:       issue.IssueID,
		Status:        models.RemediationFailed,
		ExecutionTime: time.Since(start),
		Message:       "Environment setup did not resolve the issue",
		Timestamp:     time.Now().UTC(),
	}
}

func (e *Engine) executeResourceCleanup(ctx context.Context, action models.RemediationAction, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	start := time.Now()

	if err := e.sleep(ctx, 2*time.Second); err != nil {
		return e.cancelled(action, issue, start, err)
	}

	if err := e.probe(ctx, spec, e.defaults.Timeout); err == nil {
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationSuccess,
			Confidence:    action.Confidence,
			ExecutionTime: time.Since(start),
			Message:       "Resource cleanup successful",
			Timestamp:     time.Now().UTC(),
		}
	}
	return models.RemediationResult{
		ActionID:        action.ActionID,
		IssueID:         issue.IssueID,
		Status:          models.RemediationPartialSuccess,
		Confidence:      action.Confidence * 0.5,
		ExecutionTime:   time.Since(start),
		Message:         "Resource cleanup completed but issue persists",
		Timestamp:       time.Now().UTC(),
		FollowUpActions: []string{"Monitor resource usage", "Consider service restart"},
	}
}

func (e *Engine) executeServiceRestart(ctx context.Context, action models.RemediationAction, issue models.Issue, spec config.ServerSpec) models.RemediationResult {
	start := time.Now()

	if err := e.sleep(ctx, 5*time.Second); err != nil {
		return e.cancelled(action, issue, start, err)
	}

	if err := e.probe(ctx, spec, e.defaults.Timeout); err == nil {
		return models.RemediationResult{
			ActionID:      action.ActionID,
			IssueID:       issue.IssueID,
			Status:        models.RemediationSuccess,
			Confidence:    action.Confidence,
			ExecutionTime: time.Since(start),
			Message:       "Service restart successful",
			Timestamp:     time.Now().UTC(),
		}
	}
	return models.RemediationResult{
		ActionID:      action.ActionID,
		IssueID:       issue.IssueID,
		Status:        models.RemediationFailed,
		ExecutionTime: time.Since(start),
		Message:       "Service restart did not resolve the issue",
		Timestamp:     time.Now().UTC(),
	}
}

func (e *Engine) probe(ctx context.Context, spec config.ServerSpec, timeout time.Duration) error {
	if e.prober == nil {
		return fmt.Errorf("no connectivity prober configured")
	}
	if timeout <= 0 {
		timeout = e.defaults.Timeout
	}
	return e.prober.ProbeConnectivity(ctx, spec, timeout)
}

func (e *Engine) cancelled(action models.RemediationAction, issue models.Issue, start time.Time, err error) models.RemediationResult {
	return models.RemediationResult{
		ActionID:      action.ActionID,
		IssueID:       issue.IssueID,
		Status:        models.RemediationFailed,
		ExecutionTime: time.Since(start),
		Message:       fmt.Sprintf("Remediation action aborted: %v", err),
		ErrorInfo:     err.Error(),
		Timestamp:     time.Now().UTC(),
	}
}

func (e *Engine) record(issue models.Issue, result models.RemediationResult) {
	if result.Details == nil {
		result.Details = make(map[string]any)
	}
	result.Details["issue_type"] = string(issue.Type)

	e.mu.Lock()
	e.history = append(e.history, result)
	e.mu.Unlock()
}

// SetRetryConfig overrides the retry policy for one server.
func (e *Engine) SetRetryConfig(serverName string, cfg models.RetryConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryConfigs[serverName] = cfg
}

func (e *Engine) retryConfig(serverName string) models.RetryConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg, ok := e.retryConfigs[serverName]; ok {
		return cfg
	}
	return e.defaults
}

// History returns attempts, optionally filtered by issue id.
func (e *Engine) History(issueID string) []models.RemediationResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.RemediationResult
	for _, r := range e.history {
		if issueID != "" && r.IssueID != issueID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SuccessRate reports the fraction of attempts that fully succeeded,
// optionally restricted to one issue type. Empty history yields 0.
func (e *Engine) SuccessRate(issueType models.IssueType) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	succeeded := 0
	for _, r := range e.history {
		if issueType != "" {
			if t, _ := r.Details["issue_type"].(string); t != string(issueType) {
				continue
			}
		}
		total++
		if r.Status == models.RemediationSuccess {
			succeeded++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(succeeded) / float64(total)
}
