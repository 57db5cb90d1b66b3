// Package orchestrator runs the layered check suite against target servers:
// configuration validation, connectivity, capability discovery, and sampled
// operation execution. Checks never let a failure escape; every outcome is a
// typed TestResult with a confidence score.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/probestack/medic/internal/cache"
	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/connector"
	"github.com/probestack/medic/internal/models"
)

// Orchestrator owns the session cache and produces TestSuites. All shared
// state is guarded, so one instance can serve concurrent callers.
type Orchestrator struct {
	logger  *slog.Logger
	factory connector.Factory
	cfg     *config.Config
	cache   cache.Provider

	mu       sync.Mutex
	sessions map[string]connector.Session
	ops      map[string][]string
	suites   map[string]models.TestSuite
}

// New constructs an Orchestrator. cacheProvider may be nil.
func New(logger *slog.Logger, factory connector.Factory, cfg *config.Config, cacheProvider cache.Provider) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Orchestrator{
		logger:   logger,
		factory:  factory,
		cfg:      cfg,
		cache:    cacheProvider,
		sessions: make(map[string]connector.Session),
		ops:      make(map[string][]string),
		suites:   make(map[string]models.TestSuite),
	}
}

// Connectivity opens a session under the configured deadline. A successful
// handle is cached per server name for reuse by later checks.
func (o *Orchestrator) Connectivity(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_connectivity"

	openCtx, cancel := context.WithTimeout(ctx, o.cfg.Thresholds.ConnectTimeout)
	defer cancel()

	session, err := o.factory.Open(openCtx, spec)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		o.storeSession(spec.Name, session)
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusPassed,
			Confidence:    0.95,
			ExecutionTime: elapsed,
			Message:       fmt.Sprintf("Successfully connected to %s", spec.Name),
			Details: map[string]any{
				"command":         spec.Command,
				"args":            spec.Args,
				"connection_time": elapsed.Seconds(),
			},
			Timestamp: time.Now().UTC(),
		}
	case connector.IsTimeout(err):
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusFailed,
			Confidence:    0.90,
			ExecutionTime: elapsed,
			Message:       fmt.Sprintf("Connection timeout for %s", spec.Name),
			ErrorInfo:     fmt.Sprintf("connection timed out after %s", o.cfg.Thresholds.ConnectTimeout),
			Timestamp:     time.Now().UTC(),
		}
	default:
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusError,
			Confidence:    0.85,
			ExecutionTime: elapsed,
			Message:       fmt.Sprintf("Connection error for %s: %v", spec.Name, err),
			ErrorInfo:     err.Error(),
			Timestamp:     time.Now().UTC(),
		}
	}
}

// Discovery forces a capability refresh and counts discovered operations.
// It requires a prior successful connectivity check.
func (o *Orchestrator) Discovery(ctx context.Context, spec config.ServerSpec) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_discovery"

	session := o.session(spec.Name)
	if session == nil {
		conn := o.Connectivity(ctx, spec)
		if conn.Status != models.StatusPassed {
			return models.TestResult{
				TestName:      testName,
				Status:        models.StatusSkipped,
				Confidence:    0.95,
				ExecutionTime: time.Since(start),
				Message:       fmt.Sprintf("Skipped discovery - connectivity failed for %s", spec.Name),
				Timestamp:     time.Now().UTC(),
			}
		}
		session = o.session(spec.Name)
	}

	listCtx, cancel := context.WithTimeout(ctx, o.cfg.Thresholds.ConnectTimeout)
	defer cancel()

	names, err := session.ListOperations(listCtx, true)
	elapsed := time.Since(start)
	if err != nil {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusError,
			Confidence:    0.85,
			ExecutionTime: elapsed,
			Message:       fmt.Sprintf("Discovery error for %s: %v", spec.Name, err),
			ErrorInfo:     err.Error(),
			Timestamp:     time.Now().UTC(),
		}
	}

	sort.Strings(names)
	o.storeOperations(ctx, spec.Name, names)

	confidence := 0.90
	if len(names) == 0 {
		confidence = 0.75
	}
	return models.TestResult{
		TestName:      testName,
		Status:        models.StatusPassed,
		Confidence:    confidence,
		ExecutionTime: elapsed,
		Message:       fmt.Sprintf("Discovered %d operations for %s", len(names), spec.Name),
		Details: map[string]any{
			"operation_count": len(names),
			"operation_names": names,
			"discovery_time":  elapsed.Seconds(),
		},
		Timestamp: time.Now().UTC(),
	}
}

// Execute invokes one named operation on an already connected server.
func (o *Orchestrator) Execute(ctx context.Context, spec config.ServerSpec, operation string, args map[string]any) models.TestResult {
	start := time.Now()
	testName := spec.Name + "_" + operation + "_execution"

	session := o.session(spec.Name)
	if session == nil {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusSkipped,
			Confidence:    0.95,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Skipped execution - no active session for %s", spec.Name),
			Timestamp:     time.Now().UTC(),
		}
	}

	if !o.knowsOperation(spec.Name, operation) {
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusFailed,
			Confidence:    0.90,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Operation %q not found in %s", operation, spec.Name),
			Timestamp:     time.Now().UTC(),
		}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, o.cfg.Thresholds.ExecuteTimeout)
	defer cancel()

	result, err := session.Invoke(invokeCtx, operation, args)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusPassed,
			Confidence:    0.85,
			ExecutionTime: elapsed,
			Message:       fmt.Sprintf("Successfully executed %s on %s", operation, spec.Name),
			Details: map[string]any{
				"operation":      operation,
				"args":           args,
				"result_length":  len(result),
				"execution_time": elapsed.Seconds(),
			},
			Timestamp: time.Now().UTC(),
		}
	case connector.IsTimeout(err):
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusFailed,
			Confidence:    0.90,
			ExecutionTime: elapsed,
			Message:       fmt.Sprintf("Execution timeout for %s on %s", operation, spec.Name),
			ErrorInfo:     fmt.Sprintf("execution timed out after %s", o.cfg.Thresholds.ExecuteTimeout),
			Timestamp:     time.Now().UTC(),
		}
	default:
		validation := connector.ClassifyInvokeError(err)
		return models.TestResult{
			TestName:      testName,
			Status:        models.StatusError,
			Confidence:    0.80,
			ExecutionTime: elapsed,
			Message:       fmt.Sprintf("Execution error for %s on %s: %v", operation, spec.Name, err),
			ErrorInfo:     err.Error(),
			Details: map[string]any{
				// Best-effort signal only; never treated as proof the server
				// validated its input.
				"input_validation": validation.Secure,
				"validation_note":  validation.Detail,
			},
			Timestamp: time.Now().UTC(),
		}
	}
}

// ValidateConfig is a pure structural check of the engine configuration.
func (o *Orchestrator) ValidateConfig(cfg *config.Config) models.TestResult {
	start := time.Now()

	var issues []string
	if cfg == nil {
		issues = append(issues, "configuration is nil")
	} else {
		if len(cfg.Servers) == 0 {
			issues = append(issues, "no servers configured")
		}
		for name, spec := range cfg.Servers {
			if spec.Command == "" {
				issues = append(issues, fmt.Sprintf("server %q has no command specified", name))
			}
		}
		if cfg.Thresholds.ConnectTimeout <= 0 {
			issues = append(issues, "connect timeout must be positive")
		}
		if cfg.Thresholds.ExecuteTimeout <= 0 {
			issues = append(issues, "execute timeout must be positive")
		}
	}

	if len(issues) > 0 {
		return models.TestResult{
			TestName:      "configuration_validation",
			Status:        models.StatusFailed,
			Confidence:    0.95,
			ExecutionTime: time.Since(start),
			Message:       fmt.Sprintf("Configuration validation failed: %d issues found", len(issues)),
			Details:       map[string]any{"issues": issues},
			Timestamp:     time.Now().UTC(),
		}
	}
	return models.TestResult{
		TestName:      "configuration_validation",
		Status:        models.StatusPassed,
		Confidence:    0.90,
		ExecutionTime: time.Since(start),
		Message:       "Configuration validation passed",
		Details:       map[string]any{"server_count": len(cfg.Servers)},
		Timestamp:     time.Now().UTC(),
	}
}

// RunSuite executes the layered checks for the named server, or every
// configured server when serverName is empty. A failing server degrades its
// own suite and never stops the others.
func (o *Orchestrator) RunSuite(ctx context.Context, serverName string) map[string]models.TestSuite {
	configResult := o.ValidateConfig(o.cfg)

	targets := make(map[string]config.ServerSpec)
	if serverName != "" {
		if spec, ok := o.cfg.Servers[serverName]; ok {
			targets[serverName] = spec
		}
	} else {
		for name, spec := range o.cfg.Servers {
			targets[name] = spec
		}
	}

	suites := make(map[string]models.TestSuite, len(targets))
	for name, spec := range targets {
		suiteStart := time.Now()
		results := []models.TestResult{configResult}

		conn := o.Connectivity(ctx, spec)
		results = append(results, conn)

		if conn.Status == models.StatusPassed {
			discovery := o.Discovery(ctx, spec)
			results = append(results, discovery)

			if discovery.Status == models.StatusPassed {
				if names, _ := discovery.Details["operation_names"].([]string); len(names) > 0 {
					// Sample exactly one operation for execution testing.
					results = append(results, o.Execute(ctx, spec, names[0], nil))
				}
			}
		}

		suite := models.NewSuite(name, results, time.Since(suiteStart))
		suites[name] = suite

		o.mu.Lock()
		o.suites[name] = suite
		o.mu.Unlock()

		o.logger.Info("suite completed",
			slog.String("server", name),
			slog.Int("tests", suite.TotalTests),
			slog.Int("failed", suite.FailedTests+suite.ErrorTests),
			slog.Float64("confidence", suite.OverallConfidence))
	}
	return suites
}

// ProbeConnectivity opens and immediately closes a throwaway session. The
// remediation engine uses it to validate fixes.
func (o *Orchestrator) ProbeConnectivity(ctx context.Context, spec config.ServerSpec, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = o.cfg.Thresholds.ConnectTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := o.factory.Open(probeCtx, spec)
	if err != nil {
		return err
	}
	return session.Close()
}

// Suites returns a copy of the last suite per server.
func (o *Orchestrator) Suites() map[string]models.TestSuite {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]models.TestSuite, len(o.suites))
	for name, suite := range o.suites {
		out[name] = suite
	}
	return out
}

// Close tears down every cached session.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	sessions := o.sessions
	o.sessions = make(map[string]connector.Session)
	o.mu.Unlock()

	for name, session := range sessions {
		if err := session.Close(); err != nil {
			o.logger.Debug("session close failed", slog.String("server", name), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) storeSession(name string, session connector.Session) {
	o.mu.Lock()
	previous := o.sessions[name]
	o.sessions[name] = session
	o.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
}

func (o *Orchestrator) session(name string) connector.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[name]
}

func (o *Orchestrator) storeOperations(ctx context.Context, name string, names []string) {
	o.mu.Lock()
	o.ops[name] = append([]string(nil), names...)
	o.mu.Unlock()

	if payload, err := json.Marshal(names); err == nil {
		if err := o.cache.Set(ctx, operationsKey(name), payload, o.cfg.Cache.OperationsTTL); err != nil {
			o.logger.Debug("operation cache write failed", slog.String("server", name), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) knowsOperation(name, operation string) bool {
	o.mu.Lock()
	known := o.ops[name]
	o.mu.Unlock()

	if known == nil {
		// Fall back to the cached capability list from a previous run.
		if payload, err := o.cache.Get(context.Background(), operationsKey(name)); err == nil {
			var names []string
			if json.Unmarshal(payload, &names) == nil {
				known = names
			}
		}
	}
	for _, op := range known {
		if op == operation {
			return true
		}
	}
	return false
}

func operationsKey(server string) string {
	return "medic:ops:" + server
}
