package orchestrator

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/connector/connectortest"
	"github.com/probestack/medic/internal/models"
	"github.com/probestack/medic/internal/utils"
)

func testConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}
	cfg.Servers = map[string]config.ServerSpec{
		"demo": {Name: "demo", Command: "demo-server"},
	}
	cfg.Thresholds.ConnectTimeout = 200 * time.Millisecond
	cfg.Thresholds.ExecuteTimeout = 200 * time.Millisecond
	return cfg
}

func newTestOrchestrator(fake *connectortest.Fake, cfg *config.Config) *Orchestrator {
	return New(utils.NewLoggerTo(io.Discard, "error", false), fake, cfg, nil)
}

func TestConnectivityPassed(t *testing.T) {
	cfg := testConfig()
	o := newTestOrchestrator(&connectortest.Fake{}, cfg)
	defer o.Close()

	result := o.Connectivity(context.Background(), cfg.Servers["demo"])
	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.95, result.Confidence)
	assert.Equal(t, "demo_connectivity", result.TestName)
	assert.Contains(t, result.Details, "connection_time")
}

func TestConnectivityTimeout(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{OpenDelay: time.Second}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	result := o.Connectivity(context.Background(), cfg.Servers["demo"])
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, 0.90, result.Confidence)
	assert.NotEmpty(t, result.ErrorInfo)
}

func TestConnectivityError(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{OpenErrs: []error{errors.New("spawn failed: no such file")}}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	result := o.Connectivity(context.Background(), cfg.Servers["demo"])
	assert.Equal(t, models.StatusError, result.Status)
	assert.Equal(t, 0.85, result.Confidence)
	assert.Equal(t, "spawn failed: no such file", result.ErrorInfo)
}

func TestDiscoverySkippedWithoutConnectivity(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{OpenErrs: []error{errors.New("refused"), errors.New("refused")}}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	result := o.Discovery(context.Background(), cfg.Servers["demo"])
	assert.Equal(t, models.StatusSkipped, result.Status)
	assert.Equal(t, 0.95, result.Confidence)
}

func TestDiscoveryCountsOperations(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{Operations: []string{"echo", "sum"}}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	result := o.Discovery(context.Background(), cfg.Servers["demo"])
	require.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.90, result.Confidence)
	assert.Equal(t, 2, result.Details["operation_count"])
}

func TestDiscoveryEmptyListLowersConfidence(t *testing.T) {
	cfg := testConfig()
	o := newTestOrchestrator(&connectortest.Fake{}, cfg)
	defer o.Close()

	result := o.Discovery(context.Background(), cfg.Servers["demo"])
	require.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.75, result.Confidence)
}

func TestExecuteUnknownOperation(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{Operations: []string{"echo"}}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	require.Equal(t, models.StatusPassed, o.Connectivity(context.Background(), cfg.Servers["demo"]).Status)
	require.Equal(t, models.StatusPassed, o.Discovery(context.Background(), cfg.Servers["demo"]).Status)

	result := o.Execute(context.Background(), cfg.Servers["demo"], "missing", nil)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, 0.90, result.Confidence)
}

func TestExecutePassedAndTimeout(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{Operations: []string{"echo"}}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	ctx := context.Background()
	require.Equal(t, models.StatusPassed, o.Connectivity(ctx, cfg.Servers["demo"]).Status)
	require.Equal(t, models.StatusPassed, o.Discovery(ctx, cfg.Servers["demo"]).Status)

	result := o.Execute(ctx, cfg.Servers["demo"], "echo", map[string]any{"msg": "hi"})
	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.85, result.Confidence)

	fake.InvokeDelay = time.Second
	result = o.Execute(ctx, cfg.Servers["demo"], "echo", nil)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, 0.90, result.Confidence)
}

func TestValidateConfig(t *testing.T) {
	cfg := testConfig()
	o := newTestOrchestrator(&connectortest.Fake{}, cfg)
	defer o.Close()

	result := o.ValidateConfig(cfg)
	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.90, result.Confidence)

	bad := testConfig()
	bad.Servers = map[string]config.ServerSpec{"demo": {Name: "demo"}}
	result = o.ValidateConfig(bad)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, 0.95, result.Confidence)
	assert.NotEmpty(t, result.Details["issues"])
}

func TestRunSuiteHealthyServer(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{Operations: []string{"echo"}}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	suites := o.RunSuite(context.Background(), "")
	require.Contains(t, suites, "demo")

	suite := suites["demo"]
	// config + connectivity + discovery + one sampled execution
	assert.Equal(t, 4, suite.TotalTests)
	assert.Equal(t, 4, suite.PassedTests)
	assert.Greater(t, suite.OverallConfidence, 0.8)
}

func TestRunSuiteUnreachableServer(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{OpenErrs: []error{errors.New("refused")}}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	suites := o.RunSuite(context.Background(), "demo")
	suite := suites["demo"]
	// discovery and execution never run without connectivity
	assert.Equal(t, 2, suite.TotalTests)
	assert.Equal(t, 1, suite.ErrorTests)
}

func TestProbeConnectivityClosesSession(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{}
	o := newTestOrchestrator(fake, cfg)
	defer o.Close()

	require.NoError(t, o.ProbeConnectivity(context.Background(), cfg.Servers["demo"], 0))
	assert.Equal(t, 1, fake.Opens())
	assert.Equal(t, 1, fake.Closes())
}

func TestCloseReleasesSessions(t *testing.T) {
	cfg := testConfig()
	fake := &connectortest.Fake{}
	o := newTestOrchestrator(fake, cfg)

	require.Equal(t, models.StatusPassed, o.Connectivity(context.Background(), cfg.Servers["demo"]).Status)
	o.Close()
	assert.Equal(t, 1, fake.Closes())
}
