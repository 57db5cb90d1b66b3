package security

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/connector/connectortest"
	"github.com/probestack/medic/internal/models"
	"github.com/probestack/medic/internal/utils"
)

func newTestScanner(t *testing.T, fake *connectortest.Fake) *Scanner {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return New(utils.NewLoggerTo(io.Discard, "error", false), fake, cfg)
}

func demoSpec() config.ServerSpec {
	return config.ServerSpec{Name: "demo", Command: "demo-server"}
}

func TestCheckCredentialHandlingOpenServer(t *testing.T) {
	// The zero-value fake accepts every session, credentials or not.
	scanner := newTestScanner(t, &connectortest.Fake{})

	result := scanner.CheckCredentialHandling(context.Background(), demoSpec())
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, 0.80, result.Confidence)
	assert.Equal(t, 2, result.Details["vulnerabilities"])

	vulns := scanner.Vulnerabilities()
	require.Len(t, vulns, 2)
	assert.Equal(t, "credential_bypass", vulns[0].Type)
	assert.Equal(t, models.SeverityHigh, vulns[0].Severity)
}

func TestCheckCredentialHandlingRejectingServer(t *testing.T) {
	fake := &connectortest.Fake{OpenErrs: []error{
		errors.New("authentication failed"),
		errors.New("authentication failed"),
	}}
	scanner := newTestScanner(t, fake)

	result := scanner.CheckCredentialHandling(context.Background(), demoSpec())
	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.90, result.Confidence)
	assert.Empty(t, scanner.Vulnerabilities())
}

func TestCheckOperationExposureDangerousNames(t *testing.T) {
	fake := &connectortest.Fake{Operations: []string{"shell_exec", "echo"}}
	scanner := newTestScanner(t, fake)

	result := scanner.CheckOperationExposure(context.Background(), demoSpec())
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, 0.75, result.Confidence)
	assert.Equal(t, []string{"shell_exec"}, result.Details["dangerous_operations"])

	vulns := scanner.Vulnerabilities()
	require.Len(t, vulns, 1)
	assert.Equal(t, "privilege_escalation", vulns[0].Type)
}

func TestCheckOperationExposureWideSurface(t *testing.T) {
	ops := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
	scanner := newTestScanner(t, &connectortest.Fake{Operations: ops})

	result := scanner.CheckOperationExposure(context.Background(), demoSpec())
	assert.Equal(t, models.StatusFailed, result.Status)

	vulns := scanner.Vulnerabilities()
	require.Len(t, vulns, 1)
	assert.Equal(t, "unrestricted_access", vulns[0].Type)
}

func TestCheckOperationExposureClean(t *testing.T) {
	scanner := newTestScanner(t, &connectortest.Fake{Operations: []string{"echo", "sum"}})

	result := scanner.CheckOperationExposure(context.Background(), demoSpec())
	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.88, result.Confidence)
	assert.Empty(t, scanner.Vulnerabilities())
}

func TestCheckOperationExposureUnreachableServer(t *testing.T) {
	fake := &connectortest.Fake{OpenErrs: []error{errors.New("connection refused")}}
	scanner := newTestScanner(t, fake)

	result := scanner.CheckOperationExposure(context.Background(), demoSpec())
	assert.Equal(t, models.StatusError, result.Status)
	assert.Equal(t, 0.80, result.Confidence)
	assert.Contains(t, result.ErrorInfo, "connection refused")
}

func TestCheckInputHandlingValidatedRejection(t *testing.T) {
	fake := &connectortest.Fake{
		Operations: []string{"echo"},
		InvokeFunc: func(operation string, args map[string]any) (json.RawMessage, error) {
			return nil, errors.New("invalid input: schema validation rejected the argument")
		},
	}
	scanner := newTestScanner(t, fake)

	result := scanner.CheckInputHandling(context.Background(), demoSpec())
	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.85, result.Confidence)
	assert.Equal(t, len(hostilePayloads), result.Details["total_tests"])
	assert.Equal(t, len(hostilePayloads), result.Details["passed_tests"])
	assert.Empty(t, scanner.Vulnerabilities())
}

func TestCheckInputHandlingReflectedPayloads(t *testing.T) {
	fake := &connectortest.Fake{
		Operations: []string{"echo"},
		InvokeFunc: func(operation string, args map[string]any) (json.RawMessage, error) {
			input, _ := args["input"].(string)
			return json.RawMessage("echoed: " + input), nil
		},
	}
	scanner := newTestScanner(t, fake)

	result := scanner.CheckInputHandling(context.Background(), demoSpec())
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, len(hostilePayloads), result.Details["vulnerabilities"])

	vulns := scanner.Vulnerabilities()
	require.Len(t, vulns, len(hostilePayloads))
	for _, v := range vulns {
		assert.Equal(t, "input_reflection", v.Type)
		assert.Equal(t, models.SeverityHigh, v.Severity)
	}
}

func TestCheckInputHandlingUnexplainedError(t *testing.T) {
	fake := &connectortest.Fake{
		Operations: []string{"echo"},
		InvokeFunc: func(operation string, args map[string]any) (json.RawMessage, error) {
			return nil, errors.New("segmentation fault")
		},
	}
	scanner := newTestScanner(t, fake)

	result := scanner.CheckInputHandling(context.Background(), demoSpec())
	assert.Equal(t, models.StatusFailed, result.Status)

	vulns := scanner.Vulnerabilities()
	require.Len(t, vulns, len(hostilePayloads))
	assert.Equal(t, "input_handling_error", vulns[0].Type)
	assert.Equal(t, models.SeverityMedium, vulns[0].Severity)
}

func TestCheckInputHandlingSkipsExcludedOperations(t *testing.T) {
	scanner := newTestScanner(t, &connectortest.Fake{Operations: []string{"echo"}})

	spec := demoSpec()
	spec.ExcludeOperations = []string{"echo"}
	result := scanner.CheckInputHandling(context.Background(), spec)
	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, 0.60, result.Confidence)
	assert.Equal(t, 0, result.Details["total_tests"])
}

func TestScanAndReport(t *testing.T) {
	fake := &connectortest.Fake{
		Operations: []string{"echo"},
		InvokeFunc: func(operation string, args map[string]any) (json.RawMessage, error) {
			input, _ := args["input"].(string)
			return json.RawMessage("echoed: " + input), nil
		},
	}
	scanner := newTestScanner(t, fake)

	results := scanner.Scan(context.Background(), demoSpec())
	require.Len(t, results, 3)
	assert.Contains(t, results, "credential_handling")
	assert.Contains(t, results, "operation_exposure")
	assert.Contains(t, results, "input_handling")

	report := scanner.GenerateReport()
	assert.Equal(t, len(hostilePayloads)+2, report.Total)
	assert.Positive(t, report.BySeverity[models.SeverityHigh])
	assert.Contains(t, report.Advice, "Validate and sanitise operation arguments before use")
	assert.Contains(t, report.Advice, "Require and verify credentials on every connection")
}
