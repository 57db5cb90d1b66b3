package detector

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/probestack/medic/internal/models"
)

// DefaultPatterns returns the built-in recognition library for common tool
// server failures. Regex alternatives are matched case-insensitively.
func DefaultPatterns() []models.IssuePattern {
	return []models.IssuePattern{
		{
			PatternID: "connection_refused",
			Type:      models.IssueConnectionFailure,
			Severity:  models.SeverityHigh,
			ErrorPatterns: []string{
				`connection refused`,
				`connection.*refused`,
				`no such file or directory`,
				`command not found`,
				`permission denied.*execute`,
				`ConnectionRefusedError`,
				`ConnectionError`,
			},
			ConfidenceBase: 0.95,
			Remediation: []string{
				"Verify the server command path is correct",
				"Check if the server executable has proper permissions",
				"Ensure the server is installed and accessible",
				"Verify the working directory exists",
			},
		},
		{
			PatternID: "timeout_error",
			Type:      models.IssueTimeout,
			Severity:  models.SeverityMedium,
			ErrorPatterns: []string{
				`timeout`,
				`timed out`,
				`deadline exceeded`,
				`TimeoutError`,
			},
			ConfidenceBase: 0.90,
			Remediation: []string{
				"Increase timeout values in configuration",
				"Check server performance and resource usage",
				"Verify network connectivity",
				"Consider implementing retry mechanisms",
			},
		},
		{
			PatternID: "auth_error",
			Type:      models.IssueAuthenticationErr,
			Severity:  models.SeverityHigh,
			ErrorPatterns: []string{
				`authentication failed`,
				`invalid credentials`,
				`unauthorized`,
				`access denied`,
			},
			ConfidenceBase: 0.92,
			Remediation: []string{
				"Verify authentication credentials",
				"Check API keys and tokens",
				"Ensure proper environment variables are set",
				"Review server authentication configuration",
			},
		},
		{
			PatternID: "operation_execution_error",
			Type:      models.IssueToolExecutionErr,
			Severity:  models.SeverityMedium,
			ErrorPatterns: []string{
				`execution failed`,
				`invalid.*arguments`,
				`operation not found`,
				`tool not found`,
			},
			ConfidenceBase: 0.85,
			Remediation: []string{
				"Verify operation arguments and schema",
				"Check operation availability and permissions",
				"Review the operation implementation",
				"Validate input parameters",
			},
		},
		{
			PatternID: "config_error",
			Type:      models.IssueConfigurationErr,
			Severity:  models.SeverityHigh,
			ErrorPatterns: []string{
				`configuration error`,
				`invalid configuration`,
				`missing required parameter`,
				`ConfigurationError`,
			},
			ConfidenceBase: 0.88,
			Remediation: []string{
				"Review server configuration file",
				"Check required parameters are provided",
				"Validate configuration syntax",
				"Ensure all dependencies are configured",
			},
		},
		{
			PatternID: "resource_exhaustion",
			Type:      models.IssueResourceExhaustion,
			Severity:  models.SeverityCritical,
			ErrorPatterns: []string{
				`out of memory`,
				`memory error`,
				`resource exhausted`,
				`too many open files`,
			},
			ConfidenceBase: 0.93,
			Remediation: []string{
				"Increase available memory",
				"Check for memory leaks",
				"Optimize resource usage",
				"Implement resource limits and monitoring",
			},
		},
		{
			PatternID: "protocol_error",
			Type:      models.IssueProtocolError,
			Severity:  models.SeverityMedium,
			ErrorPatterns: []string{
				`protocol error`,
				`invalid JSON-RPC`,
				`malformed request`,
				`protocol version mismatch`,
			},
			ConfidenceBase: 0.87,
			Remediation: []string{
				"Check protocol version compatibility",
				"Verify JSON-RPC message format",
				"Review the protocol implementation",
				"Update client or server to a compatible version",
			},
		},
		{
			PatternID: "dependency_missing",
			Type:      models.IssueDependencyMissing,
			Severity:  models.SeverityHigh,
			ErrorPatterns: []string{
				`module not found`,
				`import error`,
				`dependency not installed`,
				`ModuleNotFoundError`,
			},
			ConfidenceBase: 0.91,
			Remediation: []string{
				"Install missing dependencies",
				"Check package requirements",
				"Verify the runtime environment",
				"Update package manager and dependencies",
			},
		},
	}
}

type patternFile struct {
	Patterns []models.IssuePattern `yaml:"patterns"`
}

// LoadPatterns reads an optional YAML pattern pack and appends it to the
// defaults. An empty or missing path yields the defaults unchanged.
func LoadPatterns(path string, logger *slog.Logger) ([]models.IssuePattern, error) {
	patterns := DefaultPatterns()
	if path == "" {
		return patterns, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return patterns, nil
		}
		return nil, err
	}

	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("loaded pattern pack", slog.String("path", path), slog.Int("patterns", len(file.Patterns)))
	}
	return append(patterns, file.Patterns...), nil
}
