package remedy

import (
	"time"

	"github.com/probestack/medic/internal/models"
)

// actionCatalog returns the candidate repairs per issue type. Issue types
// absent from the catalog are skipped by the engine.
func actionCatalog() map[models.IssueType][]models.RemediationAction {
	return map[models.IssueType][]models.RemediationAction{
		models.IssueConnectionFailure: {
			{
				ActionID:        "retry_connection",
				Strategy:        models.StrategyRetry,
				Description:     "Retry connection with exponential backoff",
				Confidence:      0.8,
				EstimatedTime:   10 * time.Second,
				Risk:            models.RiskLow,
				ValidationSteps: []string{"Test basic connectivity", "Verify server response"},
			},
			{
				ActionID:        "check_executable_path",
				Strategy:        models.StrategyConfigurationFix,
				Description:     "Verify and fix executable path",
				Confidence:      0.9,
				EstimatedTime:   5 * time.Second,
				Risk:            models.RiskLow,
				Commands:        []string{"which {command}", "ls -la {command}"},
				ValidationSteps: []string{"Verify executable exists", "Check execute permissions"},
			},
			{
				ActionID:        "fix_permissions",
				Strategy:        models.StrategyPermissionFix,
				Description:     "Fix executable permissions",
				Confidence:      0.85,
				EstimatedTime:   3 * time.Second,
				Risk:            models.RiskMedium,
				Commands:        []string{"chmod +x {command}"},
				ValidationSteps: []string{"Test executable permissions"},
				RollbackSteps:   []string{"Restore original permissions"},
			},
		},
		models.IssueTimeout: {
			{
				ActionID:        "increase_timeout",
				Strategy:        models.StrategyConfigurationFix,
				Description:     "Increase timeout values",
				Confidence:      0.75,
				EstimatedTime:   2 * time.Second,
				Risk:            models.RiskLow,
				ValidationSteps: []string{"Test with increased timeout"},
			},
			{
				ActionID:        "retry_with_backoff",
				Strategy:        models.StrategyRetry,
				Description:     "Retry with exponential backoff",
				Confidence:      0.7,
				EstimatedTime:   30 * time.Second,
				Risk:            models.RiskLow,
				ValidationSteps: []string{"Monitor response times", "Check success rate"},
			},
		},
		models.IssueAuthenticationErr: {
			{
				ActionID:        "check_environment_vars",
				Strategy:        models.StrategyEnvironmentSetup,
				Description:     "Verify authentication environment variables",
				Confidence:      0.85,
				EstimatedTime:   5 * time.Second,
				Risk:            models.RiskLow,
				ValidationSteps: []string{"Check required env vars", "Test authentication"},
			},
			{
				ActionID:        "refresh_credentials",
				Strategy:        models.StrategyConfigurationFix,
				Description:     "Refresh authentication credentials",
				Confidence:      0.7,
				EstimatedTime:   10 * time.Second,
				Risk:            models.RiskMedium,
				ValidationSteps: []string{"Test new credentials", "Verify access"},
			},
		},
		models.IssueDependencyMissing: {
			{
				ActionID:        "install_dependencies",
				Strategy:        models.StrategyDependencyInstall,
				Description:     "Install missing dependencies",
				Confidence:      0.9,
				EstimatedTime:   60 * time.Second,
				Risk:            models.RiskMedium,
				ValidationSteps: []string{"Verify installation", "Test import"},
				RollbackSteps:   []string{"Uninstall if needed"},
			},
		},
		models.IssueResourceExhaustion: {
			{
				ActionID:        "cleanup_resources",
				Strategy:        models.StrategyResourceCleanup,
				Description:     "Clean up system resources",
				Confidence:      0.8,
				EstimatedTime:   15 * time.Second,
				Risk:            models.RiskLow,
				ValidationSteps: []string{"Check memory usage", "Monitor resource levels"},
			},
			{
				ActionID:        "restart_service",
				Strategy:        models.StrategyServiceRestart,
				Description:     "Restart the tool server service",
				Confidence:      0.75,
				EstimatedTime:   20 * time.Second,
				Risk:            models.RiskMedium,
				ValidationSteps: []string{"Verify service restart", "Test connectivity"},
			},
		},
		models.IssueConfigurationErr: {
			{
				ActionID:        "validate_config",
				Strategy:        models.StrategyConfigurationFix,
				Description:     "Validate and fix configuration",
				Confidence:      0.85,
				EstimatedTime:   10 * time.Second,
				Risk:            models.RiskLow,
				ValidationSteps: []string{"Parse configuration", "Test with fixed config"},
			},
		},
	}
}
