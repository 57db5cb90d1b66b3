package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/probestack/medic/internal/config"
	"github.com/probestack/medic/internal/models"
)

// emaWeight is the weight of the newest observation when smoothing rates.
const emaWeight = 0.2

// MonitorHealth probes connectivity and capability discovery for one server
// and folds the outcome into its EMA-smoothed health record.
func (d *Detector) MonitorHealth(ctx context.Context, spec config.ServerSpec) models.HealthMetrics {
	start := time.Now()

	connected := false
	discovered := false
	errorCount := 0
	warningCount := 0

	if d.factory == nil {
		errorCount++
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
		session, err := d.factory.Open(probeCtx, spec)
		if err != nil {
			cancel()
			errorCount++
			d.logger.Debug("health probe connection failed",
				slog.String("server", spec.Name), slog.Any("error", err))
		} else {
			connected = true
			names, listErr := session.ListOperations(probeCtx, false)
			cancel()
			switch {
			case listErr != nil:
				errorCount++
				d.logger.Debug("health probe discovery failed",
					slog.String("server", spec.Name), slog.Any("error", listErr))
			case len(names) == 0:
				warningCount++
			default:
				discovered = true
			}
			_ = session.Close()
		}
	}

	elapsed := time.Since(start)
	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	current, exists := d.health[spec.Name]
	if exists {
		current.ConnectionSuccessRate = ema(current.ConnectionSuccessRate, boolToRate(connected))
		current.ToolExecutionSuccessRate = ema(current.ToolExecutionSuccessRate, boolToRate(discovered))
		current.AverageResponseTime = time.Duration(ema(float64(current.AverageResponseTime), float64(elapsed)))
		current.ErrorCount += errorCount
		current.WarningCount += warningCount
		if connected {
			current.LastSuccessfulConnection = now
			current.ConsecutiveFailures = 0
		} else {
			current.ConsecutiveFailures++
		}
	} else {
		current = models.HealthMetrics{
			ServerName:               spec.Name,
			ConnectionSuccessRate:    boolToRate(connected),
			ToolExecutionSuccessRate: boolToRate(discovered),
			AverageResponseTime:      elapsed,
			ErrorCount:               errorCount,
			WarningCount:             warningCount,
		}
		if connected {
			current.UptimePercentage = 100
			current.LastSuccessfulConnection = now
		} else {
			current.ConsecutiveFailures = 1
		}
	}
	current.Timestamp = now
	d.health[spec.Name] = current
	return current
}

// HealthMetrics returns the current record for one server, or false when the
// server has never been probed.
func (d *Detector) HealthMetrics(serverName string) (models.HealthMetrics, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.health[serverName]
	return m, ok
}

// AllHealthMetrics returns a copy of every server's health record.
func (d *Detector) AllHealthMetrics() map[string]models.HealthMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]models.HealthMetrics, len(d.health))
	for name, m := range d.health {
		out[name] = m
	}
	return out
}

func ema(previous, observation float64) float64 {
	return previous*(1-emaWeight) + observation*emaWeight
}

func boolToRate(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
