package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medic",
			Name:      "probes_total",
			Help:      "Total number of checks executed, partitioned by check kind and outcome.",
		},
		[]string{"check", "outcome"},
	)

	probeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "medic",
			Name:      "probe_seconds",
			Help:      "Check latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	issuesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medic",
			Name:      "issues_detected_total",
			Help:      "Issues detected, partitioned by type and severity.",
		},
		[]string{"type", "severity"},
	)

	remediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medic",
			Name:      "remediations_total",
			Help:      "Remediation attempts, partitioned by strategy and final status.",
		},
		[]string{"strategy", "status"},
	)

	loadScenariosTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medic",
			Name:      "load_scenarios_total",
			Help:      "Load scenarios completed, partitioned by performance grade.",
		},
		[]string{"grade"},
	)
)

// Register attaches medic collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		probesTotal,
		probeSeconds,
		issuesDetectedTotal,
		remediationsTotal,
		loadScenariosTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveProbe records one check execution.
func ObserveProbe(check, outcome string, duration time.Duration) {
	probesTotal.WithLabelValues(check, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	probeSeconds.Observe(duration.Seconds())
}

// ObserveIssue counts one detected issue.
func ObserveIssue(issueType, severity string) {
	issuesDetectedTotal.WithLabelValues(issueType, severity).Inc()
}

// ObserveRemediation counts one remediation attempt by final status.
func ObserveRemediation(strategy, status string) {
	remediationsTotal.WithLabelValues(strategy, status).Inc()
}

// ObserveLoadScenario counts one graded load scenario.
func ObserveLoadScenario(grade string) {
	loadScenariosTotal.WithLabelValues(grade).Inc()
}
