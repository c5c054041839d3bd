package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	TotalExecutions int64   `json:"total_executions"`
	Successes       int64   `json:"successes"`
	Failures        int64   `json:"failures"`
	TotalTimeMs     int64   `json:"total_time_ms"`
	SuccessRate     float64 `json:"success_rate"`
}

// Metrics keeps running execution counters and mirrors them to
// prometheus counters for the /metrics endpoint.
type Metrics struct {
	mu          sync.Mutex
	total       int64
	successes   int64
	failures    int64
	totalTimeMs int64

	promTotal     prometheus.Counter
	promSuccesses prometheus.Counter
	promFailures  prometheus.Counter
	promDuration  prometheus.Counter
}

// NewMetrics builds the pipeline counters.
func NewMetrics() *Metrics {
	return &Metrics{
		promTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_executions_total",
			Help: "Total actions submitted to the execution pipeline.",
		}),
		promSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_executions_succeeded_total",
			Help: "Actions that completed successfully.",
		}),
		promFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_executions_failed_total",
			Help: "Actions that failed, timed out, or were rejected.",
		}),
		promDuration: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_execution_milliseconds_total",
			Help: "Cumulative handler execution time in milliseconds.",
		}),
	}
}

// Register attaches the prometheus counters to a registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.promTotal, m.promSuccesses, m.promFailures, m.promDuration)
}

// Record counts one execution attempt.
func (m *Metrics) Record(success bool, duration time.Duration) {
	millis := duration.Milliseconds()

	m.mu.Lock()
	m.total++
	if success {
		m.successes++
	} else {
		m.failures++
	}
	m.totalTimeMs += millis
	m.mu.Unlock()

	m.promTotal.Inc()
	if success {
		m.promSuccesses.Inc()
	} else {
		m.promFailures.Inc()
	}
	m.promDuration.Add(float64(millis))
}

// Snapshot returns the current counters. SuccessRate is a percentage.
func (m *Metrics) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalExecutions: m.total,
		Successes:       m.successes,
		Failures:        m.failures,
		TotalTimeMs:     m.totalTimeMs,
	}
	if m.total > 0 {
		stats.SuccessRate = float64(m.successes) / float64(m.total) * 100
	}
	return stats
}
