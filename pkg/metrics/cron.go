package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orderflow"

// Job results for the cron counters.
const (
	JobSucceeded = "success"
	JobFailed    = "failure"
	JobPanicked  = "panic"
)

// CronMetrics tracks the cron worker's cycles and the jobs inside them.
type CronMetrics struct {
	jobs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	cycles      *prometheus.CounterVec
}

// NewCronMetrics registers on reg. A nil reg yields no-op metrics.
func NewCronMetrics(reg prometheus.Registerer) *CronMetrics {
	if reg == nil {
		return &CronMetrics{}
	}
	m := &CronMetrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Cron job runs by result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one cron job run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run of each job.",
		}, []string{"job"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "cycles_total",
			Help:      "Cron cycles, split by whether this instance held the lock.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.jobs, m.duration, m.lastSuccess, m.cycles)
	return m
}

// ObserveJob records one run. result is JobSucceeded, JobFailed or JobPanicked.
func (m *CronMetrics) ObserveJob(job, result string, elapsed time.Duration) {
	if m == nil || m.jobs == nil {
		return
	}
	job = labelOrUnknown(job)
	m.jobs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if result == JobSucceeded {
		m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// ObserveCycle counts a cycle that ran or was skipped because another
// instance held the lock.
func (m *CronMetrics) ObserveCycle(ran bool) {
	if m == nil || m.cycles == nil {
		return
	}
	result := "skipped"
	if ran {
		result = "ran"
	}
	m.cycles.WithLabelValues(result).Inc()
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
