package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron run results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// CronJobMetrics records job runs and lock contention for the cron worker.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	skipped  prometheus.Counter
}

// NewCronJobMetrics registers the cron metrics on reg. A nil registerer
// yields a no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cron_job_duration_seconds",
		Help:    "Wall time of cron job runs.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cron_job_runs_total",
		Help: "Cron job runs by result.",
	}, []string{"job", "result"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cron_cycles_skipped_total",
		Help: "Cron cycles skipped because another instance held the lock.",
	})
	reg.MustRegister(duration, runs, skipped)
	return &CronJobMetrics{
		duration: duration,
		runs:     runs,
		skipped:  skipped,
	}
}

// ObserveRun records one run of job with its outcome.
func (c *CronJobMetrics) ObserveRun(job string, duration time.Duration, err error) {
	if c == nil || c.duration == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(duration.Seconds())
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.runs.WithLabelValues(job, result).Inc()
}

// IncSkipped counts a cycle lost to lock contention.
func (c *CronJobMetrics) IncSkipped() {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
