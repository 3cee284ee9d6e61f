package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics captures overdue-scan job health signals.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobTimeouts *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	lockMisses  *prometheus.CounterVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = &SchedulerMetrics{
			jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "debtor_scheduler_job_runs_total",
				Help: "Scheduler job run attempts by job.",
			}, []string{"job"}),
			jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "debtor_scheduler_job_errors_total",
				Help: "Scheduler job failures by job.",
			}, []string{"job"}),
			jobTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "debtor_scheduler_job_timeouts_total",
				Help: "Scheduler job deadline hits by job.",
			}, []string{"job"}),
			jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "debtor_scheduler_job_duration_seconds",
				Help:    "Scheduler job duration by job.",
				Buckets: prometheus.DefBuckets,
			}, []string{"job"}),
			lockMisses: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "debtor_scheduler_lock_misses_total",
				Help: "Runs skipped because another instance held the job lock.",
			}, []string{"job"}),
		}
	})
	return schedulerMetrics
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncLockMiss(job string) {
	if m == nil {
		return
	}
	m.lockMisses.WithLabelValues(job).Inc()
}
