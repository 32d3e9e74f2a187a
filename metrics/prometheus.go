package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every exported metric
const DefaultNamespace = "cyclesync"

// PrometheusMetrics exports the collector's observations on its own registry
type PrometheusMetrics struct {
	registry *prometheus.Registry

	jobsRunning  prometheus.Gauge
	pollInterval *prometheus.GaugeVec

	jobOccurrences *prometheus.CounterVec
	recoveryRuns   *prometheus.CounterVec
	pollAttempts   *prometheus.CounterVec
	pollSessions   *prometheus.CounterVec
	historyAppends *prometheus.CounterVec

	jobDuration  *prometheus.HistogramVec
	pollDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics registers all collectors under namespace
func NewPrometheusMetrics(namespace string) (*PrometheusMetrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	// Poll sessions run from seconds up to half a day
	pollBuckets := []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 21600, 43200}

	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),

		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Number of job runs currently executing",
		}),
		pollInterval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_interval_seconds",
			Help:      "Interval before the next poll attempt",
		}, []string{"job"}),

		jobOccurrences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job runs by final status",
		}, []string{"job", "status"}),
		recoveryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_runs_total",
			Help:      "Missed occurrences handled at startup",
		}, []string{"job", "strategy"}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Requests made to the cycle endpoint while polling",
		}, []string{"job"}),
		pollSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_sessions_total",
			Help:      "Poll sessions by outcome",
		}, []string{"job", "outcome"}),
		historyAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_appends_total",
			Help:      "History job results by outcome",
		}, []string{"outcome"}),

		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job runs in seconds",
			Buckets:   pollBuckets,
		}, []string{"job"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_session_duration_seconds",
			Help:      "Duration of poll sessions in seconds",
			Buckets:   pollBuckets,
		}, []string{"job"}),
	}

	collectors := []prometheus.Collector{
		m.jobsRunning, m.pollInterval,
		m.jobOccurrences, m.recoveryRuns, m.pollAttempts, m.pollSessions, m.historyAppends,
		m.jobDuration, m.pollDuration,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler serves the registry in the Prometheus text format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) SetJobsRunning(count int) {
	m.jobsRunning.Set(float64(count))
}

func (m *PrometheusMetrics) SetPollInterval(jobName string, interval time.Duration) {
	m.pollInterval.WithLabelValues(jobName).Set(interval.Seconds())
}

func (m *PrometheusMetrics) IncJobOccurrences(jobName, status string) {
	m.jobOccurrences.WithLabelValues(jobName, status).Inc()
}

func (m *PrometheusMetrics) IncRecoveryRuns(jobName, strategy string) {
	m.recoveryRuns.WithLabelValues(jobName, strategy).Inc()
}

func (m *PrometheusMetrics) IncPollAttempts(jobName string) {
	m.pollAttempts.WithLabelValues(jobName).Inc()
}

func (m *PrometheusMetrics) IncPollSessions(jobName, outcome string) {
	m.pollSessions.WithLabelValues(jobName, outcome).Inc()
}

func (m *PrometheusMetrics) IncHistoryAppends(outcome string) {
	m.historyAppends.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) ObserveJobDuration(jobName string, duration time.Duration) {
	m.jobDuration.WithLabelValues(jobName).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObservePollSession(jobName string, duration time.Duration) {
	m.pollDuration.WithLabelValues(jobName).Observe(duration.Seconds())
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)
