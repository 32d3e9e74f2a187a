package metrics

import (
	"sync"
	"time"
)

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	// Gauges - current state
	SetJobsRunning(count int)
	SetPollInterval(jobName string, interval time.Duration)

	// Counters - event tracking
	IncJobOccurrences(jobName, status string)
	IncRecoveryRuns(jobName, strategy string)
	IncPollAttempts(jobName string)
	IncPollSessions(jobName, outcome string)
	IncHistoryAppends(outcome string)

	// Histograms - duration tracking
	ObserveJobDuration(jobName string, duration time.Duration)
	ObservePollSession(jobName string, duration time.Duration)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

func (m *NoOpMetrics) SetJobsRunning(count int)                                  {}
func (m *NoOpMetrics) SetPollInterval(jobName string, interval time.Duration)    {}
func (m *NoOpMetrics) IncJobOccurrences(jobName, status string)                  {}
func (m *NoOpMetrics) IncRecoveryRuns(jobName, strategy string)                  {}
func (m *NoOpMetrics) IncPollAttempts(jobName string)                            {}
func (m *NoOpMetrics) IncPollSessions(jobName, outcome string)                   {}
func (m *NoOpMetrics) IncHistoryAppends(outcome string)                          {}
func (m *NoOpMetrics) ObserveJobDuration(jobName string, duration time.Duration) {}
func (m *NoOpMetrics) ObservePollSession(jobName string, duration time.Duration) {}

// InMemoryMetrics keeps every observation in maps; used by tests and by the
// CLI one-shot commands to print a summary
type InMemoryMetrics struct {
	mu sync.RWMutex

	jobsRunning   int
	pollIntervals map[string]time.Duration // key: "job"

	jobOccurrences map[string]int64 // key: "job:status"
	recoveryRuns   map[string]int64 // key: "job:strategy"
	pollAttempts   map[string]int64 // key: "job"
	pollSessions   map[string]int64 // key: "job:outcome"
	historyAppends map[string]int64 // key: "outcome"

	jobDurations  map[string][]time.Duration
	pollDurations map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	m := &InMemoryMetrics{}
	m.Reset()
	return m
}

// Gauges
func (m *InMemoryMetrics) SetJobsRunning(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsRunning = count
}

func (m *InMemoryMetrics) SetPollInterval(jobName string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollIntervals[jobName] = interval
}

func (m *InMemoryMetrics) GetJobsRunning() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobsRunning
}

func (m *InMemoryMetrics) GetPollInterval(jobName string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pollIntervals[jobName]
}

// Counters
func (m *InMemoryMetrics) IncJobOccurrences(jobName, status string) {
	m.inc(m.jobOccurrences, jobName+":"+status)
}

func (m *InMemoryMetrics) IncRecoveryRuns(jobName, strategy string) {
	m.inc(m.recoveryRuns, jobName+":"+strategy)
}

func (m *InMemoryMetrics) IncPollAttempts(jobName string) {
	m.inc(m.pollAttempts, jobName)
}

func (m *InMemoryMetrics) IncPollSessions(jobName, outcome string) {
	m.inc(m.pollSessions, jobName+":"+outcome)
}

func (m *InMemoryMetrics) IncHistoryAppends(outcome string) {
	m.inc(m.historyAppends, outcome)
}

func (m *InMemoryMetrics) inc(counter map[string]int64, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counter[key]++
}

func (m *InMemoryMetrics) get(counter map[string]int64, key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return counter[key]
}

func (m *InMemoryMetrics) GetJobOccurrences(jobName, status string) int64 {
	return m.get(m.jobOccurrences, jobName+":"+status)
}

func (m *InMemoryMetrics) GetRecoveryRuns(jobName, strategy string) int64 {
	return m.get(m.recoveryRuns, jobName+":"+strategy)
}

func (m *InMemoryMetrics) GetPollAttempts(jobName string) int64 {
	return m.get(m.pollAttempts, jobName)
}

func (m *InMemoryMetrics) GetPollSessions(jobName, outcome string) int64 {
	return m.get(m.pollSessions, jobName+":"+outcome)
}

func (m *InMemoryMetrics) GetHistoryAppends(outcome string) int64 {
	return m.get(m.historyAppends, outcome)
}

// Histograms
func (m *InMemoryMetrics) ObserveJobDuration(jobName string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobDurations[jobName] = append(m.jobDurations[jobName], duration)
}

func (m *InMemoryMetrics) ObservePollSession(jobName string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollDurations[jobName] = append(m.pollDurations[jobName], duration)
}

func (m *InMemoryMetrics) GetJobDurations(jobName string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Duration(nil), m.jobDurations[jobName]...)
}

func (m *InMemoryMetrics) GetPollDurations(jobName string) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Duration(nil), m.pollDurations[jobName]...)
}

// Reset clears all metrics
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsRunning = 0
	m.pollIntervals = make(map[string]time.Duration)
	m.jobOccurrences = make(map[string]int64)
	m.recoveryRuns = make(map[string]int64)
	m.pollAttempts = make(map[string]int64)
	m.pollSessions = make(map[string]int64)
	m.historyAppends = make(map[string]int64)
	m.jobDurations = make(map[string][]time.Duration)
	m.pollDurations = make(map[string][]time.Duration)
}

var (
	_ MetricsCollector = (*NoOpMetrics)(nil)
	_ MetricsCollector = (*InMemoryMetrics)(nil)
)
