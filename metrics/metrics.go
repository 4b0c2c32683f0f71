// Package metrics provides Prometheus metrics for session operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh result labels.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultThrottled = "throttled"
	ResultJoined    = "joined"
	ResultDiscarded = "discarded"
)

// Metrics holds all Prometheus metrics for session operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled bool

	// Refresh metrics
	refreshAttemptsTotal *prometheus.CounterVec
	refreshResultsTotal  *prometheus.CounterVec
	refreshRetriesTotal  prometheus.Counter
	refreshDuration      prometheus.Histogram
	refreshWaiters       prometheus.Gauge

	// Storage metrics
	storageErrorsTotal *prometheus.CounterVec

	// Session metrics
	sessionOpsTotal   *prometheus.CounterVec
	chatMessagesTotal *prometheus.CounterVec
}

// New creates metrics and registers them with reg.
// If reg is nil, returns a no-op Metrics instance.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}

	if !m.enabled {
		return m
	}
	f := promauto.With(reg)

	m.refreshAttemptsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authsession_refresh_attempts_total",
		Help: "Refreshes started, by trigger (ensure, timer, reactive, manual)",
	}, []string{"trigger"})

	m.refreshResultsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authsession_refresh_results_total",
		Help: "Refresh outcomes seen by callers",
	}, []string{"result"})

	m.refreshRetriesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "authsession_refresh_retries_total",
		Help: "Refresh attempts retried after a transient failure",
	})

	m.refreshDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "authsession_refresh_duration_seconds",
		Help:    "Duration of a refresh including retries",
		Buckets: prometheus.DefBuckets,
	})

	m.refreshWaiters = f.NewGauge(prometheus.GaugeOpts{
		Name: "authsession_refresh_waiters",
		Help: "Callers currently waiting on an in-flight refresh",
	})

	m.storageErrorsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authsession_storage_errors_total",
		Help: "Token storage failures swallowed by the store",
	}, []string{"op"})

	m.sessionOpsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authsession_session_operations_total",
		Help: "Session operations by name and result",
	}, []string{"op", "result"})

	m.chatMessagesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authsession_chat_messages_total",
		Help: "Chat messages sent to the webhook",
	}, []string{"result"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordRefreshAttempt records a refresh started by trigger.
func (m *Metrics) RecordRefreshAttempt(trigger string) {
	if !m.on() {
		return
	}
	m.refreshAttemptsTotal.WithLabelValues(trigger).Inc()
}

// RecordRefreshResult records how a refresh request ended for its caller.
func (m *Metrics) RecordRefreshResult(result string) {
	if !m.on() {
		return
	}
	m.refreshResultsTotal.WithLabelValues(result).Inc()
}

// RecordRefreshDuration records the wall time of a settled refresh.
func (m *Metrics) RecordRefreshDuration(seconds float64) {
	if !m.on() {
		return
	}
	m.refreshDuration.Observe(seconds)
}

// RecordRetry records a retried refresh attempt.
func (m *Metrics) RecordRetry() {
	if !m.on() {
		return
	}
	m.refreshRetriesTotal.Inc()
}

// SetWaiters sets the number of callers queued on the in-flight refresh.
func (m *Metrics) SetWaiters(n int) {
	if !m.on() {
		return
	}
	m.refreshWaiters.Set(float64(n))
}

// RecordStorageError records a swallowed storage failure.
func (m *Metrics) RecordStorageError(op string) {
	if !m.on() {
		return
	}
	m.storageErrorsTotal.WithLabelValues(op).Inc()
}

// RecordSessionOp records a session operation outcome.
func (m *Metrics) RecordSessionOp(op string, err error) {
	if !m.on() {
		return
	}
	m.sessionOpsTotal.WithLabelValues(op, result(err)).Inc()
}

// RecordChatMessage records a chat webhook call outcome.
func (m *Metrics) RecordChatMessage(err error) {
	if !m.on() {
		return
	}
	m.chatMessagesTotal.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
