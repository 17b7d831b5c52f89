// Package metrics defines the Prometheus collectors exported by the alerting
// core. All recording methods are nil-safe so components can run without a
// registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aquasentinel"

// Rule evaluation outcomes.
const (
	OutcomeMatch   = "match"
	OutcomeNoMatch = "no_match"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Reading ingestion outcomes.
const (
	ReadingAccepted = "accepted"
	ReadingRejected = "rejected"
	ReadingDropped  = "dropped"
)

// Metrics groups every collector owned by the service.
type Metrics struct {
	ruleEvaluations       *prometheus.CounterVec
	evaluationDuration    prometheus.Histogram
	ruleCacheLookups      *prometheus.CounterVec
	riskScores            prometheus.Histogram
	escalationTransitions *prometheus.CounterVec
	notifications         *prometheus.CounterVec
	notificationRetries   *prometheus.CounterVec
	batchUsers            prometheus.Histogram
	readings              *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ruleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Rule evaluations by outcome.",
		}, []string{"outcome"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "batch_duration_seconds",
			Help:      "Wall time to evaluate all applicable rules for one fact context.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ruleCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "cache_lookups_total",
			Help:      "Applicable-rule cache lookups by result.",
		}, []string{"result"}),
		riskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "score",
			Help:      "Distribution of computed risk scores.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		escalationTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "transitions_total",
			Help:      "Escalation state transitions by kind.",
		}, []string{"transition"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "results_total",
			Help:      "Per-channel notification results by status.",
		}, []string{"channel", "status"}),
		notificationRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "retries_total",
			Help:      "Handler retries by channel.",
		}, []string{"channel"}),
		batchUsers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "batch_users",
			Help:      "Number of users per batch send.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "readings_total",
			Help:      "Sensor reading messages by outcome.",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		m.ruleEvaluations, m.evaluationDuration, m.ruleCacheLookups, m.riskScores,
		m.escalationTransitions, m.notifications, m.notificationRetries, m.batchUsers,
		m.readings,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RuleEvaluated counts one rule evaluation outcome.
func (m *Metrics) RuleEvaluated(outcome string) {
	if m == nil {
		return
	}
	m.ruleEvaluations.WithLabelValues(outcome).Inc()
}

// EvaluationBatch observes a full batch duration.
func (m *Metrics) EvaluationBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.evaluationDuration.Observe(d.Seconds())
}

// RuleCacheLookup counts a cache hit or miss.
func (m *Metrics) RuleCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ruleCacheLookups.WithLabelValues(result).Inc()
}

// RiskScore observes a computed risk score.
func (m *Metrics) RiskScore(score float64) {
	if m == nil {
		return
	}
	m.riskScores.Observe(score)
}

// EscalationTransition counts a state machine transition.
func (m *Metrics) EscalationTransition(transition string) {
	if m == nil {
		return
	}
	m.escalationTransitions.WithLabelValues(transition).Inc()
}

// NotificationResult counts a terminal per-channel result.
func (m *Metrics) NotificationResult(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

// NotificationRetry counts a handler retry.
func (m *Metrics) NotificationRetry(channel string) {
	if m == nil {
		return
	}
	m.notificationRetries.WithLabelValues(channel).Inc()
}

// BatchSize observes the number of users in a batch send.
func (m *Metrics) BatchSize(n int) {
	if m == nil {
		return
	}
	m.batchUsers.Observe(float64(n))
}

// ReadingIngested counts one ingested reading message by outcome.
func (m *Metrics) ReadingIngested(outcome string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(outcome).Inc()
}
