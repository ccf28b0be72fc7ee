package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConfigOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_operations_total",
			Help: "Total number of config store operations (count)",
		},
		[]string{"operation", "config_type", "status"},
	)

	ConfigOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "config_operation_duration_ms",
			Help:    "Duration of config store operations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"operation", "config_type"},
	)

	CASConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_cas_conflicts_total",
			Help: "Total number of compare-and-swap conflicts on config writes (count)",
		},
		[]string{"config_type", "mode"},
	)

	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_validation_failures_total",
			Help: "Total number of config payloads rejected by validation (count)",
		},
		[]string{"config_type"},
	)

	OutboxPendingEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Number of undelivered outbox entries (count)",
		},
	)

	OutboxDrainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_drain_duration_ms",
			Help:    "Duration of one outbox drain cycle in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	ChangeEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_published_total",
			Help: "Total number of change events published to the bus (count)",
		},
		[]string{"change_type", "status"},
	)

	ChangeEventsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_skipped_total",
			Help: "Total number of change events skipped as already delivered (count)",
		},
		[]string{"change_type"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_evaluations_total",
			Help: "Total number of label rule evaluations (count)",
		},
		[]string{"result"},
	)

	RuleEvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rule_evaluation_duration_ms",
			Help:    "Duration of label rule evaluations in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"result"},
	)

	ActiveRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_label_rules",
			Help: "Number of enabled label application rules in the cached snapshot (count)",
		},
		[]string{"tenant_id"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Total number of audit log writes (count)",
		},
		[]string{"status"},
	)
)

func RegisterStoreMetrics() {
	prometheus.MustRegister(ConfigOperationsTotal)
	prometheus.MustRegister(ConfigOperationDuration)
	prometheus.MustRegister(CASConflictsTotal)
	prometheus.MustRegister(ValidationFailuresTotal)
	prometheus.MustRegister(AuditWritesTotal)
}

func RegisterRuleMetrics() {
	prometheus.MustRegister(RuleEvaluationsTotal)
	prometheus.MustRegister(RuleEvaluationDuration)
	prometheus.MustRegister(ActiveRules)
}

func RegisterDispatcherMetrics() {
	prometheus.MustRegister(OutboxPendingEntries)
	prometheus.MustRegister(OutboxDrainDuration)
	prometheus.MustRegister(ChangeEventsPublishedTotal)
	prometheus.MustRegister(ChangeEventsSkippedTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterRateLimitMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveConfigOperation(operation, configType, status string, duration time.Duration) {
	ConfigOperationsTotal.WithLabelValues(operation, configType, status).Inc()
	ConfigOperationDuration.WithLabelValues(operation, configType).Observe(float64(duration.Milliseconds()))
}

func IncCASConflict(configType, mode string) {
	CASConflictsTotal.WithLabelValues(configType, mode).Inc()
}

func IncValidationFailure(configType string) {
	ValidationFailuresTotal.WithLabelValues(configType).Inc()
}

func SetOutboxPending(count int64) {
	OutboxPendingEntries.Set(float64(count))
}

func ObserveDrainCycle(status string, duration time.Duration) {
	OutboxDrainDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncChangeEventPublished(changeType, status string) {
	ChangeEventsPublishedTotal.WithLabelValues(changeType, status).Inc()
}

func IncChangeEventSkipped(changeType string) {
	ChangeEventsSkippedTotal.WithLabelValues(changeType).Inc()
}

func ObserveRuleEvaluation(result string, duration time.Duration) {
	RuleEvaluationsTotal.WithLabelValues(result).Inc()
	RuleEvaluationDuration.WithLabelValues(result).Observe(float64(duration.Milliseconds()))
}

func SetActiveRules(tenantID string, count int) {
	ActiveRules.WithLabelValues(tenantID).Set(float64(count))
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncAuditWrite(status string) {
	AuditWritesTotal.WithLabelValues(status).Inc()
}
