// Package metrics exposes the worker's Prometheus surface. It is internal
// and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every Prometheus metric the worker exports: inbound/
// outbound chat volume, turn-level AI processing latency, per-tool
// gateway dispatch outcomes, circuit breaker state, embedding cache hit
// rate, and relational connection pool health.
type Collector struct {
	whatsappMessagesTotal *prometheus.CounterVec
	aiProcessingDuration  *prometheus.HistogramVec

	toolInvocationsTotal   *prometheus.CounterVec
	toolInvocationDuration *prometheus.HistogramVec
	circuitBreakerOpen     *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	queueDepth *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector registers every metric under namespace and returns the
// collector ready for use.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.whatsappMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "whatsapp_msg_total",
			Help:      "Total WhatsApp messages processed, by direction and outcome",
		},
		[]string{"direction", "status"}, // direction: inbound, outbound; status: ok, error, dlq
	)

	c.aiProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_processing_seconds",
			Help:      "Time spent running the plan/act/observe loop for one inbound turn",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"}, // outcome: answered, tool_call, too_complex, error
	)

	c.toolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total tool-gateway dispatches, by operation and outcome",
		},
		[]string{"operation_id", "status"},
	)

	c.toolInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_invocation_duration_seconds",
			Help:      "Tool-gateway round-trip duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation_id"},
	)

	c.circuitBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 if the upstream tool-gateway circuit breaker is open, 0 otherwise",
		},
		[]string{"target"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total cache hits, by cache type",
		},
		[]string{"cache_type"}, // tool_embedding, query_embedding
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total cache misses, by cache type",
		},
		[]string{"cache_type"},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Open connections in the identity store's connection pool",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Idle connections in the identity store's connection pool",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Identity store query/transaction duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Approximate depth of a durable queue structure",
		},
		[]string{"queue"}, // inbound, outbound, retry, dlq_inbound, dlq_outbound
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordMessage records one WhatsApp message outcome.
func (c *Collector) RecordMessage(direction, status string) {
	c.whatsappMessagesTotal.WithLabelValues(direction, status).Inc()
}

// ObserveAIProcessing records how long one agent-loop turn took.
func (c *Collector) ObserveAIProcessing(outcome string, duration time.Duration) {
	c.aiProcessingDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordToolInvocation records one tool-gateway dispatch outcome and its
// duration.
func (c *Collector) RecordToolInvocation(operationID, status string, duration time.Duration) {
	c.toolInvocationsTotal.WithLabelValues(operationID, status).Inc()
	c.toolInvocationDuration.WithLabelValues(operationID).Observe(duration.Seconds())
}

// SetCircuitBreakerOpen reports the current state of the named circuit.
func (c *Collector) SetCircuitBreakerOpen(target string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	c.circuitBreakerOpen.WithLabelValues(target).Set(v)
}

// RecordCacheHit records a cache hit for cacheType.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for cacheType.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections reports the identity store's connection pool
// occupancy.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records how long an identity store operation took.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// SetQueueDepth reports the approximate size of a durable queue structure.
func (c *Collector) SetQueueDepth(queue string, depth int64) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
