package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.whatsappMessagesTotal)
	assert.NotNil(t, collector.aiProcessingDuration)
	assert.NotNil(t, collector.toolInvocationsTotal)
	assert.NotNil(t, collector.toolInvocationDuration)
	assert.NotNil(t, collector.circuitBreakerOpen)
}

func TestCollectorRecordMessage(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordMessage("inbound", "ok")
	collector.RecordMessage("outbound", "error")

	count := testutil.CollectAndCount(collector.whatsappMessagesTotal)
	assert.Equal(t, 2, count)
}

func TestCollectorObserveAIProcessing(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveAIProcessing("answered", 800*time.Millisecond)

	count := testutil.CollectAndCount(collector.aiProcessingDuration)
	assert.Greater(t, count, 0)
}

func TestCollectorRecordToolInvocation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordToolInvocation("getShipmentStatus", "ok", 120*time.Millisecond)

	assert.Greater(t, testutil.CollectAndCount(collector.toolInvocationsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.toolInvocationDuration), 0)
}

func TestCollectorSetCircuitBreakerOpen(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetCircuitBreakerOpen("mobility-api", true)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.circuitBreakerOpen.WithLabelValues("mobility-api")))

	collector.SetCircuitBreakerOpen("mobility-api", false)
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.circuitBreakerOpen.WithLabelValues("mobility-api")))
}

func TestCollectorRecordCacheOperation(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordCacheHit("tool_embedding")
	collector.RecordCacheMiss("tool_embedding")

	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheMisses), 0)
}

func TestCollectorRecordDBQuery(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)

	assert.Greater(t, testutil.CollectAndCount(collector.dbQueryDuration), 0)
}

func TestCollectorRecordDBConnections(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, float64(10), testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollectorSetQueueDepth(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetQueueDepth("retry", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.queueDepth.WithLabelValues("retry")))
}

func TestCollectorConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordMessage("inbound", "ok")
			collector.ObserveAIProcessing("answered", 100*time.Millisecond)
			collector.RecordCacheHit("tool_embedding")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, 10, int(testutil.ToFloat64(collector.whatsappMessagesTotal.WithLabelValues("inbound", "ok"))))
}

func TestCollectorMetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	registry.MustRegister(collector.whatsappMessagesTotal)

	collector.RecordMessage("inbound", "ok")

	count := testutil.CollectAndCount(collector.whatsappMessagesTotal)
	assert.Greater(t, count, 0)
}
