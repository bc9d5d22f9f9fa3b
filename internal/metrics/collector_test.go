package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

// promauto registers into the default registry, so every test gets its own
// namespace to avoid duplicate registration panics.
func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.messagesRouted)
	assert.NotNil(t, collector.routeDuration)
	assert.NotNil(t, collector.taskTransitions)
	assert.NotNil(t, collector.artifactWrites)
	assert.NotNil(t, collector.breakerTransitions)
	assert.NotNil(t, collector.heartbeatMisses)
}

func TestNewCollector_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(nextTestNamespace(), nil)
	})
}

func TestCollector_NilReceiver(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordRoute("REQUEST", "delivered", 10*time.Millisecond)
		collector.RecordDeliveryFailure("agent-1", "inbox_full")
		collector.RecordBroadcast(3)
		collector.RecordTaskTransition("CREATED", "RUNNING")
		collector.RecordTaskDone("COMPLETED", time.Second)
		collector.SetTasksActive(7)
		collector.RecordArtifactWrite("redis", "ok", 1024)
		collector.RecordArtifactRead("redis", "ok")
		collector.RecordBreakerTransition("agent-1", "closed", "open")
		collector.RecordRetryAttempt("agent-1")
		collector.SetAgentsRegistered(4)
		collector.RecordHeartbeatMiss("agent-1")
		collector.RecordAgentTransition("IDLE", "BUSY")
	})
}

func TestCollector_RecordRoute(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRoute("REQUEST", "delivered", 5*time.Millisecond)

	count := testutil.CollectAndCount(collector.messagesRouted)
	assert.Greater(t, count, 0)

	collector.RecordRoute("REQUEST", "delivered", 2*time.Millisecond)

	newCount := testutil.CollectAndCount(collector.messagesRouted)
	assert.GreaterOrEqual(t, newCount, count)

	durCount := testutil.CollectAndCount(collector.routeDuration)
	assert.Greater(t, durCount, 0)
}

func TestCollector_RecordDeliveryFailure(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDeliveryFailure("risk-analyzer", "unknown_recipient")
	collector.RecordDeliveryFailure("risk-analyzer", "inbox_full")

	count := testutil.CollectAndCount(collector.deliveryFailures)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordTaskLifecycle(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordTaskTransition("CREATED", "RUNNING")
	collector.RecordTaskTransition("RUNNING", "COMPLETED")
	collector.RecordTaskDone("COMPLETED", 3*time.Second)
	collector.SetTasksActive(1)

	transCount := testutil.CollectAndCount(collector.taskTransitions)
	assert.Equal(t, 2, transCount)

	durCount := testutil.CollectAndCount(collector.taskDuration)
	assert.Greater(t, durCount, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.tasksActive))
}

func TestCollector_RecordArtifactTraffic(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordArtifactWrite("memory", "ok", 2048)
	collector.RecordArtifactWrite("memory", "error", 0)
	collector.RecordArtifactRead("memory", "ok")

	writeCount := testutil.CollectAndCount(collector.artifactWrites)
	assert.Equal(t, 2, writeCount)

	// Size is only observed for successful writes.
	byteCount := testutil.CollectAndCount(collector.artifactBytes)
	assert.Equal(t, 1, byteCount)

	readCount := testutil.CollectAndCount(collector.artifactReads)
	assert.Equal(t, 1, readCount)
}

func TestCollector_RecordResilience(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordBreakerTransition("risk-analyzer", "closed", "open")
	collector.RecordRetryAttempt("risk-analyzer")
	collector.RecordRetryAttempt("risk-analyzer")

	breakerCount := testutil.CollectAndCount(collector.breakerTransitions)
	assert.Greater(t, breakerCount, 0)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.retryAttempts.WithLabelValues("risk-analyzer")))
}

func TestCollector_RecordAgentHealth(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.SetAgentsRegistered(3)
	collector.RecordHeartbeatMiss("data-validator")
	collector.RecordHeartbeatMiss("data-validator")
	collector.RecordAgentTransition("BUSY", "ERROR")

	assert.Equal(t, float64(3), testutil.ToFloat64(collector.agentsRegistered))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.heartbeatMisses.WithLabelValues("data-validator")))

	transCount := testutil.CollectAndCount(collector.agentTransitions)
	assert.Greater(t, transCount, 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordRoute("NOTIFICATION", "delivered", time.Millisecond)
			collector.RecordTaskTransition("CREATED", "RUNNING")
			collector.RecordArtifactWrite("redis", "ok", 512)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	routeCount := testutil.CollectAndCount(collector.messagesRouted)
	assert.Greater(t, routeCount, 0)

	taskCount := testutil.CollectAndCount(collector.taskTransitions)
	assert.Greater(t, taskCount, 0)

	artifactCount := testutil.CollectAndCount(collector.artifactWrites)
	assert.Greater(t, artifactCount, 0)
}
