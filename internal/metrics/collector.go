package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records the platform's Prometheus series. A nil
// *Collector is valid and records nothing, so components can treat metrics
// as optional wiring.
type Collector struct {
	// Routing metrics
	messagesRouted   *prometheus.CounterVec
	routeDuration    *prometheus.HistogramVec
	deliveryFailures *prometheus.CounterVec
	broadcastFanout  prometheus.Histogram

	// Task metrics
	taskTransitions *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	tasksActive     prometheus.Gauge

	// Artifact metrics
	artifactWrites *prometheus.CounterVec
	artifactReads  *prometheus.CounterVec
	artifactBytes  *prometheus.HistogramVec

	// Resilience metrics
	breakerTransitions *prometheus.CounterVec
	retryAttempts      *prometheus.CounterVec

	// Agent metrics
	agentsRegistered prometheus.Gauge
	heartbeatMisses  *prometheus.CounterVec
	agentTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector whose series share the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Routing metrics
	c.messagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Total number of routed messages by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	c.routeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_duration_seconds",
			Help:      "Message routing duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"type"},
	)

	c.deliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Total number of per-recipient delivery failures",
		},
		[]string{"recipient", "reason"},
	)

	c.broadcastFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_fanout",
			Help:      "Number of recipients matched per broadcast",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Task metrics
	c.taskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task duration from creation to a terminal state",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"final_state"},
	)

	c.tasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Number of tasks not yet in a terminal state",
		},
	)

	// Artifact metrics
	c.artifactWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_writes_total",
			Help:      "Total number of artifact version writes",
		},
		[]string{"backend", "status"},
	)

	c.artifactReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_reads_total",
			Help:      "Total number of artifact retrievals",
		},
		[]string{"backend", "status"},
	)

	c.artifactBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_bytes",
			Help:      "Encoded artifact payload size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		},
		[]string{"backend"},
	)

	// Resilience metrics
	c.breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"destination", "from", "to"},
	)

	c.retryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of delivery retry attempts",
		},
		[]string{"destination"},
	)

	// Agent metrics
	c.agentsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_registered",
			Help:      "Number of currently registered agents",
		},
	)

	c.heartbeatMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_misses_total",
			Help:      "Total number of missed heartbeat intervals",
		},
		[]string{"agent_id"},
	)

	c.agentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_transitions_total",
			Help:      "Total number of agent status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRoute records one routed message with its terminal outcome, one of
// delivered, partial, undeliverable, expired or suppressed.
func (c *Collector) RecordRoute(msgType, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.messagesRouted.WithLabelValues(msgType, outcome).Inc()
	c.routeDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordDeliveryFailure records one per-recipient failure with its reason.
func (c *Collector) RecordDeliveryFailure(recipient, reason string) {
	if c == nil {
		return
	}
	c.deliveryFailures.WithLabelValues(recipient, reason).Inc()
}

// RecordBroadcast records the recipient count a broadcast fanned out to.
func (c *Collector) RecordBroadcast(fanout int) {
	if c == nil {
		return
	}
	c.broadcastFanout.Observe(float64(fanout))
}

// RecordTaskTransition records one task state transition.
func (c *Collector) RecordTaskTransition(fromState, toState string) {
	if c == nil {
		return
	}
	c.taskTransitions.WithLabelValues(fromState, toState).Inc()
}

// RecordTaskDone records a task reaching a terminal state and its lifetime.
func (c *Collector) RecordTaskDone(finalState string, lifetime time.Duration) {
	if c == nil {
		return
	}
	c.taskDuration.WithLabelValues(finalState).Observe(lifetime.Seconds())
}

// SetTasksActive publishes the current count of non-terminal tasks.
func (c *Collector) SetTasksActive(n int) {
	if c == nil {
		return
	}
	c.tasksActive.Set(float64(n))
}

// RecordArtifactWrite records one version write and its encoded size.
func (c *Collector) RecordArtifactWrite(backend, status string, sizeBytes int) {
	if c == nil {
		return
	}
	c.artifactWrites.WithLabelValues(backend, status).Inc()
	if status == "ok" {
		c.artifactBytes.WithLabelValues(backend).Observe(float64(sizeBytes))
	}
}

// RecordArtifactRead records one retrieval attempt.
func (c *Collector) RecordArtifactRead(backend, status string) {
	if c == nil {
		return
	}
	c.artifactReads.WithLabelValues(backend, status).Inc()
}

// RecordBreakerTransition records one circuit state change for a destination.
func (c *Collector) RecordBreakerTransition(destination, from, to string) {
	if c == nil {
		return
	}
	c.breakerTransitions.WithLabelValues(destination, from, to).Inc()
}

// RecordRetryAttempt records one retried delivery attempt.
func (c *Collector) RecordRetryAttempt(destination string) {
	if c == nil {
		return
	}
	c.retryAttempts.WithLabelValues(destination).Inc()
}

// SetAgentsRegistered publishes the current registry size.
func (c *Collector) SetAgentsRegistered(n int) {
	if c == nil {
		return
	}
	c.agentsRegistered.Set(float64(n))
}

// RecordHeartbeatMiss records one missed heartbeat interval for an agent.
func (c *Collector) RecordHeartbeatMiss(agentID string) {
	if c == nil {
		return
	}
	c.heartbeatMisses.WithLabelValues(agentID).Inc()
}

// RecordAgentTransition records one agent status transition.
func (c *Collector) RecordAgentTransition(fromStatus, toStatus string) {
	if c == nil {
		return
	}
	c.agentTransitions.WithLabelValues(fromStatus, toStatus).Inc()
}
