// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the orchestration core's Prometheus metrics.
// A nil *Collector is valid; all record methods are no-ops on nil so
// components can run unmetered in tests.
type Collector struct {
	workflowsStarted   *prometheus.CounterVec
	workflowsFinished  *prometheus.CounterVec
	tasksExecuted      *prometheus.CounterVec
	tasksRetried       prometheus.Counter
	tasksBlocked       prometheus.Counter
	taskDuration       prometheus.Histogram
	messagesPublished  *prometheus.CounterVec
	messagesDropped    prometheus.Counter
	checkpointsCreated prometheus.Counter
	agentsActive       *prometheus.GaugeVec
}

// NewCollector registers the core metrics with the given registerer.
// A nil registerer falls back to the default registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		workflowsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Total workflows that entered execution",
		}, []string{"mode"}),
		workflowsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Total workflows by terminal status",
		}, []string{"status"}),
		tasksExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_executed_total",
			Help:      "Total task executions by outcome",
		}, []string{"outcome"}),
		tasksRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_retried_total",
			Help:      "Total task retry attempts",
		}),
		tasksBlocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_blocked_total",
			Help:      "Total tasks blocked pending approval",
		}),
		taskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution duration",
			Buckets:   prometheus.DefBuckets,
		}),
		messagesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total messages published on the bus",
		}, []string{"type"}),
		messagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Total messages evicted from the bounded queue",
		}),
		checkpointsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_created_total",
			Help:      "Total checkpoints created",
		}),
		agentsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_active",
			Help:      "Active agents by type",
		}, []string{"type"}),
	}
}

func (c *Collector) WorkflowStarted(mode string) {
	if c == nil {
		return
	}
	c.workflowsStarted.WithLabelValues(mode).Inc()
}

func (c *Collector) WorkflowFinished(status string) {
	if c == nil {
		return
	}
	c.workflowsFinished.WithLabelValues(status).Inc()
}

func (c *Collector) TaskExecuted(outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.tasksExecuted.WithLabelValues(outcome).Inc()
	c.taskDuration.Observe(seconds)
}

func (c *Collector) TaskRetried() {
	if c == nil {
		return
	}
	c.tasksRetried.Inc()
}

func (c *Collector) TaskBlocked() {
	if c == nil {
		return
	}
	c.tasksBlocked.Inc()
}

func (c *Collector) MessagePublished(msgType string) {
	if c == nil {
		return
	}
	c.messagesPublished.WithLabelValues(msgType).Inc()
}

func (c *Collector) MessageDropped() {
	if c == nil {
		return
	}
	c.messagesDropped.Inc()
}

func (c *Collector) CheckpointCreated() {
	if c == nil {
		return
	}
	c.checkpointsCreated.Inc()
}

func (c *Collector) AgentsActive(agentType string, n int) {
	if c == nil {
		return
	}
	c.agentsActive.WithLabelValues(agentType).Set(float64(n))
}
