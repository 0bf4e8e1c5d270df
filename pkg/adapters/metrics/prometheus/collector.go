package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus.
type Collector struct {
	triggersAdmitted *prometheus.CounterVec
	triggersRejected *prometheus.CounterVec
	runsStarted      prometheus.Counter
	runsCompleted    *prometheus.CounterVec
	nodesExecuted    *prometheus.CounterVec

	runDuration  *prometheus.HistogramVec
	nodeDuration *prometheus.HistogramVec

	queueDepth        prometheus.Gauge
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		triggersAdmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nectar_triggers_admitted_total",
				Help: "Total number of trigger events admitted",
			},
			[]string{"source"},
		),
		triggersRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nectar_triggers_rejected_total",
				Help: "Total number of trigger events rejected",
			},
			[]string{"source", "code"},
		),
		runsStarted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nectar_runs_started_total",
				Help: "Total number of workflow runs started",
			},
		),
		runsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nectar_runs_completed_total",
				Help: "Total number of workflow runs completed",
			},
			[]string{"status"},
		),
		nodesExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nectar_nodes_executed_total",
				Help: "Total number of nodes executed",
			},
			[]string{"node_kind", "status"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nectar_run_duration_seconds",
				Help:    "Workflow run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 1800},
			},
			[]string{"status"},
		),
		nodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nectar_node_execution_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"node_kind"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nectar_trigger_queue_depth",
				Help: "Current depth of the trigger handoff queue",
			},
		),
		workerPoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nectar_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nectar_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nectar_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordTriggerAdmitted increments the admitted counter for a source.
func (c *Collector) RecordTriggerAdmitted(source string) {
	c.triggersAdmitted.WithLabelValues(source).Inc()
}

// RecordTriggerRejected increments the rejected counter for a source/code.
func (c *Collector) RecordTriggerRejected(source, code string) {
	c.triggersRejected.WithLabelValues(source, code).Inc()
}

// RecordRunStarted increments the runs started counter.
func (c *Collector) RecordRunStarted() {
	c.runsStarted.Inc()
}

// RecordRunCompleted records a completed run with its duration.
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeExecuted records a node execution with its duration.
func (c *Collector) RecordNodeExecuted(kind, status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(kind, status).Inc()
	c.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordQueueDepth sets the current handoff queue depth.
func (c *Collector) RecordQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordWorkerPoolStatus sets the worker pool state gauges.
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
