// ============================================================================
// gopool Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose pool metrics for Prometheus monitoring
//
// Monitoring Philosophy:
//   Based on RED (Rate, Errors, Duration) and USE (Utilization, Saturation, Errors)
//
// Metric Categories:
//
//   1. Task Counters - Cumulative, monotonically increasing:
//      - pool_tasks_enqueued_total
//      - pool_tasks_dispatched_total
//      - pool_tasks_completed_total
//      - pool_tasks_failed_total
//      - pool_worker_crashes_total
//
//   2. Performance Metrics (Histogram):
//      - pool_task_duration_seconds: submit-to-settle latency distribution
//        (queue wait included)
//
//   3. Status Metrics (Gauge) - Instantaneous values:
//      - pool_workers_total / pool_workers_busy / pool_workers_idle
//      - pool_queue_depth
//
// Prometheus Query Examples:
//
//   # Tasks per minute
//   rate(pool_tasks_completed_total[1m])
//
//   # 95th percentile task latency
//   histogram_quantile(0.95, pool_task_duration_seconds_bucket)
//
//   # Failure rate
//   rate(pool_tasks_failed_total[5m]) / rate(pool_tasks_dispatched_total[5m])
//
//   # Worker saturation
//   pool_workers_busy / pool_workers_total
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for a pool. It satisfies
// internal/pool.Metrics.
type Collector struct {
	tasksEnqueued   prometheus.Counter
	tasksDispatched prometheus.Counter
	tasksCompleted  prometheus.Counter
	tasksFailed     prometheus.Counter
	workerCrashes   prometheus.Counter

	taskDuration prometheus.Histogram

	workersTotal prometheus.Gauge
	workersBusy  prometheus.Gauge
	workersIdle  prometheus.Gauge
	queueDepth   prometheus.Gauge
}

// NewCollector creates and registers a new metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		tasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_tasks_enqueued_total",
			Help: "Total number of tasks submitted to the pool",
		}),
		tasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to a worker",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_tasks_completed_total",
			Help: "Total number of tasks that settled successfully",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_tasks_failed_total",
			Help: "Total number of tasks that settled with an error",
		}),
		workerCrashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_worker_crashes_total",
			Help: "Total number of workers that exited unexpectedly",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_task_duration_seconds",
			Help:    "Task duration from submission to settlement, in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		workersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_workers_total",
			Help: "Current number of live workers",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_workers_busy",
			Help: "Current number of workers executing a task",
		}),
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_workers_idle",
			Help: "Current number of workers ready to accept a task",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_queue_depth",
			Help: "Current number of tasks waiting for a worker",
		}),
	}

	prometheus.MustRegister(
		c.tasksEnqueued,
		c.tasksDispatched,
		c.tasksCompleted,
		c.tasksFailed,
		c.workerCrashes,
		c.taskDuration,
		c.workersTotal,
		c.workersBusy,
		c.workersIdle,
		c.queueDepth,
	)

	return c
}

// RecordTaskEnqueued records a task submission.
func (c *Collector) RecordTaskEnqueued() { c.tasksEnqueued.Inc() }

// RecordTaskDispatched records a task being handed to a worker.
func (c *Collector) RecordTaskDispatched() { c.tasksDispatched.Inc() }

// RecordTaskCompleted records a successful settlement and its duration.
func (c *Collector) RecordTaskCompleted(d time.Duration) {
	c.tasksCompleted.Inc()
	c.taskDuration.Observe(d.Seconds())
}

// RecordTaskFailed records a settlement with an error.
func (c *Collector) RecordTaskFailed() { c.tasksFailed.Inc() }

// RecordWorkerCrash records an unplanned worker exit.
func (c *Collector) RecordWorkerCrash() { c.workerCrashes.Inc() }

// SetWorkerCounts updates the worker occupancy gauges.
func (c *Collector) SetWorkerCounts(total, busy, idle int) {
	c.workersTotal.Set(float64(total))
	c.workersBusy.Set(float64(busy))
	c.workersIdle.Set(float64(idle))
}

// SetQueueDepth updates the queue depth gauge.
func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// StartServer starts the Prometheus metrics HTTP server. Blocking; run it
// in its own goroutine.
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
