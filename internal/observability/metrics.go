package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions          prometheus.Gauge
	checkpointWriteDuration prometheus.Histogram
	checkpointLoadDuration  prometheus.Histogram

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	pendingInterrupts prometheus.Gauge
	resumeTotal       *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current number of sessions with at least one checkpoint.",
				},
			),
			checkpointWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "checkpoint_write_duration_seconds",
					Help:    "Checkpoint write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			checkpointLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "checkpoint_load_duration_seconds",
					Help:    "Checkpoint load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			stageTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stage_total",
					Help: "Total stage executions by stage and status.",
				},
				[]string{"stage", "status"},
			),
			stageDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stage_duration_seconds",
					Help:    "Stage execution duration in seconds by stage.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"stage"},
			),
			pendingInterrupts: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pending_interrupts",
					Help: "Current number of tool calls awaiting a resume decision.",
				},
			),
			resumeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "resume_total",
					Help: "Total resume decisions by choice.",
				},
				[]string{"choice"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_call_total",
					Help: "Total model invocations by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Model invocation duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.checkpointWriteDuration,
			m.checkpointLoadDuration,
			m.stageTotal,
			m.stageDuration,
			m.pendingInterrupts,
			m.resumeTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.modelCallTotal,
			m.modelCallDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordCheckpointWrite(duration time.Duration) {
	getMetrics().checkpointWriteDuration.Observe(duration.Seconds())
}

func RecordCheckpointLoad(duration time.Duration) {
	getMetrics().checkpointLoadDuration.Observe(duration.Seconds())
}

func RecordStage(stage string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.stageTotal.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func SetPendingInterrupts(count int) {
	getMetrics().pendingInterrupts.Set(float64(count))
}

func RecordResume(choice string) {
	getMetrics().resumeTotal.WithLabelValues(choice).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelCallTotal.WithLabelValues(provider, status).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
