// Package metrics instruments the orchestration loop and reads LLM usage
// back out of Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
)

// Recorder receives orchestration events.
type Recorder interface {
	TaskExecuted(agent, outcome string, duration time.Duration)
	ToolInvoked(tool string, ok bool)
	ReviewDecision(decision string)
	TaskAdmitted(outcome string)
	QueueState(status string, remaining int)
}

// Nop returns a Recorder that drops everything.
func Nop() Recorder {
	return nopRecorder{}
}

type nopRecorder struct{}

func (nopRecorder) TaskExecuted(string, string, time.Duration) {}
func (nopRecorder) ToolInvoked(string, bool)                   {}
func (nopRecorder) ReviewDecision(string)                      {}
func (nopRecorder) TaskAdmitted(string)                        {}
func (nopRecorder) QueueState(string, int)                     {}

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	executions     *prometheus.CounterVec
	execDuration   *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	reviews        *prometheus.CounterVec
	admissions     *prometheus.CounterVec
	queueRemaining prometheus.Gauge
	queueStatus    *prometheus.GaugeVec
}

// NewPrometheusRecorder registers the orchestration collectors with reg. A
// nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_executions_total",
			Help:      "Task executions by agent and outcome",
		}, []string{"agent", "outcome"}),
		execDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_execution_duration_seconds",
			Help:      "Wall time of task executions including tool rounds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"agent"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and status",
		}, []string{"tool", "status"}),
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_review_decisions_total",
			Help:      "Auto-review decisions",
		}, []string{"decision"}),
		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_admissions_total",
			Help:      "Task creation attempts by outcome (created, held, duplicate)",
		}, []string{"outcome"}),
		queueRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_tasks_remaining",
			Help:      "Eligible todo tasks left when the queue last picked work",
		}),
		queueStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_status",
			Help:      "1 for the current queue status, 0 otherwise",
		}, []string{"status"}),
	}
}

// TaskExecuted implements Recorder.
func (p *PrometheusRecorder) TaskExecuted(agent, outcome string, duration time.Duration) {
	p.executions.WithLabelValues(agent, outcome).Inc()
	p.execDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// ToolInvoked implements Recorder.
func (p *PrometheusRecorder) ToolInvoked(tool string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	p.toolCalls.WithLabelValues(tool, status).Inc()
}

// ReviewDecision implements Recorder.
func (p *PrometheusRecorder) ReviewDecision(decision string) {
	p.reviews.WithLabelValues(decision).Inc()
}

// TaskAdmitted implements Recorder.
func (p *PrometheusRecorder) TaskAdmitted(outcome string) {
	p.admissions.WithLabelValues(outcome).Inc()
}

// QueueState implements Recorder.
func (p *PrometheusRecorder) QueueState(status string, remaining int) {
	for _, s := range []string{"idle", "running", "stopping"} {
		v := 0.0
		if s == status {
			v = 1
		}
		p.queueStatus.WithLabelValues(s).Set(v)
	}
	p.queueRemaining.Set(float64(remaining))
}
