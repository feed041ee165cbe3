package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the scheduler loops.
type Metrics struct {
	// Firings is the number of times a loop's trigger fired.
	Firings *prometheus.CounterVec

	// SkippedTicks counts ticks that matched a trigger minute already fired.
	SkippedTicks *prometheus.CounterVec

	// Tasks counts per-entity outcomes.
	Tasks *prometheus.CounterVec

	// TaskDuration is the time spent on one entity.
	TaskDuration *prometheus.HistogramVec

	// Retries is the number of send retry attempts.
	Retries *prometheus.CounterVec
}

// NewMetrics creates the scheduler metrics on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Firings: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_firings_total",
				Help:      "Number of trigger firings per loop",
			},
			[]string{"loop"},
		),

		SkippedTicks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_skipped_ticks_total",
				Help:      "Ticks skipped because the trigger minute already fired",
			},
			[]string{"loop"},
		),

		Tasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_tasks_total",
				Help:      "Per-entity task outcomes",
			},
			[]string{"loop", "status"},
		),

		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_task_duration_seconds",
				Help:      "Time spent on a single entity",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
			},
			[]string{"loop"},
		),

		Retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_send_retries_total",
				Help:      "Send retry attempts",
			},
			[]string{"loop"},
		),
	}
}

func (m *Metrics) incFired(loop string) {
	if m != nil {
		m.Firings.WithLabelValues(loop).Inc()
	}
}

func (m *Metrics) incSkipped(loop string) {
	if m != nil {
		m.SkippedTicks.WithLabelValues(loop).Inc()
	}
}

func (m *Metrics) incTask(loop, status string) {
	if m != nil {
		m.Tasks.WithLabelValues(loop, status).Inc()
	}
}

func (m *Metrics) observeTask(loop string, seconds float64) {
	if m != nil {
		m.TaskDuration.WithLabelValues(loop).Observe(seconds)
	}
}

func (m *Metrics) incRetry(loop string) {
	if m != nil {
		m.Retries.WithLabelValues(loop).Inc()
	}
}
