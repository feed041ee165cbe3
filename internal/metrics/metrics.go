package metrics

import (
	"context"
	"sync"

	"cityshift/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	updatesHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cityshift",
			Name:      "updates_handled_total",
			Help:      "Count of Telegram updates handled by kind.",
		},
		[]string{"kind"},
	)

	registrations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cityshift",
			Name:      "registrations_total",
			Help:      "Count of workers registered.",
		},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cityshift",
			Name:      "schedule_submissions_total",
			Help:      "Count of schedule submissions by result.",
		},
		[]string{"result"},
	)

	reportsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cityshift",
			Name:      "reports_sent_total",
			Help:      "Count of city reports delivered to admins.",
		},
		[]string{"city"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(updatesHandled, registrations, submissions, reportsSent)
	})
}

func IncUpdate(kind string) {
	updatesHandled.WithLabelValues(kind).Inc()
}

func IncRegistration() {
	registrations.Inc()
}

// IncSubmission records a schedule submission; result is "saved",
// "invalid", "duplicate" or "error".
func IncSubmission(result string) {
	submissions.WithLabelValues(result).Inc()
}

// Subscribe counts delivered reports from the event bus.
func Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.TypeReportSent, func(_ context.Context, ev events.Event) error {
		var p events.ReportSent
		if err := ev.Decode(&p); err != nil {
			return err
		}
		reportsSent.WithLabelValues(p.City).Inc()
		return nil
	})
}
