package metrics

import (
	"context"
	"io"
	"testing"

	"cityshift/internal/events"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(submissions.WithLabelValues("duplicate"))
	IncSubmission("duplicate")
	assert.Equal(t, before+1, testutil.ToFloat64(submissions.WithLabelValues("duplicate")))

	before = testutil.ToFloat64(registrations)
	IncRegistration()
	assert.Equal(t, before+1, testutil.ToFloat64(registrations))
}

func TestSubscribe_CountsReports(t *testing.T) {
	logger := zerolog.New(io.Discard)
	bus := events.NewEventBus(&logger)
	Subscribe(bus)

	before := testutil.ToFloat64(reportsSent.WithLabelValues("Opole"))
	require.NoError(t, bus.Publish(context.Background(), events.TypeReportSent, events.ReportSent{City: "Opole"}))
	assert.Equal(t, before+1, testutil.ToFloat64(reportsSent.WithLabelValues("Opole")))
}
