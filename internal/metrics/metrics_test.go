package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestMetricsExposed(t *testing.T) {
	Register()
	IncSubmission("succeeded")
	IncCapacityCheck("available")
	IncStalePanelResult()
	SetQueueLength(3)
	ObserveReplay(150 * time.Millisecond)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"reserva_submissions_total",
		"reserva_panel_capacity_checks_total",
		"reserva_panel_stale_results_total",
		"reserva_offline_queue_length",
		"reserva_offline_replay_duration_seconds",
	} {
		assert.True(t, names[want], want)
	}
}
