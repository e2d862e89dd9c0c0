package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "submissions_total",
			Help:      "Count of reservation submissions by outcome.",
		},
		[]string{"outcome"},
	)

	capacityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "panel_capacity_checks_total",
			Help:      "Count of remote panel capacity checks by result.",
		},
		[]string{"result"},
	)

	stalePanelResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reserva",
			Name:      "panel_stale_results_total",
			Help:      "Count of capacity results dropped because inputs changed while in flight.",
		},
	)

	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reserva",
			Name:      "offline_queue_length",
			Help:      "Number of submissions waiting in the offline queue.",
		},
	)

	replayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "reserva",
			Name:      "offline_replay_duration_seconds",
			Help:      "Time spent draining the offline queue.",
			Buckets:   []float64{.05, .1, .5, 1, 2, 5, 10, 30},
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(submissions, capacityChecks, stalePanelResults, queueLength, replayDuration)
	})
}

func IncSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

func IncCapacityCheck(result string) {
	capacityChecks.WithLabelValues(result).Inc()
}

func IncStalePanelResult() {
	stalePanelResults.Inc()
}

func SetQueueLength(n int) {
	queueLength.Set(float64(n))
}

func ObserveReplay(d time.Duration) {
	replayDuration.Observe(d.Seconds())
}
