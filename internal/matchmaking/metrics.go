package matchmaking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_searches_total",
			Help: "Total number of search sessions entered",
		},
	)

	proposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaking_proposals_total",
			Help: "Total number of proposal lifecycle events",
		},
		[]string{"status"},
	)

	matchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_matches_total",
			Help: "Total number of matches created",
		},
	)

	compatibilityScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchmaking_compatibility_scores",
			Help:    "Distribution of compatibility scores on the 0-100 scale",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	sweepReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_expired_proposals_total",
			Help: "Total number of proposals reaped by the expiry sweep",
		},
	)
)

func RecordSearchEntered() {
	searchesTotal.Inc()
}

func RecordProposal(status string) {
	proposalsTotal.WithLabelValues(status).Inc()
}

func RecordMatch() {
	matchesTotal.Inc()
}

func RecordCompatibilityScore(score float64) {
	compatibilityScores.Observe(score)
}

func RecordSweep(reaped int) {
	sweepReaped.Add(float64(reaped))
}
