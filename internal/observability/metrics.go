package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pickup_dispatch", Name: "matches_total", Help: "Total candidate match queries"})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "pickup_dispatch", Name: "match_latency_seconds", Help: "Candidate match latency seconds"})

	AssignmentsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pickup_dispatch", Name: "assignments_total", Help: "Total successful request assignments"})
	AssignmentConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pickup_dispatch", Name: "assignment_conflicts_total", Help: "Total accept attempts that lost the assignment race"})

	LocationPingsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pickup_dispatch", Name: "location_pings_total", Help: "Total vendor location pings recorded"})
	HistoryRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pickup_dispatch", Name: "history_records_total", Help: "Total durable location history records written"})

	InvalidationsTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pickup_dispatch", Name: "invalidations_total", Help: "Total derived cache keys evicted"})
	InvalidationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pickup_dispatch", Name: "invalidation_failures_total", Help: "Total cache evictions that failed or were dropped"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pickup_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pickup_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
