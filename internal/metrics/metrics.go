// Package metrics holds the Prometheus collectors shared by the HTTP
// middleware and the service layer.
//
// Collectors are package-level and registered once with the default
// registry via promauto. Constructing several servers in one process (as
// the tests do) therefore never registers a collector twice.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dao"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	NoncesIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonces_issued_total",
			Help:      "Login challenges issued",
		},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Wallet signature verifications by result",
		},
		[]string{"result"}, // success, bad_signature, no_nonce, expired, replayed
	)

	SocialConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "social_connections_total",
			Help:      "Social accounts linked, by provider and whether the link was new",
		},
		[]string{"provider", "new"},
	)

	ActivitiesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_dropped_total",
			Help:      "Activity entries dropped or failed to persist",
		},
	)

	PointsRecomputeRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_recompute_runs_total",
			Help:      "Points batch runs by outcome",
		},
		[]string{"outcome"}, // ok, aborted
	)

	PointsRecomputeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_recompute_record_failures_total",
			Help:      "Individual user records the points batch failed to persist",
		},
	)

	PointsRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "points_recompute_duration_seconds",
			Help:      "Duration of a full points batch run",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
)
