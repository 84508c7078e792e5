/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "timelapse"

var (
	// CommitTransitionsTotal counts transitions by commit mode (phased or direct).
	CommitTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "commit",
		Name:      "transitions_total",
		Help:      "Transitions run through the commit coordinator, by mode.",
	}, []string{"mode"})

	// CommitBarrierTimeoutsTotal counts rendezvous waits that expired.
	CommitBarrierTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "commit",
		Name:      "barrier_timeouts_total",
		Help:      "Pre-commit rendezvous waits that expired before all participants arrived.",
	})

	// CommitParticipants observes how many listeners opted into phased commit.
	CommitParticipants = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "commit",
		Name:      "participants",
		Help:      "Listeners participating in a phased transition.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
	})

	// CommitPhaseDuration observes the time spent in each commit phase.
	CommitPhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "commit",
		Name:      "phase_duration_seconds",
		Help:      "Time spent per commit phase.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"phase"})

	// PlaybackStepsTotal counts steps requested on the controller by operation and outcome.
	PlaybackStepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "playback",
		Name:      "steps_total",
		Help:      "Step requests handled by the playback controller.",
	}, []string{"op", "outcome"})

	// PlaybackPlaying is 1 while the stepping loop runs.
	PlaybackPlaying = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "playback",
		Name:      "playing",
		Help:      "1 while the playback loop is running.",
	})

	// DatabaseQueryDuration observes preference store query latency.
	DatabaseQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "query_duration_seconds",
		Help:      "Database operation latency.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "errors_total",
		Help:      "Database operations that returned an error.",
	}, []string{"operation", "type"})

	// DatabaseLookupMissesTotal counts lookups for rows that do not exist,
	// i.e. preferences that were never set.
	DatabaseLookupMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "lookup_misses_total",
		Help:      "Database lookups that found no row.",
	}, []string{"table"})

	// DatabaseConnectionsActive tracks open pool connections.
	DatabaseConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "connections_active",
		Help:      "Open database connections.",
	})

	// APIRequestsTotal counts HTTP API requests.
	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP API latency.
	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "HTTP requests currently being served.",
	})
)

func init() {
	prometheus.MustRegister(
		CommitTransitionsTotal,
		CommitBarrierTimeoutsTotal,
		CommitParticipants,
		CommitPhaseDuration,
		PlaybackStepsTotal,
		PlaybackPlaying,
		DatabaseQueryDuration,
		DatabaseErrorsTotal,
		DatabaseLookupMissesTotal,
		DatabaseConnectionsActive,
		APIRequestsTotal,
		APIRequestDuration,
		APIActiveConnections,
	)
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
