// Package metrics holds the Prometheus collectors and the HTTP endpoint
// that exposes them together with per-account poll status.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll metrics
var (
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfetch_polls_total",
			Help: "Total number of mailbox polls",
		},
		[]string{"account", "result"},
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailfetch_poll_duration_seconds",
			Help:    "Duration of mailbox polls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"account"},
	)
)

// Message metrics
var (
	MessagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfetch_messages_fetched_total",
			Help: "Total number of messages fetched and delivered",
		},
		[]string{"account"},
	)

	BytesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfetch_bytes_fetched_total",
			Help: "Total size of fetched messages in bytes",
		},
		[]string{"account"},
	)

	MessagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfetch_messages_deleted_total",
			Help: "Total number of messages marked for deletion after fetching",
		},
		[]string{"account"},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfetch_errors_total",
			Help: "Total number of errors by stage",
		},
		[]string{"account", "stage"},
	)
)
