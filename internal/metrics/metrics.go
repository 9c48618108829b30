// Package metrics exposes Prometheus instrumentation for calendar sync.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "calendar_sync"

var (
	once sync.Once

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Count of finished sync runs by source kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of sync runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind"},
	)

	fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Count of feed fetch attempts by result.",
		},
		[]string{"result"},
	)

	conflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Count of days on which external calendars disagreed.",
		},
	)

	feedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "Count of outbound feed renders by cache result.",
		},
		[]string{"cache"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API and feed requests by route template, method and status.",
		},
		[]string{"route", "method", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncRuns, syncDuration, fetches, conflicts, feedRequests, httpRequests)
	})
}

// ObserveRun records a finished sync run.
func ObserveRun(kind, outcome string, took time.Duration) {
	syncRuns.WithLabelValues(kind, outcome).Inc()
	syncDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// IncFetch records one fetch attempt; result is ok, transient, permanent or invalid.
func IncFetch(result string) {
	fetches.WithLabelValues(result).Inc()
}

// AddConflicts records reconciled conflict days.
func AddConflicts(n int) {
	if n > 0 {
		conflicts.Add(float64(n))
	}
}

// IncFeedRequest records an outbound feed render; cache is hit or miss.
func IncFeedRequest(cache string) {
	feedRequests.WithLabelValues(cache).Inc()
}

// IncHTTPRequest records one served request. Route is the mux template so
// property and source IDs do not multiply the series.
func IncHTTPRequest(route, method string, status int) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
