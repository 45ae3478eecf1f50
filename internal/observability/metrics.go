package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_queries_total",
			Help: "Query executions by terminal state.",
		},
		[]string{"state"},
	)

	statusPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_status_polls_total",
			Help: "Status checks issued while waiting for query completion.",
		},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_retries_total",
			Help: "Transient gateway faults retried, by operation.",
		},
		[]string{"op"},
	)

	resultPagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_result_pages_total",
			Help: "Result pages fetched through the paginated API.",
		},
	)

	rowsFetchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_rows_fetched_total",
			Help: "Rows delivered to callers across all readers.",
		},
	)

	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_query_duration_seconds",
			Help:    "Submit-to-terminal-state latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		statusPollsTotal,
		retriesTotal,
		resultPagesTotal,
		rowsFetchedTotal,
		queryDurationSeconds,
	)
}

func ObserveQuery(state string, duration time.Duration) {
	queriesTotal.WithLabelValues(state).Inc()
	queryDurationSeconds.Observe(duration.Seconds())
}

func ObserveStatusPoll() { statusPollsTotal.Inc() }

func ObserveRetry(op string) { retriesTotal.WithLabelValues(op).Inc() }

func ObserveResultPage() { resultPagesTotal.Inc() }

func ObserveRowsFetched(n int) { rowsFetchedTotal.Add(float64(n)) }
