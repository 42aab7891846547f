// Package telemetry defines the Prometheus metrics for the crawl pipeline.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	playersProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_players_processed_total",
			Help: "Total players claimed from the crawl queue, labeled by outcome.",
		},
		[]string{"status"},
	)

	charactersProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_characters_processed_total",
			Help: "Total character history crawls, labeled by outcome.",
		},
		[]string{"status"},
	)

	reportsFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_reports_fetched_total",
			Help: "Activity report lookups, labeled by fetched/skipped/error.",
		},
		[]string{"status"},
	)

	pgcrsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pgcrs_ingested_total",
			Help: "PGCR ingestion results, labeled by outcome.",
		},
		[]string{"status"},
	)

	playersDiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_players_discovered_total",
			Help: "Previously-unseen players discovered through PGCR ingestion.",
		},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_queue_depth",
			Help: "Items buffered in each hand-off queue between pipeline stages.",
		},
		[]string{"queue"},
	)

	rateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_wait_seconds",
			Help:    "Time spent waiting for upstream rate-limit capacity, per endpoint.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"endpoint"},
	)

	runDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_run_duration_seconds",
			Help:    "Wall-clock duration of complete pipeline runs.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)
)

// IncPlayerProcessed records one player-stage outcome.
func IncPlayerProcessed(status string) { playersProcessedTotal.WithLabelValues(status).Inc() }

// IncCharacterProcessed records one character-stage outcome.
func IncCharacterProcessed(status string) { charactersProcessedTotal.WithLabelValues(status).Inc() }

// IncReportFetched records one report-stage outcome.
func IncReportFetched(status string) { reportsFetchedTotal.WithLabelValues(status).Inc() }

// IncPgcrIngested records one ingestion outcome.
func IncPgcrIngested(status string) { pgcrsIngestedTotal.WithLabelValues(status).Inc() }

// AddPlayersDiscovered records newly discovered players.
func AddPlayersDiscovered(n int) { playersDiscoveredTotal.Add(float64(n)) }

// SetQueueDepth records the buffered item count of a pipeline queue.
func SetQueueDepth(queue string, n int) { queueDepth.WithLabelValues(queue).Set(float64(n)) }

// ObserveRateLimitWait records a rate-limiter stall.
func ObserveRateLimitWait(endpoint string, d time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRunDuration records a completed pipeline run.
func ObserveRunDuration(d time.Duration) { runDurationSeconds.Observe(d.Seconds()) }
