// Package metrics exposes the Prometheus instruments shared across the
// detection pipeline. All collectors are registered on a dedicated registry
// so tests can construct isolated instances.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "arbitrage"

// Metrics holds every collector the engine updates.
type Metrics struct {
	Registry *prometheus.Registry

	PriceUpdatesIngested prometheus.Counter
	SnapshotRebuilds     prometheus.Counter
	SnapshotCacheHits    prometheus.Counter
	VersionResets        prometheus.Counter

	DetectionCycles     prometheus.Counter
	DetectionSkipped    prometheus.Counter
	DetectionErrors     prometheus.Counter
	BreakerTrips        prometheus.Counter
	OpportunitiesFound  prometheus.Counter
	DetectionDurationMs prometheus.Histogram

	OpportunitiesPublished *prometheus.CounterVec
	OpportunitiesDeduped   prometheus.Counter

	IntentsDecoded  *prometheus.CounterVec
	IntentsRejected *prometheus.CounterVec

	WhaleTransactions prometheus.Counter
	SuperWhaleEvents  prometheus.Counter

	LiquidityCacheHits    prometheus.Counter
	LiquidityCacheMisses  prometheus.Counter
	LiquidityGracefulTrue prometheus.Counter

	QuoteBatches       prometheus.Counter
	QuoteFallbacks     prometheus.Counter
	SimulationsRun     prometheus.Counter
	SimulationsSkipped prometheus.Counter
	SimulationErrors   prometheus.Counter
	PredictedReverts   prometheus.Counter
	GasSpikeAborts     prometheus.Counter
	SubmissionsSent    prometheus.Counter
}

// New builds a Metrics set backed by a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	factoryVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		Registry: reg,

		PriceUpdatesIngested: factory("price_updates_ingested_total", "Price updates accepted into the store."),
		SnapshotRebuilds:     factory("snapshot_rebuilds_total", "Indexed snapshots rebuilt from raw prices."),
		SnapshotCacheHits:    factory("snapshot_cache_hits_total", "Snapshot requests served from the cached version."),
		VersionResets:        factory("version_resets_total", "Store version counter resets near the integer-safe ceiling."),

		DetectionCycles:    factory("detection_cycles_total", "Detection cycles executed."),
		DetectionSkipped:   factory("detection_cycles_skipped_total", "Detection cycles skipped because one was in flight or the breaker was open."),
		DetectionErrors:    factory("detection_errors_total", "Detection cycles that ended in error."),
		BreakerTrips:       factory("breaker_trips_total", "Circuit breaker transitions to open."),
		OpportunitiesFound: factory("opportunities_found_total", "Opportunities surfaced by detection before publishing."),

		OpportunitiesDeduped: factory("opportunities_deduped_total", "Opportunities suppressed by the publish dedupe window."),

		WhaleTransactions: factory("whale_transactions_total", "Whale transactions recorded."),
		SuperWhaleEvents:  factory("super_whale_events_total", "Whale transactions at or above the super-whale threshold."),

		LiquidityCacheHits:    factory("liquidity_cache_hits_total", "Liquidity validations served from cache."),
		LiquidityCacheMisses:  factory("liquidity_cache_misses_total", "Liquidity validations that required venue calls."),
		LiquidityGracefulTrue: factory("liquidity_graceful_true_total", "Liquidity validations passed without data after errors or timeouts."),

		QuoteBatches:       factory("quote_batches_total", "Batched quote simulations executed."),
		QuoteFallbacks:     factory("quote_fallbacks_total", "Quote batches that fell back to sequential per-hop calls."),
		SimulationsRun:     factory("simulations_total", "Pre-submission simulations executed."),
		SimulationsSkipped: factory("simulations_skipped_total", "Submissions that bypassed simulation."),
		SimulationErrors:   factory("simulation_errors_total", "Simulations that failed at the provider."),
		PredictedReverts:   factory("predicted_reverts_total", "Submissions aborted because simulation predicted a revert."),
		GasSpikeAborts:     factory("gas_spike_aborts_total", "Submissions aborted by the gas spike guard."),
		SubmissionsSent:    factory("submissions_sent_total", "Transactions handed to the provider for submission."),
	}

	m.DetectionDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detection_duration_ms",
		Help:      "Wall time of a detection cycle in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})
	reg.MustRegister(m.DetectionDurationMs)

	m.OpportunitiesPublished = factoryVec("opportunities_published_total", "Opportunities appended to the bus by type.", "type")
	m.IntentsDecoded = factoryVec("intents_decoded_total", "Pending swaps decoded by router family.", "router")
	m.IntentsRejected = factoryVec("intents_rejected_total", "Pending swap records rejected by reason.", "reason")

	return m
}
