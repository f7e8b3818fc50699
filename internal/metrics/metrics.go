package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// SourceNetwork marks a response served from a live upstream fetch.
	SourceNetwork = "network"
	// SourceCache marks a response served from the current cache generation.
	SourceCache = "cache"
	// SourceOffline marks the synthesized offline placeholder.
	SourceOffline = "offline"
	// SourceBypass marks requests proxied without touching the cache.
	SourceBypass = "bypass"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// Cache mediator metrics
	CacheFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sololeveling_cache_fetch_total",
		Help: "The total number of mediated requests by response source",
	}, []string{"source"})
	CacheInstallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sololeveling_cache_install_total",
		Help: "The total number of cache generation install attempts by result",
	}, []string{"result"})
	CacheGenerationsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sololeveling_cache_generations_deleted_total",
		Help: "The total number of stale cache generations deleted during activation",
	})
	CacheWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sololeveling_cache_write_errors_total",
		Help: "The total number of failed background cache writes",
	})

	// Progression metrics
	LevelUpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sololeveling_level_ups_total",
		Help: "The total number of levels gained",
	})
	CorruptPlayerRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sololeveling_corrupt_player_records_total",
		Help: "The total number of discarded unreadable player records",
	})
)
