package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_paste_writes_total",
			Help: "no. of paste mutations",
		},
		[]string{"op"},
	)
	PasteRetrieved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_paste_retrieved_total",
			Help: "no. of paste reads by backend",
		},
		[]string{"source"},
	)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_edge_cache_hits_total",
			Help: "no. of edge cache hits",
		},
		[]string{"tier"},
	)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_edge_cache_misses_total",
			Help: "no. of edge cache misses",
		},
		[]string{"tier"},
	)
	CacheStores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_edge_cache_stores_total",
			Help: "no. of edge cache store attempts by result",
		},
		[]string{"tier", "result"},
	)
	CacheLoadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_edge_cache_load_errors_total",
			Help: "no. of failed edge cache lookups treated as misses",
		},
		[]string{"tier"},
	)
	PurgedKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_edge_cache_purged_keys_total",
			Help: "no. of cache keys deleted by invalidation fan-out",
		},
		[]string{"tier", "result"},
	)
	MirrorFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_legacy_mirror_fetches_total",
			Help: "no. of legacy mirror fetches by outcome",
		},
		[]string{"outcome"},
	)
	BackgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_background_tasks_total",
			Help: "no. of background tasks by name and outcome",
		},
		[]string{"task", "outcome"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pobbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
