package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_requests_total",
		Help: "Total number of tile requests entering the provider chain",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_cache_hits_total",
		Help: "Total number of cache hits per tier",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_cache_misses_total",
		Help: "Total number of cache misses per tier",
	}, []string{"tier"})

	CacheStores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_cache_stores_total",
		Help: "Total number of write-through store operations per tier",
	}, []string{"tier"})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_cache_errors_total",
		Help: "Total number of failed cache reads and writes per tier",
	}, []string{"tier", "operation"})

	CoalescedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_coalesced_requests_total",
		Help: "Total number of requests that joined an in-flight request for the same tile",
	}, []string{"tier"})

	NeedsReload = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_needs_reload_total",
		Help: "Total number of offline requests no provider could serve",
	})

	UpstreamRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_upstream_requests_total",
		Help: "Total number of upstream tile server requests",
	})

	UpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilecache_upstream_latency_seconds",
		Help:    "Latency of upstream tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redis_operation_duration_seconds",
		Help:    "Duration of Redis operations in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation"})

	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_errors_total",
		Help: "Total number of Redis errors",
	}, []string{"operation"})
)
