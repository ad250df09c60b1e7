package pagecache

// Metric names reported to stats.Tracker, labelled with "name" of a handler.
const (
	MetricHit          = "cache_hit"
	MetricMiss         = "cache_miss"
	MetricExpired      = "cache_expired"
	MetricWrite        = "cache_write"
	MetricFailed       = "cache_failed"
	MetricRevalidated  = "cache_revalidated"
	MetricFallbackHit  = "cache_fallback_hit"
	MetricFallbackSave = "cache_fallback_write"
	MetricEvict        = "cache_evict"
	MetricItems        = "cache_items"
)
