package chatcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for cache operations.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymchat_cache_hits_total",
		Help: "Activations served from a loaded cache entry without network calls",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymchat_cache_misses_total",
		Help: "Activations that required a history fetch",
	})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymchat_fetches_total",
		Help: "History fetches by result (ok, error, discarded)",
	}, []string{"result"})

	fetchesSharedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymchat_fetches_shared_total",
		Help: "Activations that joined an already in-flight fetch",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gymchat_fetch_duration_seconds",
		Help:    "History fetch duration in seconds, subscribe included",
		Buckets: prometheus.DefBuckets,
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymchat_evictions_total",
		Help: "Conversations evicted to respect capacity",
	})

	capacityOverflowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gymchat_capacity_overflow_total",
		Help: "Enforcement passes that ended above capacity because every entry was pinned",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymchat_events_total",
		Help: "Inbound push events by result (appended, duplicate, malformed, dropped)",
	}, []string{"result"})

	sendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gymchat_sends_total",
		Help: "Send attempts by result (ok, fallback)",
	}, []string{"result"})
)

// RecordCacheHit records an activation served from cache.
func RecordCacheHit() { cacheHitsTotal.Inc() }

// RecordCacheMiss records an activation that needed a fetch.
func RecordCacheMiss() { cacheMissesTotal.Inc() }

// RecordFetch records a completed fetch and its duration.
func RecordFetch(result string, d time.Duration) {
	fetchesTotal.WithLabelValues(result).Inc()
	fetchDuration.Observe(d.Seconds())
}

// RecordFetchShared records an activation that joined an in-flight fetch.
func RecordFetchShared() { fetchesSharedTotal.Inc() }

// RecordEviction records one evicted conversation.
func RecordEviction() { evictionsTotal.Inc() }

// RecordCapacityOverflow records an enforcement pass that could not reach capacity.
func RecordCapacityOverflow() { capacityOverflowTotal.Inc() }

// RecordEvent records the outcome of one inbound push event.
func RecordEvent(result string) { eventsTotal.WithLabelValues(result).Inc() }

// RecordSend records the outcome of one send.
func RecordSend(result string) { sendsTotal.WithLabelValues(result).Inc() }

// StatsSource is what the stats collector scrapes.
type StatsSource interface {
	Stats() CacheStats
	ListenerCount() int
}

// StatsCollector exposes CacheStats as gauges computed at scrape time.
type StatsCollector struct {
	src StatsSource

	conversations *prometheus.Desc
	messages      *prometheus.Desc
	loaded        *prometheus.Desc
	listeners     *prometheus.Desc
}

// NewStatsCollector returns a collector over src; register it with a prometheus.Registerer.
func NewStatsCollector(src StatsSource) *StatsCollector {
	return &StatsCollector{
		src:           src,
		conversations: prometheus.NewDesc("gymchat_cache_conversations", "Cached conversations", nil, nil),
		messages:      prometheus.NewDesc("gymchat_cache_messages", "Messages held across cached conversations", nil, nil),
		loaded:        prometheus.NewDesc("gymchat_cache_loaded_conversations", "Cached conversations in loaded state", nil, nil),
		listeners:     prometheus.NewDesc("gymchat_listeners_active", "Attached push listeners", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conversations
	ch <- c.messages
	ch <- c.loaded
	ch <- c.listeners
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.conversations, prometheus.GaugeValue, float64(st.ConversationCount))
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.GaugeValue, float64(st.TotalMessages))
	ch <- prometheus.MustNewConstMetric(c.loaded, prometheus.GaugeValue, float64(st.LoadedCount))
	ch <- prometheus.MustNewConstMetric(c.listeners, prometheus.GaugeValue, float64(c.src.ListenerCount()))
}
