package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "path"})

	// gRPC метрики
	GRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests",
	}, []string{"method", "status"})

	GRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "gRPC request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	// DB метрики журнала снапшотов
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_active_connections",
		Help: "Number of active database connections",
	})

	DBIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle database connections",
	})

	// метрики каналов
	ChannelScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "threat_channel_score",
		Help: "Latest threat score per channel (0-100)",
	}, []string{"channel"})

	ChannelAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "threat_channel_available",
		Help: "1 when the channel source is readable, 0 when marked unavailable",
	}, []string{"channel"})

	ChannelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threat_channel_failures_total",
		Help: "Total number of source failures per channel",
	}, []string{"channel"})

	ChannelSkippedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threat_channel_skipped_total",
		Help: "Cycles skipped because the input was unusable (e.g. short audio frame)",
	}, []string{"channel"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threat_analysis_duration_seconds",
		Help:    "Duration of one analysis cycle per channel",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // от 0.1ms до ~1.6 секунд
	}, []string{"channel"})

	URLRuleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threat_url_rule_matches_total",
		Help: "Total number of URL heuristic rule matches",
	}, []string{"rule"})

	// метрики агрегатора
	CompositeScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threat_composite_score",
		Help: "Latest composite threat score (0-100)",
	})

	SnapshotSequence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threat_snapshot_sequence",
		Help: "Sequence number of the latest published snapshot",
	})

	SnapshotsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threat_snapshots_published_total",
		Help: "Total number of snapshots delivered to the broadcaster",
	})

	SubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threat_subscriber_dropped_total",
		Help: "Snapshots discarded because a subscriber was slow (drop-oldest)",
	})

	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threat_active_subscribers",
		Help: "Current number of snapshot subscribers",
	})

	ActiveChannelWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "threat_active_channel_workers",
		Help: "Current number of running channel workers",
	})

	JournalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threat_journal_failures_total",
		Help: "Total number of snapshots that failed to be journaled",
	})
)
