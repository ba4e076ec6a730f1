package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters, gauges and histograms for the watcher, partitioned by contract
// name where the work is contract-scoped.

var (
	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total chain RPC calls by method and status",
	}, []string{"method", "status"})

	RPCCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mintwatcher",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "Chain RPC call duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times RPC calls waited for rate limiter",
	}, []string{"method"})

	ChainHeadBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "rpc",
		Name:      "head_block",
		Help:      "Latest block number observed from the block stream",
	})

	// Poller
	PollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Total poll cycles by outcome (ok, empty, skipped, panic)",
	}, []string{"contract", "outcome"})

	PollCycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mintwatcher",
		Subsystem: "poller",
		Name:      "cycle_duration_seconds",
		Help:      "Poll cycle duration from log fetch to flush",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"contract"})

	PollerLastBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "poller",
		Name:      "last_block",
		Help:      "Last block processed per contract",
	}, []string{"contract"})

	ActivePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "poller",
		Name:      "active",
		Help:      "Number of running watchlist pollers",
	})

	EventsClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "poller",
		Name:      "events_classified_total",
		Help:      "Total accepted transfer events by kind",
	}, []string{"contract", "kind"})

	EventsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "poller",
		Name:      "events_skipped_total",
		Help:      "Total transfer events skipped by reason",
	}, []string{"contract", "reason"})

	BroadcastQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "broadcast",
		Name:      "queue_depth",
		Help:      "Pending blocks queued for each subscriber",
	}, []string{"subscriber"})

	// Health
	PollerHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "poller",
		Name:      "health_status",
		Help:      "Poller health status (0=UNKNOWN, 1=HEALTHY, 2=UNHEALTHY, 3=INACTIVE, 4=DEGRADED)",
	}, []string{"contract"})

	PollerConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "poller",
		Name:      "consecutive_failures",
		Help:      "Number of consecutive failed poll cycles",
	}, []string{"contract"})

	// Dedup
	DedupFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "dedup",
		Name:      "flushes_total",
		Help:      "Total dedup state flushes by outcome",
	}, []string{"contract", "outcome"})

	DedupLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "dedup",
		Name:      "loads_total",
		Help:      "Total dedup state loads by outcome (ok, missing, corrupt)",
	}, []string{"contract", "outcome"})

	DedupSetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "dedup",
		Name:      "set_size",
		Help:      "Number of token IDs in each dedup set",
	}, []string{"contract", "set"})

	// Price
	PriceSourceResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "price",
		Name:      "source_results_total",
		Help:      "Price source lookups by outcome (hit, miss, error, open, panic)",
	}, []string{"source", "outcome"})

	PriceSourceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mintwatcher",
		Subsystem: "price",
		Name:      "source_duration_seconds",
		Help:      "Price source lookup duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"source"})

	// Metadata
	MetadataLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "metadata",
		Name:      "lookups_total",
		Help:      "Token image lookups by outcome (hit, cached, placeholder)",
	}, []string{"outcome"})

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"name"})

	// Notifications
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Total notifications built by kind",
	}, []string{"contract", "kind"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mintwatcher",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Destination delivery attempts by destination kind and outcome",
	}, []string{"destination_kind", "outcome"})

	// Database pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Current number of open PostgreSQL connections in the pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Current number of in-use PostgreSQL connections in the pool",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Current number of idle PostgreSQL connections in the pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mintwatcher",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Cumulative count of waits for PostgreSQL connections from pool",
	})
)
