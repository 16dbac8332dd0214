package pool

import "github.com/go-i2p/asynchttp/lib/metrics"

// Pool activity metrics, aggregated across every Manager in the process.
var (
	// PoolConnectionsOpen is the number of open pooled connections.
	PoolConnectionsOpen = metrics.NewGauge(
		"asynchttp_pool_connections_open",
		"Current number of open pooled connections",
	)
	// PoolConnectionsLeased is the number of connections serving a request.
	PoolConnectionsLeased = metrics.NewGauge(
		"asynchttp_pool_connections_leased",
		"Number of pooled connections currently serving a request",
	)
	// PoolDialsTotal is the total number of dial attempts.
	PoolDialsTotal = metrics.NewCounter(
		"asynchttp_pool_dials_total",
		"Total number of connection dial attempts",
	)
	// PoolDialFailuresTotal is the number of failed dials.
	PoolDialFailuresTotal = metrics.NewCounter(
		"asynchttp_pool_dial_failures_total",
		"Total number of failed connection dials",
	)
	// PoolExpiredTotal is the number of connections closed after their time-to-live.
	PoolExpiredTotal = metrics.NewCounter(
		"asynchttp_pool_expired_total",
		"Total number of connections closed after their time-to-live",
	)
	// PoolEvictedTotal is the number of idle connections closed to free a slot.
	PoolEvictedTotal = metrics.NewCounter(
		"asynchttp_pool_evicted_total",
		"Total number of idle connections evicted to free a slot",
	)
	// PoolAcquireWaitsTotal is the number of dials that waited for a slot.
	PoolAcquireWaitsTotal = metrics.NewCounter(
		"asynchttp_pool_acquire_waits_total",
		"Total number of dials that waited for a free slot",
	)
	// PoolDialLatency tracks time spent dialing connections.
	PoolDialLatency = metrics.NewHistogram(
		"asynchttp_pool_dial_duration_seconds",
		"Time spent dialing a pooled connection",
		metrics.DefaultLatencyBuckets,
	)
)
