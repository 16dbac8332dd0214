// Package pool provides the connection manager shared by the HTTP transports.
//
// A Manager owns the dial path for every connection a transport opens. It
// bounds connections in total and per route, applies the connect timeout,
// expires connections that outlive their time-to-live, and hands out
// http.Transport values wired to that dial path and to the selected TLS
// strategy.
//
// # Basic Usage
//
//	m, err := pool.NewBuilder().
//	    SetMaxConnTotal(200).
//	    SetMaxConnPerRoute(50).
//	    SetConnPoolPolicy(pool.ReuseFIFO).
//	    SetPoolConcurrencyPolicy(pool.ConcurrencyStrict).
//	    SetTLSStrategy(tlsstrategy.Select(false)).
//	    SetConnectionTimeToLive(15 * time.Minute).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	client := &http.Client{Transport: m.RoundTripper(m.NewTransport())}
//
// # Leases
//
// RoundTripper wraps a transport so the manager learns which pooled connection
// serves each exchange. A connection is leased from the moment the transport
// hands it to a request until the response body is drained or closed. Only
// idle (unleased) connections are expired or evicted.
//
// # Concurrency policies
//
// Under ConcurrencyStrict the total and per-route bounds are enforced with
// weighted semaphores on the dial path; a dial that finds the pool full evicts
// one idle connection and then waits up to AcquireTimeout. Under
// ConcurrencyLax only the per-route bound applies, through the transport's
// MaxConnsPerHost.
//
// # I2P routing
//
// When a GarlicFactory is configured, hosts ending in .i2p are dialed through
// a SAM garlic session created on first use.
//
// # Metrics
//
// Pool activity is recorded with the metrics package:
//   - asynchttp_pool_connections_open: Open pooled connections
//   - asynchttp_pool_connections_leased: Connections serving a request
//   - asynchttp_pool_dials_total: Dial attempts
//   - asynchttp_pool_dial_failures_total: Failed dials
//   - asynchttp_pool_expired_total: Connections closed after their time-to-live
//   - asynchttp_pool_evicted_total: Idle connections closed to free a slot
//   - asynchttp_pool_acquire_waits_total: Dials that waited for a free slot
//   - asynchttp_pool_dial_duration_seconds: Dial latency
package pool
