package transport

import "github.com/go-i2p/asynchttp/lib/metrics"

// Transport activity metrics.
var (
	// TransportRequestsTotal is the number of requests handed to a client.
	TransportRequestsTotal = metrics.NewCounter(
		"asynchttp_transport_requests_total",
		"Total number of HTTP requests executed",
	)
	// TransportFailuresTotal is the number of requests that ended without a response.
	TransportFailuresTotal = metrics.NewCounter(
		"asynchttp_transport_failures_total",
		"Total number of HTTP requests that failed without a response",
	)
	// TransportRejectedTotal is the number of requests refused by an inactive client.
	TransportRejectedTotal = metrics.NewCounter(
		"asynchttp_transport_rejected_total",
		"Total number of requests rejected because the client was not active",
	)
	// TransportInFlight is the number of exchanges whose body is still open.
	TransportInFlight = metrics.NewGauge(
		"asynchttp_transport_in_flight",
		"Current number of HTTP exchanges in flight",
	)
	// TransportClientsActive is the number of active async clients.
	TransportClientsActive = metrics.NewGauge(
		"asynchttp_transport_clients_active",
		"Current number of active async clients",
	)
	// TransportLatency tracks time to response headers.
	TransportLatency = metrics.NewHistogram(
		"asynchttp_transport_latency_seconds",
		"Time from request start to response headers in seconds",
		metrics.DefaultLatencyBuckets,
	)
)
