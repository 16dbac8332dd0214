package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/metrics"
)

const (
	tlsHandshakeTimeout = 10 * time.Second

	// evictRetryInterval is how often a strict dial waiting for a slot
	// retries eviction.
	evictRetryInterval = 50 * time.Millisecond
)

type ctxKey int

const connectTimeoutKey ctxKey = iota

// WithConnectTimeout overrides the connect timeout for dials made on behalf of ctx.
func WithConnectTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, connectTimeoutKey, d)
}

// ConnectTimeout returns the connect timeout carried by ctx, or def.
func ConnectTimeout(ctx context.Context, def time.Duration) time.Duration {
	if d, ok := ctx.Value(connectTimeoutKey).(time.Duration); ok && d > 0 {
		return d
	}
	return def
}

// DialContext opens a pooled connection to addr. Under the strict policy it
// waits for a free slot first. The returned connection frees its slot when closed.
func (m *Manager) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if m.Closed() {
		return nil, apperrors.ErrPoolClosed
	}
	atomic.AddUint64(&m.dialCount, 1)
	PoolDialsTotal.Inc()

	release, err := m.acquireSlot(ctx, addr)
	if err != nil {
		m.dialFailure(addr, err)
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout(ctx, m.cfg.ConnectTimeout))
	defer cancel()

	timer := metrics.NewTimer(PoolDialLatency)
	conn, err := m.dial(dialCtx, network, addr)
	timer.ObserveDuration()
	if err != nil {
		release()
		m.dialFailure(addr, err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrConnection, err)
	}

	tc, ok := m.track(conn, addr, release)
	if !ok {
		conn.Close()
		release()
		return nil, apperrors.ErrPoolClosed
	}

	log.WithField("route", addr).Debug("opened pooled connection")
	return tc, nil
}

// DialTLSContext opens a pooled connection and completes a TLS handshake.
// A nil cfg uses the pool's strategy for the host in addr.
func (m *Manager) DialTLSContext(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
	conn, err := m.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if cfg == nil {
		cfg = m.cfg.TLS.ClientConfig(host)
	} else if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = host
	}

	hsCtx, cancel := context.WithTimeout(ctx, tlsHandshakeTimeout)
	defer cancel()

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		conn.Close()
		log.WithField("route", addr).WithError(err).Debug("TLS handshake failed")
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTLS, err)
	}
	return tlsConn, nil
}

func (m *Manager) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if IsI2PAddr(addr) {
		return m.dialGarlic(ctx, network, addr)
	}
	return m.cfg.Dialer.DialContext(ctx, network, addr)
}

func (m *Manager) dialFailure(addr string, err error) {
	atomic.AddUint64(&m.dialFailed, 1)
	PoolDialFailuresTotal.Inc()
	log.WithField("route", addr).WithError(err).Debug("dial failed")
}

// acquireSlot reserves a total and a per-route slot under the strict policy.
// The returned func frees both and may be called more than once.
func (m *Manager) acquireSlot(ctx context.Context, route string) (func(), error) {
	if m.total == nil {
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	perRoute := m.retainRoute(route)
	if err := m.acquire(ctx, m.total, ""); err != nil {
		m.releaseRoute(route)
		return nil, err
	}
	if err := m.acquire(ctx, perRoute, route); err != nil {
		m.total.Release(1)
		m.releaseRoute(route)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			perRoute.Release(1)
			m.total.Release(1)
			m.releaseRoute(route)
		})
	}, nil
}

// acquire takes one unit of sem. When none is free it evicts an idle
// connection and waits, retrying the eviction every evictRetryInterval
// since connections turn idle while the caller waits.
func (m *Manager) acquire(ctx context.Context, sem *semaphore.Weighted, route string) error {
	if sem.TryAcquire(1) {
		return nil
	}

	atomic.AddUint64(&m.acquireWaits, 1)
	PoolAcquireWaitsTotal.Inc()

	for {
		m.evictOne(route)

		waitCtx, cancel := context.WithTimeout(ctx, evictRetryInterval)
		err := sem.Acquire(waitCtx, 1)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrPoolExhausted, ctx.Err())
		}
	}
}

// routeSlots is a per-route semaphore with the number of dials holding or
// waiting on it. The entry is dropped when the count reaches zero.
type routeSlots struct {
	sem  *semaphore.Weighted
	refs int
}

func (m *Manager) retainRoute(route string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.routes[route]
	if !ok {
		rs = &routeSlots{sem: semaphore.NewWeighted(int64(m.cfg.MaxConnPerRoute))}
		m.routes[route] = rs
	}
	rs.refs++
	return rs.sem
}

func (m *Manager) releaseRoute(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.routes[route]
	if !ok {
		return
	}
	rs.refs--
	if rs.refs <= 0 {
		delete(m.routes, route)
	}
}

// trackedRoutes returns the number of routes with a live semaphore.
func (m *Manager) trackedRoutes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.routes)
}
