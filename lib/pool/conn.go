package pool

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"sync/atomic"
	"time"
)

// unleasedGrace is how long a fresh connection may wait for its first
// lease before it becomes evictable.
const unleasedGrace = 250 * time.Millisecond

// trackedConn is a pooled connection with age and lease bookkeeping.
type trackedConn struct {
	net.Conn
	m       *Manager
	route   string
	created time.Time
	release func()

	mu        sync.Mutex
	leases    int
	idleSince time.Time
	retired   bool
	closeOnce sync.Once
}

// isIdle reports whether the connection can be reused or evicted. A
// connection that was never leased counts once it is older than
// unleasedGrace, which covers dials whose request gave up before GotConn.
func (c *trackedConn) isIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leases > 0 || c.retired {
		return false
	}
	return !c.idleSince.IsZero() || time.Since(c.created) >= unleasedGrace
}

func (c *trackedConn) idleSinceTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleSince.IsZero() {
		return c.created
	}
	return c.idleSince
}

func (c *trackedConn) leaseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leases
}

// expire retires the connection. It reports true when the connection is idle
// and should be closed now; a leased connection closes on its last release.
func (c *trackedConn) expire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return false
	}
	c.retired = true
	return c.leases == 0
}

// lease marks the connection as serving one more request.
func (c *trackedConn) lease() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return false
	}
	c.leases++
	if c.leases == 1 {
		PoolConnectionsLeased.Inc()
	}
	return true
}

// unlease ends one lease and closes the connection if it retired meanwhile
// or outlived its time-to-live.
func (c *trackedConn) unlease() {
	c.mu.Lock()
	if c.leases == 0 {
		c.mu.Unlock()
		return
	}
	c.leases--
	if c.leases > 0 {
		c.mu.Unlock()
		return
	}

	PoolConnectionsLeased.Dec()
	c.idleSince = time.Now()
	ttl := c.m.cfg.TimeToLive
	closeNow := c.retired
	if !c.retired && ttl > 0 && c.idleSince.Sub(c.created) >= ttl {
		c.retired = true
		closeNow = true
	}
	c.mu.Unlock()

	if closeNow {
		atomic.AddUint64(&c.m.expired, 1)
		PoolExpiredTotal.Inc()
		c.Close()
	}
}

// Close closes the connection and frees its pool slot. It is safe to call
// more than once.
func (c *trackedConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		leased := c.leases > 0
		c.leases = 0
		c.retired = true
		c.mu.Unlock()
		if leased {
			PoolConnectionsLeased.Dec()
		}

		err = c.Conn.Close()
		c.m.untrack(c)
		c.release()
	})
	return err
}

// track registers a freshly dialed connection.
func (m *Manager) track(conn net.Conn, route string, release func()) (*trackedConn, bool) {
	tc := &trackedConn{
		Conn:    conn,
		m:       m,
		route:   route,
		created: time.Now(),
		release: release,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false
	}
	m.conns[tc] = struct{}{}
	PoolConnectionsOpen.Inc()
	return tc, true
}

// untrack forgets a closed connection.
func (m *Manager) untrack(c *trackedConn) {
	m.mu.Lock()
	_, ok := m.conns[c]
	delete(m.conns, c)
	m.mu.Unlock()

	if ok {
		atomic.AddUint64(&m.closedCount, 1)
		PoolConnectionsOpen.Dec()
	}
}

// owned returns the tracked connection underneath conn, unwrapping TLS.
func (m *Manager) owned(conn net.Conn) *trackedConn {
	for conn != nil {
		if tc, ok := conn.(*trackedConn); ok {
			if tc.m == m {
				return tc
			}
			return nil
		}
		u, ok := conn.(interface{ NetConn() net.Conn })
		if !ok {
			return nil
		}
		conn = u.NetConn()
	}
	return nil
}

// lease follows the connection serving a single exchange.
type lease struct {
	mu   sync.Mutex
	m    *Manager
	conn *trackedConn
	done bool
}

func (l *lease) attach(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	// A retried request gets a second connection.
	if l.conn != nil {
		l.conn.unlease()
		l.conn = nil
	}
	if tc := l.m.owned(conn); tc != nil && tc.lease() {
		l.conn = tc
	}
}

func (l *lease) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.done = true
	if l.conn != nil {
		l.conn.unlease()
		l.conn = nil
	}
}

// TrackLease returns a context that records which pooled connection serves a
// request made with it, and a func that ends the lease. The func may be
// called more than once.
func (m *Manager) TrackLease(ctx context.Context) (context.Context, func()) {
	l := &lease{m: m}
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			l.attach(info.Conn)
		},
	}
	return httptrace.WithClientTrace(ctx, trace), l.end
}

// RoundTripper wraps next so every exchange leases its pooled connection
// until the response body is drained or closed.
func (m *Manager) RoundTripper(next http.RoundTripper) http.RoundTripper {
	return &leaseTransport{m: m, next: next}
}

type leaseTransport struct {
	m    *Manager
	next http.RoundTripper
}

func (t *leaseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, end := t.m.TrackLease(req.Context())
	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		end()
		return nil, err
	}
	resp.Body = &leasedBody{ReadCloser: resp.Body, end: end}
	return resp, nil
}

func (t *leaseTransport) CloseIdleConnections() {
	if c, ok := t.next.(idleCloser); ok {
		c.CloseIdleConnections()
	}
}

// leasedBody ends the lease at EOF or Close, whichever comes first.
type leasedBody struct {
	io.ReadCloser
	end func()
}

func (b *leasedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.end()
	}
	return n, err
}

func (b *leasedBody) Close() error {
	err := b.ReadCloser.Close()
	b.end()
	return err
}
