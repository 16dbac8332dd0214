package pool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/tlsstrategy"
)

// Default pool settings, used when a Config field is left at zero.
const (
	DefaultMaxConnTotal    = 25
	DefaultMaxConnPerRoute = 5
	DefaultConnectTimeout  = 3 * time.Minute
	DefaultAcquireTimeout  = 3 * time.Minute
	DefaultReapInterval    = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second

	// maxIdleConnTimeout caps how long a LIFO pool keeps surplus idle connections.
	maxIdleConnTimeout = 90 * time.Second
)

// ContextDialer opens network connections. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// idleCloser is implemented by transports that keep their own idle lists.
type idleCloser interface {
	CloseIdleConnections()
}

// Config configures a connection Manager.
type Config struct {
	// MaxConnTotal bounds open connections across all routes.
	// Default: 25
	MaxConnTotal int
	// MaxConnPerRoute bounds open connections to a single host:port.
	// Default: 5
	MaxConnPerRoute int
	// ReusePolicy selects which idle connection is reused or evicted first.
	// Default: LIFO
	ReusePolicy ReusePolicy
	// ConcurrencyPolicy selects how strictly the bounds are enforced.
	// Default: STRICT
	ConcurrencyPolicy ConcurrencyPolicy
	// TimeToLive is the maximum age of a pooled connection.
	// Zero or negative disables expiry.
	TimeToLive time.Duration
	// ConnectTimeout bounds a single dial when the request carries no override.
	// Default: 3 minutes
	ConnectTimeout time.Duration
	// AcquireTimeout bounds the wait for a free slot under the strict policy.
	// Default: 3 minutes
	AcquireTimeout time.Duration
	// ReapInterval is how often expired idle connections are closed.
	// Default: 5 seconds
	ReapInterval time.Duration
	// KeepAlive is the TCP keep-alive period for the default dialer.
	// Default: 30 seconds
	KeepAlive time.Duration
	// TLS is the trust policy applied to https routes.
	// Default: tlsstrategy.Select(false)
	TLS *tlsstrategy.Strategy
	// Dialer opens clearnet connections. Default: *net.Dialer
	Dialer ContextDialer
	// Garlic creates the I2P session used for .i2p hosts. Nil disables I2P routing.
	Garlic GarlicFactory
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnTotal:      DefaultMaxConnTotal,
		MaxConnPerRoute:   DefaultMaxConnPerRoute,
		ReusePolicy:       ReuseLIFO,
		ConcurrencyPolicy: ConcurrencyStrict,
		ConnectTimeout:    DefaultConnectTimeout,
		AcquireTimeout:    DefaultAcquireTimeout,
		ReapInterval:      DefaultReapInterval,
		KeepAlive:         DefaultKeepAlive,
	}
}

// applyDefaults validates cfg and fills zero values.
func (cfg *Config) applyDefaults() error {
	if cfg.MaxConnTotal < 0 {
		return fmt.Errorf("%w: max connections must be non-negative, got %d", apperrors.ErrPoolInvalidConfig, cfg.MaxConnTotal)
	}
	if cfg.MaxConnPerRoute < 0 {
		return fmt.Errorf("%w: max connections per route must be non-negative, got %d", apperrors.ErrPoolInvalidConfig, cfg.MaxConnPerRoute)
	}
	if cfg.ReusePolicy != "" && !cfg.ReusePolicy.Valid() {
		return fmt.Errorf("%w: unknown reuse policy %q", apperrors.ErrPoolInvalidConfig, cfg.ReusePolicy)
	}
	if cfg.ConcurrencyPolicy != "" && !cfg.ConcurrencyPolicy.Valid() {
		return fmt.Errorf("%w: unknown concurrency policy %q", apperrors.ErrPoolInvalidConfig, cfg.ConcurrencyPolicy)
	}

	if cfg.MaxConnTotal == 0 {
		cfg.MaxConnTotal = DefaultMaxConnTotal
	}
	if cfg.MaxConnPerRoute == 0 {
		cfg.MaxConnPerRoute = DefaultMaxConnPerRoute
	}
	if cfg.ReusePolicy == "" {
		cfg.ReusePolicy = ReuseLIFO
	}
	if cfg.ConcurrencyPolicy == "" {
		cfg.ConcurrencyPolicy = ConcurrencyStrict
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.TLS == nil {
		cfg.TLS = tlsstrategy.Select(false)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{KeepAlive: cfg.KeepAlive}
	}
	return nil
}

// Builder assembles a Manager step by step.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder seeded with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// SetMaxConnTotal sets the total connection bound. Zero keeps the default.
func (b *Builder) SetMaxConnTotal(n int) *Builder {
	b.cfg.MaxConnTotal = n
	return b
}

// SetMaxConnPerRoute sets the per-route connection bound. Zero keeps the default.
func (b *Builder) SetMaxConnPerRoute(n int) *Builder {
	b.cfg.MaxConnPerRoute = n
	return b
}

// SetConnPoolPolicy sets the reuse policy.
func (b *Builder) SetConnPoolPolicy(p ReusePolicy) *Builder {
	b.cfg.ReusePolicy = p
	return b
}

// SetPoolConcurrencyPolicy sets the concurrency policy.
func (b *Builder) SetPoolConcurrencyPolicy(p ConcurrencyPolicy) *Builder {
	b.cfg.ConcurrencyPolicy = p
	return b
}

// SetTLSStrategy sets the trust policy for https routes.
func (b *Builder) SetTLSStrategy(s *tlsstrategy.Strategy) *Builder {
	b.cfg.TLS = s
	return b
}

// SetConnectionTimeToLive sets the maximum connection age.
func (b *Builder) SetConnectionTimeToLive(d time.Duration) *Builder {
	b.cfg.TimeToLive = d
	return b
}

// SetConnectTimeout sets the default dial timeout.
func (b *Builder) SetConnectTimeout(d time.Duration) *Builder {
	b.cfg.ConnectTimeout = d
	return b
}

// SetAcquireTimeout sets how long a strict dial waits for a free slot.
func (b *Builder) SetAcquireTimeout(d time.Duration) *Builder {
	b.cfg.AcquireTimeout = d
	return b
}

// SetDialer replaces the clearnet dialer.
func (b *Builder) SetDialer(d ContextDialer) *Builder {
	b.cfg.Dialer = d
	return b
}

// SetGarlic enables I2P routing for .i2p hosts.
func (b *Builder) SetGarlic(f GarlicFactory) *Builder {
	b.cfg.Garlic = f
	return b
}

// Build validates the settings and creates the Manager.
func (b *Builder) Build() (*Manager, error) {
	return New(b.cfg)
}

// Manager is a bounded, route-aware connection pool.
type Manager struct {
	cfg   Config
	total *semaphore.Weighted

	garlicMu sync.Mutex

	mu       sync.Mutex
	routes   map[string]*routeSlots
	conns    map[*trackedConn]struct{}
	closers  []idleCloser
	garlic   GarlicDialer
	closed   bool
	stopReap chan struct{}
	reapDone chan struct{}

	// Metrics
	dialCount    uint64
	dialFailed   uint64
	acquireWaits uint64
	expired      uint64
	evicted      uint64
	closedCount  uint64
}

// New creates a Manager from cfg.
func New(cfg Config) (*Manager, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		routes:   make(map[string]*routeSlots),
		conns:    make(map[*trackedConn]struct{}),
		stopReap: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	if cfg.ConcurrencyPolicy == ConcurrencyStrict {
		m.total = semaphore.NewWeighted(int64(cfg.MaxConnTotal))
	}

	if cfg.TimeToLive > 0 {
		go m.reapLoop()
	} else {
		close(m.reapDone)
	}

	log.WithField("maxTotal", cfg.MaxConnTotal).
		WithField("maxPerRoute", cfg.MaxConnPerRoute).
		WithField("reusePolicy", cfg.ReusePolicy).
		WithField("concurrencyPolicy", cfg.ConcurrencyPolicy).
		WithField("timeToLive", cfg.TimeToLive).
		Debug("connection pool created")
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// TLSStrategy returns the trust policy applied to https routes.
func (m *Manager) TLSStrategy() *tlsstrategy.Strategy {
	return m.cfg.TLS
}

// IdleConnTimeout is the idle timeout handed to transports for the reuse policy.
func (m *Manager) IdleConnTimeout() time.Duration {
	ttl := m.cfg.TimeToLive
	if m.cfg.ReusePolicy == ReuseFIFO {
		if ttl > 0 {
			return ttl
		}
		return 0
	}
	if ttl > 0 && ttl < maxIdleConnTimeout {
		return ttl
	}
	return maxIdleConnTimeout
}

// NewTransport returns an HTTP/1.1 transport whose connections come from this pool.
// Callers configure protocol negotiation and proxies on the returned value.
func (m *Manager) NewTransport() *http.Transport {
	tr := &http.Transport{
		DialContext:           m.DialContext,
		TLSClientConfig:       m.cfg.TLS.Config(),
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          m.cfg.MaxConnTotal,
		MaxIdleConnsPerHost:   m.cfg.MaxConnPerRoute,
		MaxConnsPerHost:       m.cfg.MaxConnPerRoute,
		IdleConnTimeout:       m.IdleConnTimeout(),
		ExpectContinueTimeout: time.Second,
	}
	m.RegisterIdleCloser(tr)
	return tr
}

// RegisterIdleCloser adds a transport whose idle connections are released by
// CloseIdle and Close.
func (m *Manager) RegisterIdleCloser(c interface{ CloseIdleConnections() }) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, c)
}

// CloseIdle releases every idle connection held by the pool and its transports.
func (m *Manager) CloseIdle() {
	m.mu.Lock()
	closers := append([]idleCloser(nil), m.closers...)
	idle := m.idleLocked("")
	m.mu.Unlock()

	for _, c := range closers {
		c.CloseIdleConnections()
	}
	for _, c := range idle {
		c.Close()
	}
	log.WithField("closed", len(idle)).Debug("closed idle connections")
}

// CloseIdleFor closes connections that have been idle for at least d.
func (m *Manager) CloseIdleFor(d time.Duration) int {
	cutoff := time.Now().Add(-d)

	m.mu.Lock()
	var stale []*trackedConn
	for _, c := range m.idleLocked("") {
		if !c.idleSinceTime().After(cutoff) {
			stale = append(stale, c)
		}
	}
	m.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
	return len(stale)
}

// CloseExpired closes idle connections older than the time-to-live and
// marks leased ones to close on release.
func (m *Manager) CloseExpired() int {
	if m.cfg.TimeToLive <= 0 {
		return 0
	}
	now := time.Now()

	m.mu.Lock()
	var expired []*trackedConn
	for c := range m.conns {
		if now.Sub(c.created) < m.cfg.TimeToLive {
			continue
		}
		if c.expire() {
			expired = append(expired, c)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		c.Close()
	}
	if len(expired) > 0 {
		atomic.AddUint64(&m.expired, uint64(len(expired)))
		PoolExpiredTotal.Add(uint64(len(expired)))
		log.WithField("closed", len(expired)).Debug("closed expired connections")
	}
	return len(expired)
}

// reapLoop periodically closes expired connections.
func (m *Manager) reapLoop() {
	defer close(m.reapDone)

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopReap:
			return
		case <-ticker.C:
			m.CloseExpired()
		}
	}
}

// idleLocked returns idle connections, optionally limited to a route,
// ordered by eviction preference (caller must hold lock).
func (m *Manager) idleLocked(route string) []*trackedConn {
	var idle []*trackedConn
	for c := range m.conns {
		if route != "" && c.route != route {
			continue
		}
		if c.isIdle() {
			idle = append(idle, c)
		}
	}

	if m.cfg.ReusePolicy == ReuseFIFO {
		sort.Slice(idle, func(i, j int) bool { return idle[i].created.Before(idle[j].created) })
	} else {
		sort.Slice(idle, func(i, j int) bool { return idle[i].idleSinceTime().Before(idle[j].idleSinceTime()) })
	}
	return idle
}

// evictOne closes the preferred idle connection, optionally on a route.
func (m *Manager) evictOne(route string) bool {
	m.mu.Lock()
	idle := m.idleLocked(route)
	m.mu.Unlock()

	for _, c := range idle {
		if c.expire() {
			c.Close()
			atomic.AddUint64(&m.evicted, 1)
			PoolEvictedTotal.Inc()
			log.WithField("route", c.route).Debug("evicted idle connection")
			return true
		}
	}
	return false
}

// Close closes the pool and every connection it tracks.
// Subsequent dials fail with ErrPoolClosed.
func (m *Manager) Close() error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return apperrors.ErrPoolClosed
	}

	m.closed = true
	close(m.stopReap)

	closers := m.closers
	m.closers = nil
	conns := make([]*trackedConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	garlic := m.garlic
	m.garlic = nil
	m.mu.Unlock()

	<-m.reapDone

	for _, c := range closers {
		c.CloseIdleConnections()
	}
	for _, c := range conns {
		c.Close()
	}

	var err error
	if garlic != nil {
		if gerr := garlic.Close(); gerr != nil {
			log.WithError(gerr).Warn("failed to close garlic session")
			err = fmt.Errorf("closing garlic session: %w", gerr)
		}
	}

	log.WithField("connections", len(conns)).Debug("connection pool closed")
	return err
}

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stats reports pool occupancy and counters.
type Stats struct {
	// MaxTotal is the total connection bound.
	MaxTotal int
	// MaxPerRoute is the per-route connection bound.
	MaxPerRoute int
	// NumOpen is the number of open connections.
	NumOpen int
	// NumLeased is the number of connections serving a request.
	NumLeased int
	// NumIdle is the number of connections available for reuse.
	NumIdle int
	// Routes maps host:port to open connections on that route.
	Routes map[string]int
	// DialCount is the total number of dial attempts.
	DialCount uint64
	// DialFailed is the number of failed dials.
	DialFailed uint64
	// AcquireWaits is the number of dials that waited for a slot.
	AcquireWaits uint64
	// Expired is the number of connections closed after their time-to-live.
	Expired uint64
	// Evicted is the number of idle connections closed to free a slot.
	Evicted uint64
	// Closed is the number of connections closed for any reason.
	Closed uint64
}

// Stats returns current pool statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		MaxTotal:     m.cfg.MaxConnTotal,
		MaxPerRoute:  m.cfg.MaxConnPerRoute,
		NumOpen:      len(m.conns),
		Routes:       make(map[string]int),
		DialCount:    atomic.LoadUint64(&m.dialCount),
		DialFailed:   atomic.LoadUint64(&m.dialFailed),
		AcquireWaits: atomic.LoadUint64(&m.acquireWaits),
		Expired:      atomic.LoadUint64(&m.expired),
		Evicted:      atomic.LoadUint64(&m.evicted),
		Closed:       atomic.LoadUint64(&m.closedCount),
	}
	for c := range m.conns {
		s.Routes[c.route]++
		if c.leaseCount() > 0 {
			s.NumLeased++
		} else if c.isIdle() {
			s.NumIdle++
		}
	}
	return s
}
