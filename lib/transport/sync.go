package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
)

// DefaultEvictInterval is how often a SyncClient evicts idle and expired connections.
const DefaultEvictInterval = 3 * time.Second

// SyncConfig configures a SyncClient.
type SyncConfig struct {
	// Request holds the defaults for requests without an override.
	Request RequestConfig
	// VersionPolicy selects the protocol versions. Default: NEGOTIATE
	VersionPolicy VersionPolicy
	// EvictInterval is the eviction timer period. Default: 3 seconds
	EvictInterval time.Duration
	// UseSystemProperties enables proxy and User-Agent settings from the environment.
	UseSystemProperties bool
	// Cookies enables a cookie jar.
	Cookies bool
	// SharedPool leaves the pool open on Close.
	SharedPool bool
}

// SyncClient is a blocking pooled client. A background timer closes
// expired connections and connections idle longer than the pool allows.
type SyncClient struct {
	client  *http.Client
	manager *pool.Manager
	cfg     SyncConfig

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewSyncClient creates a SyncClient on m and starts its eviction timer.
func NewSyncClient(m *pool.Manager, cfg SyncConfig) (*SyncClient, error) {
	if cfg.VersionPolicy == "" {
		cfg.VersionPolicy = VersionNegotiate
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = DefaultEvictInterval
	}

	client, err := newHTTPClient(m, cfg.VersionPolicy, cfg.Request, cfg.UseSystemProperties, cfg.Cookies, "")
	if err != nil {
		return nil, err
	}

	c := &SyncClient{
		client:  client,
		manager: m,
		cfg:     cfg,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.evictLoop()

	log.WithField("evictInterval", cfg.EvictInterval).
		WithField("versionPolicy", cfg.VersionPolicy).
		Info("sync client built")
	return c, nil
}

// evictLoop closes stale connections until Close.
func (c *SyncClient) evictLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evict()
		}
	}
}

func (c *SyncClient) evict() {
	expired := c.manager.CloseExpired()
	idle := 0
	if d := c.manager.IdleConnTimeout(); d > 0 {
		idle = c.manager.CloseIdleFor(d)
	}
	if expired+idle > 0 {
		log.WithField("expired", expired).WithField("idle", idle).Debug("evicted connections")
	}
}

// Do sends req and returns the response. Per-request settings are taken
// from the request context (see WithRequestConfig).
func (c *SyncClient) Do(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", apperrors.ErrInvalidInput)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		TransportRejectedTotal.Inc()
		return nil, apperrors.ErrTransportClosed
	}

	TransportInFlight.Inc()
	return exchange(req.Context(), c.client, req, c.cfg.Request, TransportInFlight.Dec)
}

// Get issues a GET for url with ctx.
func (c *SyncClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// DefaultRequestConfig returns the settings applied to requests without an override.
func (c *SyncClient) DefaultRequestConfig() RequestConfig {
	return c.cfg.Request
}

// HTTPClient returns the underlying client.
func (c *SyncClient) HTTPClient() *http.Client {
	return c.client
}

// Manager returns the pool the client draws connections from.
func (c *SyncClient) Manager() *pool.Manager {
	return c.manager
}

// Close stops the eviction timer, releases idle connections and closes the
// pool unless it is shared. Calling Close again is a no-op.
func (c *SyncClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	c.client.CloseIdleConnections()

	if !c.cfg.SharedPool {
		if err := c.manager.Close(); err != nil && !errors.Is(err, apperrors.ErrPoolClosed) {
			return err
		}
	}
	log.Debug("sync client closed")
	return nil
}
