// Package transport builds the pooled HTTP clients used by the module: an
// asynchronous client with an explicit INACTIVE, ACTIVE, SHUTDOWN lifecycle
// and a synchronous client with an idle-connection eviction timer. Both draw
// every connection from a pool.Manager.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
)

// Status is the lifecycle state of an AsyncClient.
type Status string

const (
	// StatusInactive is the state before Start is called.
	StatusInactive Status = "INACTIVE"
	// StatusActive means the client accepts requests.
	StatusActive Status = "ACTIVE"
	// StatusShutdown means the client was closed. It cannot be restarted.
	StatusShutdown Status = "SHUTDOWN"
)

// AsyncClient executes HTTP exchanges on background goroutines and reports
// their outcome through a Future.
type AsyncClient struct {
	client  *http.Client
	manager *pool.Manager
	shared  bool
	policy  VersionPolicy
	reqCfg  RequestConfig

	// ctx is canceled when a shutdown stops waiting for in-flight exchanges.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	status   Status
	inflight sync.WaitGroup
}

// Start moves the client to ACTIVE. Starting an active client is a no-op;
// a shut down client cannot be started again.
func (c *AsyncClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case StatusActive:
		return nil
	case StatusShutdown:
		return apperrors.ErrTransportClosed
	}

	c.status = StatusActive
	TransportClientsActive.Inc()
	log.WithField("versionPolicy", c.policy).Debug("async client started")
	return nil
}

// Status returns the lifecycle state.
func (c *AsyncClient) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Manager returns the pool the client draws connections from.
func (c *AsyncClient) Manager() *pool.Manager {
	return c.manager
}

// VersionPolicy returns the configured protocol policy.
func (c *AsyncClient) VersionPolicy() VersionPolicy {
	return c.policy
}

// DefaultRequestConfig returns the settings applied to requests without an override.
func (c *AsyncClient) DefaultRequestConfig() RequestConfig {
	return c.reqCfg
}

// HTTPClient returns the underlying client. Requests sent through it bypass
// the lifecycle checks and in-flight accounting.
func (c *AsyncClient) HTTPClient() *http.Client {
	return c.client
}

// Execute sends req in the background. The exchange counts as in flight
// until the response body is drained or closed. Per-request settings are
// taken from ctx (see WithRequestConfig).
func (c *AsyncClient) Execute(ctx context.Context, req *http.Request) *Future[*http.Response] {
	if req == nil {
		return Completed[*http.Response](nil, fmt.Errorf("%w: nil request", apperrors.ErrInvalidInput))
	}
	c.mu.Lock()
	switch c.status {
	case StatusInactive:
		c.mu.Unlock()
		TransportRejectedTotal.Inc()
		return Completed[*http.Response](nil, apperrors.ErrTransportNotStarted)
	case StatusShutdown:
		c.mu.Unlock()
		TransportRejectedTotal.Inc()
		return Completed[*http.Response](nil, apperrors.ErrTransportClosed)
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	TransportInFlight.Inc()
	f := newFuture[*http.Response]()
	go func() {
		ctx, stop := c.linkShutdown(ctx)
		resp, err := exchange(ctx, c.client, req, c.reqCfg, func() {
			stop()
			TransportInFlight.Dec()
			c.inflight.Done()
		})
		if err != nil {
			log.WithField("url", req.URL.String()).WithError(err).Debug("async exchange failed")
		}
		f.complete(resp, err)
	}()
	return f
}

// Do executes req and waits for the response.
func (c *AsyncClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.Execute(ctx, req).Get(ctx)
}

// linkShutdown derives a context that is also canceled when a shutdown
// abandons in-flight exchanges.
func (c *AsyncClient) linkShutdown(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Shutdown stops accepting requests and waits for in-flight exchanges until
// ctx ends, then cancels the rest, releases idle connections and closes the
// pool unless it is shared. Calling Shutdown again is a no-op.
func (c *AsyncClient) Shutdown(ctx context.Context) error {
	return c.shutdown(ctx, true)
}

// Close shuts the client down immediately, canceling in-flight exchanges.
func (c *AsyncClient) Close() error {
	return c.shutdown(context.Background(), false)
}

func (c *AsyncClient) shutdown(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	if c.status == StatusShutdown {
		c.mu.Unlock()
		log.Debug("async client already shut down")
		return nil
	}
	prev := c.status
	c.status = StatusShutdown
	c.mu.Unlock()

	if prev == StatusActive {
		TransportClientsActive.Dec()
	}
	log.WithField("graceful", graceful).Debug("shutting down async client")

	var errs []error
	if graceful {
		drained := make(chan struct{})
		go func() {
			c.inflight.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			log.WithError(ctx.Err()).Warn("in-flight exchanges did not finish, canceling")
			errs = append(errs, fmt.Errorf("%w: waiting for in-flight exchanges: %w", apperrors.ErrTimeout, ctx.Err()))
		}
	}
	c.cancel()
	c.client.CloseIdleConnections()

	if !c.shared {
		if err := c.manager.Close(); err != nil && !errors.Is(err, apperrors.ErrPoolClosed) {
			log.WithError(err).Warn("error closing connection pool")
			errs = append(errs, err)
		}
	}

	log.Info("async client shut down")
	return errors.Join(errs...)
}
