// Package container is the composition root of the HTTP client module. It
// reads the client properties, builds the connection pools, TLS strategy,
// transports and client adapters, and owns what it built until Close.
//
// Components supplied through options are registered before the defaults
// and are never replaced. A supplied component is not torn down by the
// container.
//
// Basic usage:
//
//	props := config.DefaultConfig()
//	props.SetProperty("feign.httpclient.hc5.async.enabled", "true")
//
//	c, err := container.New(props)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	resp, err := c.AsyncClient().Execute(ctx, client.NewRequest("GET", url, nil), nil).Get(ctx)
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/asynchttp/lib/client"
	"github.com/go-i2p/asynchttp/lib/config"
	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/metrics"
	"github.com/go-i2p/asynchttp/lib/pool"
	"github.com/go-i2p/asynchttp/lib/tlsstrategy"
	"github.com/go-i2p/asynchttp/lib/transport"
)

// DefaultShutdownTimeout bounds Close's graceful teardown.
const DefaultShutdownTimeout = 30 * time.Second

// State is the container lifecycle state.
type State string

const (
	// StateUninitialized is the state before Start.
	StateUninitialized State = "uninitialized"
	// StateActive means components are built and usable.
	StateActive State = "active"
	// StateClosed means teardown ran. The container cannot be restarted.
	StateClosed State = "closed"
)

// teardownFunc releases one component.
type teardownFunc struct {
	kind Kind
	fn   func(ctx context.Context) error
}

// Container builds and owns the module's components.
type Container struct {
	mu sync.Mutex

	props           *config.Config
	registry        *Registry
	garlic          pool.GarlicFactory
	shutdownTimeout time.Duration
	hooks           []teardownFunc

	state    State
	teardown []teardownFunc
	emitter  *eventEmitter
}

// New validates props and applies opts. A nil props uses config.DefaultConfig.
// props is copied; later changes to it have no effect.
func New(props *config.Config, opts ...Option) (*Container, error) {
	if props == nil {
		props = config.DefaultConfig()
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		props:           props.Clone(),
		registry:        NewRegistry(),
		shutdownTimeout: DefaultShutdownTimeout,
		state:           StateUninitialized,
		emitter:         newEventEmitter(0),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	for _, kind := range c.registry.Kinds() {
		c.emitter.emitComponent(EventComponentSupplied, kind, "component supplied by caller")
	}
	return c, nil
}

// Start builds every component the properties enable. If construction
// fails, whatever was built is torn down and the container is closed.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateActive:
		return fmt.Errorf("%w: already started", apperrors.ErrContainerState)
	case StateClosed:
		return apperrors.ErrContainerClosed
	}

	log.WithField("async", c.props.AsyncEnabled()).
		WithField("sync", c.props.SyncEnabled()).
		Info("starting client container")

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.build(); err != nil {
		log.WithError(err).Error("client container construction failed")
		terr := c.runTeardown(ctx)
		c.transitionLocked(StateClosed)
		c.emitter.close()
		return errors.Join(err, terr)
	}

	c.transitionLocked(StateActive)
	metrics.ContainersActive.Inc()
	metrics.RecordStartTime()
	c.emitter.emitComponent(EventStarted, "", "client container started")
	log.WithField("components", c.registry.Kinds()).Info("client container started")
	return nil
}

func (c *Container) build() error {
	if c.props.AsyncEnabled() {
		if err := c.buildAsync(); err != nil {
			return fmt.Errorf("building async client: %w", err)
		}
	}
	if c.props.SyncEnabled() {
		if err := c.buildSync(); err != nil {
			return fmt.Errorf("building sync client: %w", err)
		}
	}
	return nil
}

// buildAsync supplies the pool, async transport and adapter. A supplied
// async transport replaces the whole chain below the adapter.
func (c *Container) buildAsync() error {
	if !c.registry.Has(KindAsyncTransport) {
		m, err := c.provideAsyncPool()
		if err != nil {
			return err
		}

		tc, err := transport.NewBuilder().
			DisableCookieManagement().
			UseSystemProperties().
			SetConnectionManager(m, true).
			SetVersionPolicy(c.props.HTTPClient.HC5.Async.HTTPVersionPolicy).
			SetDefaultRequestConfig(c.requestConfig()).
			Build()
		if err != nil {
			return err
		}
		if err := c.own(KindAsyncTransport, tc, func(ctx context.Context) error {
			return tc.Shutdown(ctx)
		}); err != nil {
			tc.Close()
			return err
		}
	}

	if c.registry.Has(KindAsyncClient) {
		return nil
	}
	tc, err := Get[*transport.AsyncClient](c.registry, KindAsyncTransport)
	if err != nil {
		return err
	}
	adapter, err := client.NewAsyncAdapter(tc)
	if err != nil {
		return err
	}
	return c.own(KindAsyncClient, adapter, nil)
}

func (c *Container) provideAsyncPool() (*pool.Manager, error) {
	if c.registry.Has(KindConnectionPool) {
		return Get[*pool.Manager](c.registry, KindConnectionPool)
	}
	m, err := c.newPool()
	if err != nil {
		return nil, err
	}
	if err := c.own(KindConnectionPool, m, closePool(m)); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// buildSync supplies an independent pool, sync transport and adapter unless
// a Client was supplied.
func (c *Container) buildSync() error {
	if c.registry.Has(KindClient) {
		return nil
	}

	m, err := c.newPool()
	if err != nil {
		return err
	}
	if err := c.own(KindSyncConnectionPool, m, closePool(m)); err != nil {
		m.Close()
		return err
	}

	sc, err := transport.NewSyncClient(m, transport.SyncConfig{
		Request:             c.requestConfig(),
		EvictInterval:       c.props.HTTPClient.TimerRepeat(),
		UseSystemProperties: true,
		SharedPool:          true,
	})
	if err != nil {
		return err
	}
	if err := c.own(KindSyncTransport, sc, func(context.Context) error {
		return sc.Close()
	}); err != nil {
		sc.Close()
		return err
	}
	return c.own(KindClient, client.NewSyncAdapter(sc), nil)
}

// newPool builds a pool from the properties.
func (c *Container) newPool() (*pool.Manager, error) {
	hc := c.props.HTTPClient
	b := pool.NewBuilder().
		SetMaxConnTotal(hc.MaxConnections).
		SetMaxConnPerRoute(hc.MaxConnectionsPerRoute).
		SetConnPoolPolicy(hc.HC5.PoolReusePolicy).
		SetPoolConcurrencyPolicy(hc.HC5.PoolConcurrencyPolicy).
		SetConnectionTimeToLive(hc.TimeToLiveDuration()).
		SetConnectTimeout(hc.ConnectTimeout()).
		SetTLSStrategy(tlsstrategy.Select(hc.DisableSSLValidation))

	switch {
	case c.garlic != nil:
		b.SetGarlic(c.garlic)
	case c.props.I2P.Enabled:
		b.SetGarlic(pool.OnrampGarlic(c.props.I2P.TunnelName, c.props.I2P.SAMAddress))
	}
	return b.Build()
}

func (c *Container) requestConfig() transport.RequestConfig {
	hc := c.props.HTTPClient
	return transport.RequestConfig{
		ConnectTimeout:   hc.ConnectTimeout(),
		ResponseTimeout:  hc.HC5.SocketTimeoutDuration(),
		RedirectsEnabled: hc.FollowRedirects,
		MaxRedirects:     transport.DefaultMaxRedirects,
	}
}

// own registers a component the container built, with its teardown.
func (c *Container) own(kind Kind, v any, teardown func(context.Context) error) error {
	if err := c.registry.Register(kind, v); err != nil {
		return err
	}
	if teardown != nil {
		c.teardown = append(c.teardown, teardownFunc{kind: kind, fn: teardown})
	}
	c.emitter.emitComponent(EventComponentBuilt, kind, "component built")
	log.WithField("component", kind).Debug("component built")
	return nil
}

func closePool(m *pool.Manager) func(context.Context) error {
	return func(context.Context) error {
		if err := m.Close(); err != nil && !errors.Is(err, apperrors.ErrPoolClosed) {
			return err
		}
		return nil
	}
}

// Shutdown tears down what the container built, in reverse order of
// construction, then runs the hooks registered with OnClose. Errors are
// joined. Calling Shutdown again, or before Start, is a no-op.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		log.Debug("client container already closed")
		return nil
	case StateUninitialized:
		c.transitionLocked(StateClosed)
		c.emitter.close()
		return nil
	}

	log.Info("closing client container")
	err := c.runTeardown(ctx)
	c.transitionLocked(StateClosed)
	metrics.ContainersActive.Dec()
	metrics.TeardownsTotal.Inc()
	c.emitter.emitComponent(EventStopped, "", "client container stopped")
	c.emitter.close()

	if err != nil {
		log.WithError(err).Warn("client container closed with errors")
	} else {
		log.Info("client container closed")
	}
	return err
}

// Close is Shutdown bounded by the configured shutdown timeout.
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// runTeardown invokes every teardown once, newest first (caller must hold lock).
func (c *Container) runTeardown(ctx context.Context) error {
	steps := append(append([]teardownFunc(nil), c.hooks...), c.teardown...)
	c.teardown, c.hooks = nil, nil

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := step.fn(ctx); err != nil {
			log.WithField("component", step.kind).WithError(err).Error("teardown failed")
			metrics.TeardownErrors.Inc()
			c.emitter.emit(Event{Type: EventTeardownFailed, Component: step.kind, Error: err, Message: "teardown failed"})
			errs = append(errs, fmt.Errorf("closing %s: %w", step.kind, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) transitionLocked(newState State) {
	oldState := c.state
	c.state = newState
	log.WithField("oldState", oldState).WithField("newState", newState).Debug("container state transition")
	c.emitter.emitStateChange(oldState, newState)
}

// State returns the lifecycle state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns a copy of the properties the container was built from.
func (c *Container) Config() *config.Config {
	return c.props.Clone()
}

// Registry returns the component registry.
func (c *Container) Registry() *Registry {
	return c.registry
}

// Events returns lifecycle events. The channel is closed on teardown.
func (c *Container) Events() <-chan Event {
	return c.emitter.channel()
}

// DroppedEvents returns how many events were dropped because the buffer was full.
func (c *Container) DroppedEvents() uint64 {
	return c.emitter.droppedEvents()
}

func lookup[T any](c *Container, kind Kind) T {
	v, _ := Get[T](c.registry, kind)
	return v
}

// ConnectionPool returns the async path's pool, or nil.
func (c *Container) ConnectionPool() *pool.Manager {
	return lookup[*pool.Manager](c, KindConnectionPool)
}

// AsyncTransport returns the async transport client, or nil.
func (c *Container) AsyncTransport() *transport.AsyncClient {
	return lookup[*transport.AsyncClient](c, KindAsyncTransport)
}

// AsyncClient returns the async client capability, or nil.
func (c *Container) AsyncClient() client.AsyncClient {
	return lookup[client.AsyncClient](c, KindAsyncClient)
}

// SyncConnectionPool returns the sync path's pool, or nil.
func (c *Container) SyncConnectionPool() *pool.Manager {
	return lookup[*pool.Manager](c, KindSyncConnectionPool)
}

// SyncTransport returns the sync transport client, or nil.
func (c *Container) SyncTransport() *transport.SyncClient {
	return lookup[*transport.SyncClient](c, KindSyncTransport)
}

// Client returns the blocking client capability, or nil.
func (c *Container) Client() client.Client {
	return lookup[client.Client](c, KindClient)
}
