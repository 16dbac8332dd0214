package container

import (
	"context"
	"fmt"
	"time"

	"github.com/go-i2p/asynchttp/lib/client"
	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
	"github.com/go-i2p/asynchttp/lib/transport"
)

// Option configures a Container before Start.
type Option func(*Container) error

func supply(kind Kind, v any) Option {
	return func(c *Container) error {
		return c.registry.Register(kind, v)
	}
}

// WithConnectionPool supplies the async path's pool. The container uses it
// but does not close it.
func WithConnectionPool(m *pool.Manager) Option {
	if m == nil {
		return supply(KindConnectionPool, nil)
	}
	return supply(KindConnectionPool, m)
}

// WithAsyncTransport supplies the async transport. No pool is built for
// the async path when one is supplied.
func WithAsyncTransport(tc *transport.AsyncClient) Option {
	if tc == nil {
		return supply(KindAsyncTransport, nil)
	}
	return supply(KindAsyncTransport, tc)
}

// WithAsyncClient supplies the async client capability.
func WithAsyncClient(ac client.AsyncClient) Option {
	if ac == nil {
		return supply(KindAsyncClient, nil)
	}
	return supply(KindAsyncClient, ac)
}

// WithClient supplies the blocking client capability. No sync pool or
// transport is built when one is supplied.
func WithClient(cl client.Client) Option {
	if cl == nil {
		return supply(KindClient, nil)
	}
	return supply(KindClient, cl)
}

// WithGarlic sets the I2P session factory for every pool the container
// builds, taking precedence over the i2p properties.
func WithGarlic(f pool.GarlicFactory) Option {
	return func(c *Container) error {
		c.garlic = f
		return nil
	}
}

// OnClose registers fn to run during teardown, after every built component
// is released. Hooks run in reverse order of registration.
func OnClose(name string, fn func(ctx context.Context) error) Option {
	return func(c *Container) error {
		if fn == nil {
			return fmt.Errorf("%w: nil teardown hook %q", apperrors.ErrInvalidInput, name)
		}
		c.hooks = append(c.hooks, teardownFunc{kind: Kind(name), fn: fn})
		return nil
	}
}

// WithShutdownTimeout bounds Close. Default: 30 seconds
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Container) error {
		if d <= 0 {
			return fmt.Errorf("%w: shutdown timeout must be positive", apperrors.ErrInvalidInput)
		}
		c.shutdownTimeout = d
		return nil
	}
}

// WithEventBuffer sets the capacity of the Events channel. Default: 64
func WithEventBuffer(n int) Option {
	return func(c *Container) error {
		c.emitter = newEventEmitter(n)
		return nil
	}
}
