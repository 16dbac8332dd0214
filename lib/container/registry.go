package container

import (
	"fmt"
	"sync"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
)

// Kind names a component slot.
type Kind string

const (
	// KindConnectionPool holds the async path's *pool.Manager.
	KindConnectionPool Kind = "connection-pool"
	// KindAsyncTransport holds the *transport.AsyncClient.
	KindAsyncTransport Kind = "async-transport"
	// KindAsyncClient holds the client.AsyncClient capability.
	KindAsyncClient Kind = "async-client"
	// KindSyncConnectionPool holds the sync path's *pool.Manager.
	KindSyncConnectionPool Kind = "sync-connection-pool"
	// KindSyncTransport holds the *transport.SyncClient.
	KindSyncTransport Kind = "sync-transport"
	// KindClient holds the client.Client capability.
	KindClient Kind = "client"
)

// Registry maps component kinds to instances. The first registration of a
// kind wins; later registrations are rejected.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]any
	order   []Kind
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Kind]any)}
}

// Register stores v under kind. It fails if kind is already taken.
func (r *Registry) Register(kind Kind, v any) error {
	if v == nil {
		return fmt.Errorf("%w: nil component for %s", apperrors.ErrInvalidInput, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[kind]; ok {
		return fmt.Errorf("%w: %s", apperrors.ErrComponentRegistered, kind)
	}
	r.entries[kind] = v
	r.order = append(r.order, kind)
	return nil
}

// Lookup returns the component registered under kind.
func (r *Registry) Lookup(kind Kind) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[kind]
	return v, ok
}

// Has reports whether kind is taken.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Kind(nil), r.order...)
}

// Get returns the component under kind as a T.
func Get[T any](r *Registry, kind Kind) (T, error) {
	var zero T
	v, ok := r.Lookup(kind)
	if !ok {
		return zero, fmt.Errorf("%w: %s", apperrors.ErrComponentMissing, kind)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", apperrors.ErrContainerState, kind, v)
	}
	return t, nil
}
