package transport

import (
	"context"
	"sync"
)

// Future is the pending result of an asynchronous operation.
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	val       T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a Future that already holds val and err.
func Completed[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(val, err)
	return f
}

// complete records the outcome and runs registered callbacks. Only the first
// call has an effect.
func (f *Future[T]) complete(val T, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.val, f.err = val, err
		callbacks := f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()

		for _, cb := range callbacks {
			cb(val, err)
		}
	})
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get waits for the result or for ctx to end.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks until the result is available.
func (f *Future[T]) Wait() (T, error) {
	return f.Get(context.Background())
}

// OnComplete registers fn to run with the result. If the Future is already
// complete, fn runs immediately on the calling goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		val, err := f.val, f.err
		f.mu.Unlock()
		fn(val, err)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Then returns a Future completed with fn applied to the outcome of f.
// fn runs on the goroutine that completes f.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	next := newFuture[U]()
	f.OnComplete(func(v T, err error) {
		next.complete(fn(v, err))
	})
	return next
}
