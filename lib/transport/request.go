package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/metrics"
	"github.com/go-i2p/asynchttp/lib/pool"
)

// DefaultMaxRedirects bounds a redirect chain when RequestConfig leaves it at zero.
const DefaultMaxRedirects = 50

// RequestConfig holds per-request settings. A client carries a default;
// WithRequestConfig overrides it for a single request.
type RequestConfig struct {
	// ConnectTimeout bounds the dial. Zero uses the pool's default.
	ConnectTimeout time.Duration
	// ResponseTimeout bounds the wait for response headers. Zero disables it.
	ResponseTimeout time.Duration
	// RedirectsEnabled controls whether redirects are followed.
	RedirectsEnabled bool
	// MaxRedirects bounds a redirect chain. Default: 50
	MaxRedirects int
}

// DefaultRequestConfig follows redirects and relies on the pool's connect timeout.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		RedirectsEnabled: true,
		MaxRedirects:     DefaultMaxRedirects,
	}
}

type requestConfigKey struct{}

// WithRequestConfig attaches per-request settings to ctx.
func WithRequestConfig(ctx context.Context, rc RequestConfig) context.Context {
	return context.WithValue(ctx, requestConfigKey{}, rc)
}

// RequestConfigFrom returns the settings attached to ctx, or def.
func RequestConfigFrom(ctx context.Context, def RequestConfig) RequestConfig {
	if rc, ok := ctx.Value(requestConfigKey{}).(RequestConfig); ok {
		return rc
	}
	return def
}

// checkRedirect applies the redirect settings carried by the request context.
func checkRedirect(def RequestConfig) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		rc := RequestConfigFrom(req.Context(), def)
		if !rc.RedirectsEnabled {
			return http.ErrUseLastResponse
		}
		limit := rc.MaxRedirects
		if limit <= 0 {
			limit = DefaultMaxRedirects
		}
		if len(via) >= limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}
}

// exchange runs one request on client with the settings resolved from ctx.
// On success the returned body calls done once it is drained or closed;
// on failure done has already run.
func exchange(ctx context.Context, client *http.Client, req *http.Request, def RequestConfig, done func()) (*http.Response, error) {
	rc := RequestConfigFrom(ctx, def)
	ctx = WithRequestConfig(ctx, rc)
	if rc.ConnectTimeout > 0 {
		ctx = pool.WithConnectTimeout(ctx, rc.ConnectTimeout)
	}

	ctx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	var timer *time.Timer
	if rc.ResponseTimeout > 0 {
		timer = time.AfterFunc(rc.ResponseTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}

	TransportRequestsTotal.Inc()
	latency := metrics.NewTimer(TransportLatency)
	resp, err := client.Do(req.WithContext(ctx))
	latency.ObserveDuration()

	if timer != nil && !timer.Stop() && err == nil {
		// The deadline fired as the headers arrived.
		if timedOut.Load() {
			resp.Body.Close()
			err = context.DeadlineExceeded
		}
	}
	if err != nil {
		cancel()
		done()
		TransportFailuresTotal.Inc()
		if timedOut.Load() {
			return nil, fmt.Errorf("%w: no response within %v: %w", apperrors.ErrTimeout, rc.ResponseTimeout, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return nil, err
	}

	resp.Body = &exchangeBody{ReadCloser: resp.Body, finish: func() {
		cancel()
		done()
	}}
	return resp, nil
}

// exchangeBody runs finish once, at EOF or Close.
type exchangeBody struct {
	io.ReadCloser
	finish func()
	once   sync.Once
}

func (b *exchangeBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == io.EOF {
		b.once.Do(b.finish)
	}
	return n, err
}

func (b *exchangeBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.finish)
	return err
}
