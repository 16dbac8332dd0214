package client

import (
	"context"
	"net/http"

	"github.com/go-i2p/asynchttp/lib/transport"
)

// AsyncAdapter implements AsyncClient on a transport.AsyncClient.
type AsyncAdapter struct {
	delegate *transport.AsyncClient
}

// NewAsyncAdapter wraps c and starts it.
func NewAsyncAdapter(c *transport.AsyncClient) (*AsyncAdapter, error) {
	if err := c.Start(); err != nil {
		return nil, err
	}
	log.WithField("versionPolicy", c.VersionPolicy()).Debug("async adapter ready")
	return &AsyncAdapter{delegate: c}, nil
}

// Delegate returns the wrapped transport client.
func (a *AsyncAdapter) Delegate() *transport.AsyncClient {
	return a.delegate
}

// Execute sends req in the background. A nil opts keeps the transport defaults.
func (a *AsyncAdapter) Execute(ctx context.Context, req *Request, opts *Options) *transport.Future[*Response] {
	hr, err := toHTTP(ctx, req)
	if err != nil {
		return transport.Completed[*Response](nil, err)
	}
	ctx = withOptions(ctx, a.delegate.DefaultRequestConfig(), opts)
	return transport.Then(a.delegate.Execute(ctx, hr), func(resp *http.Response, err error) (*Response, error) {
		if err != nil {
			return nil, err
		}
		return fromHTTP(req, resp)
	})
}

// SyncAdapter implements Client on a transport.SyncClient.
type SyncAdapter struct {
	delegate *transport.SyncClient
}

// NewSyncAdapter wraps c.
func NewSyncAdapter(c *transport.SyncClient) *SyncAdapter {
	return &SyncAdapter{delegate: c}
}

// Delegate returns the wrapped transport client.
func (a *SyncAdapter) Delegate() *transport.SyncClient {
	return a.delegate
}

// Execute sends req and waits for the buffered response.
func (a *SyncAdapter) Execute(ctx context.Context, req *Request, opts *Options) (*Response, error) {
	ctx = withOptions(ctx, a.delegate.DefaultRequestConfig(), opts)
	hr, err := toHTTP(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := a.delegate.Do(hr)
	if err != nil {
		return nil, err
	}
	return fromHTTP(req, resp)
}

var (
	_ AsyncClient = (*AsyncAdapter)(nil)
	_ Client      = (*SyncAdapter)(nil)
)
