// Package client defines the request and response types of the declarative
// HTTP client and the two transport capabilities it dispatches through:
// Client (blocking) and AsyncClient (future-based). The adapters in this
// package implement them on top of lib/transport.
package client

import (
	"context"
	"net/http"
	"time"

	"github.com/go-i2p/asynchttp/lib/transport"
)

// Request is a fully resolved HTTP request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest returns a Request with an empty header.
func NewRequest(method, url string, body []byte) *Request {
	return &Request{
		Method: method,
		URL:    url,
		Header: make(http.Header),
		Body:   body,
	}
}

// Options are per-request transport settings.
type Options struct {
	// ConnectTimeout bounds the dial. Zero keeps the transport default.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers. Zero keeps the transport default.
	ReadTimeout time.Duration
	// FollowRedirects controls whether redirects are followed.
	FollowRedirects bool
}

// DefaultOptions returns Options that follow redirects and keep the
// transport's timeouts.
func DefaultOptions() *Options {
	return &Options{FollowRedirects: true}
}

// Response is a buffered HTTP response.
type Response struct {
	Status  int
	Reason  string
	Proto   string
	Header  http.Header
	Body    []byte
	Request *Request
}

// Client sends requests and blocks for the response.
type Client interface {
	Execute(ctx context.Context, req *Request, opts *Options) (*Response, error)
}

// AsyncClient sends requests and reports the response through a Future.
type AsyncClient interface {
	Execute(ctx context.Context, req *Request, opts *Options) *transport.Future[*Response]
}
