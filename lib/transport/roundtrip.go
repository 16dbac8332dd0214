package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/http2"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
	"github.com/go-i2p/asynchttp/version"
)

// HTTP/2 keep-alive pings.
const (
	h2ReadIdleTimeout = 30 * time.Second
	h2PingTimeout     = 15 * time.Second
)

// proxyFunc resolves the proxy for a request.
type proxyFunc func(*http.Request) (*url.URL, error)

// systemProxy reads HTTP_PROXY, HTTPS_PROXY and NO_PROXY once.
func systemProxy() proxyFunc {
	resolve := httpproxy.FromEnvironment().ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return resolve(req.URL)
	}
}

// systemUserAgent returns HTTP_AGENT, or the module's default agent.
func systemUserAgent() string {
	if ua := os.Getenv("HTTP_AGENT"); ua != "" {
		return ua
	}
	return version.UserAgent()
}

// newRoundTripper builds the pooled round tripper for policy. Every
// connection it opens comes from m.
func newRoundTripper(m *pool.Manager, policy VersionPolicy, proxy proxyFunc) (http.RoundTripper, error) {
	switch policy {
	case VersionForceHTTP1:
		tr := m.NewTransport()
		tr.Proxy = proxy
		tr.TLSClientConfig.NextProtos = []string{"http/1.1"}
		// A non-nil empty map keeps net/http from upgrading to h2.
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		return tr, nil

	case VersionNegotiate, "":
		tr := m.NewTransport()
		tr.Proxy = proxy
		h2, err := http2.ConfigureTransports(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: configuring http2: %w", apperrors.ErrTransportInvalidConfig, err)
		}
		h2.ReadIdleTimeout = h2ReadIdleTimeout
		h2.PingTimeout = h2PingTimeout
		return tr, nil

	case VersionForceHTTP2:
		if proxy != nil {
			log.Debug("proxy settings are not applied to forced HTTP/2 connections")
		}
		secure := m.TLSStrategy().Config()
		secure.NextProtos = []string{http2.NextProtoTLS}
		rt := &schemeRouter{
			tls: &http2.Transport{
				TLSClientConfig: secure,
				DialTLSContext:  m.DialTLSContext,
				ReadIdleTimeout: h2ReadIdleTimeout,
				PingTimeout:     h2PingTimeout,
			},
			cleartext: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					return m.DialContext(ctx, network, addr)
				},
				ReadIdleTimeout: h2ReadIdleTimeout,
				PingTimeout:     h2PingTimeout,
			},
		}
		m.RegisterIdleCloser(rt)
		return rt, nil
	}
	return nil, fmt.Errorf("%w: unknown http version policy %q", apperrors.ErrTransportInvalidConfig, policy)
}

// schemeRouter sends https requests over TLS h2 and http requests over h2c.
type schemeRouter struct {
	tls       *http2.Transport
	cleartext *http2.Transport
}

func (r *schemeRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "http" {
		return r.cleartext.RoundTrip(req)
	}
	return r.tls.RoundTrip(req)
}

func (r *schemeRouter) CloseIdleConnections() {
	r.tls.CloseIdleConnections()
	r.cleartext.CloseIdleConnections()
}

// userAgentTransport sets a User-Agent on requests that carry none.
type userAgentTransport struct {
	next  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent == "" || req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}

func (t *userAgentTransport) CloseIdleConnections() {
	if c, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
