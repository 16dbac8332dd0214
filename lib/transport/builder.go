package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"golang.org/x/net/publicsuffix"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
	"github.com/go-i2p/asynchttp/version"
)

// Builder assembles an AsyncClient.
type Builder struct {
	manager     *pool.Manager
	shared      bool
	cookies     bool
	systemProps bool
	policy      VersionPolicy
	reqCfg      RequestConfig
	userAgent   string
}

// NewBuilder returns a Builder with cookie management on, no proxy,
// the NEGOTIATE version policy and DefaultRequestConfig.
func NewBuilder() *Builder {
	return &Builder{
		cookies: true,
		policy:  VersionNegotiate,
		reqCfg:  DefaultRequestConfig(),
	}
}

// DisableCookieManagement drops the cookie jar so cookies are neither stored
// nor sent.
func (b *Builder) DisableCookieManagement() *Builder {
	b.cookies = false
	return b
}

// UseSystemProperties resolves proxies from HTTP_PROXY, HTTPS_PROXY and
// NO_PROXY, and takes the User-Agent from HTTP_AGENT when set.
func (b *Builder) UseSystemProperties() *Builder {
	b.systemProps = true
	return b
}

// SetConnectionManager sets the pool. A shared pool is left open when the
// client shuts down. Without a pool, Build creates a private one.
func (b *Builder) SetConnectionManager(m *pool.Manager, shared bool) *Builder {
	b.manager = m
	b.shared = shared
	return b
}

// SetVersionPolicy sets the HTTP version policy.
func (b *Builder) SetVersionPolicy(p VersionPolicy) *Builder {
	b.policy = p
	return b
}

// SetDefaultRequestConfig sets the settings for requests without an override.
func (b *Builder) SetDefaultRequestConfig(rc RequestConfig) *Builder {
	b.reqCfg = rc
	return b
}

// SetUserAgent sets the User-Agent for requests that carry none.
func (b *Builder) SetUserAgent(ua string) *Builder {
	b.userAgent = ua
	return b
}

// Build creates the client in the INACTIVE state.
func (b *Builder) Build() (*AsyncClient, error) {
	if !b.policy.Valid() {
		return nil, fmt.Errorf("%w: unknown http version policy %q", apperrors.ErrTransportInvalidConfig, b.policy)
	}
	if b.reqCfg.ConnectTimeout < 0 || b.reqCfg.ResponseTimeout < 0 || b.reqCfg.MaxRedirects < 0 {
		return nil, fmt.Errorf("%w: negative request setting %+v", apperrors.ErrTransportInvalidConfig, b.reqCfg)
	}

	m, shared := b.manager, b.shared
	if m == nil {
		var err error
		m, err = pool.NewBuilder().Build()
		if err != nil {
			return nil, err
		}
		shared = false
	}

	client, err := newHTTPClient(m, b.policy, b.reqCfg, b.systemProps, b.cookies, b.userAgent)
	if err != nil {
		if !shared {
			m.Close()
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &AsyncClient{
		client:  client,
		manager: m,
		shared:  shared,
		policy:  b.policy,
		reqCfg:  b.reqCfg,
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusInactive,
	}

	log.WithField("versionPolicy", b.policy).
		WithField("cookies", b.cookies).
		WithField("systemProperties", b.systemProps).
		WithField("sharedPool", shared).
		Info("async client built")
	return c, nil
}

// newHTTPClient assembles the pooled *http.Client shared by both client kinds.
func newHTTPClient(m *pool.Manager, policy VersionPolicy, rc RequestConfig, systemProps, cookies bool, userAgent string) (*http.Client, error) {
	var proxy proxyFunc
	if systemProps {
		proxy = systemProxy()
	}
	if userAgent == "" {
		userAgent = version.UserAgent()
		if systemProps {
			userAgent = systemUserAgent()
		}
	}

	rt, err := newRoundTripper(m, policy, proxy)
	if err != nil {
		return nil, err
	}
	rt = &userAgentTransport{next: rt, agent: userAgent}

	client := &http.Client{
		Transport:     m.RoundTripper(rt),
		CheckRedirect: checkRedirect(rc),
	}
	if cookies {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		client.Jar = jar
	}
	return client, nil
}
