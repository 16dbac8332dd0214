package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
	"github.com/go-i2p/asynchttp/lib/tlsstrategy"
)

func newPool(t *testing.T) *pool.Manager {
	t.Helper()
	m, err := pool.NewBuilder().SetTLSStrategy(tlsstrategy.Select(true)).Build()
	if err != nil {
		t.Fatalf("pool Build() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func newClient(t *testing.T, b *Builder) *AsyncClient {
	t.Helper()
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func fetch(t *testing.T, c *AsyncClient, ctx context.Context, url string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Execute(ctx, req).Get(ctx)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(body)
}

func echoHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s", r.Proto, r.Header.Get("User-Agent"))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/target", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/target", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "target")
	})
	mux.HandleFunc("/set-cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
	})
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			io.WriteString(w, c.Value)
		}
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	return mux
}

func TestParseVersionPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    VersionPolicy
		wantErr bool
	}{
		{"FORCE_HTTP_1", VersionForceHTTP1, false},
		{"force_http_2", VersionForceHTTP2, false},
		{" negotiate ", VersionNegotiate, false},
		{"HTTP_3", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersionPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersionPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperrors.ErrConfiguration) {
				t.Errorf("error should wrap ErrConfiguration: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseVersionPolicy() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuilderValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Builder)
	}{
		{"unknown policy", func(b *Builder) { b.SetVersionPolicy("HTTP_3") }},
		{"negative connect timeout", func(b *Builder) {
			b.SetDefaultRequestConfig(RequestConfig{ConnectTimeout: -time.Second})
		}},
		{"negative max redirects", func(b *Builder) {
			b.SetDefaultRequestConfig(RequestConfig{MaxRedirects: -1})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.modify(b)
			if _, err := b.Build(); !errors.Is(err, apperrors.ErrConfiguration) {
				t.Errorf("Build() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLifecycle(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	c, err := NewBuilder().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ctx := context.Background()

	if c.Status() != StatusInactive {
		t.Errorf("Status() = %s, want INACTIVE", c.Status())
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := c.Execute(ctx, req).Get(ctx); !errors.Is(err, apperrors.ErrNotOpen) {
		t.Errorf("Execute before Start error = %v, want ErrNotOpen", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
	if c.Status() != StatusActive {
		t.Errorf("Status() = %s, want ACTIVE", c.Status())
	}
	if _, body := fetch(t, c, ctx, srv.URL); !strings.HasPrefix(body, "HTTP/1.1") {
		t.Errorf("body = %q", body)
	}

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if c.Status() != StatusShutdown {
		t.Errorf("Status() = %s, want SHUTDOWN", c.Status())
	}
	if !c.Manager().Closed() {
		t.Error("private pool should be closed on shutdown")
	}
	if _, err := c.Execute(ctx, req).Get(ctx); !errors.Is(err, apperrors.ErrClosed) {
		t.Errorf("Execute after Shutdown error = %v, want ErrClosed", err)
	}
	if err := c.Start(); !errors.Is(err, apperrors.ErrTransportClosed) {
		t.Errorf("Start after Shutdown error = %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close after Shutdown error = %v", err)
	}
}

func TestExecuteNilRequest(t *testing.T) {
	c := newClient(t, NewBuilder().SetConnectionManager(newPool(t), true))
	ctx := context.Background()

	if _, err := c.Execute(ctx, nil).Get(ctx); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Execute(nil) error = %v, want ErrInvalidInput", err)
	}
	if _, err := c.Do(ctx, nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Do(nil) error = %v, want ErrInvalidInput", err)
	}
	if c.Status() != StatusActive {
		t.Errorf("Status() = %s, want ACTIVE", c.Status())
	}
}

func TestSharedPoolSurvivesShutdown(t *testing.T) {
	m := newPool(t)
	c, err := NewBuilder().SetConnectionManager(m, true).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	c.Start()

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if m.Closed() {
		t.Error("shared pool should stay open")
	}
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()
	c := newClient(t, NewBuilder())
	ctx := context.Background()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Execute(ctx, req).Get(ctx)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Shutdown(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Shutdown returned before the body was closed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	io.ReadAll(resp.Body)
	resp.Body.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return after the exchange finished")
	}
}

func TestShutdownDeadline(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()
	c := newClient(t, NewBuilder())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Execute(context.Background(), req).Wait()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	defer resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.Shutdown(ctx); !errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("Shutdown() error = %v, want ErrTimeout", err)
	}
	if c.Status() != StatusShutdown {
		t.Errorf("Status() = %s, want SHUTDOWN", c.Status())
	}
}

func TestCloseIsImmediate(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()
	c := newClient(t, NewBuilder())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Execute(context.Background(), req).Wait()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	defer resp.Body.Close()

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRedirects(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()
	ctx := context.Background()

	follow := newClient(t, NewBuilder())
	resp, body := fetch(t, follow, ctx, srv.URL+"/redirect")
	if resp.StatusCode != http.StatusOK || body != "target" {
		t.Errorf("followed redirect = %d %q", resp.StatusCode, body)
	}

	noFollow := WithRequestConfig(ctx, RequestConfig{RedirectsEnabled: false})
	resp, _ = fetch(t, follow, noFollow, srv.URL+"/redirect")
	if resp.StatusCode != http.StatusFound {
		t.Errorf("per-request override status = %d, want 302", resp.StatusCode)
	}

	stay := newClient(t, NewBuilder().SetDefaultRequestConfig(RequestConfig{RedirectsEnabled: false}))
	resp, _ = fetch(t, stay, ctx, srv.URL+"/redirect")
	if resp.StatusCode != http.StatusFound {
		t.Errorf("disabled redirects status = %d, want 302", resp.StatusCode)
	}

	limited := newClient(t, NewBuilder().SetDefaultRequestConfig(RequestConfig{RedirectsEnabled: true, MaxRedirects: 3}))
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/loop", nil)
	if _, err := limited.Do(ctx, req); err == nil || !strings.Contains(err.Error(), "stopped after 3 redirects") {
		t.Errorf("redirect loop error = %v", err)
	}
}

func TestCookieManagement(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()
	ctx := context.Background()

	tests := []struct {
		name    string
		builder *Builder
		want    string
	}{
		{"enabled", NewBuilder(), "abc"},
		{"disabled", NewBuilder().DisableCookieManagement(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, tt.builder)
			fetch(t, c, ctx, srv.URL+"/set-cookie")
			if _, body := fetch(t, c, ctx, srv.URL+"/cookie"); body != tt.want {
				t.Errorf("cookie = %q, want %q", body, tt.want)
			}
			if (c.HTTPClient().Jar == nil) != (tt.want == "") {
				t.Errorf("jar presence mismatch: %v", c.HTTPClient().Jar)
			}
		})
	}
}

func TestResponseTimeout(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()
	c := newClient(t, NewBuilder())

	ctx := WithRequestConfig(context.Background(), RequestConfig{
		RedirectsEnabled: true,
		ResponseTimeout:  50 * time.Millisecond,
	})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/slow", nil)

	start := time.Now()
	_, err := c.Execute(ctx, req).Get(context.Background())
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestUserAgent(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()
	ctx := context.Background()

	c := newClient(t, NewBuilder())
	if _, body := fetch(t, c, ctx, srv.URL); !strings.Contains(body, " asynchttp/") {
		t.Errorf("default agent missing: %q", body)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err := c.Do(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasSuffix(string(body), " custom/1.0") {
		t.Errorf("explicit agent replaced: %q", body)
	}

	t.Setenv("HTTP_AGENT", "env-agent/2.0")
	sys := newClient(t, NewBuilder().UseSystemProperties())
	if _, body := fetch(t, sys, ctx, srv.URL); !strings.HasSuffix(body, " env-agent/2.0") {
		t.Errorf("HTTP_AGENT ignored: %q", body)
	}
}

func TestSystemProxy(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "proxied %s", r.URL.String())
	}))
	defer proxy.Close()

	for _, k := range []string{"HTTP_PROXY", "http_proxy"} {
		t.Setenv(k, proxy.URL)
	}
	for _, k := range []string{"NO_PROXY", "no_proxy", "REQUEST_METHOD"} {
		t.Setenv(k, "")
	}

	c := newClient(t, NewBuilder().UseSystemProperties())
	_, body := fetch(t, c, context.Background(), "http://service.invalid/path")
	if body != "proxied http://service.invalid/path" {
		t.Errorf("body = %q", body)
	}
}

func TestVersionPolicies(t *testing.T) {
	tlsSrv := httptest.NewUnstartedServer(echoHandler())
	tlsSrv.EnableHTTP2 = true
	tlsSrv.StartTLS()
	defer tlsSrv.Close()

	h2cSrv := httptest.NewServer(h2c.NewHandler(echoHandler(), &http2.Server{}))
	defer h2cSrv.Close()

	tests := []struct {
		name   string
		policy VersionPolicy
		url    string
		proto  string
	}{
		{"http1 over tls", VersionForceHTTP1, tlsSrv.URL, "HTTP/1.1"},
		{"negotiate over tls", VersionNegotiate, tlsSrv.URL, "HTTP/2.0"},
		{"negotiate cleartext", VersionNegotiate, h2cSrv.URL, "HTTP/1.1"},
		{"forced h2 over tls", VersionForceHTTP2, tlsSrv.URL, "HTTP/2.0"},
		{"forced h2 cleartext", VersionForceHTTP2, h2cSrv.URL, "HTTP/2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newPool(t)
			c := newClient(t, NewBuilder().SetConnectionManager(m, false).SetVersionPolicy(tt.policy))

			resp, body := fetch(t, c, context.Background(), tt.url)
			if resp.Proto != tt.proto {
				t.Errorf("response proto = %s, want %s", resp.Proto, tt.proto)
			}
			if !strings.HasPrefix(body, tt.proto) {
				t.Errorf("server saw %q, want %s", body, tt.proto)
			}
			if m.Stats().DialCount == 0 {
				t.Error("connection did not come from the pool")
			}
		})
	}
}

func TestConcurrentExecute(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()
	c := newClient(t, NewBuilder())
	ctx := context.Background()

	futures := make([]*Future[*http.Response], 20)
	for i := range futures {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		futures[i] = c.Execute(ctx, req)
	}
	for i, f := range futures {
		resp, err := f.Get(ctx)
		if err != nil {
			t.Fatalf("future %d: %v", i, err)
		}
		io.ReadAll(resp.Body)
		resp.Body.Close()
	}

	if err := c.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if open := c.Manager().Stats().NumOpen; open != 0 {
		t.Errorf("connections left open after shutdown: %d", open)
	}
}
