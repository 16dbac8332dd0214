package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
)

func TestSyncClient(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	m, err := pool.NewBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewSyncClient(m, SyncConfig{Request: DefaultRequestConfig()})
	if err != nil {
		t.Fatalf("NewSyncClient() error = %v", err)
	}

	resp, err := c.Get(context.Background(), srv.URL+"/redirect")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "target" {
		t.Errorf("body = %q, want target", body)
	}
	if c.HTTPClient().Jar != nil {
		t.Error("cookies should be off unless requested")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !m.Closed() {
		t.Error("owned pool should close with the client")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := c.Get(context.Background(), srv.URL); !errors.Is(err, apperrors.ErrTransportClosed) {
		t.Errorf("Get after Close error = %v", err)
	}
}

func TestSyncClientNilRequest(t *testing.T) {
	m, err := pool.NewBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewSyncClient(m, SyncConfig{Request: DefaultRequestConfig()})
	if err != nil {
		t.Fatalf("NewSyncClient() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Do(nil); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Do(nil) error = %v, want ErrInvalidInput", err)
	}
}

func TestSyncClientSharedPool(t *testing.T) {
	m, err := pool.NewBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	c, err := NewSyncClient(m, SyncConfig{SharedPool: true})
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	if m.Closed() {
		t.Error("shared pool should stay open")
	}
}

func TestSyncClientEvictsIdleConnections(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	m, err := pool.NewBuilder().
		SetConnPoolPolicy(pool.ReuseLIFO).
		SetConnectionTimeToLive(30 * time.Millisecond).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewSyncClient(m, SyncConfig{EvictInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	resp, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	io.ReadAll(resp.Body)
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().NumOpen > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if open := m.Stats().NumOpen; open != 0 {
		t.Errorf("idle connection not evicted, %d open", open)
	}
}

func TestSyncClientRequestOverride(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	m, err := pool.NewBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewSyncClient(m, SyncConfig{Request: DefaultRequestConfig()})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx := WithRequestConfig(context.Background(), RequestConfig{RedirectsEnabled: false})
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/redirect", nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", resp.StatusCode)
	}
}
