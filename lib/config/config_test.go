package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
	"github.com/go-i2p/asynchttp/lib/transport"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	hc := cfg.HTTPClient

	if !hc.Enabled {
		t.Error("httpclient should be enabled by default")
	}
	if hc.HC5.Enabled || hc.HC5.Async.Enabled {
		t.Error("sync and async clients should be disabled by default")
	}
	if hc.MaxConnections != 200 || hc.MaxConnectionsPerRoute != 50 {
		t.Errorf("bounds = %d/%d, want 200/50", hc.MaxConnections, hc.MaxConnectionsPerRoute)
	}
	if got := hc.TimeToLiveDuration(); got != 15*time.Minute {
		t.Errorf("TimeToLiveDuration() = %v, want 15m", got)
	}
	if got := hc.ConnectTimeout(); got != 2*time.Second {
		t.Errorf("ConnectTimeout() = %v, want 2s", got)
	}
	if got := hc.TimerRepeat(); got != 3*time.Second {
		t.Errorf("TimerRepeat() = %v, want 3s", got)
	}
	if got := hc.HC5.SocketTimeoutDuration(); got != 5*time.Second {
		t.Errorf("SocketTimeoutDuration() = %v, want 5s", got)
	}
	if !hc.FollowRedirects || hc.DisableSSLValidation {
		t.Error("redirects should be followed and TLS validated by default")
	}
	if hc.HC5.PoolReusePolicy != pool.ReuseFIFO {
		t.Errorf("PoolReusePolicy = %s, want FIFO", hc.HC5.PoolReusePolicy)
	}
	if hc.HC5.Async.HTTPVersionPolicy != transport.VersionNegotiate {
		t.Errorf("HTTPVersionPolicy = %s, want NEGOTIATE", hc.HC5.Async.HTTPVersionPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "negative max connections",
			modify:  func(c *Config) { c.HTTPClient.MaxConnections = -1 },
			wantErr: true,
		},
		{
			name:    "negative max per route",
			modify:  func(c *Config) { c.HTTPClient.MaxConnectionsPerRoute = -5 },
			wantErr: true,
		},
		{
			name:    "zero bounds fall back to pool defaults",
			modify:  func(c *Config) { c.HTTPClient.MaxConnections = 0 },
			wantErr: false,
		},
		{
			name:    "negative connect timeout",
			modify:  func(c *Config) { c.HTTPClient.ConnectionTimeout = -1 },
			wantErr: true,
		},
		{
			name:    "zero timer repeat",
			modify:  func(c *Config) { c.HTTPClient.ConnectionTimerRepeat = 0 },
			wantErr: true,
		},
		{
			name:    "unknown ttl unit",
			modify:  func(c *Config) { c.HTTPClient.TimeToLiveUnit = "FORTNIGHTS" },
			wantErr: true,
		},
		{
			name:    "unknown reuse policy",
			modify:  func(c *Config) { c.HTTPClient.HC5.PoolReusePolicy = "RANDOM" },
			wantErr: true,
		},
		{
			name:    "unknown concurrency policy",
			modify:  func(c *Config) { c.HTTPClient.HC5.PoolConcurrencyPolicy = "" },
			wantErr: true,
		},
		{
			name:    "unknown version policy",
			modify:  func(c *Config) { c.HTTPClient.HC5.Async.HTTPVersionPolicy = "HTTP_3" },
			wantErr: true,
		},
		{
			name:    "negative socket timeout",
			modify:  func(c *Config) { c.HTTPClient.HC5.SocketTimeout = -1 },
			wantErr: true,
		},
		{
			name: "i2p enabled without SAM address",
			modify: func(c *Config) {
				c.I2P.Enabled = true
				c.I2P.SAMAddress = ""
			},
			wantErr: true,
		},
		{
			name:    "i2p disabled ignores SAM address",
			modify:  func(c *Config) { c.I2P.SAMAddress = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperrors.ErrConfiguration) {
				t.Errorf("Validate() error should wrap ErrConfiguration: %v", err)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPClient.MaxConnections = -1
	cfg.HTTPClient.HC5.PoolReusePolicy = "RANDOM"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, field := range []string{"httpclient.max_connections", "httpclient.hc5.pool_reuse_policy"} {
		if !strings.Contains(msg, field) {
			t.Errorf("error %q should mention %s", msg, field)
		}
	}
}

func TestLoadConfig_NotExist(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.HTTPClient.MaxConnections != DefaultMaxConnections {
		t.Error("missing file should return defaults")
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "asynchttp.toml")

	cfg := DefaultConfig()
	cfg.HTTPClient.MaxConnections = 12
	cfg.HTTPClient.HC5.Async.Enabled = true
	cfg.HTTPClient.HC5.Async.HTTPVersionPolicy = transport.VersionForceHTTP2
	cfg.HTTPClient.TimeToLiveUnit = Minutes

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.HTTPClient.MaxConnections != 12 {
		t.Errorf("MaxConnections = %d, want 12", loaded.HTTPClient.MaxConnections)
	}
	if !loaded.AsyncEnabled() {
		t.Error("async should be enabled after reload")
	}
	if loaded.HTTPClient.HC5.Async.HTTPVersionPolicy != transport.VersionForceHTTP2 {
		t.Errorf("HTTPVersionPolicy = %s", loaded.HTTPClient.HC5.Async.HTTPVersionPolicy)
	}
	if loaded.HTTPClient.TimeToLiveDuration() != 900*time.Minute {
		t.Errorf("TimeToLiveDuration() = %v", loaded.HTTPClient.TimeToLiveDuration())
	}
}

func TestLoadConfig_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	data := "[httpclient.hc5]\nenabled = true\npool_reuse_policy = \"LIFO\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.SyncEnabled() {
		t.Error("sync client should be enabled")
	}
	if cfg.HTTPClient.HC5.PoolReusePolicy != pool.ReuseLIFO {
		t.Errorf("PoolReusePolicy = %s, want LIFO", cfg.HTTPClient.HC5.PoolReusePolicy)
	}
	if cfg.HTTPClient.MaxConnectionsPerRoute != DefaultMaxConnectionsPerRoute {
		t.Error("unspecified fields should keep their defaults")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed toml", "[httpclient\nenabled = "},
		{"invalid policy", "[httpclient.hc5]\npool_concurrency_policy = \"LOOSE\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.toml")
			if err := os.WriteFile(path, []byte(tt.data), 0600); err != nil {
				t.Fatal(err)
			}
			_, err := LoadConfig(path)
			if !errors.Is(err, apperrors.ErrConfiguration) {
				t.Errorf("LoadConfig() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestSetProperty(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{"feign.httpclient.hc5.async.enabled", "true", func(c *Config) bool { return c.HTTPClient.HC5.Async.Enabled }},
		{"feign.httpclient.hc5.enabled", "true", func(c *Config) bool { return c.HTTPClient.HC5.Enabled }},
		{"feign.httpclient.enabled", "false", func(c *Config) bool { return !c.HTTPClient.Enabled }},
		{"feign.httpclient.disable-ssl-validation", "true", func(c *Config) bool { return c.HTTPClient.DisableSSLValidation }},
		{"feign.httpclient.max-connections", "7", func(c *Config) bool { return c.HTTPClient.MaxConnections == 7 }},
		{"feign.httpclient.time-to-live", "30", func(c *Config) bool { return c.HTTPClient.TimeToLive == 30 }},
		{"feign.httpclient.time-to-live-unit", "minutes", func(c *Config) bool { return c.HTTPClient.TimeToLiveUnit == Minutes }},
		{"feign.httpclient.hc5.pool-reuse-policy", "lifo", func(c *Config) bool {
			return c.HTTPClient.HC5.PoolReusePolicy == pool.ReuseLIFO
		}},
		{"feign.httpclient.hc5.pool-concurrency-policy", "LAX", func(c *Config) bool {
			return c.HTTPClient.HC5.PoolConcurrencyPolicy == pool.ConcurrencyLax
		}},
		{"feign.httpclient.hc5.async.http-version-policy", "force_http_1", func(c *Config) bool {
			return c.HTTPClient.HC5.Async.HTTPVersionPolicy == transport.VersionForceHTTP1
		}},
		{"I2P.Sam-Address", " 10.0.0.1:7656 ", func(c *Config) bool { return c.I2P.SAMAddress == "10.0.0.1:7656" }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.SetProperty(tt.key, tt.value); err != nil {
				t.Fatalf("SetProperty() error = %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("SetProperty(%s, %s) did not apply", tt.key, tt.value)
			}
		})
	}
}

func TestSetProperty_Errors(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		target error
	}{
		{"unknown key", "feign.httpclient.unknown", "1", apperrors.ErrUnknownProperty},
		{"malformed key", "feign..httpclient", "1", apperrors.ErrUnknownProperty},
		{"bad bool", "feign.httpclient.hc5.enabled", "maybe", apperrors.ErrInvalidProperty},
		{"bad int", "feign.httpclient.max-connections", "many", apperrors.ErrInvalidProperty},
		{"bad policy", "feign.httpclient.hc5.pool-reuse-policy", "RANDOM", apperrors.ErrConfiguration},
		{"bad unit", "feign.httpclient.time-to-live-unit", "WEEKS", apperrors.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.SetProperty(tt.key, tt.value)
			if !errors.Is(err, tt.target) {
				t.Errorf("SetProperty() error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestSetProperties(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.SetProperties(
		"feign.httpclient.hc5.async.enabled=true",
		"feign.httpclient.connection-timeout=500",
	)
	if err != nil {
		t.Fatalf("SetProperties() error = %v", err)
	}
	if !cfg.AsyncEnabled() || cfg.HTTPClient.ConnectTimeout() != 500*time.Millisecond {
		t.Errorf("assignments not applied: %+v", cfg.HTTPClient)
	}

	if err := cfg.SetProperties("no-equals-sign"); !errors.Is(err, apperrors.ErrInvalidProperty) {
		t.Errorf("SetProperties(no-equals-sign) error = %v", err)
	}
}

func TestPropertyRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	for _, key := range PropertyKeys() {
		value, err := cfg.Property(key)
		if err != nil {
			t.Fatalf("Property(%s) error = %v", key, err)
		}
		if err := cfg.SetProperty(key, value); err != nil {
			t.Errorf("SetProperty(%s, %q) error = %v", key, value, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("round-tripped config should validate: %v", err)
	}

	if _, err := cfg.Property("nope"); !errors.Is(err, apperrors.ErrUnknownProperty) {
		t.Errorf("Property(nope) error = %v", err)
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cp := cfg.Clone()
	cp.HTTPClient.HC5.Async.Enabled = true

	if cfg.AsyncEnabled() {
		t.Error("Clone should not share state with the original")
	}
}

func TestParseTimeUnit(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"NANOSECONDS", time.Nanosecond, false},
		{"milliseconds", time.Millisecond, false},
		{" Seconds ", time.Second, false},
		{"DAYS", 24 * time.Hour, false},
		{"weeks", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := ParseTimeUnit(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeUnit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && u.Duration(1) != tt.want {
				t.Errorf("Duration(1) = %v, want %v", u.Duration(1), tt.want)
			}
		})
	}
}

func TestTimeUnitSaturates(t *testing.T) {
	tests := []struct {
		name string
		unit TimeUnit
		n    int64
		want time.Duration
	}{
		{"in range", Days, 2, 48 * time.Hour},
		{"max days", Days, 106751, 106751 * 24 * time.Hour},
		{"overflow days", Days, 200000, math.MaxInt64},
		{"overflow minutes", Minutes, math.MaxInt64, math.MaxInt64},
		{"underflow hours", Hours, math.MinInt64 / 2, math.MinInt64},
		{"nanoseconds", Nanoseconds, math.MaxInt64, math.MaxInt64},
		{"unknown unit", TimeUnit("WEEKS"), 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.unit.Duration(tt.n); got != tt.want {
				t.Errorf("Duration(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestLargeTimeToLiveKeepsExpiry(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.SetProperties(
		"feign.httpclient.time-to-live=200000",
		"feign.httpclient.time-to-live-unit=DAYS",
	); err != nil {
		t.Fatalf("SetProperties() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := cfg.HTTPClient.TimeToLiveDuration(); got <= 0 {
		t.Errorf("TimeToLiveDuration() = %v, want positive", got)
	}
}
