// Package config holds the client properties that drive the HTTP client
// module: pool bounds and policies, timeouts, redirect and TLS behavior, the
// protocol version policy and optional I2P routing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
	"github.com/go-i2p/asynchttp/lib/transport"
	"github.com/go-i2p/asynchttp/lib/validation"
)

// Default configuration values
const (
	DefaultMaxConnections         = 200
	DefaultMaxConnectionsPerRoute = 50
	DefaultTimeToLive             = 900
	DefaultTimeToLiveUnit         = Seconds
	DefaultConnectionTimeout      = 2000
	DefaultConnectionTimerRepeat  = 3000
	DefaultSocketTimeout          = 5
	DefaultSocketTimeoutUnit      = Seconds
	DefaultReusePolicy            = pool.ReuseFIFO
	DefaultConcurrencyPolicy      = pool.ConcurrencyStrict
	DefaultVersionPolicy          = transport.VersionNegotiate
	DefaultSAMAddress             = "127.0.0.1:7656"
	DefaultTunnelName             = "asynchttp"
)

// Config holds all client properties.
type Config struct {
	HTTPClient HTTPClientConfig `toml:"httpclient"`
	I2P        I2PConfig        `toml:"i2p"`
}

// HTTPClientConfig contains the settings shared by the sync and async clients.
type HTTPClientConfig struct {
	// Enabled gates the synchronous client together with HC5.Enabled
	Enabled bool `toml:"enabled"`
	// MaxConnections bounds open connections across all routes
	MaxConnections int `toml:"max_connections"`
	// MaxConnectionsPerRoute bounds open connections to one host:port
	MaxConnectionsPerRoute int `toml:"max_connections_per_route"`
	// TimeToLive is the maximum connection age, in TimeToLiveUnit
	TimeToLive int64 `toml:"time_to_live"`
	// TimeToLiveUnit is the unit of TimeToLive
	TimeToLiveUnit TimeUnit `toml:"time_to_live_unit"`
	// ConnectionTimeout is the connect timeout in milliseconds
	ConnectionTimeout int `toml:"connection_timeout"`
	// ConnectionTimerRepeat is how often the sync client evicts idle connections, in milliseconds
	ConnectionTimerRepeat int `toml:"connection_timer_repeat"`
	// FollowRedirects controls whether redirects are followed by default
	FollowRedirects bool `toml:"follow_redirects"`
	// DisableSSLValidation trusts every certificate chain (insecure)
	DisableSSLValidation bool `toml:"disable_ssl_validation"`

	HC5 HC5Config `toml:"hc5"`
}

// HC5Config contains pooled client settings.
type HC5Config struct {
	// Enabled gates the synchronous client together with HTTPClientConfig.Enabled
	Enabled bool `toml:"enabled"`
	// PoolReusePolicy is LIFO or FIFO
	PoolReusePolicy pool.ReusePolicy `toml:"pool_reuse_policy"`
	// PoolConcurrencyPolicy is STRICT or LAX
	PoolConcurrencyPolicy pool.ConcurrencyPolicy `toml:"pool_concurrency_policy"`
	// SocketTimeout is the default response timeout, in SocketTimeoutUnit
	SocketTimeout int64 `toml:"socket_timeout"`
	// SocketTimeoutUnit is the unit of SocketTimeout
	SocketTimeoutUnit TimeUnit `toml:"socket_timeout_unit"`

	Async AsyncConfig `toml:"async"`
}

// AsyncConfig contains async client settings.
type AsyncConfig struct {
	// Enabled builds the async client
	Enabled bool `toml:"enabled"`
	// HTTPVersionPolicy is FORCE_HTTP_1, FORCE_HTTP_2 or NEGOTIATE
	HTTPVersionPolicy transport.VersionPolicy `toml:"http_version_policy"`
}

// I2PConfig contains optional I2P routing settings.
type I2PConfig struct {
	// Enabled routes .i2p hosts through a SAM garlic session
	Enabled bool `toml:"enabled"`
	// SAMAddress is the SAM bridge address (host:port)
	SAMAddress string `toml:"sam_address"`
	// TunnelName names the garlic session
	TunnelName string `toml:"tunnel_name"`
}

// DefaultConfig returns a Config with the module defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPClient: HTTPClientConfig{
			Enabled:                true,
			MaxConnections:         DefaultMaxConnections,
			MaxConnectionsPerRoute: DefaultMaxConnectionsPerRoute,
			TimeToLive:             DefaultTimeToLive,
			TimeToLiveUnit:         DefaultTimeToLiveUnit,
			ConnectionTimeout:      DefaultConnectionTimeout,
			ConnectionTimerRepeat:  DefaultConnectionTimerRepeat,
			FollowRedirects:        true,
			HC5: HC5Config{
				PoolReusePolicy:       DefaultReusePolicy,
				PoolConcurrencyPolicy: DefaultConcurrencyPolicy,
				SocketTimeout:         DefaultSocketTimeout,
				SocketTimeoutUnit:     DefaultSocketTimeoutUnit,
				Async: AsyncConfig{
					HTTPVersionPolicy: DefaultVersionPolicy,
				},
			},
		},
		I2P: I2PConfig{
			SAMAddress: DefaultSAMAddress,
			TunnelName: DefaultTunnelName,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Debug("config file not found, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", apperrors.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Marshal encodes the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Validate checks the configuration for errors. Every problem is reported;
// the result wraps ErrConfiguration.
func (c *Config) Validate() error {
	var errs validation.Errors
	hc := c.HTTPClient

	errs.Add(validation.NonNegative("httpclient.max_connections", hc.MaxConnections))
	errs.Add(validation.NonNegative("httpclient.max_connections_per_route", hc.MaxConnectionsPerRoute))
	errs.Add(validation.NonNegative("httpclient.connection_timeout", hc.ConnectionTimeout))
	errs.Add(validation.Positive("httpclient.connection_timer_repeat", hc.ConnectionTimerRepeat))
	errs.Add(validation.OneOf("httpclient.time_to_live_unit", string(hc.TimeToLiveUnit), TimeUnits()...))
	errs.Add(validation.OneOf("httpclient.hc5.pool_reuse_policy", string(hc.HC5.PoolReusePolicy),
		string(pool.ReuseLIFO), string(pool.ReuseFIFO)))
	errs.Add(validation.OneOf("httpclient.hc5.pool_concurrency_policy", string(hc.HC5.PoolConcurrencyPolicy),
		string(pool.ConcurrencyStrict), string(pool.ConcurrencyLax)))
	errs.Add(validation.OneOf("httpclient.hc5.socket_timeout_unit", string(hc.HC5.SocketTimeoutUnit), TimeUnits()...))
	errs.Add(validation.OneOf("httpclient.hc5.async.http_version_policy", string(hc.HC5.Async.HTTPVersionPolicy),
		transport.VersionPolicies()...))
	if hc.HC5.SocketTimeout < 0 {
		errs.Add(validation.NewResult("httpclient.hc5.socket_timeout", "must be non-negative", validation.ErrOutOfRange))
	}
	if c.I2P.Enabled {
		errs.Add(validation.HostPort("i2p.sam_address", c.I2P.SAMAddress))
		errs.Add(validation.Required("i2p.tunnel_name", c.I2P.TunnelName))
	}

	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
	}
	return nil
}

// Clone returns an independent copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// TimeToLiveDuration returns the connection time-to-live as a duration.
func (hc HTTPClientConfig) TimeToLiveDuration() time.Duration {
	return hc.TimeToLiveUnit.Duration(hc.TimeToLive)
}

// ConnectTimeout returns the connect timeout as a duration.
func (hc HTTPClientConfig) ConnectTimeout() time.Duration {
	return Milliseconds.Duration(int64(hc.ConnectionTimeout))
}

// TimerRepeat returns the idle eviction period as a duration.
func (hc HTTPClientConfig) TimerRepeat() time.Duration {
	return Milliseconds.Duration(int64(hc.ConnectionTimerRepeat))
}

// SocketTimeoutDuration returns the default response timeout as a duration.
func (h HC5Config) SocketTimeoutDuration() time.Duration {
	return h.SocketTimeoutUnit.Duration(h.SocketTimeout)
}

// SyncEnabled reports whether the synchronous client should be built.
func (c *Config) SyncEnabled() bool {
	return c.HTTPClient.Enabled && c.HTTPClient.HC5.Enabled
}

// AsyncEnabled reports whether the async client should be built.
func (c *Config) AsyncEnabled() bool {
	return c.HTTPClient.HC5.Async.Enabled
}
