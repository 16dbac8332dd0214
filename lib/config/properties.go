package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/pool"
	"github.com/go-i2p/asynchttp/lib/transport"
	"github.com/go-i2p/asynchttp/lib/validation"
)

// property binds a dotted property key to a Config field.
type property struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func boolProp(field func(c *Config) *bool) property {
	return property{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*field(c) = b
			return nil
		},
	}
}

func intProp(field func(c *Config) *int) property {
	return property{
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*field(c) = n
			return nil
		},
	}
}

func int64Prop(field func(c *Config) *int64) property {
	return property{
		get: func(c *Config) string { return strconv.FormatInt(*field(c), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return err
			}
			*field(c) = n
			return nil
		},
	}
}

func stringProp(field func(c *Config) *string) property {
	return property{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			*field(c) = v
			return nil
		},
	}
}

func unitProp(field func(c *Config) *TimeUnit) property {
	return property{
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			u, err := ParseTimeUnit(v)
			if err != nil {
				return err
			}
			*field(c) = u
			return nil
		},
	}
}

var properties = map[string]property{
	"feign.httpclient.enabled": boolProp(func(c *Config) *bool { return &c.HTTPClient.Enabled }),
	"feign.httpclient.max-connections": intProp(func(c *Config) *int {
		return &c.HTTPClient.MaxConnections
	}),
	"feign.httpclient.max-connections-per-route": intProp(func(c *Config) *int {
		return &c.HTTPClient.MaxConnectionsPerRoute
	}),
	"feign.httpclient.time-to-live": int64Prop(func(c *Config) *int64 { return &c.HTTPClient.TimeToLive }),
	"feign.httpclient.time-to-live-unit": unitProp(func(c *Config) *TimeUnit {
		return &c.HTTPClient.TimeToLiveUnit
	}),
	"feign.httpclient.connection-timeout": intProp(func(c *Config) *int {
		return &c.HTTPClient.ConnectionTimeout
	}),
	"feign.httpclient.connection-timer-repeat": intProp(func(c *Config) *int {
		return &c.HTTPClient.ConnectionTimerRepeat
	}),
	"feign.httpclient.follow-redirects": boolProp(func(c *Config) *bool {
		return &c.HTTPClient.FollowRedirects
	}),
	"feign.httpclient.disable-ssl-validation": boolProp(func(c *Config) *bool {
		return &c.HTTPClient.DisableSSLValidation
	}),
	"feign.httpclient.hc5.enabled": boolProp(func(c *Config) *bool { return &c.HTTPClient.HC5.Enabled }),
	"feign.httpclient.hc5.pool-reuse-policy": {
		get: func(c *Config) string { return c.HTTPClient.HC5.PoolReusePolicy.String() },
		set: func(c *Config, v string) error {
			p, err := pool.ParseReusePolicy(v)
			if err != nil {
				return err
			}
			c.HTTPClient.HC5.PoolReusePolicy = p
			return nil
		},
	},
	"feign.httpclient.hc5.pool-concurrency-policy": {
		get: func(c *Config) string { return c.HTTPClient.HC5.PoolConcurrencyPolicy.String() },
		set: func(c *Config, v string) error {
			p, err := pool.ParseConcurrencyPolicy(v)
			if err != nil {
				return err
			}
			c.HTTPClient.HC5.PoolConcurrencyPolicy = p
			return nil
		},
	},
	"feign.httpclient.hc5.socket-timeout": int64Prop(func(c *Config) *int64 {
		return &c.HTTPClient.HC5.SocketTimeout
	}),
	"feign.httpclient.hc5.socket-timeout-unit": unitProp(func(c *Config) *TimeUnit {
		return &c.HTTPClient.HC5.SocketTimeoutUnit
	}),
	"feign.httpclient.hc5.async.enabled": boolProp(func(c *Config) *bool {
		return &c.HTTPClient.HC5.Async.Enabled
	}),
	"feign.httpclient.hc5.async.http-version-policy": {
		get: func(c *Config) string { return c.HTTPClient.HC5.Async.HTTPVersionPolicy.String() },
		set: func(c *Config, v string) error {
			p, err := transport.ParseVersionPolicy(v)
			if err != nil {
				return err
			}
			c.HTTPClient.HC5.Async.HTTPVersionPolicy = p
			return nil
		},
	},
	"i2p.enabled":     boolProp(func(c *Config) *bool { return &c.I2P.Enabled }),
	"i2p.sam-address": stringProp(func(c *Config) *string { return &c.I2P.SAMAddress }),
	"i2p.tunnel-name": stringProp(func(c *Config) *string { return &c.I2P.TunnelName }),
}

// PropertyKeys returns every supported property key in sorted order.
func PropertyKeys() []string {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetProperty assigns a value by its dotted property key, for example
// "feign.httpclient.hc5.async.enabled". Keys are case-insensitive.
func (c *Config) SetProperty(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if err := validation.PropertyKey("key", key); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrUnknownProperty, err)
	}
	p, ok := properties[key]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrUnknownProperty, key)
	}
	if err := p.set(c, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%w: %s=%q: %w", apperrors.ErrInvalidProperty, key, value, err)
	}
	log.WithField("key", key).WithField("value", value).Debug("property set")
	return nil
}

// Property returns the current value of a property key.
func (c *Config) Property(key string) (string, error) {
	p, ok := properties[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrUnknownProperty, key)
	}
	return p.get(c), nil
}

// SetProperties applies key=value assignments in order, stopping at the
// first failure.
func (c *Config) SetProperties(assignments ...string) error {
	for _, a := range assignments {
		key, value, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("%w: expected key=value, got %q", apperrors.ErrInvalidProperty, a)
		}
		if err := c.SetProperty(key, value); err != nil {
			return err
		}
	}
	return nil
}
