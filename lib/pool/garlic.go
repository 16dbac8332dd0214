package pool

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/go-i2p/onramp"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
)

// GarlicDialer dials I2P destinations. *onramp.Garlic satisfies it.
type GarlicDialer interface {
	Dial(network, addr string) (net.Conn, error)
	Close() error
}

// GarlicFactory creates the I2P session on first use.
type GarlicFactory func() (GarlicDialer, error)

// OnrampGarlic returns a factory for a SAM garlic session named tunnelName.
// If options is empty, onramp.OPT_DEFAULTS is used.
func OnrampGarlic(tunnelName, samAddr string, options ...string) GarlicFactory {
	if len(options) == 0 {
		options = onramp.OPT_DEFAULTS
	}
	return func() (GarlicDialer, error) {
		log.WithField("tunnel", tunnelName).WithField("sam", samAddr).Info("creating I2P garlic session")
		g, err := onramp.NewGarlic(tunnelName, samAddr, options)
		if err != nil {
			return nil, fmt.Errorf("creating garlic session: %w", err)
		}
		return g, nil
	}
}

// IsI2PAddr reports whether addr (host or host:port) names an I2P destination.
func IsI2PAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimSuffix(host, ".")), ".i2p")
}

func (m *Manager) garlicSession() (GarlicDialer, error) {
	m.garlicMu.Lock()
	defer m.garlicMu.Unlock()

	m.mu.Lock()
	closed, g := m.closed, m.garlic
	m.mu.Unlock()

	if closed {
		return nil, apperrors.ErrPoolClosed
	}
	if g != nil {
		return g, nil
	}
	if m.cfg.Garlic == nil {
		return nil, apperrors.ErrGarlicUnavailable
	}

	g, err := m.cfg.Garlic()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		g.Close()
		return nil, apperrors.ErrPoolClosed
	}
	m.garlic = g
	m.mu.Unlock()
	return g, nil
}

// dialGarlic dials through the I2P session, abandoning the dial when ctx ends.
func (m *Manager) dialGarlic(ctx context.Context, network, addr string) (net.Conn, error) {
	g, err := m.garlicSession()
	if err != nil {
		return nil, err
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := g.Dial(network, addr)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
