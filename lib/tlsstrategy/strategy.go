// Package tlsstrategy selects the TLS trust policy used by pooled connections.
//
// Every strategy negotiates TLS 1.2 or TLS 1.3 only. The default strategy
// trusts the platform certificate store. The insecure strategy, enabled by
// disable_ssl_validation, trusts every certificate and exists for development
// against self-signed endpoints.
package tlsstrategy

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"slices"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
)

// Versions lists the protocol versions every strategy accepts, most preferred first.
var Versions = []uint16{tls.VersionTLS13, tls.VersionTLS12}

// systemCertPool loads the platform trust store. Replaced in tests.
var systemCertPool = x509.SystemCertPool

// Strategy is a TLS policy for client connections.
type Strategy struct {
	base     *tls.Config
	trust    TrustManager
	insecure bool
}

// Select builds the strategy for the given validation flag.
//
// When disableValidation is true every peer is trusted. Otherwise the platform
// trust store is used. If the trust store cannot be loaded a warning is logged
// and the strategy falls back to an unconfigured context, which crypto/tls
// resolves against the platform store at handshake time.
func Select(disableValidation bool) *Strategy {
	s := &Strategy{
		base: &tls.Config{
			MinVersion: slices.Min(Versions),
			MaxVersion: slices.Max(Versions),
		},
	}

	if disableValidation {
		log.Warn("TLS certificate validation is disabled, all peers will be trusted")
		tm := DisabledValidationTrustManager{}
		s.trust = tm
		s.insecure = true
		s.base.InsecureSkipVerify = true
		s.base.VerifyPeerCertificate = verifyWith(tm.CheckServerTrusted)
		return s
	}

	roots, err := loadSystemRoots()
	if err != nil {
		log.WithError(err).Warn("Error creating TLS context, continuing with unconfigured context")
		return s
	}
	s.base.RootCAs = roots
	log.Debug("TLS strategy using system trust store")
	return s
}

func loadSystemRoots() (*x509.CertPool, error) {
	roots, err := systemCertPool()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTLSRootsUnavailable, err)
	}
	return roots, nil
}

// Insecure reports whether certificate validation is disabled.
func (s *Strategy) Insecure() bool {
	return s.insecure
}

// TrustManager returns the custom trust manager, or nil when the platform
// trust store is in use.
func (s *Strategy) TrustManager() TrustManager {
	return s.trust
}

// Versions returns the accepted protocol versions, most preferred first.
func (s *Strategy) Versions() []uint16 {
	return slices.Clone(Versions)
}

// Config returns a copy of the base client configuration.
func (s *Strategy) Config() *tls.Config {
	return s.base.Clone()
}

// ClientConfig returns a client configuration for serverName advertising the
// given ALPN protocols. A nil protos leaves NextProtos unset.
func (s *Strategy) ClientConfig(serverName string, protos ...string) *tls.Config {
	cfg := s.base.Clone()
	cfg.ServerName = serverName
	if len(protos) > 0 {
		cfg.NextProtos = slices.Clone(protos)
	}
	return cfg
}

// ServerConfig returns a server configuration applying the same version bounds.
// With a custom trust manager installed, client certificates are requested and
// checked through it.
func (s *Strategy) ServerConfig(certs ...tls.Certificate) *tls.Config {
	cfg := &tls.Config{
		MinVersion:   s.base.MinVersion,
		MaxVersion:   s.base.MaxVersion,
		Certificates: certs,
	}
	if s.trust != nil {
		cfg.ClientAuth = tls.RequestClientCert
		cfg.VerifyPeerCertificate = verifyWith(s.trust.CheckClientTrusted)
	}
	return cfg
}
