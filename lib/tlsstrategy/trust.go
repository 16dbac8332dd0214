package tlsstrategy

import (
	"crypto/x509"
)

// TrustManager decides whether a peer certificate chain is trusted.
// authType names the key exchange in use and may be empty.
type TrustManager interface {
	// CheckClientTrusted validates a chain presented by a client.
	CheckClientTrusted(chain []*x509.Certificate, authType string) error
	// CheckServerTrusted validates a chain presented by a server.
	CheckServerTrusted(chain []*x509.Certificate, authType string) error
	// AcceptedIssuers lists the CA certificates trusted for client authentication.
	AcceptedIssuers() []*x509.Certificate
}

// DisabledValidationTrustManager trusts every certificate chain from every peer.
// It must only be used in development and test environments.
type DisabledValidationTrustManager struct{}

// CheckClientTrusted accepts any chain, including nil and empty ones.
func (DisabledValidationTrustManager) CheckClientTrusted([]*x509.Certificate, string) error {
	return nil
}

// CheckServerTrusted accepts any chain, including nil and empty ones.
func (DisabledValidationTrustManager) CheckServerTrusted([]*x509.Certificate, string) error {
	return nil
}

// AcceptedIssuers reports no accepted issuers.
func (DisabledValidationTrustManager) AcceptedIssuers() []*x509.Certificate {
	return nil
}

// verifyWith adapts a TrustManager check to tls.Config.VerifyPeerCertificate.
// Certificates that fail to parse are passed through as a shorter chain.
func verifyWith(check func([]*x509.Certificate, string) error) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		chain := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				log.WithError(err).Debug("skipping unparsable peer certificate")
				continue
			}
			chain = append(chain, cert)
		}
		return check(chain, "")
	}
}
