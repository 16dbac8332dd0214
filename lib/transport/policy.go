package transport

import (
	"fmt"
	"strings"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
)

// VersionPolicy selects which HTTP protocol versions the client speaks.
type VersionPolicy string

const (
	// VersionForceHTTP1 speaks HTTP/1.1 only.
	VersionForceHTTP1 VersionPolicy = "FORCE_HTTP_1"
	// VersionForceHTTP2 speaks HTTP/2 only, using prior knowledge on cleartext routes.
	VersionForceHTTP2 VersionPolicy = "FORCE_HTTP_2"
	// VersionNegotiate offers h2 and http/1.1 over ALPN.
	VersionNegotiate VersionPolicy = "NEGOTIATE"
)

// VersionPolicies lists the accepted policy names.
func VersionPolicies() []string {
	return []string{string(VersionForceHTTP1), string(VersionForceHTTP2), string(VersionNegotiate)}
}

// ParseVersionPolicy parses a policy name, ignoring case.
func ParseVersionPolicy(s string) (VersionPolicy, error) {
	p := VersionPolicy(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown http version policy %q", apperrors.ErrConfiguration, s)
	}
	return p, nil
}

// Valid reports whether p is a known policy.
func (p VersionPolicy) Valid() bool {
	switch p {
	case VersionForceHTTP1, VersionForceHTTP2, VersionNegotiate:
		return true
	}
	return false
}

// String returns the policy name.
func (p VersionPolicy) String() string {
	return string(p)
}
