package pool

import (
	"fmt"
	"strings"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
)

// ReusePolicy selects which idle connection is reused or evicted first.
type ReusePolicy string

const (
	// ReuseLIFO keeps recently used connections hot and lets the rest expire.
	ReuseLIFO ReusePolicy = "LIFO"
	// ReuseFIFO rotates through every pooled connection until its time-to-live.
	ReuseFIFO ReusePolicy = "FIFO"
)

// ParseReusePolicy parses a reuse policy name, ignoring case.
func ParseReusePolicy(s string) (ReusePolicy, error) {
	p := ReusePolicy(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown pool reuse policy %q", apperrors.ErrConfiguration, s)
	}
	return p, nil
}

// Valid reports whether p is a known policy.
func (p ReusePolicy) Valid() bool {
	return p == ReuseLIFO || p == ReuseFIFO
}

// String returns the policy name.
func (p ReusePolicy) String() string {
	return string(p)
}

// ConcurrencyPolicy selects how strictly connection bounds are enforced.
type ConcurrencyPolicy string

const (
	// ConcurrencyStrict enforces both the total and the per-route bound.
	ConcurrencyStrict ConcurrencyPolicy = "STRICT"
	// ConcurrencyLax enforces only the per-route bound.
	ConcurrencyLax ConcurrencyPolicy = "LAX"
)

// ParseConcurrencyPolicy parses a concurrency policy name, ignoring case.
func ParseConcurrencyPolicy(s string) (ConcurrencyPolicy, error) {
	p := ConcurrencyPolicy(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown pool concurrency policy %q", apperrors.ErrConfiguration, s)
	}
	return p, nil
}

// Valid reports whether p is a known policy.
func (p ConcurrencyPolicy) Valid() bool {
	return p == ConcurrencyStrict || p == ConcurrencyLax
}

// String returns the policy name.
func (p ConcurrencyPolicy) String() string {
	return string(p)
}
