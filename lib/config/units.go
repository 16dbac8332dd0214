package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "github.com/go-i2p/asynchttp/lib/errors"
)

// TimeUnit names the unit of an integer duration property.
type TimeUnit string

const (
	Nanoseconds  TimeUnit = "NANOSECONDS"
	Microseconds TimeUnit = "MICROSECONDS"
	Milliseconds TimeUnit = "MILLISECONDS"
	Seconds      TimeUnit = "SECONDS"
	Minutes      TimeUnit = "MINUTES"
	Hours        TimeUnit = "HOURS"
	Days         TimeUnit = "DAYS"
)

var unitDurations = map[TimeUnit]time.Duration{
	Nanoseconds:  time.Nanosecond,
	Microseconds: time.Microsecond,
	Milliseconds: time.Millisecond,
	Seconds:      time.Second,
	Minutes:      time.Minute,
	Hours:        time.Hour,
	Days:         24 * time.Hour,
}

// TimeUnits lists the accepted unit names.
func TimeUnits() []string {
	return []string{
		string(Nanoseconds), string(Microseconds), string(Milliseconds),
		string(Seconds), string(Minutes), string(Hours), string(Days),
	}
}

// ParseTimeUnit parses a unit name, ignoring case.
func ParseTimeUnit(s string) (TimeUnit, error) {
	u := TimeUnit(strings.ToUpper(strings.TrimSpace(s)))
	if !u.Valid() {
		return "", fmt.Errorf("%w: unknown time unit %q", apperrors.ErrConfiguration, s)
	}
	return u, nil
}

// Valid reports whether u is a known unit.
func (u TimeUnit) Valid() bool {
	_, ok := unitDurations[u]
	return ok
}

// Duration converts n units to a time.Duration. Unknown units yield zero.
// Values beyond the range of time.Duration saturate.
func (u TimeUnit) Duration(n int64) time.Duration {
	d := unitDurations[u]
	switch {
	case d == 0:
		return 0
	case n > math.MaxInt64/int64(d):
		return math.MaxInt64
	case n < math.MinInt64/int64(d):
		return math.MinInt64
	}
	return time.Duration(n) * d
}

// String returns the unit name.
func (u TimeUnit) String() string {
	return string(u)
}
