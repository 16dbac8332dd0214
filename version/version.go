// Package version reports build information for asynchttp and derives the
// default User-Agent from it.
//
// Values are injected with ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/asynchttp/version.Version=1.0.0"
//
// Development builds report "dev".
package version

import "runtime"

// Version is the release version.
var Version = "dev"

// GitCommit is the short commit hash the binary was built from.
var GitCommit = ""

// BuildTime is the UTC build timestamp.
var BuildTime = ""

// Product is the name used in the User-Agent.
const Product = "asynchttp"

// Full returns the version with commit and build time when known.
func Full() string {
	v := Version
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}

// UserAgent returns the default User-Agent header value, for example
// "asynchttp/1.0.0 (go1.25.4)".
func UserAgent() string {
	return Product + "/" + Version + " (" + runtime.Version() + ")"
}
