// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags, e.g.
//
//	-X github.com/nugget/haconf/internal/buildinfo.Version=v0.3.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns build and runtime info as ordered key/value pairs,
// suitable for "haconf version" and for slog attributes.
func Info() [][2]string {
	return [][2]string{
		{"version", Version},
		{"git_commit", GitCommit},
		{"build_time", BuildTime},
		{"go_version", runtime.Version()},
		{"os", runtime.GOOS},
		{"arch", runtime.GOARCH},
	}
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return fmt.Sprintf("haconf/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("haconf %s (%s) built %s", Version, GitCommit, BuildTime)
}
