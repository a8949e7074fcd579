// Package version holds build information injected with -ldflags:
//
//	go build -ldflags "-X github.com/HerbHall/stbemu/internal/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime"
)

// Build information set by build flags.
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// Short returns the version string.
func Short() string { return Version }

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("stbemu %s (commit %s, built %s, %s/%s, %s)",
		Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// Map returns the build information as key/value pairs.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
