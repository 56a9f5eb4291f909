// Package version carries build metadata injected via ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Injected at build time.
var (
	// Version is the semantic version.
	Version = "dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildDate is the build date.
	BuildDate = "unknown"

	// GoVersion is the Go version used to build.
	GoVersion = runtime.Version()
)

// Info returns the short version string.
func Info() string {
	return Version
}

// Full returns the version with the commit appended when known.
func Full() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return fmt.Sprintf("%s (%s)", Version, shortCommit())
	}
	return Version
}

func shortCommit() string {
	if len(GitCommit) > 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// BuildInfo is structured build information for the health endpoint.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// GetBuildInfo returns structured build information.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
	}
}

// UserAgent returns the user agent string for outbound HTTP clients.
func UserAgent() string {
	return fmt.Sprintf("retina/%s", Info())
}
