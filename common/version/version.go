// Package version carries the build identity stamped into the kokoro
// binary via -ldflags "-X ..." at release time.
package version

var (
	// Version is the semantic version of this build.
	Version = "v0.0.0-dev"

	// GitCommit is the commit hash the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
