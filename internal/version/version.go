// Package version holds build metadata set via -ldflags at build time.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
