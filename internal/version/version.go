// Package version holds build information, set via -ldflags at build time.
package version

// Version is the release version of the binary.
var Version = "dev"
