// Package version holds the build-time version/commit stamp cmd/webcached
// prints on -version.
package version

import "fmt"

// Version and Commit are injected at build time via -ldflags; they default
// to development placeholders otherwise.
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full returns the CLI-printable version string.
func Full() string {
	return fmt.Sprintf("webcached %s (%s)", Version, Commit)
}
