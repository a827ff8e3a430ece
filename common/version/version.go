// Package version exposes build metadata injected with -ldflags.
package version

import "fmt"

// Set at link time, e.g.
//
//	go build -ldflags "-X github.com/thriveai/ami/common/version.Version=v1.2.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
