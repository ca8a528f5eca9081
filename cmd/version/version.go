// Package version holds build metadata stamped in at link time:
//
//	go build -ldflags "-X github.com/wentf9/xops-mcp/cmd/version.Version=v1.0.0"
package version

import "fmt"

// Defaults cover go run and unstamped builds.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String renders the full build description on one line.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}
