// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/tourney-live/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/tourney-live/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/tourney-live/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/livetail
package version

import "fmt"

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return fmt.Sprintf("%s (%s) built %s", Version, Commit, BuildTime)
}

// UserAgent is sent on the WebSocket handshake.
func UserAgent() string {
	return "livetail/" + Version
}
