// Package version holds build-time version information for the hbrag binary.
// The variables in this package are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/handbook-rag/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/handbook-rag/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/handbook-rag/internal/version.BuildDate=2025-01-01"
//
// When built without ldflags the values fall back to readable defaults.
package version

import (
	"fmt"
	"runtime"
)

// Version is the semantic version of the binary (e.g. "v1.2.3").
// Defaults to "dev" for local builds.
var Version = "dev"

// Commit is the short git SHA of the commit the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC date the binary was built (RFC3339 format).
var BuildDate = "unknown"

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("hbrag %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
