// Package version holds build metadata for the tscbot binary, injected with
//
//	go build -ldflags="-X github.com/cynthiaiii4/TSCBot/internal/version.Version=v0.3.0 \
//	                    -X github.com/cynthiaiii4/TSCBot/internal/version.Commit=abc1234 \
//	                    -X github.com/cynthiaiii4/TSCBot/internal/version.BuildDate=2026-01-01"
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String renders the one-line version banner printed by `tscbot version`.
func String() string {
	return fmt.Sprintf("tscbot %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
