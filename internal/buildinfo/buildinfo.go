// Package buildinfo exposes version metadata injected at build time via
// -ldflags. The defaults identify development builds.
package buildinfo

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X github.com/wreckit-dev/wreckit/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info holds structured build information suitable for JSON serialization.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// GetInfo returns the current build information as a structured type.
func GetInfo() Info {
	return Info{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	}
}

// String returns a human-readable version string.
// Example: "wreckit v0.3.0 (commit: a1b2c3d, built: 2026-08-01T10:00:00Z)"
func (i Info) String() string {
	return fmt.Sprintf("wreckit v%s (commit: %s, built: %s)", i.Version, i.Commit, i.Date)
}
