// Package version formats the build-identifying string printed by every
// cmd/ binary's --version flag.
package version

import "fmt"

// These are overridden at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Print renders name alongside the build metadata, in the single-line
// form kingpin's Version() expects.
func Print(name string) string {
	return fmt.Sprintf("%s version %s (commit %s, built %s)", name, Version, Commit, BuildDate)
}
