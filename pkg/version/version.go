// Package version carries the engine's build identity.
package version

import (
	"fmt"
	"runtime"
)

const (
	Major = 0
	Minor = 3
	Patch = 1
)

// GitCommit and BuildDate are injected at link time via -ldflags.
var (
	GitCommit = ""
	BuildDate = ""
)

// String returns the semantic version, with the short commit when known.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if len(GitCommit) >= 7 {
		v += fmt.Sprintf(" (%s)", GitCommit[:7])
	}
	return v
}

// Full returns the version plus toolchain and platform details, for startup
// logs and bug reports.
func Full() string {
	out := "tradecore v" + String()
	if BuildDate != "" {
		out += " built " + BuildDate
	}
	return fmt.Sprintf("%s (%s, %s/%s)", out, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
