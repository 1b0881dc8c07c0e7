// Package version exposes the build metadata stamped into the binary.
package version

import (
	"fmt"
	"runtime"
)

// Stamped at build time via -ldflags; the defaults describe a plain
// `go build` from source.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the resolved build metadata for this binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo combines the stamped values with the running toolchain's
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the one-line form printed by `planloop version`
func (i Info) String() string {
	return fmt.Sprintf("planloop %s (commit %s, built %s, %s %s)",
		i.Version, shortCommit(i.Commit), i.Date, i.GoVersion, i.Platform)
}

// Short returns just the version number
func (i Info) Short() string { return i.Version }

func shortCommit(c string) string {
	if len(c) > 8 {
		return c[:8]
	}
	return c
}
