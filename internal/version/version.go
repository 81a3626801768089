// Package version exposes build metadata for the unibox binary.
//
//nolint:revive
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "dev"
	// CommitHash is overridden by ldflags, or read from VCS build info.
	CommitHash = ""
	// BuildTime is overridden by ldflags, or read from VCS build info.
	BuildTime = ""
)

// GetInfo returns "version (shorthash)" or just the version when no commit is known.
func GetInfo() string {
	if CommitHash == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					CommitHash = setting.Value
				case "vcs.time":
					BuildTime = setting.Value
				}
			}
		}
	}
	if CommitHash == "" {
		return Version
	}
	short := CommitHash
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Version, short)
}

// Banner is the one-line description printed by `unibox version`.
func Banner() string {
	info := "unibox " + GetInfo()
	if BuildTime != "" {
		info += " built " + BuildTime
	}
	return info
}
