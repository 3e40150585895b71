// Package version reports the build version of the crosstalk binaries.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is set at build time:
// -ldflags="-X github.com/crosstalkhq/crosstalk/internal/version.Version=v1.0.0"
var Version = ""

// Info is version metadata for one binary.
type Info struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
}

// GetInfo returns structured version metadata for the named binary.
func GetInfo(name string) Info {
	info := Info{Name: name, Version: Get()}
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range buildInfo.Settings {
			if setting.Key == "vcs.revision" {
				info.Revision = setting.Value
			}
		}
	}
	return info
}

// Get returns the version string, falling back to module build info when
// no version was linked in.
func Get() string {
	if Version != "" {
		return Version
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return fmt.Sprintf("dev-%s", setting.Value[:7])
			}
		}
	}
	return "dev"
}

// String returns a formatted one-line version summary.
func String(name string) string {
	return fmt.Sprintf("%s version %s", name, Get())
}
