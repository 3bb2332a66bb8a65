package version

import (
	"runtime/debug"
	"strings"
)

var (
	Version = "0.1.0"
	Commit  = "unknown"
	Date    = "unknown"
)

// Resolve returns the release version, suffixed with the VCS revision
// recorded in the build info when the binary was not stamped via ldflags.
func Resolve() string {
	info, _ := debug.ReadBuildInfo()
	return resolveVersion(Version, Commit, info)
}

func resolveVersion(base, commit string, info *debug.BuildInfo) string {
	if base == "" {
		base = "0.0.0"
	}

	if commit != "" && commit != "unknown" {
		return base
	}

	revision, modified := vcsState(info)
	if revision == "" {
		return base
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if modified {
		revision += "-dirty"
	}
	return base + "-" + revision
}

func vcsState(info *debug.BuildInfo) (string, bool) {
	if info == nil {
		return "", false
	}

	var revision string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(setting.Value)
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	return revision, modified
}
