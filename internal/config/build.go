package config

import (
	"runtime/debug"
)

// Set by the release build:
//
//	go build -ldflags "-X dfsportal/internal/config.version=1.4.0 \
//	    -X dfsportal/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X dfsportal/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// shortCommitLen matches `git rev-parse --short`.
const shortCommitLen = 7

// NewBuildInfo returns the ldflags values. A plain `go build` from a git
// checkout still knows its commit: the VCS stamp the toolchain embeds is
// used when commit or buildTime were not injected.
func NewBuildInfo() BuildInfo {
	info, _ := debug.ReadBuildInfo()
	return buildInfoFrom(version, commit, buildTime, info)
}

func buildInfoFrom(version, commit, buildTime string, mod *debug.BuildInfo) BuildInfo {
	b := BuildInfo{Version: version, Commit: commit, BuildTime: buildTime}
	if mod == nil {
		return b
	}
	for _, s := range mod.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "none" && s.Value != "" {
				b.Commit = s.Value[:min(len(s.Value), shortCommitLen)]
			}
		case "vcs.time":
			if b.BuildTime == "unknown" && s.Value != "" {
				b.BuildTime = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" && b.Commit != "none" {
				b.Commit += "-dirty"
			}
		}
	}
	return b
}

// UserAgent identifies the portal to the hosted backend, e.g.
// "DFSPortal/1.4.0 (3f2a9c1)".
func (b BuildInfo) UserAgent() string {
	return "DFSPortal/" + b.Version + " (" + b.Commit + ")"
}
