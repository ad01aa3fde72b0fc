// Package version reports which fleetlink build is running.
//
// Release builds stamp the variables with ldflags:
//
//	go build -ldflags "-X github.com/greenroute/fleetlink/internal/version.Version=1.0.0 \
//	                   -X github.com/greenroute/fleetlink/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/greenroute/fleetlink/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Unstamped builds fall back to the VCS settings the go command embeds.
package version

import "runtime/debug"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		fromBuildInfo(info)
	}
}

// fromBuildInfo fills unstamped variables from embedded build settings.
func fromBuildInfo(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" && s.Value != "" {
				Commit = s.Value[:min(len(s.Value), 7)]
			}
		case "vcs.time":
			if BuildTime == "unknown" && s.Value != "" {
				BuildTime = s.Value
			}
		}
	}
}

// String returns e.g. "1.0.0 (abc1234) built 2026-01-15T10:00:00Z".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is sent on every REST request and WebSocket handshake.
func UserAgent() string {
	return "fleetlink/" + Version + " (" + Commit + ")"
}
