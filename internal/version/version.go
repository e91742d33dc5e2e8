// Package version reports what build is running. Release builds stamp the
// variables with -ldflags "-X github.com/soyeahso/meshgate/internal/version.Version=...";
// plain go install builds fall back to the module's VCS stamp.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build describes the running binary.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Dirty   bool   `json:"dirty,omitempty"`
}

var (
	buildOnce sync.Once
	build     Build
)

// Current returns the build description, filling unstamped fields from the
// embedded build info once.
func Current() Build {
	buildOnce.Do(func() {
		build = Build{
			Version: Version,
			Commit:  Commit,
			Date:    Date,
			Go:      runtime.Version(),
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			fillFromBuildInfo(&build, info)
		}
	})
	return build
}

func fillFromBuildInfo(b *Build, info *debug.BuildInfo) {
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		}
	}
}

func (b Build) String() string {
	commit := short(b.Commit)
	if b.Dirty {
		commit += "+dirty"
	}
	return fmt.Sprintf("meshgate %s (commit: %s, built: %s, %s, %s/%s)",
		b.Version, commit, b.Date, b.Go, b.OS, b.Arch)
}

// Info is Current().String().
func Info() string { return Current().String() }

// UserAgent is sent to the bridge and the agent gateway.
func UserAgent() string {
	return "meshgate/" + Current().Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
