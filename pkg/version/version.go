// Package version reports the fixrecall build. Release builds stamp the
// variables below with ldflags:
//
//	-X github.com/Aman-CERP/fixrecall/pkg/version.Version=$(VERSION)
//	-X github.com/Aman-CERP/fixrecall/pkg/version.Commit=$(COMMIT)
//	-X github.com/Aman-CERP/fixrecall/pkg/version.Date=$(DATE)
//
// A plain `go build` or `go install` leaves them unset; Get then falls back to
// the module version and VCS stamp recorded by the toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	once   sync.Once
	cached Info
)

// Get returns the build information, resolving it once per process.
func Get() Info {
	once.Do(func() {
		bi, _ := debug.ReadBuildInfo()
		cached = resolve(bi)
	})
	return cached
}

func resolve(bi *debug.BuildInfo) Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi != nil {
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return info
}

// String is the one-line form printed by `fixrecall version`.
func (i Info) String() string {
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("fixrecall %s (commit: %s, built: %s, go: %s, %s/%s)",
		i.Version, commit, i.Date, i.GoVersion, i.OS, i.Arch)
}
