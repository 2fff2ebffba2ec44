package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withStamp(t *testing.T, v, commit, date string) {
	t.Helper()
	oldV, oldC, oldD := Version, Commit, Date
	Version, Commit, Date = v, commit, date
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })
}

func TestResolve_LdflagsWin(t *testing.T) {
	// Given: a release build stamped with ldflags
	withStamp(t, "1.4.0", "0123456789abcdef0123", "2026-01-02T03:04:05Z")
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.0.0-20260101-deadbeef"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "ffffffffffffffff"},
			{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
		},
	}

	// When: resolving
	info := resolve(bi)

	// Then: the stamped values are used and the commit is shortened
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.Date)
}

func TestResolve_FallsBackToVCSStamp(t *testing.T) {
	// Given: a go install build with no ldflags
	withStamp(t, "dev", "", "")
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abcdef1234567890"},
			{Key: "vcs.time", Value: "2026-05-06T07:08:09Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	// When: resolving
	info := resolve(bi)

	// Then: module version and VCS settings fill the gaps
	assert.Equal(t, "v0.3.1", info.Version)
	assert.Equal(t, "abcdef123456", info.Commit)
	assert.Equal(t, "2026-05-06T07:08:09Z", info.Date)
	assert.True(t, info.Modified)
	assert.Contains(t, info.String(), "abcdef123456-dirty")
}

func TestResolve_NoBuildInfo(t *testing.T) {
	// Given: a test binary without build info
	withStamp(t, "dev", "", "")

	// When: resolving with nothing recorded
	info := resolve(nil)

	// Then: placeholders are filled and the platform is known
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "unknown", info.Date)
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Arch)
}

func TestResolve_DevelModuleVersionIgnored(t *testing.T) {
	withStamp(t, "dev", "", "")

	info := resolve(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	assert.Equal(t, "dev", info.Version)
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "1.0.0", Commit: "abc", Date: "today", GoVersion: "go1.25", OS: "linux", Arch: "arm64"}

	assert.Equal(t, "fixrecall 1.0.0 (commit: abc, built: today, go: go1.25, linux/arm64)", info.String())
}
