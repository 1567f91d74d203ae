package version_test

import (
	"testing"

	"github.com/keithlinneman/insightdash/internal/version"
)

func TestGet_LinkerValuesWin(t *testing.T) {
	oldV, oldC, oldB := version.Version, version.Commit, version.BuildDate
	t.Cleanup(func() { version.Version, version.Commit, version.BuildDate = oldV, oldC, oldB })

	version.Version = "1.2.3"
	version.Commit = "abc123"
	version.BuildDate = "2026-01-02T03:04:05Z"

	info := version.Get()
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.BuildDate != "2026-01-02T03:04:05Z" {
		t.Fatalf("info = %+v", info)
	}
}

func TestGet_GoVersionFromBuildInfo(t *testing.T) {
	if info := version.Get(); info.GoVersion == "" {
		t.Fatal("GoVersion empty; test binaries carry build info")
	}
}
