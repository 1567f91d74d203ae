package version

import "runtime/debug"

// AppName labels logs, traces, profiles and build_info.
const AppName = "insightdash"

// set with -ldflags "-X github.com/keithlinneman/insightdash/internal/version.Version=..."
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// Get merges linker-provided values with the VCS stamp in the binary.
// Linker values win when set.
func Get() Info {
	out := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" || s.Value == "false" {
				dirty := s.Value == "true"
				out.VCSDirty = &dirty
			}
		}
	}
	return out
}
