package version

import (
	"runtime"
	"runtime/debug"
)

// Build variables injected with -ldflags, e.g.
// -X 'github.com/pagewise/pagewise/pkg/version.Version=v0.3.0'
var (
	Version    = "unknown"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

type Info struct {
	Version    string `json:"version"     yaml:"version"`
	CommitHash string `json:"commit_hash" yaml:"commit_hash"`
	BuildDate  string `json:"build_date"  yaml:"build_date"`
	GoVersion  string `json:"go_version"  yaml:"go_version"`
}

// Get returns the injected build information, falling back to the module
// build info embedded by the go toolchain for values that were not set.
func Get() Info {
	info := Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
	}
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "unknown" && build.Main.Version != "" && build.Main.Version != "(devel)" {
		info.Version = build.Main.Version
	}
	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.CommitHash == "unknown" {
				info.CommitHash = setting.Value
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = setting.Value
			}
		}
	}
	return info
}

// String renders the version line printed by the CLI.
func (i Info) String() string {
	return i.Version + " (commit " + i.CommitHash + ", built " + i.BuildDate + ", " + i.GoVersion + ")"
}
