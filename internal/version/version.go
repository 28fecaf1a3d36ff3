package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/fmg"

// buildVersion is set via -ldflags "-X pkt.systems/fmg/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Module   string `json:"module" yaml:"module"`
	Version  string `json:"version" yaml:"version"`
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`
	BuiltAt  string `json:"built_at,omitempty" yaml:"built_at,omitempty"`
	Dirty    bool   `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	Go       string `json:"go" yaml:"go"`
	Platform string `json:"platform" yaml:"platform"`
}

// Current returns the best available version string.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
		if v := pseudoVersion(readVCS(info)); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

// Module returns the module path from build info when available.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

// Describe collects version, VCS and toolchain details.
func Describe() Info {
	out := Info{
		Module:   Module(),
		Version:  Current(),
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		vcs := readVCS(info)
		out.Revision = vcs.revision
		out.BuiltAt = vcs.time
		out.Dirty = vcs.modified
	}
	return out
}

// UserAgent is the User-Agent sent by the HTTP transport.
func UserAgent() string {
	return "fmg-go/" + Current()
}

type vcsInfo struct {
	revision string
	time     string
	modified bool
}

func readVCS(info *debug.BuildInfo) vcsInfo {
	var out vcsInfo
	if info == nil {
		return out
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			out.revision = setting.Value
		case "vcs.time":
			out.time = setting.Value
		case "vcs.modified":
			out.modified = setting.Value == "true"
		}
	}
	return out
}

func pseudoVersion(vcs vcsInfo) string {
	if vcs.revision == "" || vcs.time == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcs.time)
	if err != nil {
		return ""
	}
	rev := vcs.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + rev
	if vcs.modified {
		ver += "+dirty"
	}
	return ver
}
