package health

import (
	"runtime"
	"runtime/debug"
	"sync"
)

type VersionInfo struct {
	Service string    `json:"service"`
	Version string    `json:"version"`
	Build   BuildInfo `json:"build"`
}

type BuildInfo struct {
	Module    string `json:"module,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Time      string `json:"time,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	buildOnce sync.Once
	buildInfo BuildInfo
)

// readBuildInfo reads the VCS stamp the go tool embeds in the binary.
func readBuildInfo() BuildInfo {
	buildOnce.Do(func() {
		buildInfo = BuildInfo{
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
		}

		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		buildInfo.Module = info.Main.Path
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				buildInfo.Revision = setting.Value
				if len(buildInfo.Revision) > 7 {
					buildInfo.Revision = buildInfo.Revision[:7]
				}
			case "vcs.time":
				buildInfo.Time = setting.Value
			case "vcs.modified":
				buildInfo.Modified = setting.Value == "true"
			}
		}
	})
	return buildInfo
}
