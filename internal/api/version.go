package api

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/MJE43/pfrace/internal/api.EngineVersion=..."
var (
	EngineVersion = "dev"
	GitCommit     = "unknown"
	BuildTime     = "unknown"
)

var (
	versionOnce sync.Once
	versionInfo VersionInfo
)

// GetVersionInfo reports the build stamp. Values not set through ldflags
// fall back to the VCS settings embedded by the go tool.
func GetVersionInfo() VersionInfo {
	versionOnce.Do(func() {
		versionInfo = VersionInfo{
			EngineVersion: EngineVersion,
			GitCommit:     GitCommit,
			BuildTime:     BuildTime,
			GoVersion:     runtime.Version(),
		}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, kv := range bi.Settings {
			switch kv.Key {
			case "vcs.revision":
				if versionInfo.GitCommit == "unknown" {
					versionInfo.GitCommit = kv.Value
				}
			case "vcs.time":
				if versionInfo.BuildTime == "unknown" {
					versionInfo.BuildTime = kv.Value
				}
			case "vcs.modified":
				versionInfo.Modified = kv.Value == "true"
			}
		}
	})
	return versionInfo
}
