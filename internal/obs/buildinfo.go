package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once
	buildInfo     = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "voicecharge build information.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo publishes the running binary's identity. A "dev" or empty commit falls back
// to the VCS revision stamped by the Go toolchain.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	goVersion, revision := readBuildInfo(debug.ReadBuildInfo)
	if commit == "" || commit == "dev" {
		if revision != "" {
			commit = revision
		} else if commit == "" {
			commit = "unknown"
		}
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, goVersion).Set(1)
}

func readBuildInfo(read func() (*debug.BuildInfo, bool)) (goVersion, revision string) {
	goVersion = runtime.Version()
	bi, ok := read()
	if !ok || bi == nil {
		return goVersion, ""
	}
	if bi.GoVersion != "" {
		goVersion = bi.GoVersion
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			revision = s.Value
			if len(revision) > 12 {
				revision = revision[:12]
			}
		}
	}
	return goVersion, revision
}
