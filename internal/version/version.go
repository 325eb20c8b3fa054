package version

import (
	"encoding/json"
	"runtime"
	rdebug "runtime/debug"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Values set at build time through ldflags.
var (
	GitCommit  string
	GitBranch  string
	AppVersion string
	GoVersion  = runtime.Version()
)

type Version struct {
	GitCommit  string `json:"git_commit"`
	GitBranch  string `json:"git_branch"`
	AppVersion string `json:"app_version"`
	GoVersion  string `json:"go_version"`
}

func Current() *Version {
	if GitCommit == "" {
		if info, ok := rdebug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					GitCommit = setting.Value
				}
			}
		}
	}

	return &Version{
		GitCommit:  GitCommit,
		GitBranch:  GitBranch,
		AppVersion: AppVersion,
		GoVersion:  GoVersion,
	}
}

func (v *Version) String() string {
	return strings.Join([]string{
		"version=" + v.AppVersion,
		"commit=" + v.GitCommit,
		"branch=" + v.GitBranch,
		"go=" + v.GoVersion,
	}, " ")
}

// AsMap converts the version into fields a structured logger can take.
func (v *Version) AsMap() (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}

	return fields, nil
}

// ExportBuildInfoMetric exposes the build info as a constant gauge.
func ExportBuildInfoMetric() {
	v := Current()

	buildInfo := promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ipuctl_build_info",
			Help: "A gauge metric with the build information as constant labels",
		},
		[]string{"commit", "branch", "version", "goversion"},
	)

	buildInfo.With(prometheus.Labels{
		"commit":    v.GitCommit,
		"branch":    v.GitBranch,
		"version":   v.AppVersion,
		"goversion": v.GoVersion,
	}).Set(1)
}
