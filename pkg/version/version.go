// Package version holds build information for Mission Control.
// These variables are set at build time via ldflags.
package version

import (
	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	common "github.com/prometheus/common/version"
)

// Program is the name reported in version output and build info metrics.
const Program = "missioncontrol"

// Build information variables.
// Example: go build -ldflags "-X missioncontrol/pkg/version.Version=v1.2.3".
//
//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version ("dev" for development builds).
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

func syncCommon() {
	common.Version = Version
	common.Revision = Commit
	common.BuildDate = Date
}

// Print returns the multi-line version banner.
func Print() string {
	syncCommon()
	return common.Print(Program)
}

// Collector exports a <namespace>_build_info gauge.
func Collector() prometheus.Collector {
	syncCommon()
	return versioncollector.NewCollector(Program)
}
