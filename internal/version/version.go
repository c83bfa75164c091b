// Package version holds build metadata injected with -ldflags.
package version

import "runtime"

// Set at build time, e.g.
// -ldflags "-X github.com/homa-clinic/booking/internal/version.Version=1.2.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the payload served on /version.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the metadata of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}
