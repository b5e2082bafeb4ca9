package buildconfig

import "runtime"

// Set via -ldflags "-X github.com/Harshitk-cp/veracity/internal/buildconfig.version=..."
var (
	version = "dev"
	commit  = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

func Version() string {
	return version
}

func Commit() string {
	return commit
}

func Get() Info {
	return Info{Version: version, Commit: commit, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	return "veracity " + i.Version + " (" + i.Commit + ", " + i.GoVersion + ")"
}
