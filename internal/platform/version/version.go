// Package version reports the build of the gharchive binaries
package version

// BuildInfo holds version information about the build
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Set via -ldflags "-X 'gharchive/internal/platform/version.version=v0.1.0'
// -X 'gharchive/internal/platform/version.commit=abcd' -X 'gharchive/internal/platform/version.date=2026-10-19'"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Info returns the build information
func Info() BuildInfo {
	return BuildInfo{Version: version, Commit: commit, Date: date}
}

// String renders the build as "version (commit, date)"
func (b BuildInfo) String() string {
	return b.Version + " (" + b.Commit + ", " + b.Date + ")"
}

// UserAgent is the default User-Agent for archive fetches by the named program
func UserAgent(program string) string {
	return program + "/" + version
}
