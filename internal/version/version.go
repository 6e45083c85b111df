// Package version holds build information stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/motorbox/internal/version.Version=v0.3.0" ./cmd/motorctl
package version

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)
