// Package version carries build metadata, set at link time:
//
//	go build -ldflags "-X github.com/pysugar/sellerops/internal/version.Version=v0.2.0"
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// UserAgent is sent on every marketplace API call.
func UserAgent() string {
	return "sellerops/" + Version
}
