package version

import (
	"fmt"
	"net/http"
	"runtime"
)

// This variables are injected at build time.

// SecureSessionVersion hosts the version of the app.
var SecureSessionVersion = "development"

// Commit is the commit hash of the build
var Commit string

// BuildDate is the date it was built
var BuildDate string

// GoVersion is the go version that was used to compile this
var GoVersion string

// UserAgent returns the User-Agent sent with every request to the document
// server.
func UserAgent() string {
	return fmt.Sprintf("securesession/%s (%s/%s)", SecureSessionVersion, runtime.GOOS, runtime.GOARCH)
}

// SetUserAgent sets the User-Agent header on req.
func SetUserAgent(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent())
}
