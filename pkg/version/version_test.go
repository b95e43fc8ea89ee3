package version

import (
	"net/http"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetUserAgent(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://example.com/rsakey", nil)
	require.NoError(t, err)

	SetUserAgent(req)

	assert.Equal(t, "securesession/development ("+runtime.GOOS+"/"+runtime.GOARCH+")", req.Header.Get("User-Agent"))
}
