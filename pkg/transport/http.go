// Package transport provides the HTTP implementation of session.Transport.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"k8s.io/client-go/transport"
	"k8s.io/klog/v2"

	"github.com/jetstack/securesession/pkg/logs"
	"github.com/jetstack/securesession/pkg/session"
	"github.com/jetstack/securesession/pkg/version"
)

const (
	// DefaultTimeout bounds a whole request, including reading the body.
	DefaultTimeout = 10 * time.Second

	// maxResponseBodySize is the maximum allowed size for a response body.
	// Session responses are well under 1kB.
	maxResponseBodySize = 1024 * 1024
)

var _ session.Transport = (*HTTP)(nil)

// HTTP posts JSON bodies over HTTP.
type HTTP struct {
	client *http.Client
}

// NewHTTP returns an HTTP transport with the given timeout, or
// DefaultTimeout if timeout is zero. Requests are logged at high verbosity
// by the client-go debugging round tripper.
func NewHTTP(timeout time.Duration) *HTTP {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &HTTP{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport.NewDebuggingRoundTripper(http.DefaultTransport, transport.DebugByContext),
		},
	}
}

// NewHTTPWithClient wraps an existing client, for example one configured with
// a custom TLS root pool.
func NewHTTPWithClient(client *http.Client) (*HTTP, error) {
	if client == nil {
		return nil, fmt.Errorf("HTTP client cannot be nil")
	}

	return &HTTP{client: client}, nil
}

// Post marshals body to JSON and posts it to url. Any HTTP response, whatever
// its status, is returned without error; an error means no usable response
// was received.
func (h *HTTP) Post(ctx context.Context, url string, body any) (*session.Response, error) {
	logger := klog.FromContext(ctx).WithValues("source", "transport.Post")

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON for request to %s: %s", url, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise request to %s: %s", url, err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	version.SetUserAgent(request)

	httpResponse, err := h.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to perform HTTP request to %s: %w", url, err)
	}

	defer httpResponse.Body.Close()

	// read one byte past the limit so an oversized body can be told apart
	// from one that is exactly the limit
	responseBody, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBodySize+1))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("response from %s was truncated", url)
		}
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	if len(responseBody) > maxResponseBodySize {
		return nil, fmt.Errorf("rejecting response from %s as it was too large", url)
	}

	logger.V(logs.Trace).Info("received response", "url", url, "status", httpResponse.StatusCode, "bytes", len(responseBody))

	return &session.Response{
		Status: httpResponse.StatusCode,
		Reason: reasonPhrase(httpResponse),
		Body:   responseBody,
	}, nil
}

// reasonPhrase extracts the reason from a status line such as "404 Not Found".
func reasonPhrase(resp *http.Response) string {
	code := fmt.Sprintf("%d", resp.StatusCode)
	if reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
