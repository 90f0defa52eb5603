// Package probe runs black-box HTTP checks against a running backend and
// classifies the outcomes. The central classification rule: a transport
// failure (connection refused, DNS, timeout) means the assertion was never
// evaluated, so it records a warning, never a failure. Only a received
// response can fail a check.
package probe

import (
	"bytes"
	"context"
	"net/http"
	"time"
)

// APIKeyHeader is the header the backend uses for API key auth.
const APIKeyHeader = "X-API-Key"

// Context is the immutable configuration shared by every probe in a
// battery run.
type Context struct {
	// BaseURL is the backend under test, without a trailing slash.
	BaseURL string

	// APIKey is the key expected by the backend's auth middleware.
	APIKey string

	// Timeout bounds each probe request.
	Timeout time.Duration

	client *http.Client
}

// NewContext builds a probe context with its own short-lived-connection
// HTTP client.
func NewContext(baseURL, apiKey string, timeout time.Duration) Context {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return Context{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: timeout,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
}

func (pc Context) do(ctx context.Context, method, path string, body []byte, headers map[string]string) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, pc.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := pc.client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (pc Context) get(ctx context.Context, path string, withKey bool) (*http.Response, error) {
	headers := map[string]string{}
	if withKey {
		headers[APIKeyHeader] = pc.APIKey
	}
	return pc.do(ctx, http.MethodGet, path, nil, headers)
}

func (pc Context) post(ctx context.Context, path string, body []byte, headers map[string]string) (*http.Response, error) {
	return pc.do(ctx, http.MethodPost, path, body, headers)
}
