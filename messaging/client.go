// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/lattice-im/lattice/lib/clock"
	"github.com/lattice-im/lattice/lib/netutil"
	"github.com/lattice-im/lattice/lib/ref"
	"github.com/lattice-im/lattice/lib/secret"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g., "https://matrix.example.com"). Required.
	HomeserverURL string

	// ServerName is the Matrix server name used to qualify loose user
	// identities. Defaults to the host portion of HomeserverURL.
	ServerName string

	// DeviceName is the initial device display name sent on login.
	// Defaults to "lattice".
	DeviceName string

	// HTTPClient is used for all requests. Nil means http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives structured logging. Nil means slog.Default().
	Logger *slog.Logger

	// Clock drives backoff waits in the sync loop. Nil means
	// clock.Real(). Tests inject a FakeClock.
	Clock clock.Clock
}

// Client is the unauthenticated transport to one homeserver: base URL,
// HTTP client, logger, clock. Sessions share a Client.
type Client struct {
	baseURL       string
	defaultServer ref.ServerName
	deviceName    string
	httpClient    *http.Client
	logger        *slog.Logger
	clock         clock.Clock
}

// NewClient creates a new unauthenticated client for the homeserver in
// config.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}

	// The string form (trailing slash stripped) is stored and request
	// URLs built by concatenation. url.URL.String() re-encodes Path
	// even when RawPath is set, which double-encodes room IDs.
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	serverName := config.ServerName
	if serverName == "" {
		serverName = parsed.Hostname()
	}
	defaultServer, err := ref.ParseServerName(serverName)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid server name: %w", err)
	}

	deviceName := config.DeviceName
	if deviceName == "" {
		deviceName = "lattice"
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Client{
		baseURL:       strings.TrimRight(config.HomeserverURL, "/"),
		defaultServer: defaultServer,
		deviceName:    deviceName,
		httpClient:    httpClient,
		logger:        logger,
		clock:         clk,
	}, nil
}

// ServerName returns the Matrix server name used to qualify loose
// user identities.
func (c *Client) ServerName() ref.ServerName {
	return c.defaultServer
}

// CloseIdleConnections closes idle HTTP connections in the transport's
// pool. Call after a network disruption to force fresh TCP connections
// instead of reusing a poisoned pooled one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// MediaDownloadURL resolves an mxc:// content URI to an HTTP download
// URL on this homeserver.
func (c *Client) MediaDownloadURL(contentURI string) (string, error) {
	const scheme = "mxc://"
	if !strings.HasPrefix(contentURI, scheme) {
		return "", fmt.Errorf("messaging: not an mxc URI: %q", contentURI)
	}
	rest := strings.TrimPrefix(contentURI, scheme)
	server, mediaID, ok := strings.Cut(rest, "/")
	if !ok || server == "" || mediaID == "" {
		return "", fmt.Errorf("messaging: malformed mxc URI: %q", contentURI)
	}
	return c.baseURL + "/_matrix/media/v3/download/" +
		url.PathEscape(server) + "/" + url.PathEscape(mediaID), nil
}

// doRequest performs an HTTP request against the homeserver and
// returns the response body. On 2xx the body is returned; on 4xx/5xx
// the error is a *MatrixError decoded from the standard error
// envelope. accessToken may be nil for unauthenticated endpoints.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query ...url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && query[0] != nil {
		requestURL += "?" + query[0].Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != nil {
		// The buffer reads as empty once Logout or Close has freed it;
		// an in-flight caller racing that gets a clean auth error
		// instead of sending a bogus bearer token.
		bearer := accessToken.String()
		if bearer == "" {
			return nil, ErrNotAuthenticated
		}
		request.Header.Set("Authorization", "Bearer "+bearer)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses share the same JSON envelope.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		// Matrix servers always send the JSON error envelope; a
		// non-JSON error body means something in front of the
		// homeserver answered. Fail loud with the raw body.
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return responseBody, &matrixErr
}

// doRequestRaw performs an HTTP request with a raw body (media upload).
func (c *Client) doRequestRaw(ctx context.Context, method, path string, accessToken *secret.Buffer, contentType string, body io.Reader) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}

	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if accessToken != nil {
		bearer := accessToken.String()
		if bearer == "" {
			return nil, ErrNotAuthenticated
		}
		request.Header.Set("Authorization", "Bearer "+bearer)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return nil, &matrixErr
}
