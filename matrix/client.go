// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

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
	"sync"
)

// maxResponseSize caps homeserver response bodies. The bridge never
// fetches media, so responses are small JSON documents.
const maxResponseSize = 10 << 20

// ClientFactoryConfig holds configuration for creating a ClientFactory.
type ClientFactoryConfig struct {
	// AppServiceUserID is the bridge bot's user ID, derived from the
	// registration's sender_localpart and the homeserver domain.
	AppServiceUserID UserID

	// AccessToken is the as_token from the registration. Every
	// request authenticates with it regardless of which user the
	// request acts as.
	AccessToken string

	// HomeserverURL is the base URL of the homeserver's
	// client-server API (e.g., "http://localhost:8008").
	HomeserverURL string

	// HTTPClient is used for all requests. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// ClientFactory builds authenticated Intents for the bridge bot and
// its ghost users. All intents share one access token and one HTTP
// transport; the homeserver distinguishes them by the asserted user_id
// on each request. Intents are cached per user, so repeated lookups
// for the same ghost are cheap.
type ClientFactory struct {
	baseURL     string
	accessToken string
	botUserID   UserID
	httpClient  *http.Client
	logger      *slog.Logger

	mu      sync.Mutex
	intents map[string]*Intent
}

// NewClientFactory creates a client factory for an application
// service.
func NewClientFactory(config ClientFactoryConfig) (*ClientFactory, error) {
	if config.AppServiceUserID.IsZero() {
		return nil, fmt.Errorf("matrix: AppServiceUserID is required")
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("matrix: AccessToken is required")
	}
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}

	// Validate the URL structure. The string form (trailing slash
	// stripped) is stored and request URLs are built by direct
	// concatenation, avoiding url.URL re-encoding surprises with
	// escaped path segments.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ClientFactory{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		accessToken: config.AccessToken,
		botUserID:   config.AppServiceUserID,
		httpClient:  httpClient,
		logger:      logger,
		intents:     make(map[string]*Intent),
	}, nil
}

// BotUserID returns the bridge bot's user ID.
func (f *ClientFactory) BotUserID() UserID { return f.botUserID }

// Bot returns the intent acting as the bridge bot itself.
func (f *ClientFactory) Bot() *Intent {
	return f.User(f.botUserID)
}

// User returns the intent acting as the given user. The user must be
// inside the application service's namespace (or be the bot) for the
// homeserver to accept the identity assertion.
func (f *ClientFactory) User(userID UserID) *Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[userID.String()]
	if !ok {
		intent = &Intent{factory: f, userID: userID}
		// The bot account is created during registration install,
		// not by the bridge.
		if userID == f.botUserID {
			intent.registered.Store(true)
		}
		f.intents[userID.String()] = intent
	}
	return intent
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's pool.
func (f *ClientFactory) CloseIdleConnections() {
	f.httpClient.CloseIdleConnections()
}

// doRequest performs a request to the homeserver as the given user and
// returns the response body. On 2xx, returns the body. On 4xx/5xx with
// a Matrix error body, returns the body alongside a *Error.
func (f *ClientFactory) doRequest(ctx context.Context, method, path string, asUser UserID, requestBody any, query url.Values) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	// The identity assertion of the application service API: the
	// request runs as this user, authenticated by the shared token.
	query.Set("user_id", asUser.String())
	requestURL := f.baseURL + path + "?" + query.Encode()

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("matrix: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("matrix: creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+f.accessToken)

	response, err := f.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("matrix: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("matrix: reading response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses share one JSON shape.
	var matrixErr Error
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return nil, fmt.Errorf("matrix: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode

	return responseBody, &matrixErr
}
