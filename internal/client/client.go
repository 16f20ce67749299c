// Package client implements the request/response channel: the outbound
// calls for user-initiated actions (send message, restore checkpoint,
// worktree operations, port exposure, terminal control frames).
//
// Call sites follow the optimistic pattern: the local write lands in
// the store before the request is issued, and the handler that resumes
// after it either confirms or rolls the write back to an error-shaped
// status. Push events processed in between are made safe by the
// reconciliation layer, not by this package.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tetherlab/tether/internal/requests"
	"github.com/tetherlab/tether/internal/store"
)

// QuotaCode is the error code the server uses for quota/entitlement
// rejections. These short-circuit the generic error path: callers
// present an upgrade affordance instead of a failure notice.
const QuotaCode = "quota_exceeded"

// APIError is a non-2xx response from the request channel.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsQuotaError reports whether err is a quota/entitlement rejection.
func IsQuotaError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == QuotaCode
}

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the base URL of the workspace server.
	BaseURL string
	// Store receives optimistic writes and rollbacks.
	Store *store.Store
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// CacheTTL is the default TTL for memoized reads. Zero uses the
	// requests package default.
	CacheTTL time.Duration
}

// Client issues outbound requests. All reads go through the
// pending-request cache for memoization and collapsing.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	store      *store.Store
	cache      *requests.Cache
}

// New creates a request-channel client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("client: Store is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		store:      config.Store,
		cache:      requests.NewCache(config.CacheTTL),
	}, nil
}

// Cache exposes the pending-request cache (tests, invalidation hooks).
func (c *Client) Cache() *requests.Cache {
	return c.cache
}

type apiErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// doRequest performs one JSON request and returns the response body.
// Non-2xx responses come back as *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed apiErrorBody
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
			apiErr.Code = parsed.Code
		}
		return nil, apiErr
	}
	return respBody, nil
}

// getJSON fetches path through the cache: a fresh entry is returned
// as-is, concurrent identical fetches collapse to one call, and the
// decoded result is memoized under key.
func (c *Client) getJSON(ctx context.Context, key, path string, decode func([]byte) (any, error)) (any, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.cache.Deduplicate(key, func() (any, error) {
		body, err := c.doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		decoded, err := decode(body)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, decoded)
		return decoded, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
