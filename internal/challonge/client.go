package challonge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bracketpi/bracketd/internal/metrics"
)

// Submitter serializes outbound provider calls. Every Request funnels
// through it; the client never performs a bare outbound call.
type Submitter interface {
	Submit(ctx context.Context, thunk func(ctx context.Context) (any, error)) (any, error)
}

// TokenSource supplies the OAuth bearer token, if one is stored.
type TokenSource interface {
	// BearerToken returns the current bearer token, or "" when none is
	// stored and the legacy key should be used.
	BearerToken(ctx context.Context) (string, error)
	// InvalidateBearer deletes the stored token record after the provider
	// rejected it. The record is irrecoverable at that point.
	InvalidateBearer(ctx context.Context) error
}

// requestConfig holds the configuration for a single provider API request.
type requestConfig struct {
	path            string
	queryParameters map[string]string
	body            []byte
}

// RequestOption defines a functional option for configuring a provider API request.
type RequestOption func(*requestConfig) error

// WithPath sets the URL path for the request.
func WithPath(path string) RequestOption {
	return func(c *requestConfig) error {
		c.path = path
		return nil
	}
}

// WithQueryParameters adds or updates query parameters for the request.
func WithQueryParameters(params map[string]string) RequestOption {
	return func(c *requestConfig) error {
		if c.queryParameters == nil {
			c.queryParameters = make(map[string]string)
		}
		for k, v := range params {
			c.queryParameters[k] = v
		}
		return nil
	}
}

// WithJSONAPIBody marshals v as the request body.
func WithJSONAPIBody(v any) RequestOption {
	return func(c *requestConfig) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		c.body = data
		return nil
	}
}

// Client is the provider API client. All requests are paced and serialized
// by the Submitter.
type Client struct {
	baseURL    string
	legacyKey  string
	httpClient *http.Client
	gate       Submitter
	tokens     TokenSource
}

// NewClient creates a provider client. tokens may be nil when only the
// legacy key is configured.
func NewClient(baseURL, legacyKey string, timeout time.Duration, gate Submitter, tokens TokenSource) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		legacyKey:  legacyKey,
		httpClient: &http.Client{Timeout: timeout},
		gate:       gate,
		tokens:     tokens,
	}
}

// Request performs a provider API call through the rate gate. On success the
// response body is returned, and decoded into target when target is non-nil.
func (c *Client) Request(ctx context.Context, method string, target any, options ...RequestOption) ([]byte, error) {
	config := &requestConfig{}
	for _, option := range options {
		if err := option(config); err != nil {
			return nil, err
		}
	}

	value, err := c.gate.Submit(ctx, func(ctx context.Context) (any, error) {
		return c.do(ctx, method, config)
	})
	if err != nil {
		return nil, err
	}

	payload := value.([]byte)
	if target != nil {
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return payload, nil
}

// do executes the HTTP request once the gate has dispatched it. It owns the
// authentication ladder: bearer first, legacy fallback after a bearer 401.
func (c *Client) do(ctx context.Context, method string, config *requestConfig) ([]byte, error) {
	bearer := ""
	if c.tokens != nil {
		token, err := c.tokens.BearerToken(ctx)
		if err != nil {
			slog.Warn("challonge.api.bearer_unavailable",
				"component", "challonge_api",
				"event", "api.token_error",
				"error", err,
			)
		} else {
			bearer = token
		}
	}

	payload, err := c.doOnce(ctx, method, config, bearer)
	if err == nil {
		return payload, nil
	}

	// A bearer 401 means the stored token is irrecoverable: delete it and
	// re-issue the same request once with the legacy key.
	var apiErr *APIError
	if bearer != "" && asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		slog.Warn("challonge.api.bearer_rejected",
			"component", "challonge_api",
			"event", "api.auth_fallback",
			"path", config.path,
		)
		if c.tokens != nil {
			if delErr := c.tokens.InvalidateBearer(ctx); delErr != nil {
				slog.Error("challonge.api.token_delete_failed",
					"component", "challonge_api",
					"event", "api.token_error",
					"error", delErr,
				)
			}
		}
		if c.legacyKey == "" {
			return nil, &APIError{Kind: KindUnauthorized, StatusCode: http.StatusUnauthorized}
		}
		return c.doOnce(ctx, method, config, "")
	}

	return nil, err
}

func (c *Client) doOnce(ctx context.Context, method string, config *requestConfig, bearer string) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Err: fmt.Errorf("invalid base URL: %w", err)}
	}
	u.Path += config.path

	if len(config.queryParameters) > 0 {
		q := u.Query()
		for k, v := range config.queryParameters {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	if config.body != nil {
		bodyReader = bytes.NewReader(config.body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, &APIError{Kind: KindTransport, Err: err}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/vnd.api+json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("Authorization-Type", "v2")
	} else {
		req.Header.Set("Authorization", c.legacyKey)
		req.Header.Set("Authorization-Type", "v1")
	}

	slog.Debug("challonge.api.request",
		"component", "challonge_api",
		"event", "api.request.start",
		"method", method,
		"path", config.path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		slog.Error("challonge.api.request_failed",
			"component", "challonge_api",
			"event", "api.error",
			"path", config.path,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
		metrics.ProviderAPILatency.WithLabelValues(config.path, "0").Observe(duration.Seconds())
		metrics.ProviderAPIErrors.WithLabelValues(string(KindTransport)).Inc()
		return nil, &APIError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	metrics.ProviderAPILatency.WithLabelValues(config.path, strconv.Itoa(resp.StatusCode)).Observe(duration.Seconds())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &APIError{Kind: KindTransport, Err: fmt.Errorf("failed to read response body: %w", err)}
		}
		return payload, nil
	}

	// Only read a bounded amount of an error body for logging and the
	// preserved provider_error payload.
	const maxErrorBody = 4096
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	logBody := string(bodyBytes)

	kind := classifyStatus(resp.StatusCode)
	metrics.ProviderAPIErrors.WithLabelValues(string(kind)).Inc()

	slog.Error("challonge.api.error_response",
		"component", "challonge_api",
		"event", "api.error",
		"path", config.path,
		"status_code", resp.StatusCode,
		"response_body", logBody,
		"duration_ms", duration.Milliseconds(),
	)

	return nil, &APIError{Kind: kind, StatusCode: resp.StatusCode, Body: logBody}
}

func classifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusTooManyRequests, http.StatusForbidden:
		return KindRateLimited
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindProvider
	}
}

func asAPIError(err error, target **APIError) bool {
	apiErr, ok := err.(*APIError)
	if ok {
		*target = apiErr
	}
	return ok
}
