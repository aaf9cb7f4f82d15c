// Package oauthclient implements the provider's OAuth authorization-code
// flow. Token requests go directly to the provider's OAuth endpoint; they do
// not pass through the rate gate because the provider does not count them
// against the API budget.
package oauthclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAccessRevoked indicates the provider rejected the refresh token; the
// stored record is useless and should be deleted.
var ErrAccessRevoked = errors.New("provider access revoked")

// TokenResponse is the provider's OAuth token payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	providerURL  string
	httpClient   *http.Client
}

func New(clientID, clientSecret, redirectURI, providerURL string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		providerURL:  providerURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// BuildAuthURL returns the provider authorization URL for the web flow.
func (c *Client) BuildAuthURL(scope, state string) string {
	if scope == "" {
		scope = "me tournaments:read tournaments:write matches:read matches:write"
	}
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", c.redirectURI)
	params.Set("response_type", "code")
	params.Set("state", state)
	params.Set("scope", scope)

	return fmt.Sprintf("%s/oauth/authorize?%s", c.providerURL, params.Encode())
}

// ExchangeCodeForToken exchanges an authorization code for tokens.
func (c *Client) ExchangeCodeForToken(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)

	return c.tokenRequest(ctx, data)
}

// RefreshToken obtains fresh tokens using the stored refresh token.
// Returns ErrAccessRevoked if the provider rejects it.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)

	return c.tokenRequest(ctx, data)
}

func (c *Client) tokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	tokenURL := c.providerURL + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		// Response bodies on the token endpoint may contain secrets;
		// never include them in the error.
		return nil, ErrAccessRevoked
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &tokenResp, nil
}
