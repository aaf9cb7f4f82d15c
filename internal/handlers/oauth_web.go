package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bracketpi/bracketd/internal/db"
)

// oauthStateTTL is how long a login's CSRF state stays redeemable.
const oauthStateTTL = 15 * time.Minute

// OAuthLoginHandler handles GET /oauth/login: generate a CSRF state, stash it
// in Redis, and redirect the operator to the provider's authorization page.
func OAuthLoginHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
			return
		}
		if deps.Core.OAuth == nil {
			writeError(w, http.StatusNotFound, "oauth_disabled", "OAuth client credentials are not configured")
			return
		}
		if deps.Conns.Redis == nil {
			writeError(w, http.StatusServiceUnavailable, "state_store_unavailable", "Redis is required for the OAuth login flow")
			return
		}

		state, err := generateSecureToken(32)
		if err != nil {
			slog.Error("handlers.oauth.state_generation_failed",
				"component", "handlers",
				"event", "oauth.login_error",
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "state_failed", "failed to initiate login")
			return
		}
		if err := storeOAuthState(r.Context(), deps.Conns.Redis, state); err != nil {
			slog.Error("handlers.oauth.state_store_failed",
				"component", "handlers",
				"event", "oauth.login_error",
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "state_failed", "failed to initiate login")
			return
		}

		slog.Info("handlers.oauth.login_initiated",
			"component", "handlers",
			"event", "oauth.login_redirect",
		)
		http.Redirect(w, r, deps.Core.OAuth.BuildAuthURL("", state), http.StatusFound)
	}
}

// OAuthCallbackHandler handles GET /oauth/callback: verify the CSRF state,
// exchange the authorization code, and persist the bearer token so the
// provider client switches off the legacy key.
func OAuthCallbackHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Core.OAuth == nil || deps.Core.Tokens == nil {
			writeError(w, http.StatusNotFound, "oauth_disabled", "OAuth client credentials are not configured")
			return
		}

		if errorParam := r.URL.Query().Get("error"); errorParam != "" {
			slog.Warn("handlers.oauth.authorization_denied",
				"component", "handlers",
				"event", "oauth.callback_error",
				"oauth_error", errorParam,
			)
			http.Error(w, "Authorization denied", http.StatusUnauthorized)
			return
		}

		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "code and state are required")
			return
		}

		valid, err := verifyAndDeleteOAuthState(r.Context(), deps.Conns.Redis, state)
		if err != nil {
			slog.Error("handlers.oauth.state_verify_failed",
				"component", "handlers",
				"event", "oauth.callback_error",
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "state_failed", "failed to verify state")
			return
		}
		if !valid {
			slog.Warn("handlers.oauth.invalid_state",
				"component", "handlers",
				"event", "oauth.callback_error",
			)
			writeError(w, http.StatusBadRequest, "invalid_state", "invalid or expired state")
			return
		}

		if err := deps.Core.Tokens.StoreAuthorizationCode(r.Context(), code); err != nil {
			slog.Error("handlers.oauth.exchange_failed",
				"component", "handlers",
				"event", "oauth.callback_error",
				"error", err,
			)
			writeError(w, http.StatusBadGateway, "exchange_failed", "failed to exchange authorization code")
			return
		}

		slog.Info("handlers.oauth.authorized",
			"component", "handlers",
			"event", "oauth.callback_success",
		)

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `
<!DOCTYPE html>
<html>
<head><title>Authorization Successful</title></head>
<body>
    <h1>Authorization Successful</h1>
    <p>The bracket provider account is now connected. You may close this window.</p>
</body>
</html>
`)
	}
}

// generateSecureToken generates a cryptographically secure random token.
func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}

func oauthStateKey(state string) string {
	return "oauth_state:" + state
}

// storeOAuthState stores a login's CSRF state in Redis with a TTL.
func storeOAuthState(ctx context.Context, redis *db.RedisClient, state string) error {
	return redis.Set(ctx, oauthStateKey(state), "1", oauthStateTTL).Err()
}

// verifyAndDeleteOAuthState checks the state exists and consumes it. States
// are one-time use.
func verifyAndDeleteOAuthState(ctx context.Context, redis *db.RedisClient, state string) (bool, error) {
	if redis == nil {
		return false, nil
	}
	result, err := redis.Get(ctx, oauthStateKey(state)).Result()
	if err != nil || result == "" {
		// Absent or expired.
		return false, nil
	}
	if err := redis.Del(ctx, oauthStateKey(state)).Err(); err != nil {
		slog.Warn("handlers.oauth.state_delete_failed",
			"component", "handlers",
			"event", "oauth.state_delete_error",
			"error", err,
		)
		// The state will expire on its own.
	}
	return true, nil
}
