// Package tokenrefresh owns the provider OAuth token lifecycle: it serves
// the current bearer token, refreshes it ahead of expiry, and deletes the
// record when the provider revokes it.
package tokenrefresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bracketpi/bracketd/internal/challonge/oauthclient"
	"github.com/bracketpi/bracketd/internal/db"
	"github.com/bracketpi/bracketd/internal/db/tokenstore"
)

// refreshMargin is how long before expiry a token is refreshed.
const refreshMargin = 5 * time.Minute

// ErrTokenRefreshFailed indicates a temporary failure refreshing the token.
var ErrTokenRefreshFailed = errors.New("temporary failure refreshing provider token")

// OAuthClient defines the interface for the OAuth operations needed by the service.
type OAuthClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*oauthclient.TokenResponse, error)
	ExchangeCodeForToken(ctx context.Context, code string) (*oauthclient.TokenResponse, error)
}

// Service implements the provider client's TokenSource over the token store.
type Service struct {
	mu    sync.Mutex // serializes refreshes so concurrent callers share one
	conns *db.Connections
	oauth OAuthClient
	now   func() time.Time
}

func NewService(conns *db.Connections, oauth OAuthClient) *Service {
	return &Service{
		conns: conns,
		oauth: oauth,
		now:   time.Now,
	}
}

// BearerToken returns the stored bearer token, refreshing it first if it
// expires within the refresh margin. Returns "" when no token is stored,
// which drops the client back to the legacy key.
func (s *Service) BearerToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := tokenstore.Get(s.conns)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", nil
	}

	if s.now().Add(refreshMargin).Before(record.TokenExpiry) {
		return record.AccessToken, nil
	}

	newTokens, err := s.oauth.RefreshToken(ctx, record.RefreshToken)
	if err != nil {
		if errors.Is(err, oauthclient.ErrAccessRevoked) {
			slog.Warn("tokenrefresh.revoked",
				"component", "tokenrefresh",
				"event", "token.revoked",
			)
			if delErr := tokenstore.Delete(s.conns); delErr != nil {
				slog.Error("tokenrefresh.delete_failed",
					"component", "tokenrefresh",
					"event", "token.delete_error",
					"error", delErr,
				)
			}
			return "", nil
		}
		slog.Error("tokenrefresh.failed",
			"component", "tokenrefresh",
			"event", "token.refresh_error",
			"error", err,
		)
		// The expired-but-present token may still be honored for a short
		// window; let the request try rather than fail it here.
		return record.AccessToken, nil
	}

	expiry := s.now().Add(time.Duration(newTokens.ExpiresIn) * time.Second)
	if err := tokenstore.Save(s.conns, newTokens.AccessToken, newTokens.RefreshToken, expiry); err != nil {
		slog.Error("tokenrefresh.save_failed",
			"component", "tokenrefresh",
			"event", "token.update_error",
			"error", err,
		)
		return "", ErrTokenRefreshFailed
	}

	slog.Info("tokenrefresh.success",
		"component", "tokenrefresh",
		"event", "token.refreshed",
		"expires_at", expiry,
	)
	return newTokens.AccessToken, nil
}

// InvalidateBearer deletes the stored token record. Called after the
// provider returned 401 for a bearer request.
func (s *Service) InvalidateBearer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tokenstore.Delete(s.conns)
}

// StoreAuthorizationCode completes the web flow: exchanges the code and
// persists the resulting tokens.
func (s *Service) StoreAuthorizationCode(ctx context.Context, code string) error {
	tokens, err := s.oauth.ExchangeCodeForToken(ctx, code)
	if err != nil {
		return err
	}
	expiry := s.now().Add(time.Duration(tokens.ExpiresIn) * time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	return tokenstore.Save(s.conns, tokens.AccessToken, tokens.RefreshToken, expiry)
}
