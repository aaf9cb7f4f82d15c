package challonge

import (
	"context"
	"net/http"
)

// Raw read helpers. Each returns the provider payload verbatim so the cache
// layer can store it without reshaping; callers decode with the typed
// decoders when they need structure.

// ListTournamentsRaw fetches GET /tournaments with optional filters
// (state, created_after and so on).
func (c *Client) ListTournamentsRaw(ctx context.Context, params map[string]string) ([]byte, error) {
	opts := []RequestOption{WithPath("/tournaments")}
	if len(params) > 0 {
		opts = append(opts, WithQueryParameters(params))
	}
	return c.Request(ctx, http.MethodGet, nil, opts...)
}

// TournamentRaw fetches GET /tournaments/{id}.
func (c *Client) TournamentRaw(ctx context.Context, tournamentID string) ([]byte, error) {
	return c.Request(ctx, http.MethodGet, nil, WithPath("/tournaments/"+tournamentID))
}

// MatchesRaw fetches GET /tournaments/{id}/matches.
func (c *Client) MatchesRaw(ctx context.Context, tournamentID string) ([]byte, error) {
	return c.Request(ctx, http.MethodGet, nil, WithPath("/tournaments/"+tournamentID+"/matches"))
}

// ParticipantsRaw fetches GET /tournaments/{id}/participants.
func (c *Client) ParticipantsRaw(ctx context.Context, tournamentID string) ([]byte, error) {
	return c.Request(ctx, http.MethodGet, nil, WithPath("/tournaments/"+tournamentID+"/participants"))
}

// StationsRaw fetches GET /tournaments/{id}/stations.
func (c *Client) StationsRaw(ctx context.Context, tournamentID string) ([]byte, error) {
	return c.Request(ctx, http.MethodGet, nil, WithPath("/tournaments/"+tournamentID+"/stations"))
}
