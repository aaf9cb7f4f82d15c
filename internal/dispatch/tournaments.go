package dispatch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bracketpi/bracketd/internal/cache"
	"github.com/bracketpi/bracketd/internal/challonge"
)

// Tournament lifecycle transitions go through the process sub-endpoint.
const (
	tournamentActionStart    = "start"
	tournamentActionReset    = "reset"
	tournamentActionFinalize = "finalize"
)

// CreateTournament creates a tournament and returns its flat view.
func (s *Service) CreateTournament(ctx context.Context, params TournamentParams) (*TournamentView, error) {
	if params.Name == nil || *params.Name == "" {
		return nil, challonge.NewValidationError("tournament name required")
	}
	attrs, err := wireAttributes(params)
	if err != nil {
		return nil, err
	}
	payload, err := s.client.Request(ctx, http.MethodPost, nil,
		challonge.WithPath("/tournaments"),
		challonge.WithJSONAPIBody(jsonAPIBody("tournaments", attrs)),
	)
	if err != nil {
		return nil, err
	}
	created, err := challonge.DecodeTournament(payload)
	if err != nil {
		return nil, err
	}
	s.afterLifecycleMutation("", "create_tournament")
	view := Flatten(created)
	return &view, nil
}

// UpdateTournament applies flat params to an existing tournament. Settings
// frozen after start (registration and seeding options) are rejected
// pre-flight as a conflict.
func (s *Service) UpdateTournament(ctx context.Context, tournamentID string, params TournamentParams) (*TournamentView, error) {
	attrs, err := wireAttributes(params)
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, challonge.NewValidationError("no tournament fields to update")
	}

	baseline, err := s.tournamentBaseline(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if baseline.State != "pending" && touchesPreStartOptions(params) {
		return nil, challonge.NewConflictError(
			"registration and seeding options cannot change after tournament start (state %q)", baseline.State)
	}

	payload, err := s.client.Request(ctx, http.MethodPut, nil,
		challonge.WithPath("/tournaments/"+tournamentID),
		challonge.WithJSONAPIBody(jsonAPIBody("tournaments", attrs)),
	)
	if err != nil {
		return nil, err
	}
	updated, err := challonge.DecodeTournament(payload)
	if err != nil {
		return nil, err
	}

	s.invalidateTournament(tournamentID, "update_tournament")
	// The list carries name/state snapshots, so it goes stale too.
	if err := s.cache.Invalidate(cache.TypeTournamentsList, ""); err != nil {
		slog.Error("dispatch.invalidate_failed",
			"component", "dispatch",
			"event", "dispatch.invalidate_error",
			"cache_type", cache.TypeTournamentsList,
			"action", "update_tournament",
			"error", err,
		)
	}
	view := Flatten(updated)
	return &view, nil
}

func touchesPreStartOptions(p TournamentParams) bool {
	return p.OpenSignup != nil || p.SignupCap != nil || p.CheckInDuration != nil ||
		p.HideSeeds != nil || p.SequentialPairings != nil
}

// StartTournament opens the bracket.
func (s *Service) StartTournament(ctx context.Context, tournamentID string) error {
	return s.processTournament(ctx, tournamentID, tournamentActionStart)
}

// ResetTournament reverts a started tournament to pending, discarding all
// match results.
func (s *Service) ResetTournament(ctx context.Context, tournamentID string) error {
	return s.processTournament(ctx, tournamentID, tournamentActionReset)
}

// CompleteTournament finalizes results.
func (s *Service) CompleteTournament(ctx context.Context, tournamentID string) error {
	return s.processTournament(ctx, tournamentID, tournamentActionFinalize)
}

func (s *Service) processTournament(ctx context.Context, tournamentID, action string) error {
	if _, err := s.tournamentBaseline(ctx, tournamentID); err != nil {
		return err
	}
	body := jsonAPIBody("TournamentProcess", map[string]any{"action": action})
	_, err := s.client.Request(ctx, http.MethodPost, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/process"),
		challonge.WithJSONAPIBody(body),
	)
	if err != nil {
		return err
	}
	s.afterLifecycleMutation(tournamentID, action)
	return nil
}

// DeleteTournament removes the tournament entirely.
func (s *Service) DeleteTournament(ctx context.Context, tournamentID string) error {
	if _, err := s.tournamentBaseline(ctx, tournamentID); err != nil {
		return err
	}
	_, err := s.client.Request(ctx, http.MethodDelete, nil,
		challonge.WithPath("/tournaments/"+tournamentID),
	)
	if err != nil {
		return err
	}
	s.afterLifecycleMutation(tournamentID, "delete_tournament")
	return nil
}

// tournamentBaseline refreshes and decodes the tournament details with
// ForWrite semantics.
func (s *Service) tournamentBaseline(ctx context.Context, tournamentID string) (*challonge.Tournament, error) {
	payload, err := s.freshBaseline(ctx, cache.TypeDetails, tournamentID, func(ctx context.Context) ([]byte, error) {
		return s.client.TournamentRaw(ctx, tournamentID)
	})
	if err != nil {
		return nil, err
	}
	return challonge.DecodeTournament(payload)
}
