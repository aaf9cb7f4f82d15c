package dispatch

import (
	"context"
	"net/http"

	"github.com/bracketpi/bracketd/internal/cache"
	"github.com/bracketpi/bracketd/internal/challonge"
)

// ParticipantParams is the caller-visible participant model for add and
// update. Nil fields are left unchanged.
type ParticipantParams struct {
	Name *string
	Seed *int
	Misc *string
}

func participantAttributes(p ParticipantParams) (map[string]any, error) {
	attrs := map[string]any{}
	if p.Name != nil {
		if *p.Name == "" {
			return nil, challonge.NewValidationError("participant name must not be empty")
		}
		attrs["name"] = *p.Name
	}
	if p.Seed != nil {
		if *p.Seed < 1 {
			return nil, challonge.NewValidationError("seed must be >= 1, got %d", *p.Seed)
		}
		attrs["seed"] = *p.Seed
	}
	if p.Misc != nil {
		attrs["misc"] = *p.Misc
	}
	return attrs, nil
}

// AddParticipant registers one participant.
func (s *Service) AddParticipant(ctx context.Context, tournamentID string, params ParticipantParams) error {
	if params.Name == nil {
		return challonge.NewValidationError("participant name required")
	}
	attrs, err := participantAttributes(params)
	if err != nil {
		return err
	}
	if _, err := s.participantBaseline(ctx, tournamentID); err != nil {
		return err
	}
	_, err = s.client.Request(ctx, http.MethodPost, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/participants"),
		challonge.WithJSONAPIBody(jsonAPIBody("participant", attrs)),
	)
	if err != nil {
		return err
	}
	s.invalidateTournament(tournamentID, "add_participant")
	return nil
}

// UpdateParticipant edits one participant.
func (s *Service) UpdateParticipant(ctx context.Context, tournamentID, participantID string, params ParticipantParams) error {
	attrs, err := participantAttributes(params)
	if err != nil {
		return err
	}
	if len(attrs) == 0 {
		return challonge.NewValidationError("no participant fields to update")
	}
	if _, err := s.participantBaseline(ctx, tournamentID); err != nil {
		return err
	}
	_, err = s.client.Request(ctx, http.MethodPut, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/participants/"+participantID),
		challonge.WithJSONAPIBody(jsonAPIBody("participant", attrs)),
	)
	if err != nil {
		return err
	}
	s.invalidateTournament(tournamentID, "update_participant")
	return nil
}

// DeleteParticipant removes one participant.
func (s *Service) DeleteParticipant(ctx context.Context, tournamentID, participantID string) error {
	if _, err := s.participantBaseline(ctx, tournamentID); err != nil {
		return err
	}
	_, err := s.client.Request(ctx, http.MethodDelete, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/participants/"+participantID),
	)
	if err != nil {
		return err
	}
	s.invalidateTournament(tournamentID, "delete_participant")
	return nil
}

// BulkAddParticipants registers many participants in one call.
func (s *Service) BulkAddParticipants(ctx context.Context, tournamentID string, names []string) error {
	if len(names) == 0 {
		return challonge.NewValidationError("bulk add requires at least one name")
	}
	entries := make([]map[string]any, 0, len(names))
	for _, name := range names {
		if name == "" {
			return challonge.NewValidationError("participant name must not be empty")
		}
		entries = append(entries, map[string]any{"name": name})
	}
	if _, err := s.participantBaseline(ctx, tournamentID); err != nil {
		return err
	}
	body := jsonAPIBody("participants", map[string]any{"participants": entries})
	_, err := s.client.Request(ctx, http.MethodPost, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/participants/bulk_add"),
		challonge.WithJSONAPIBody(body),
	)
	if err != nil {
		return err
	}
	s.invalidateTournament(tournamentID, "bulk_add_participants")
	return nil
}

// RandomizeSeeds shuffles participant seeding. Rejected by the provider once
// the bracket exists; checked pre-flight against the fresh baseline so the
// caller gets a conflict instead of a provider error.
func (s *Service) RandomizeSeeds(ctx context.Context, tournamentID string) error {
	if _, err := s.participantBaseline(ctx, tournamentID); err != nil {
		return err
	}
	tournament, err := s.tournamentBaseline(ctx, tournamentID)
	if err != nil {
		return err
	}
	if tournament.State != "pending" {
		return challonge.NewConflictError("cannot randomize seeds after tournament start (state %q)", tournament.State)
	}
	_, err = s.client.Request(ctx, http.MethodPost, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/participants/randomize"),
	)
	if err != nil {
		return err
	}
	s.invalidateTournament(tournamentID, "randomize_seeds")
	return nil
}

// CheckIn marks a participant as checked in.
func (s *Service) CheckIn(ctx context.Context, tournamentID, participantID string) error {
	return s.processParticipant(ctx, tournamentID, participantID, "check_in")
}

// UndoCheckIn reverts a participant's check-in.
func (s *Service) UndoCheckIn(ctx context.Context, tournamentID, participantID string) error {
	return s.processParticipant(ctx, tournamentID, participantID, "undo_check_in")
}

func (s *Service) processParticipant(ctx context.Context, tournamentID, participantID, action string) error {
	if _, err := s.participantBaseline(ctx, tournamentID); err != nil {
		return err
	}
	body := jsonAPIBody("participant", map[string]any{"action": action})
	_, err := s.client.Request(ctx, http.MethodPost, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/participants/"+participantID+"/process"),
		challonge.WithJSONAPIBody(body),
	)
	if err != nil {
		return err
	}
	s.invalidateTournament(tournamentID, action)
	return nil
}

// participantBaseline refreshes the tournament's participants with ForWrite
// semantics.
func (s *Service) participantBaseline(ctx context.Context, tournamentID string) ([]byte, error) {
	return s.freshBaseline(ctx, cache.TypeParticipants, tournamentID, func(ctx context.Context) ([]byte, error) {
		return s.client.ParticipantsRaw(ctx, tournamentID)
	})
}
