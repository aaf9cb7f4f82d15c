package dispatch

import (
	"context"
	"net/http"

	"github.com/bracketpi/bracketd/internal/cache"
	"github.com/bracketpi/bracketd/internal/challonge"
)

// Match state transitions use a dedicated change_state sub-endpoint.
const (
	matchStateMarkUnderway   = "mark_as_underway"
	matchStateUnmarkUnderway = "unmark_as_underway"
	matchStateReopen         = "reopen"
)

// MarkUnderway flags a match as in progress on its station.
func (s *Service) MarkUnderway(ctx context.Context, tournamentID, matchID string) error {
	return s.changeMatchState(ctx, tournamentID, matchID, matchStateMarkUnderway)
}

// UnmarkUnderway clears the in-progress flag.
func (s *Service) UnmarkUnderway(ctx context.Context, tournamentID, matchID string) error {
	return s.changeMatchState(ctx, tournamentID, matchID, matchStateUnmarkUnderway)
}

// Reopen reverts a completed match to open, clearing its result downstream.
func (s *Service) Reopen(ctx context.Context, tournamentID, matchID string) error {
	return s.changeMatchState(ctx, tournamentID, matchID, matchStateReopen)
}

func (s *Service) changeMatchState(ctx context.Context, tournamentID, matchID, state string) error {
	if _, err := s.matchBaseline(ctx, tournamentID); err != nil {
		return err
	}

	body := jsonAPIBody("match", map[string]any{"state": state})
	_, err := s.client.Request(ctx, http.MethodPut, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/matches/"+matchID+"/change_state"),
		challonge.WithJSONAPIBody(body),
	)
	if err != nil {
		return err
	}
	s.afterMatchMutation(tournamentID, state)
	return nil
}

// UpdateScore submits per-participant score entries for a match.
func (s *Service) UpdateScore(ctx context.Context, tournamentID, matchID string, scores []challonge.MatchParticipantScore) error {
	if len(scores) == 0 {
		return challonge.NewValidationError("update score requires at least one score entry")
	}
	if _, err := s.matchBaseline(ctx, tournamentID); err != nil {
		return err
	}
	if err := s.putMatch(ctx, tournamentID, matchID, scores); err != nil {
		return err
	}
	s.afterMatchMutation(tournamentID, "update_score")
	return nil
}

// DeclareWinner completes a match. The provider rejects a winner without
// scores, so that is checked pre-flight. The winner's entry is marked rank 1
// and advancing; every other entry is marked not advancing.
func (s *Service) DeclareWinner(ctx context.Context, tournamentID, matchID, winnerID string, scores []challonge.MatchParticipantScore) error {
	if len(scores) == 0 {
		return challonge.NewValidationError("declare winner requires scores")
	}
	found := false
	entries := make([]challonge.MatchParticipantScore, len(scores))
	for i, entry := range scores {
		advancing := entry.ParticipantID == winnerID
		if advancing {
			found = true
			rank := 1
			entry.Rank = &rank
		}
		adv := advancing
		entry.Advancing = &adv
		entries[i] = entry
	}
	if !found {
		return challonge.NewValidationError("winner %s has no score entry", winnerID)
	}

	if _, err := s.matchBaseline(ctx, tournamentID); err != nil {
		return err
	}
	if err := s.putMatch(ctx, tournamentID, matchID, entries); err != nil {
		return err
	}
	s.afterMatchMutation(tournamentID, "declare_winner")
	return nil
}

// ClearScores resets a match's score entries.
func (s *Service) ClearScores(ctx context.Context, tournamentID, matchID string) error {
	if _, err := s.matchBaseline(ctx, tournamentID); err != nil {
		return err
	}
	if err := s.putMatch(ctx, tournamentID, matchID, []challonge.MatchParticipantScore{}); err != nil {
		return err
	}
	s.afterMatchMutation(tournamentID, "clear_scores")
	return nil
}

// Forfeit records a forfeit by the named participant: the opponent advances.
// The match baseline identifies the opponent, so the fresh fetch is load-
// bearing here, not just a staleness guard.
func (s *Service) Forfeit(ctx context.Context, tournamentID, matchID, forfeitingParticipantID string) error {
	matches, err := s.matchBaseline(ctx, tournamentID)
	if err != nil {
		return err
	}

	var target *challonge.Match
	for i := range matches {
		if matches[i].ID == matchID {
			target = &matches[i]
			break
		}
	}
	if target == nil {
		return challonge.NewValidationError("match %s not found in tournament %s", matchID, tournamentID)
	}
	if target.Player1ID == nil || target.Player2ID == nil {
		return challonge.NewConflictError("match %s does not have both participants yet", matchID)
	}
	if *target.Player1ID != forfeitingParticipantID && *target.Player2ID != forfeitingParticipantID {
		return challonge.NewValidationError("participant %s is not in match %s", forfeitingParticipantID, matchID)
	}

	entries := make([]challonge.MatchParticipantScore, 0, 2)
	for _, pid := range []string{*target.Player1ID, *target.Player2ID} {
		advancing := pid != forfeitingParticipantID
		adv := advancing
		entry := challonge.MatchParticipantScore{
			ParticipantID: pid,
			ScoreSet:      "0-0",
			Advancing:     &adv,
		}
		if advancing {
			rank := 1
			entry.Rank = &rank
		}
		entries = append(entries, entry)
	}

	if err := s.putMatch(ctx, tournamentID, matchID, entries); err != nil {
		return err
	}
	s.afterMatchMutation(tournamentID, "forfeit")
	return nil
}

// AssignStation places a match on a station.
func (s *Service) AssignStation(ctx context.Context, tournamentID, matchID, stationID string) error {
	if stationID == "" {
		return challonge.NewValidationError("station id required")
	}
	return s.setStation(ctx, tournamentID, matchID, stationID, "assign_station")
}

// UnassignStation removes a match from its station.
func (s *Service) UnassignStation(ctx context.Context, tournamentID, matchID string) error {
	return s.setStation(ctx, tournamentID, matchID, nil, "unassign_station")
}

func (s *Service) setStation(ctx context.Context, tournamentID, matchID string, stationID any, action string) error {
	if _, err := s.matchBaseline(ctx, tournamentID); err != nil {
		return err
	}
	body := jsonAPIBody("match", map[string]any{"station_id": stationID})
	_, err := s.client.Request(ctx, http.MethodPut, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/matches/"+matchID),
		challonge.WithJSONAPIBody(body),
	)
	if err != nil {
		return err
	}
	s.afterMatchMutation(tournamentID, action)
	return nil
}

// matchBaseline refreshes and decodes the tournament's matches with ForWrite
// semantics.
func (s *Service) matchBaseline(ctx context.Context, tournamentID string) ([]challonge.Match, error) {
	payload, err := s.freshBaseline(ctx, cache.TypeMatches, tournamentID, func(ctx context.Context) ([]byte, error) {
		return s.client.MatchesRaw(ctx, tournamentID)
	})
	if err != nil {
		return nil, err
	}
	return challonge.DecodeMatches(payload)
}

// putMatch writes score entries through the main match endpoint.
func (s *Service) putMatch(ctx context.Context, tournamentID, matchID string, entries []challonge.MatchParticipantScore) error {
	body := jsonAPIBody("match", map[string]any{"match": entries})
	_, err := s.client.Request(ctx, http.MethodPut, nil,
		challonge.WithPath("/tournaments/"+tournamentID+"/matches/"+matchID),
		challonge.WithJSONAPIBody(body),
	)
	return err
}
