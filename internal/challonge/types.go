package challonge

import (
	"encoding/json"
	"fmt"
	"time"
)

// The provider speaks a JSON:API dialect: entities arrive wrapped in
// {data:{type, id, attributes:{...}}}. Each entity gets an explicit decoder
// returning a typed record; the raw attributes are kept on the record so
// unknown fields survive a cache round trip.

type document struct {
	Data json.RawMessage `json:"data"`
}

type resource struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

// Timestamps is the nested timestamps object on read responses.
type Timestamps struct {
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RegistrationOptions mirrors the provider's nested registration_options.
type RegistrationOptions struct {
	OpenSignup      bool `json:"open_signup"`
	SignupCap       *int `json:"signup_cap,omitempty"`
	CheckInDuration *int `json:"check_in_duration,omitempty"`
}

// SeedingOptions mirrors the provider's nested seeding_options.
type SeedingOptions struct {
	HideSeeds           bool `json:"hide_seeds"`
	SequentialPairings  bool `json:"sequential_pairings"`
}

// MatchOptions mirrors the provider's nested match_options.
// ConsolationMatchesTargetRank is nil when no third-place match is played;
// the provider rejects an explicit null, so the field must be omitted.
type MatchOptions struct {
	ConsolationMatchesTargetRank *int `json:"consolation_matches_target_rank,omitempty"`
	AcceptAttachments            bool `json:"accept_attachments"`
	QuickAdvance                 bool `json:"quick_advance"`
}

// DoubleEliminationOptions mirrors the provider's nested
// double_elimination_options. GrandFinalsModifier accepts "single", "skip"
// or null.
type DoubleEliminationOptions struct {
	SplitParticipants   bool    `json:"split_participants"`
	GrandFinalsModifier *string `json:"grand_finals_modifier"`
}

// Notifications mirrors the provider's nested notifications object.
type Notifications struct {
	UponMatchesOpen    bool `json:"upon_matches_open"`
	UponTournamentEnds bool `json:"upon_tournament_ends"`
}

// Tournament is the decoded tournament entity.
type Tournament struct {
	ID             string
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	State          string     `json:"state"`
	TournamentType string     `json:"tournament_type"`
	Description    string     `json:"description"`
	StartsAt       *time.Time `json:"starts_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`

	RegistrationOptions      RegistrationOptions      `json:"registration_options"`
	SeedingOptions           SeedingOptions           `json:"seeding_options"`
	MatchOptions             MatchOptions             `json:"match_options"`
	DoubleEliminationOptions DoubleEliminationOptions `json:"double_elimination_options"`
	Notifications            Notifications            `json:"notifications"`
	Timestamps               Timestamps               `json:"timestamps"`

	// Raw preserves the full attributes object for forward compatibility.
	Raw json.RawMessage `json:"-"`
}

// MatchParticipantScore is one per-participant entry in a match's score data.
type MatchParticipantScore struct {
	ParticipantID string `json:"participant_id"`
	ScoreSet      string `json:"score_set"`
	Rank          *int   `json:"rank,omitempty"`
	Advancing     *bool  `json:"advancing,omitempty"`
}

// Match is the decoded match entity. Prerequisite matches are referenced by
// id only, never embedded; callers resolve them through the cache.
type Match struct {
	ID                 string
	State              string     `json:"state"`
	Round              int        `json:"round"`
	Identifier         string     `json:"identifier"`
	SuggestedPlayOrder *int       `json:"suggested_play_order"`
	Player1ID          *string    `json:"player1_id"`
	Player2ID          *string    `json:"player2_id"`
	WinnerID           *string    `json:"winner_id"`
	LoserID            *string    `json:"loser_id"`
	StationID          *string    `json:"station_id"`
	Scores             string     `json:"scores"`
	UnderwayAt         *time.Time `json:"underway_at"`

	// Prerequisite match references, ids only.
	Player1PrereqMatchID *string `json:"player1_prereq_match_id"`
	Player2PrereqMatchID *string `json:"player2_prereq_match_id"`

	PointsByParticipant []MatchParticipantScore `json:"points_by_participant"`
	Timestamps          Timestamps              `json:"timestamps"`

	Raw json.RawMessage `json:"-"`
}

// Participant is the decoded participant entity.
type Participant struct {
	ID          string
	Name        string     `json:"name"`
	Seed        int        `json:"seed"`
	Misc        string     `json:"misc"`
	FinalRank   *int       `json:"final_rank"`
	CheckedInAt *time.Time `json:"checked_in_at"`
	Timestamps  Timestamps `json:"timestamps"`

	Raw json.RawMessage `json:"-"`
}

// Station is the decoded station entity.
type Station struct {
	ID     string
	Name   string `json:"name"`
	Number int    `json:"number"`

	Raw json.RawMessage `json:"-"`
}

func decodeResourceList(payload []byte) ([]resource, error) {
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	var resources []resource
	if err := json.Unmarshal(doc.Data, &resources); err != nil {
		return nil, fmt.Errorf("failed to decode resource list: %w", err)
	}
	return resources, nil
}

func decodeResourceOne(payload []byte) (*resource, error) {
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}
	var res resource
	if err := json.Unmarshal(doc.Data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	return &res, nil
}

// DecodeTournamentList decodes a GET /tournaments payload.
func DecodeTournamentList(payload []byte) ([]Tournament, error) {
	resources, err := decodeResourceList(payload)
	if err != nil {
		return nil, err
	}
	tournaments := make([]Tournament, 0, len(resources))
	for _, res := range resources {
		var t Tournament
		if err := json.Unmarshal(res.Attributes, &t); err != nil {
			return nil, fmt.Errorf("failed to decode tournament %s: %w", res.ID, err)
		}
		t.ID = res.ID
		t.Raw = res.Attributes
		tournaments = append(tournaments, t)
	}
	return tournaments, nil
}

// DecodeTournament decodes a GET /tournaments/{id} payload.
func DecodeTournament(payload []byte) (*Tournament, error) {
	res, err := decodeResourceOne(payload)
	if err != nil {
		return nil, err
	}
	var t Tournament
	if err := json.Unmarshal(res.Attributes, &t); err != nil {
		return nil, fmt.Errorf("failed to decode tournament %s: %w", res.ID, err)
	}
	t.ID = res.ID
	t.Raw = res.Attributes
	return &t, nil
}

// DecodeMatches decodes a GET /tournaments/{id}/matches payload.
func DecodeMatches(payload []byte) ([]Match, error) {
	resources, err := decodeResourceList(payload)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(resources))
	for _, res := range resources {
		var m Match
		if err := json.Unmarshal(res.Attributes, &m); err != nil {
			return nil, fmt.Errorf("failed to decode match %s: %w", res.ID, err)
		}
		m.ID = res.ID
		m.Raw = res.Attributes
		matches = append(matches, m)
	}
	return matches, nil
}

// DecodeParticipants decodes a GET /tournaments/{id}/participants payload.
func DecodeParticipants(payload []byte) ([]Participant, error) {
	resources, err := decodeResourceList(payload)
	if err != nil {
		return nil, err
	}
	participants := make([]Participant, 0, len(resources))
	for _, res := range resources {
		var p Participant
		if err := json.Unmarshal(res.Attributes, &p); err != nil {
			return nil, fmt.Errorf("failed to decode participant %s: %w", res.ID, err)
		}
		p.ID = res.ID
		p.Raw = res.Attributes
		participants = append(participants, p)
	}
	return participants, nil
}

// DecodeStations decodes a GET /tournaments/{id}/stations payload.
func DecodeStations(payload []byte) ([]Station, error) {
	resources, err := decodeResourceList(payload)
	if err != nil {
		return nil, err
	}
	stations := make([]Station, 0, len(resources))
	for _, res := range resources {
		var s Station
		if err := json.Unmarshal(res.Attributes, &s); err != nil {
			return nil, fmt.Errorf("failed to decode station %s: %w", res.ID, err)
		}
		s.ID = res.ID
		s.Raw = res.Attributes
		stations = append(stations, s)
	}
	return stations, nil
}
