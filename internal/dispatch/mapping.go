package dispatch

import (
	"time"

	"github.com/bracketpi/bracketd/internal/challonge"
)

// TournamentParams is the caller-visible flat model for tournament create and
// update. Nil fields are left unchanged. The provider wire format nests these
// under registration_options, seeding_options, match_options,
// double_elimination_options and notifications; the dispatcher owns that
// translation in both directions.
type TournamentParams struct {
	Name           *string
	URL            *string
	TournamentType *string
	Description    *string
	StartsAt       *time.Time

	OpenSignup      *bool
	SignupCap       *int
	CheckInDuration *int

	HideSeeds          *bool
	SequentialPairings *bool

	// ThirdPlaceMatch true encodes consolation_matches_target_rank = 3;
	// false omits the field entirely (the provider rejects an explicit null).
	ThirdPlaceMatch   *bool
	AcceptAttachments *bool
	QuickAdvance      *bool

	SplitParticipants *bool
	// GrandFinalsModifier accepts "single", "skip", or "" for an explicit
	// null (reset to a standard grand final).
	GrandFinalsModifier *string

	NotifyUponMatchesOpen    *bool
	NotifyUponTournamentEnds *bool
}

// TournamentView is the flat read model, the inverse of TournamentParams.
type TournamentView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	State          string     `json:"state"`
	TournamentType string     `json:"tournament_type"`
	Description    string     `json:"description"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	OpenSignup      bool `json:"open_signup"`
	SignupCap       *int `json:"signup_cap,omitempty"`
	CheckInDuration *int `json:"check_in_duration,omitempty"`

	HideSeeds          bool `json:"hide_seeds"`
	SequentialPairings bool `json:"sequential_pairings"`

	ThirdPlaceMatch   bool `json:"third_place_match"`
	AcceptAttachments bool `json:"accept_attachments"`
	QuickAdvance      bool `json:"quick_advance"`

	SplitParticipants   bool    `json:"split_participants"`
	GrandFinalsModifier *string `json:"grand_finals_modifier,omitempty"`

	NotifyUponMatchesOpen    bool `json:"notify_upon_matches_open"`
	NotifyUponTournamentEnds bool `json:"notify_upon_tournament_ends"`
}

// Flatten projects a decoded tournament onto the flat read model.
func Flatten(t *challonge.Tournament) TournamentView {
	return TournamentView{
		ID:             t.ID,
		Name:           t.Name,
		URL:            t.URL,
		State:          t.State,
		TournamentType: t.TournamentType,
		Description:    t.Description,
		StartsAt:       t.StartsAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,

		OpenSignup:      t.RegistrationOptions.OpenSignup,
		SignupCap:       t.RegistrationOptions.SignupCap,
		CheckInDuration: t.RegistrationOptions.CheckInDuration,

		HideSeeds:          t.SeedingOptions.HideSeeds,
		SequentialPairings: t.SeedingOptions.SequentialPairings,

		ThirdPlaceMatch:   t.MatchOptions.ConsolationMatchesTargetRank != nil && *t.MatchOptions.ConsolationMatchesTargetRank >= 3,
		AcceptAttachments: t.MatchOptions.AcceptAttachments,
		QuickAdvance:      t.MatchOptions.QuickAdvance,

		SplitParticipants:   t.DoubleEliminationOptions.SplitParticipants,
		GrandFinalsModifier: t.DoubleEliminationOptions.GrandFinalsModifier,

		NotifyUponMatchesOpen:    t.Notifications.UponMatchesOpen,
		NotifyUponTournamentEnds: t.Notifications.UponTournamentEnds,
	}
}

// wireAttributes translates flat params into the provider's nested attributes
// object. Only groups with at least one set field are emitted, so partial
// updates never clobber sibling settings.
func wireAttributes(p TournamentParams) (map[string]any, error) {
	attrs := map[string]any{}

	if p.Name != nil {
		attrs["name"] = *p.Name
	}
	if p.URL != nil {
		attrs["url"] = *p.URL
	}
	if p.TournamentType != nil {
		attrs["tournament_type"] = *p.TournamentType
	}
	if p.Description != nil {
		attrs["description"] = *p.Description
	}
	if p.StartsAt != nil {
		// starts_at, not start_at: the provider silently drops the latter.
		attrs["starts_at"] = p.StartsAt.UTC().Format(time.RFC3339)
	}

	registration := map[string]any{}
	if p.OpenSignup != nil {
		registration["open_signup"] = *p.OpenSignup
	}
	if p.SignupCap != nil {
		registration["signup_cap"] = *p.SignupCap
	}
	if p.CheckInDuration != nil {
		registration["check_in_duration"] = *p.CheckInDuration
	}
	if len(registration) > 0 {
		attrs["registration_options"] = registration
	}

	seeding := map[string]any{}
	if p.HideSeeds != nil {
		seeding["hide_seeds"] = *p.HideSeeds
	}
	if p.SequentialPairings != nil {
		seeding["sequential_pairings"] = *p.SequentialPairings
	}
	if len(seeding) > 0 {
		attrs["seeding_options"] = seeding
	}

	match := map[string]any{}
	if p.ThirdPlaceMatch != nil && *p.ThirdPlaceMatch {
		match["consolation_matches_target_rank"] = 3
	}
	// ThirdPlaceMatch false: the field must be absent, never null.
	if p.AcceptAttachments != nil {
		match["accept_attachments"] = *p.AcceptAttachments
	}
	if p.QuickAdvance != nil {
		match["quick_advance"] = *p.QuickAdvance
	}
	if len(match) > 0 {
		attrs["match_options"] = match
	}

	doubleElim := map[string]any{}
	if p.SplitParticipants != nil {
		doubleElim["split_participants"] = *p.SplitParticipants
	}
	if p.GrandFinalsModifier != nil {
		switch *p.GrandFinalsModifier {
		case "single", "skip":
			doubleElim["grand_finals_modifier"] = *p.GrandFinalsModifier
		case "":
			doubleElim["grand_finals_modifier"] = nil
		default:
			return nil, challonge.NewValidationError(
				"grand_finals_modifier must be \"single\", \"skip\" or empty, got %q", *p.GrandFinalsModifier)
		}
	}
	if len(doubleElim) > 0 {
		attrs["double_elimination_options"] = doubleElim
	}

	notifications := map[string]any{}
	if p.NotifyUponMatchesOpen != nil {
		notifications["upon_matches_open"] = *p.NotifyUponMatchesOpen
	}
	if p.NotifyUponTournamentEnds != nil {
		notifications["upon_tournament_ends"] = *p.NotifyUponTournamentEnds
	}
	if len(notifications) > 0 {
		attrs["notifications"] = notifications
	}

	return attrs, nil
}

// jsonAPIBody wraps attributes in the provider's request envelope.
func jsonAPIBody(resourceType string, attributes map[string]any) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"type":       resourceType,
			"attributes": attributes,
		},
	}
}
