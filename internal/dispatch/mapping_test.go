package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketpi/bracketd/internal/challonge"
)

func boolPtr(b bool) *bool       { return &b }
func strPtr(s string) *string    { return &s }
func intPtr(i int) *int          { return &i }

func TestWireAttributesThirdPlaceMatch(t *testing.T) {
	attrs, err := wireAttributes(TournamentParams{ThirdPlaceMatch: boolPtr(true)})
	require.NoError(t, err)
	match := attrs["match_options"].(map[string]any)
	assert.Equal(t, 3, match["consolation_matches_target_rank"])

	// false means absent, never null: the provider rejects an explicit null.
	attrs, err = wireAttributes(TournamentParams{ThirdPlaceMatch: boolPtr(false)})
	require.NoError(t, err)
	assert.NotContains(t, attrs, "match_options")
}

func TestWireAttributesGrandFinalsModifier(t *testing.T) {
	attrs, err := wireAttributes(TournamentParams{GrandFinalsModifier: strPtr("single")})
	require.NoError(t, err)
	de := attrs["double_elimination_options"].(map[string]any)
	assert.Equal(t, "single", de["grand_finals_modifier"])

	attrs, err = wireAttributes(TournamentParams{GrandFinalsModifier: strPtr("skip")})
	require.NoError(t, err)
	de = attrs["double_elimination_options"].(map[string]any)
	assert.Equal(t, "skip", de["grand_finals_modifier"])

	// Empty string resets to a standard grand final via an explicit null.
	attrs, err = wireAttributes(TournamentParams{GrandFinalsModifier: strPtr("")})
	require.NoError(t, err)
	de = attrs["double_elimination_options"].(map[string]any)
	val, present := de["grand_finals_modifier"]
	assert.True(t, present)
	assert.Nil(t, val)

	_, err = wireAttributes(TournamentParams{GrandFinalsModifier: strPtr("bogus")})
	require.Error(t, err)
	assert.True(t, challonge.IsKind(err, challonge.KindValidation))
}

func TestWireAttributesStartsAt(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	starts := time.Date(2024, 7, 1, 18, 0, 0, 0, loc)

	attrs, err := wireAttributes(TournamentParams{StartsAt: &starts})
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01T17:00:00Z", attrs["starts_at"], "timestamps normalize to UTC RFC3339")
}

func TestWireAttributesOmitsUntouchedGroups(t *testing.T) {
	attrs, err := wireAttributes(TournamentParams{Name: strPtr("Weekly")})
	require.NoError(t, err)
	assert.Equal(t, "Weekly", attrs["name"])
	assert.NotContains(t, attrs, "registration_options")
	assert.NotContains(t, attrs, "seeding_options")
	assert.NotContains(t, attrs, "match_options")
	assert.NotContains(t, attrs, "double_elimination_options")
	assert.NotContains(t, attrs, "notifications")
}

func TestWireAttributesNestsGroups(t *testing.T) {
	attrs, err := wireAttributes(TournamentParams{
		OpenSignup:               boolPtr(true),
		SignupCap:                intPtr(32),
		HideSeeds:                boolPtr(true),
		NotifyUponMatchesOpen:    boolPtr(false),
		NotifyUponTournamentEnds: boolPtr(true),
	})
	require.NoError(t, err)

	reg := attrs["registration_options"].(map[string]any)
	assert.Equal(t, true, reg["open_signup"])
	assert.Equal(t, 32, reg["signup_cap"])

	seeding := attrs["seeding_options"].(map[string]any)
	assert.Equal(t, true, seeding["hide_seeds"])

	notif := attrs["notifications"].(map[string]any)
	assert.Equal(t, false, notif["upon_matches_open"])
	assert.Equal(t, true, notif["upon_tournament_ends"])
}

func TestFlattenThirdPlaceMatch(t *testing.T) {
	tournament := &challonge.Tournament{ID: "T1"}
	assert.False(t, Flatten(tournament).ThirdPlaceMatch)

	tournament.MatchOptions.ConsolationMatchesTargetRank = intPtr(3)
	assert.True(t, Flatten(tournament).ThirdPlaceMatch)
}

func TestFlattenCarriesNestedGroups(t *testing.T) {
	cap := 16
	modifier := "skip"
	starts := time.Date(2024, 7, 1, 18, 0, 0, 0, time.UTC)
	tournament := &challonge.Tournament{
		ID:             "T1",
		Name:           "Weekly",
		State:          "pending",
		TournamentType: "double elimination",
		StartsAt:       &starts,
	}
	tournament.RegistrationOptions.OpenSignup = true
	tournament.RegistrationOptions.SignupCap = &cap
	tournament.SeedingOptions.SequentialPairings = true
	tournament.DoubleEliminationOptions.GrandFinalsModifier = &modifier
	tournament.Notifications.UponTournamentEnds = true

	view := Flatten(tournament)
	assert.Equal(t, "T1", view.ID)
	assert.True(t, view.OpenSignup)
	assert.Equal(t, &cap, view.SignupCap)
	assert.True(t, view.SequentialPairings)
	require.NotNil(t, view.GrandFinalsModifier)
	assert.Equal(t, "skip", *view.GrandFinalsModifier)
	assert.True(t, view.NotifyUponTournamentEnds)
	assert.Equal(t, &starts, view.StartsAt)
}
