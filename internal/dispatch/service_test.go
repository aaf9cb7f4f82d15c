package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketpi/bracketd/internal/cache"
	"github.com/bracketpi/bracketd/internal/challonge"
	"github.com/bracketpi/bracketd/internal/db"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// providerStub plays the provider: canned JSON:API reads, echoed writes,
// every request recorded.
type providerStub struct {
	mu              sync.Mutex
	requests        []recordedRequest
	tournamentState string
	failReads       bool
}

func (p *providerStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.requests = append(p.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		state := p.tournamentState
		fail := p.failReads
		p.mu.Unlock()

		if fail && r.Method == http.MethodGet {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/vnd.api+json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/tournaments/T1/matches":
			w.Write([]byte(`{"data":[
				{"type":"match","id":"M1","attributes":{"state":"open","suggested_play_order":1,"player1_id":"P1","player2_id":"P2"}},
				{"type":"match","id":"M2","attributes":{"state":"pending","suggested_play_order":2}}
			]}`)) //nolint:errcheck
		case r.Method == http.MethodGet && r.URL.Path == "/tournaments/T1/participants":
			w.Write([]byte(`{"data":[{"type":"participant","id":"P1","attributes":{"name":"Alice","seed":1}}]}`)) //nolint:errcheck
		default:
			// Reads of the tournament and every write echo a tournament doc.
			w.Write([]byte(`{"data":{"type":"tournaments","id":"T1","attributes":{"name":"Weekly","state":"` + state + `"}}}`)) //nolint:errcheck
		}
	})
}

func (p *providerStub) recorded() []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedRequest(nil), p.requests...)
}

// writes filters out the baseline GETs.
func (p *providerStub) writes() []recordedRequest {
	var out []recordedRequest
	for _, r := range p.recorded() {
		if r.Method != http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

type inlineGate struct{}

func (inlineGate) Submit(ctx context.Context, thunk func(ctx context.Context) (any, error)) (any, error) {
	return thunk(ctx)
}

type fakeRepoller struct {
	mu    sync.Mutex
	fires int
}

func (f *fakeRepoller) FireNow() {
	f.mu.Lock()
	f.fires++
	f.mu.Unlock()
}

func (f *fakeRepoller) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fires
}

type fakeChecks struct {
	sync.Mutex
	scheduled int
}

func (f *fakeChecks) ScheduleCheckSoon() {
	f.Lock()
	f.scheduled++
	f.Unlock()
}

func (f *fakeChecks) count() int {
	f.Lock()
	defer f.Unlock()
	return f.scheduled
}

type fakeEvents struct {
	sync.Mutex
	updates []string
}

func (f *fakeEvents) BroadcastTournamentUpdate(tournamentID, action string) {
	f.Lock()
	f.updates = append(f.updates, tournamentID+":"+action)
	f.Unlock()
}

func (f *fakeEvents) all() []string {
	f.Lock()
	defer f.Unlock()
	return append([]string(nil), f.updates...)
}

type testHarness struct {
	service  *Service
	provider *providerStub
	cache    *cache.Cache
	poller   *fakeRepoller
	checks   *fakeChecks
	events   *fakeEvents
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	provider := &providerStub{tournamentState: "pending"}
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	client := challonge.NewClient(srv.URL, "test-key", 5*time.Second, inlineGate{}, nil)
	contentCache := cache.New(db.SetupTestDB(t), nil)
	poller := &fakeRepoller{}
	checks := &fakeChecks{}
	events := &fakeEvents{}

	service := NewService(client, contentCache, poller, checks)
	service.SetEventSink(events)

	return &testHarness{
		service:  service,
		provider: provider,
		cache:    contentCache,
		poller:   poller,
		checks:   checks,
		events:   events,
	}
}

func bodyAttributes(t *testing.T, body string) map[string]any {
	t.Helper()
	var doc struct {
		Data struct {
			Type       string         `json:"type"`
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	return doc.Data.Attributes
}

func bodyResourceType(t *testing.T, body string) string {
	t.Helper()
	var doc struct {
		Data struct {
			Type string `json:"type"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	return doc.Data.Type
}

func TestMarkUnderway(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.cache.Set(cache.TypeDetails, "T1", []byte(`{"data":{}}`), 0))

	require.NoError(t, h.service.MarkUnderway(context.Background(), "T1", "M1"))

	reqs := h.provider.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodGet, reqs[0].Method, "baseline refresh precedes the write")
	assert.Equal(t, "/tournaments/T1/matches", reqs[0].Path)
	assert.Equal(t, http.MethodPut, reqs[1].Method)
	assert.Equal(t, "/tournaments/T1/matches/M1/change_state", reqs[1].Path)
	assert.Equal(t, "mark_as_underway", bodyAttributes(t, reqs[1].Body)["state"])

	assert.Equal(t, 1, h.poller.count(), "match mutation triggers an immediate repoll")
	assert.Zero(t, h.checks.count())

	_, _, ok := h.cache.Get(cache.TypeDetails, "T1")
	assert.False(t, ok, "tournament caches are dropped after the mutation")
}

func TestBaselineFailureAbortsMutation(t *testing.T) {
	h := newHarness(t)
	h.provider.failReads = true

	err := h.service.MarkUnderway(context.Background(), "T1", "M1")
	require.Error(t, err)
	assert.Empty(t, h.provider.writes(), "no write without a fresh baseline")
	assert.Zero(t, h.poller.count())
}

func TestUpdateScoreRequiresEntries(t *testing.T) {
	h := newHarness(t)
	err := h.service.UpdateScore(context.Background(), "T1", "M1", nil)
	require.Error(t, err)
	assert.True(t, challonge.IsKind(err, challonge.KindValidation))
	assert.Empty(t, h.provider.recorded(), "validation happens before any provider call")
}

func TestDeclareWinnerMarksAdvancing(t *testing.T) {
	h := newHarness(t)
	scores := []challonge.MatchParticipantScore{
		{ParticipantID: "P1", ScoreSet: "2-1"},
		{ParticipantID: "P2", ScoreSet: "1-2"},
	}
	require.NoError(t, h.service.DeclareWinner(context.Background(), "T1", "M1", "P1", scores))

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "/tournaments/T1/matches/M1", writes[0].Path)

	entries, ok := bodyAttributes(t, writes[0].Body)["match"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)

	winner := entries[0].(map[string]any)
	assert.Equal(t, "P1", winner["participant_id"])
	assert.Equal(t, float64(1), winner["rank"])
	assert.Equal(t, true, winner["advancing"])

	loser := entries[1].(map[string]any)
	assert.Equal(t, "P2", loser["participant_id"])
	assert.Equal(t, false, loser["advancing"])
	assert.NotContains(t, loser, "rank")
}

func TestDeclareWinnerValidation(t *testing.T) {
	h := newHarness(t)

	err := h.service.DeclareWinner(context.Background(), "T1", "M1", "P1", nil)
	assert.True(t, challonge.IsKind(err, challonge.KindValidation), "winner without scores")

	scores := []challonge.MatchParticipantScore{{ParticipantID: "P2", ScoreSet: "0-2"}}
	err = h.service.DeclareWinner(context.Background(), "T1", "M1", "P9", scores)
	assert.True(t, challonge.IsKind(err, challonge.KindValidation), "winner must have a score entry")
	assert.Empty(t, h.provider.recorded())
}

func TestClearScores(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.service.ClearScores(context.Background(), "T1", "M1"))

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	entries := bodyAttributes(t, writes[0].Body)["match"].([]any)
	assert.Empty(t, entries)
}

func TestForfeitAdvancesOpponent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.service.Forfeit(context.Background(), "T1", "M1", "P2"))

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	entries := bodyAttributes(t, writes[0].Body)["match"].([]any)
	require.Len(t, entries, 2)

	opponent := entries[0].(map[string]any)
	assert.Equal(t, "P1", opponent["participant_id"])
	assert.Equal(t, true, opponent["advancing"])
	assert.Equal(t, float64(1), opponent["rank"])
	assert.Equal(t, "0-0", opponent["score_set"])

	forfeiter := entries[1].(map[string]any)
	assert.Equal(t, "P2", forfeiter["participant_id"])
	assert.Equal(t, false, forfeiter["advancing"])
}

func TestForfeitValidation(t *testing.T) {
	h := newHarness(t)

	err := h.service.Forfeit(context.Background(), "T1", "M9", "P1")
	assert.True(t, challonge.IsKind(err, challonge.KindValidation), "unknown match")

	err = h.service.Forfeit(context.Background(), "T1", "M1", "P9")
	assert.True(t, challonge.IsKind(err, challonge.KindValidation), "participant not in match")

	// M2 has no participants assigned yet.
	err = h.service.Forfeit(context.Background(), "T1", "M2", "P1")
	assert.True(t, challonge.IsKind(err, challonge.KindConflict))

	assert.Empty(t, h.provider.writes())
}

func TestStationAssignment(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.service.AssignStation(context.Background(), "T1", "M1", "S1"))
	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "S1", bodyAttributes(t, writes[0].Body)["station_id"])

	require.NoError(t, h.service.UnassignStation(context.Background(), "T1", "M1"))
	writes = h.provider.writes()
	require.Len(t, writes, 2)
	attrs := bodyAttributes(t, writes[1].Body)
	val, present := attrs["station_id"]
	assert.True(t, present)
	assert.Nil(t, val, "unassign sends an explicit null")

	err := h.service.AssignStation(context.Background(), "T1", "M1", "")
	assert.True(t, challonge.IsKind(err, challonge.KindValidation))
}

func TestCreateTournament(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.cache.Set(cache.TypeTournamentsList, "list", []byte(`{"data":[]}`), 0))

	name := "Weekly"
	view, err := h.service.CreateTournament(context.Background(), TournamentParams{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "T1", view.ID)
	assert.Equal(t, "Weekly", view.Name)

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodPost, writes[0].Method)
	assert.Equal(t, "/tournaments", writes[0].Path)
	assert.Equal(t, "Weekly", bodyAttributes(t, writes[0].Body)["name"])

	assert.Equal(t, 1, h.checks.count(), "lifecycle mutation schedules a prompt mode check")
	_, _, ok := h.cache.Get(cache.TypeTournamentsList, "list")
	assert.False(t, ok, "the tournaments list is stale after a create")
}

func TestCreateTournamentRequiresName(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.CreateTournament(context.Background(), TournamentParams{})
	assert.True(t, challonge.IsKind(err, challonge.KindValidation))
	assert.Empty(t, h.provider.recorded())
}

func TestUpdateTournamentRejectsFrozenOptionsAfterStart(t *testing.T) {
	h := newHarness(t)
	h.provider.tournamentState = "underway"

	open := true
	_, err := h.service.UpdateTournament(context.Background(), "T1", TournamentParams{OpenSignup: &open})
	require.Error(t, err)
	assert.True(t, challonge.IsKind(err, challonge.KindConflict))
	assert.Empty(t, h.provider.writes())
}

func TestUpdateTournamentAfterStartAllowsSafeFields(t *testing.T) {
	h := newHarness(t)
	h.provider.tournamentState = "underway"

	desc := "updated description"
	view, err := h.service.UpdateTournament(context.Background(), "T1", TournamentParams{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "T1", view.ID)

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "/tournaments/T1", writes[0].Path)
}

func TestStartTournament(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.service.StartTournament(context.Background(), "T1"))

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodPost, writes[0].Method)
	assert.Equal(t, "/tournaments/T1/process", writes[0].Path)
	assert.Equal(t, "TournamentProcess", bodyResourceType(t, writes[0].Body))
	assert.Equal(t, "start", bodyAttributes(t, writes[0].Body)["action"])
	assert.Equal(t, 1, h.checks.count())
	assert.Zero(t, h.poller.count(), "lifecycle mutations do not fire the poller directly")
	assert.Equal(t, []string{"T1:start"}, h.events.all(), "displays are notified of the lifecycle change")
}

func TestLifecycleActionsShareProcessEndpoint(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.service.ResetTournament(context.Background(), "T1"))
	require.NoError(t, h.service.CompleteTournament(context.Background(), "T1"))

	writes := h.provider.writes()
	require.Len(t, writes, 2)
	for i, action := range []string{"reset", "finalize"} {
		assert.Equal(t, http.MethodPost, writes[i].Method)
		assert.Equal(t, "/tournaments/T1/process", writes[i].Path)
		assert.Equal(t, "TournamentProcess", bodyResourceType(t, writes[i].Body))
		assert.Equal(t, action, bodyAttributes(t, writes[i].Body)["action"])
	}
}

func TestDeleteTournament(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.service.DeleteTournament(context.Background(), "T1"))

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodDelete, writes[0].Method)
	assert.Equal(t, "/tournaments/T1", writes[0].Path)
	assert.Equal(t, 1, h.checks.count())
}

func TestAddParticipant(t *testing.T) {
	h := newHarness(t)
	name := "Bob"
	seed := 2
	require.NoError(t, h.service.AddParticipant(context.Background(), "T1", ParticipantParams{Name: &name, Seed: &seed}))

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "/tournaments/T1/participants", writes[0].Path)
	attrs := bodyAttributes(t, writes[0].Body)
	assert.Equal(t, "Bob", attrs["name"])
	assert.Equal(t, float64(2), attrs["seed"])
}

func TestParticipantValidation(t *testing.T) {
	h := newHarness(t)

	err := h.service.AddParticipant(context.Background(), "T1", ParticipantParams{})
	assert.True(t, challonge.IsKind(err, challonge.KindValidation), "name required")

	empty := ""
	err = h.service.AddParticipant(context.Background(), "T1", ParticipantParams{Name: &empty})
	assert.True(t, challonge.IsKind(err, challonge.KindValidation), "name must not be empty")

	name := "Bob"
	zero := 0
	err = h.service.AddParticipant(context.Background(), "T1", ParticipantParams{Name: &name, Seed: &zero})
	assert.True(t, challonge.IsKind(err, challonge.KindValidation), "seed must be >= 1")

	err = h.service.UpdateParticipant(context.Background(), "T1", "P1", ParticipantParams{})
	assert.True(t, challonge.IsKind(err, challonge.KindValidation), "update needs at least one field")

	assert.Empty(t, h.provider.recorded())
}

func TestBulkAddParticipants(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.service.BulkAddParticipants(context.Background(), "T1", []string{"Alice", "Bob"}))

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "/tournaments/T1/participants/bulk_add", writes[0].Path)
	entries := bodyAttributes(t, writes[0].Body)["participants"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "Alice", entries[0].(map[string]any)["name"])

	err := h.service.BulkAddParticipants(context.Background(), "T1", nil)
	assert.True(t, challonge.IsKind(err, challonge.KindValidation))
}

func TestRandomizeSeedsConflictAfterStart(t *testing.T) {
	h := newHarness(t)
	h.provider.tournamentState = "underway"

	err := h.service.RandomizeSeeds(context.Background(), "T1")
	require.Error(t, err)
	assert.True(t, challonge.IsKind(err, challonge.KindConflict))
	assert.Empty(t, h.provider.writes())
}

func TestRandomizeSeedsWhenPending(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.service.RandomizeSeeds(context.Background(), "T1"))

	writes := h.provider.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "/tournaments/T1/participants/randomize", writes[0].Path)
}

func TestCheckInProcess(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.service.CheckIn(context.Background(), "T1", "P1"))
	require.NoError(t, h.service.UndoCheckIn(context.Background(), "T1", "P1"))

	writes := h.provider.writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "/tournaments/T1/participants/P1/process", writes[0].Path)
	assert.Equal(t, "check_in", bodyAttributes(t, writes[0].Body)["action"])
	assert.Equal(t, "undo_check_in", bodyAttributes(t, writes[1].Body)["action"])
}
