// mock-challonge-server is a standalone in-memory stand-in for the bracket
// provider, used for integration work without burning real rate budget. It
// speaks the same JSON:API dialect, honors both auth header styles, and can
// simulate rate limiting via MOCK_RATE_LIMIT_EVERY.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultPort = "8083"

// Config holds server configuration from environment variables.
type Config struct {
	Port string
	// APIKey is the accepted v1 key; empty accepts anything.
	APIKey string
	// RateLimitEvery returns 429 on every Nth request; 0 disables.
	RateLimitEvery int
}

func loadConfig() Config {
	return Config{
		Port:           envOrDefault("PORT", defaultPort),
		APIKey:         envOrDefault("MOCK_API_KEY", ""),
		RateLimitEvery: envIntOrDefault("MOCK_RATE_LIMIT_EVERY", 0),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// mockTournament is the stored tournament state.
type mockTournament struct {
	ID        string
	Attrs     map[string]any
	UpdatedAt time.Time
}

// mockParticipant is one registered participant.
type mockParticipant struct {
	ID          string
	Name        string
	Seed        int
	Misc        string
	CheckedInAt *time.Time
}

// mockMatch is one bracket match.
type mockMatch struct {
	ID         string
	Round      int
	PlayOrder  int
	State      string // pending, open, complete
	Player1ID  *string
	Player2ID  *string
	WinnerID   *string
	StationID  *string
	Scores     string
	UnderwayAt *time.Time
}

// store is the in-memory provider state.
type store struct {
	mu           sync.Mutex
	nextID       int
	tournaments  map[string]*mockTournament
	participants map[string][]*mockParticipant // by tournament id
	matches      map[string][]*mockMatch       // by tournament id
	requestCount int
}

func newStore() *store {
	return &store{
		nextID:       1000,
		tournaments:  make(map[string]*mockTournament),
		participants: make(map[string][]*mockParticipant),
		matches:      make(map[string][]*mockMatch),
	}
}

func (s *store) newID() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

// resource wraps attributes in the provider envelope.
func resource(resType, id string, attrs map[string]any) map[string]any {
	return map[string]any{"type": resType, "id": id, "attributes": attrs}
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{"status": strconv.Itoa(status), "detail": message}},
	})
}

// decodeAttributes pulls data.attributes from a request body.
func decodeAttributes(r *http.Request) (map[string]any, error) {
	var body struct {
		Data struct {
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Data.Attributes == nil {
		return map[string]any{}, nil
	}
	return body.Data.Attributes, nil
}

func (s *store) tournamentAttrs(t *mockTournament) map[string]any {
	attrs := make(map[string]any, len(t.Attrs)+1)
	for k, v := range t.Attrs {
		attrs[k] = v
	}
	attrs["updated_at"] = t.UpdatedAt.UTC().Format(time.RFC3339)
	return attrs
}

func (s *store) matchAttrs(m *mockMatch) map[string]any {
	attrs := map[string]any{
		"state":                m.State,
		"round":                m.Round,
		"suggested_play_order": m.PlayOrder,
		"player1_id":           m.Player1ID,
		"player2_id":           m.Player2ID,
		"winner_id":            m.WinnerID,
		"station_id":           m.StationID,
		"scores":               m.Scores,
	}
	if m.UnderwayAt != nil {
		attrs["underway_at"] = m.UnderwayAt.UTC().Format(time.RFC3339)
	}
	return attrs
}

func (s *store) participantAttrs(p *mockParticipant) map[string]any {
	attrs := map[string]any{
		"name": p.Name,
		"seed": p.Seed,
		"misc": p.Misc,
	}
	if p.CheckedInAt != nil {
		attrs["checked_in_at"] = p.CheckedInAt.UTC().Format(time.RFC3339)
	}
	return attrs
}

// buildBracket generates a single-elimination bracket for the registered
// participants. Winners advance via the putMatch handler.
func (s *store) buildBracket(tournamentID string) {
	parts := s.participants[tournamentID]
	var matches []*mockMatch
	order := 1
	for i := 0; i+1 < len(parts); i += 2 {
		p1, p2 := parts[i].ID, parts[i+1].ID
		matches = append(matches, &mockMatch{
			ID:        s.newID(),
			Round:     1,
			PlayOrder: order,
			State:     "open",
			Player1ID: &p1,
			Player2ID: &p2,
		})
		order++
	}
	s.matches[tournamentID] = matches
}

type mockServer struct {
	cfg   Config
	store *store
}

// authorize checks the auth headers the way the real provider does: either a
// v1 key or a v2 bearer token, declared by Authorization-Type.
func (srv *mockServer) authorize(r *http.Request) bool {
	if srv.cfg.APIKey == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	switch r.Header.Get("Authorization-Type") {
	case "v2":
		return strings.HasPrefix(auth, "Bearer ")
	default:
		return auth == srv.cfg.APIKey
	}
}

func (srv *mockServer) handle(w http.ResponseWriter, r *http.Request) {
	srv.store.mu.Lock()
	defer srv.store.mu.Unlock()

	srv.store.requestCount++
	if srv.cfg.RateLimitEvery > 0 && srv.store.requestCount%srv.cfg.RateLimitEvery == 0 {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	if !srv.authorize(r) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] != "tournaments" {
		writeError(w, http.StatusNotFound, "unknown resource")
		return
	}

	switch {
	case len(parts) == 1:
		srv.handleTournaments(w, r)
	case len(parts) == 2:
		srv.handleTournament(w, r, parts[1])
	case len(parts) == 3 && parts[2] == "process":
		srv.handleTournamentProcess(w, r, parts[1])
	case len(parts) >= 3 && parts[2] == "matches":
		srv.handleMatches(w, r, parts[1], parts[3:])
	case len(parts) >= 3 && parts[2] == "participants":
		srv.handleParticipants(w, r, parts[1], parts[3:])
	case len(parts) == 3 && parts[2] == "stations":
		writeData(w, http.StatusOK, []any{})
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (srv *mockServer) handleTournaments(w http.ResponseWriter, r *http.Request) {
	s := srv.store
	switch r.Method {
	case http.MethodGet:
		list := make([]any, 0, len(s.tournaments))
		for _, t := range s.tournaments {
			list = append(list, resource("tournaments", t.ID, s.tournamentAttrs(t)))
		}
		writeData(w, http.StatusOK, list)
	case http.MethodPost:
		attrs, err := decodeAttributes(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if _, ok := attrs["name"]; !ok {
			writeError(w, http.StatusUnprocessableEntity, "name is required")
			return
		}
		attrs["state"] = "pending"
		t := &mockTournament{ID: s.newID(), Attrs: attrs, UpdatedAt: time.Now()}
		s.tournaments[t.ID] = t
		writeData(w, http.StatusCreated, resource("tournaments", t.ID, s.tournamentAttrs(t)))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (srv *mockServer) handleTournament(w http.ResponseWriter, r *http.Request, id string) {
	s := srv.store
	t, ok := s.tournaments[id]
	if !ok {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeData(w, http.StatusOK, resource("tournaments", t.ID, s.tournamentAttrs(t)))
	case http.MethodPut:
		attrs, err := decodeAttributes(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if mo, ok := attrs["match_options"].(map[string]any); ok {
			if v, present := mo["consolation_matches_target_rank"]; present && v == nil {
				writeError(w, http.StatusUnprocessableEntity, "consolation_matches_target_rank must not be null")
				return
			}
		}
		for k, v := range attrs {
			t.Attrs[k] = v
		}
		t.UpdatedAt = time.Now()
		writeData(w, http.StatusOK, resource("tournaments", t.ID, s.tournamentAttrs(t)))
	case http.MethodDelete:
		delete(s.tournaments, id)
		delete(s.participants, id)
		delete(s.matches, id)
		writeData(w, http.StatusOK, nil)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (srv *mockServer) handleTournamentProcess(w http.ResponseWriter, r *http.Request, id string) {
	s := srv.store
	t, ok := s.tournaments[id]
	if !ok {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	attrs, err := decodeAttributes(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	action, _ := attrs["action"].(string)
	now := time.Now()
	switch action {
	case "start":
		if t.Attrs["state"] != "pending" {
			writeError(w, http.StatusUnprocessableEntity, "tournament already started")
			return
		}
		t.Attrs["state"] = "underway"
		t.Attrs["started_at"] = now.UTC().Format(time.RFC3339)
		s.buildBracket(id)
	case "reset":
		t.Attrs["state"] = "pending"
		delete(t.Attrs, "started_at")
		delete(s.matches, id)
	case "finalize":
		if t.Attrs["state"] != "underway" {
			writeError(w, http.StatusUnprocessableEntity, "tournament is not underway")
			return
		}
		t.Attrs["state"] = "complete"
		t.Attrs["completed_at"] = now.UTC().Format(time.RFC3339)
	default:
		writeError(w, http.StatusUnprocessableEntity, "unknown action "+action)
		return
	}
	t.UpdatedAt = now
	writeData(w, http.StatusOK, resource("tournaments", t.ID, s.tournamentAttrs(t)))
}

func (srv *mockServer) handleMatches(w http.ResponseWriter, r *http.Request, tournamentID string, rest []string) {
	s := srv.store
	if _, ok := s.tournaments[tournamentID]; !ok {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}
	matches := s.matches[tournamentID]

	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		list := make([]any, 0, len(matches))
		for _, m := range matches {
			list = append(list, resource("match", m.ID, s.matchAttrs(m)))
		}
		writeData(w, http.StatusOK, list)
		return
	}

	var match *mockMatch
	for _, m := range matches {
		if m.ID == rest[0] {
			match = m
			break
		}
	}
	if match == nil {
		writeError(w, http.StatusNotFound, "match not found")
		return
	}
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	attrs, err := decodeAttributes(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if len(rest) == 2 && rest[1] == "change_state" {
		now := time.Now()
		switch attrs["state"] {
		case "mark_as_underway":
			match.UnderwayAt = &now
		case "unmark_as_underway":
			match.UnderwayAt = nil
		case "reopen":
			match.State = "open"
			match.WinnerID = nil
			match.Scores = ""
		default:
			writeError(w, http.StatusUnprocessableEntity, "unknown state")
			return
		}
		writeData(w, http.StatusOK, resource("match", match.ID, s.matchAttrs(match)))
		return
	}

	if stationID, present := attrs["station_id"]; present {
		if stationID == nil {
			match.StationID = nil
		} else if sid, ok := stationID.(string); ok {
			match.StationID = &sid
		}
	}
	if entries, ok := attrs["match"].([]any); ok {
		match.Scores = ""
		match.WinnerID = nil
		scores := make([]string, 0, len(entries))
		for _, raw := range entries {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if set, ok := entry["score_set"].(string); ok && set != "" {
				scores = append(scores, set)
			}
			if adv, ok := entry["advancing"].(bool); ok && adv {
				if pid, ok := entry["participant_id"].(string); ok {
					winner := pid
					match.WinnerID = &winner
					match.State = "complete"
					match.UnderwayAt = nil
				}
			}
		}
		match.Scores = strings.Join(scores, ",")
		if len(entries) == 0 {
			match.State = "open"
		}
	}
	writeData(w, http.StatusOK, resource("match", match.ID, s.matchAttrs(match)))
}

func (srv *mockServer) handleParticipants(w http.ResponseWriter, r *http.Request, tournamentID string, rest []string) {
	s := srv.store
	t, ok := s.tournaments[tournamentID]
	if !ok {
		writeError(w, http.StatusNotFound, "tournament not found")
		return
	}

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			list := make([]any, 0, len(s.participants[tournamentID]))
			for _, p := range s.participants[tournamentID] {
				list = append(list, resource("participant", p.ID, s.participantAttrs(p)))
			}
			writeData(w, http.StatusOK, list)
		case http.MethodPost:
			attrs, err := decodeAttributes(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid body")
				return
			}
			name, _ := attrs["name"].(string)
			if name == "" {
				writeError(w, http.StatusUnprocessableEntity, "name is required")
				return
			}
			p := &mockParticipant{ID: s.newID(), Name: name, Seed: len(s.participants[tournamentID]) + 1}
			s.participants[tournamentID] = append(s.participants[tournamentID], p)
			writeData(w, http.StatusCreated, resource("participant", p.ID, s.participantAttrs(p)))
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch rest[0] {
	case "bulk_add":
		attrs, err := decodeAttributes(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		entries, _ := attrs["participants"].([]any)
		created := make([]any, 0, len(entries))
		for _, raw := range entries {
			entry, _ := raw.(map[string]any)
			name, _ := entry["name"].(string)
			if name == "" {
				continue
			}
			p := &mockParticipant{ID: s.newID(), Name: name, Seed: len(s.participants[tournamentID]) + 1}
			s.participants[tournamentID] = append(s.participants[tournamentID], p)
			created = append(created, resource("participant", p.ID, s.participantAttrs(p)))
		}
		writeData(w, http.StatusCreated, created)
		return
	case "randomize":
		if t.Attrs["state"] != "pending" {
			writeError(w, http.StatusUnprocessableEntity, "cannot randomize after start")
			return
		}
		parts := s.participants[tournamentID]
		// Deterministic "shuffle": reverse. Good enough to observe reseeding.
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
		for i, p := range parts {
			p.Seed = i + 1
		}
		writeData(w, http.StatusOK, nil)
		return
	}

	var participant *mockParticipant
	for _, p := range s.participants[tournamentID] {
		if p.ID == rest[0] {
			participant = p
			break
		}
	}
	if participant == nil {
		writeError(w, http.StatusNotFound, "participant not found")
		return
	}

	if len(rest) == 2 && rest[1] == "process" {
		attrs, err := decodeAttributes(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		now := time.Now()
		switch attrs["action"] {
		case "check_in":
			participant.CheckedInAt = &now
		case "undo_check_in":
			participant.CheckedInAt = nil
		default:
			writeError(w, http.StatusUnprocessableEntity, "unknown action")
			return
		}
		writeData(w, http.StatusOK, resource("participant", participant.ID, s.participantAttrs(participant)))
		return
	}

	switch r.Method {
	case http.MethodPut:
		attrs, err := decodeAttributes(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if name, ok := attrs["name"].(string); ok {
			participant.Name = name
		}
		if seed, ok := attrs["seed"].(float64); ok {
			participant.Seed = int(seed)
		}
		if misc, ok := attrs["misc"].(string); ok {
			participant.Misc = misc
		}
		writeData(w, http.StatusOK, resource("participant", participant.ID, s.participantAttrs(participant)))
	case http.MethodDelete:
		parts := s.participants[tournamentID]
		for i, p := range parts {
			if p == participant {
				s.participants[tournamentID] = append(parts[:i], parts[i+1:]...)
				break
			}
		}
		writeData(w, http.StatusOK, nil)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg := loadConfig()
	srv := &mockServer{cfg: cfg, store: newStore()}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handle)

	addr := fmt.Sprintf(":%s", cfg.Port)
	slog.Info("mock provider listening",
		"address", addr,
		"rate_limit_every", cfg.RateLimitEvery,
	)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
