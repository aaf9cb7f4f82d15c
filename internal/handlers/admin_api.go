package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bracketpi/bracketd/internal/cache"
	"github.com/bracketpi/bracketd/internal/db/cachestore"
	"github.com/bracketpi/bracketd/internal/gate"
	"github.com/bracketpi/bracketd/internal/poller"
	"github.com/bracketpi/bracketd/internal/ratecontrol"
)

// Response types for the operator API endpoints

// RateControlStatusResponse is returned by GET /api/admin/ratecontrol
type RateControlStatusResponse struct {
	Controller ratecontrol.Status `json:"controller"`
	Gate       gate.Status        `json:"gate"`
	Poller     poller.Status      `json:"poller"`
}

// ForceModeRequest is the request body for POST /api/admin/ratecontrol/mode
type ForceModeRequest struct {
	// Mode is IDLE, UPCOMING, ACTIVE, or "auto" to restore automatic control.
	Mode string `json:"mode"`
}

// DevModeRequest is the request body for POST /api/admin/ratecontrol/devmode
type DevModeRequest struct {
	Enabled bool `json:"enabled"`
}

// CacheInvalidateRequest is the request body for POST /api/admin/cache/invalidate
type CacheInvalidateRequest struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
}

// ErrorResponse is used for error responses
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("handlers.encode_failed",
			"component", "handlers",
			"event", "handler.encode_error",
			"error", err,
		)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// RateControlStatusHandler handles GET /api/admin/ratecontrol
func RateControlStatusHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
			return
		}
		writeJSON(w, http.StatusOK, RateControlStatusResponse{
			Controller: deps.Core.Controller.Status(),
			Gate:       deps.Core.Gate.Status(),
			Poller:     deps.Core.Poller.Status(),
		})
	}
}

// ForceModeHandler handles POST /api/admin/ratecontrol/mode
func ForceModeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
			return
		}
		var req ForceModeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}

		var override *ratecontrol.Mode
		switch strings.ToUpper(req.Mode) {
		case "AUTO":
			override = nil
		case string(ratecontrol.ModeIdle), string(ratecontrol.ModeUpcoming), string(ratecontrol.ModeActive):
			mode := ratecontrol.Mode(strings.ToUpper(req.Mode))
			override = &mode
		default:
			writeError(w, http.StatusBadRequest, "bad_request", "mode must be IDLE, UPCOMING, ACTIVE or auto")
			return
		}

		if err := deps.Core.Controller.SetOverride(r.Context(), override); err != nil {
			// Override applied; only the follow-up classification failed.
			slog.Warn("handlers.override_check_failed",
				"component", "handlers",
				"event", "handler.ratecontrol_error",
				"error", err,
			)
		}
		writeJSON(w, http.StatusOK, deps.Core.Controller.Status())
	}
}

// DevModeHandler handles POST /api/admin/ratecontrol/devmode
func DevModeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
			return
		}
		var req DevModeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		if req.Enabled {
			deps.Core.Controller.EnableDevMode()
		} else {
			deps.Core.Controller.DisableDevMode()
		}
		writeJSON(w, http.StatusOK, deps.Core.Controller.Status())
	}
}

// CheckNowHandler handles POST /api/admin/ratecontrol/check
func CheckNowHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
			return
		}
		if err := deps.Core.Controller.Check(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, "check_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, deps.Core.Controller.Status())
	}
}

// CacheStatsHandler handles GET /api/admin/cache/stats
func CacheStatsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
			return
		}
		report, err := deps.Core.Cache.Stats()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "stats_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// CacheInvalidateHandler handles POST /api/admin/cache/invalidate
func CacheInvalidateHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
			return
		}
		var req CacheInvalidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		typ := cache.Type(req.Type)
		if !validCacheType(typ) {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown cache type "+req.Type)
			return
		}
		if err := deps.Core.Cache.Invalidate(typ, req.Key); err != nil {
			writeError(w, http.StatusInternalServerError, "invalidate_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// CacheClearHandler handles POST /api/admin/cache/clear
func CacheClearHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
			return
		}
		for _, typ := range cachestore.Types {
			if err := deps.Core.Cache.Invalidate(typ, ""); err != nil {
				writeError(w, http.StatusInternalServerError, "clear_failed", err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// CacheTournamentHandler handles GET /api/admin/cache/tournaments/{id}
func CacheTournamentHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
			return
		}
		tournamentID := strings.TrimPrefix(r.URL.Path, "/api/admin/cache/tournaments/")
		if tournamentID == "" || strings.Contains(tournamentID, "/") {
			writeError(w, http.StatusBadRequest, "bad_request", "tournament id required")
			return
		}
		summary, err := deps.Core.Cache.TournamentCacheSummary(tournamentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "summary_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func validCacheType(typ cache.Type) bool {
	for _, known := range cachestore.Types {
		if typ == known {
			return true
		}
	}
	return false
}
