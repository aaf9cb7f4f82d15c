package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bracketpi/bracketd/internal/websocket"
)

// Request types for the operator display-event endpoints. Each endpoint
// validates its body, maps it to a hub message, and broadcasts it.

// TickerEventRequest is the request body for POST /api/admin/events/ticker
type TickerEventRequest struct {
	Text      string `json:"text"`
	DurationS int    `json:"duration_s,omitempty"`
}

// QREventRequest is the request body for POST /api/admin/events/qr
type QREventRequest struct {
	// Action is "show" or "hide".
	Action    string `json:"action"`
	URL       string `json:"url,omitempty"`
	Label     string `json:"label,omitempty"`
	DurationS int    `json:"duration_s,omitempty"`
}

// TimerEventRequest is the request body for POST /api/admin/events/timer
type TimerEventRequest struct {
	// Event is "started", "warning", "expired", or "cancelled".
	Event         string `json:"event"`
	MatchID       string `json:"match_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	RemainingS    int    `json:"remaining_s,omitempty"`
}

// SponsorEventRequest is the request body for POST /api/admin/events/sponsor
type SponsorEventRequest struct {
	// Action is "show", "hide", "rotate", or "config".
	Action    string          `json:"action"`
	SponsorID string          `json:"sponsor_id,omitempty"`
	DurationS int             `json:"duration_s,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// ActivityEventRequest is the request body for POST /api/admin/events/activity
type ActivityEventRequest struct {
	Text string `json:"text"`
}

// timerEvents maps the operator command to the wire event type.
var timerEvents = map[string]string{
	"started":   websocket.TypeTimerDQStarted,
	"warning":   websocket.TypeTimerDQWarning,
	"expired":   websocket.TypeTimerDQExpired,
	"cancelled": websocket.TypeTimerDQCancelled,
}

func decodeEventBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func logEventBroadcast(endpoint, msgType string) {
	slog.Info("handlers.event_broadcast",
		"component", "handlers",
		"event", "events."+endpoint,
		"message_type", msgType,
	)
}

// TickerEventHandler handles POST /api/admin/events/ticker
func TickerEventHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TickerEventRequest
		if !decodeEventBody(w, r, &req) {
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "text is required")
			return
		}
		deps.Core.Hub.BroadcastToAll(websocket.EventMessage(websocket.TypeTickerMessage, websocket.TickerPayload{
			Text:      req.Text,
			DurationS: req.DurationS,
		}))
		logEventBroadcast("ticker", websocket.TypeTickerMessage)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// QREventHandler handles POST /api/admin/events/qr
func QREventHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QREventRequest
		if !decodeEventBody(w, r, &req) {
			return
		}
		var msg websocket.Message
		switch req.Action {
		case "show":
			if req.URL == "" {
				writeError(w, http.StatusBadRequest, "bad_request", "url is required to show a QR code")
				return
			}
			msg = websocket.EventMessage(websocket.TypeQRShow, websocket.QRPayload{
				URL:       req.URL,
				Label:     req.Label,
				DurationS: req.DurationS,
			})
		case "hide":
			msg = websocket.EventMessage(websocket.TypeQRHide, nil)
		default:
			writeError(w, http.StatusBadRequest, "bad_request", "action must be show or hide")
			return
		}
		deps.Core.Hub.BroadcastToAll(msg)
		logEventBroadcast("qr", msg.Type)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// TimerEventHandler handles POST /api/admin/events/timer. Timer events go to
// match displays only and are ack-tracked by the hub.
func TimerEventHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TimerEventRequest
		if !decodeEventBody(w, r, &req) {
			return
		}
		msgType, ok := timerEvents[req.Event]
		if !ok {
			writeError(w, http.StatusBadRequest, "bad_request", "event must be started, warning, expired or cancelled")
			return
		}
		if req.MatchID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "match_id is required")
			return
		}
		deps.Core.Hub.BroadcastToRole(websocket.RoleMatch, websocket.EventMessage(msgType, websocket.TimerPayload{
			MatchID:       req.MatchID,
			ParticipantID: req.ParticipantID,
			RemainingS:    req.RemainingS,
		}))
		logEventBroadcast("timer", msgType)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// SponsorEventHandler handles POST /api/admin/events/sponsor. Show and hide
// are ack-tracked by the hub; rotate and config are fire-and-forget.
func SponsorEventHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SponsorEventRequest
		if !decodeEventBody(w, r, &req) {
			return
		}
		var msgType string
		switch req.Action {
		case "show":
			msgType = websocket.TypeSponsorShow
		case "hide":
			msgType = websocket.TypeSponsorHide
		case "rotate":
			msgType = websocket.TypeSponsorRotate
		case "config":
			if len(req.Config) == 0 {
				writeError(w, http.StatusBadRequest, "bad_request", "config is required")
				return
			}
			msgType = websocket.TypeSponsorConfig
		default:
			writeError(w, http.StatusBadRequest, "bad_request", "action must be show, hide, rotate or config")
			return
		}
		deps.Core.Hub.BroadcastToAll(websocket.EventMessage(msgType, websocket.SponsorPayload{
			SponsorID: req.SponsorID,
			DurationS: req.DurationS,
			Config:    req.Config,
		}))
		logEventBroadcast("sponsor", msgType)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// ActivityEventHandler handles POST /api/admin/events/activity
func ActivityEventHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ActivityEventRequest
		if !decodeEventBody(w, r, &req) {
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "text is required")
			return
		}
		deps.Core.Hub.BroadcastActivity(websocket.ActivityEntry{
			Text: req.Text,
			At:   time.Now().UTC(),
		})
		logEventBroadcast("activity", websocket.TypeActivityNew)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
