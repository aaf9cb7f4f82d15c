package websocket

import (
	"encoding/json"
	"time"
)

// Message is a JSON message sent or received on the display WebSocket.
// ID is set on ack-tracked messages; the client echoes it back in an "ack".
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason,omitempty"` // used in "disconnect" messages
}

// Server→client event types.
const (
	TypeMatchesUpdate    = "matches:update"
	TypeTournamentUpdate = "tournament:update"
	TypeTickerMessage    = "ticker:message"
	TypeQRShow           = "qr:show"
	TypeQRHide           = "qr:hide"
	TypeTimerDQStarted   = "timer:dq:started"
	TypeTimerDQWarning   = "timer:dq:warning"
	TypeTimerDQExpired   = "timer:dq:expired"
	TypeTimerDQCancelled = "timer:dq:cancelled"
	TypeSponsorShow      = "sponsor:show"
	TypeSponsorHide      = "sponsor:hide"
	TypeSponsorRotate    = "sponsor:rotate"
	TypeSponsorConfig    = "sponsor:config"
	TypeActivityInitial  = "activity:initial"
	TypeActivityNew      = "activity:new"
	TypeDisconnect       = "disconnect"
)

// TypeAck is the client→server acknowledgement of an ack-tracked message.
const TypeAck = "ack"

// EventMessage creates a server→client message of the given type carrying an
// arbitrary JSON payload. A nil marshal error is the caller's responsibility;
// payloads here are our own structs.
func EventMessage(msgType string, payload any) Message {
	data, _ := json.Marshal(payload)
	return Message{Type: msgType, Payload: data}
}

// TickerPayload is the payload of a ticker:message event.
type TickerPayload struct {
	Text      string `json:"text"`
	DurationS int    `json:"duration_s"`
}

// QRPayload is the payload of a qr:show event.
type QRPayload struct {
	URL       string `json:"url"`
	Label     string `json:"label,omitempty"`
	DurationS int    `json:"duration_s,omitempty"`
}

// TimerPayload is the payload of the timer:dq:* events.
type TimerPayload struct {
	MatchID       string `json:"match_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	RemainingS    int    `json:"remaining_s,omitempty"`
}

// TournamentUpdatePayload is the payload of a tournament:update event.
// TournamentID is empty for actions not tied to an existing tournament.
type TournamentUpdatePayload struct {
	TournamentID string `json:"tournament_id,omitempty"`
	Action       string `json:"action"`
}

// SponsorPayload is the payload of the sponsor:* events. Config carries the
// rotation settings for sponsor:config and is opaque to the server.
type SponsorPayload struct {
	SponsorID string          `json:"sponsor_id,omitempty"`
	DurationS int             `json:"duration_s,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// ActivityEntry is one line of the operator activity feed.
type ActivityEntry struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ActivityFeedPayload is the payload of an activity:initial event.
type ActivityFeedPayload struct {
	Entries []ActivityEntry `json:"entries"`
}

// DisconnectMessage creates a server→client message indicating the connection
// is closing.
func DisconnectMessage(reason string) Message {
	return Message{Type: TypeDisconnect, Reason: reason}
}

// needsAck reports whether a message type uses ack-tracked delivery. Losing a
// timer or sponsor visibility event leaves a display in a visibly wrong state,
// so those are tracked; everything else is superseded by the next update.
func needsAck(msgType string) bool {
	switch msgType {
	case TypeTimerDQStarted, TypeTimerDQWarning, TypeTimerDQExpired, TypeTimerDQCancelled,
		TypeSponsorShow, TypeSponsorHide:
		return true
	}
	return false
}
