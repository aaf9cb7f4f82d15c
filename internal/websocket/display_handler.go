package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	ws "github.com/gorilla/websocket"
)

// DisplayWebSocketHandler returns an http.HandlerFunc for GET /ws/display.
//
// The display supplies its identity as query parameters: display_id
// (required), role (match|bracket|flyer, required), admin=1 for admin
// clients. The handler upgrades the connection, registers the display with
// the hub, and runs the read/write pumps.
func DisplayWebSocketHandler(hub *Hub, exposedDomain string) http.HandlerFunc {
	upgrader := ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// No Origin header — allow (e.g. native clients, curl).
				return true
			}
			return strings.TrimSuffix(origin, "/") == strings.TrimSuffix(exposedDomain, "/")
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		displayID := r.URL.Query().Get("display_id")
		if displayID == "" {
			http.Error(w, "display_id required", http.StatusBadRequest)
			return
		}
		role := r.URL.Query().Get("role")
		if !ValidRole(role) {
			http.Error(w, "role must be match, bracket or flyer", http.StatusBadRequest)
			return
		}
		admin := r.URL.Query().Get("admin") == "1"

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrader writes the error response itself.
			slog.Error("websocket.handler.upgrade_failed",
				"component", "websocket",
				"event", "handler.upgrade_error",
				"error", err,
			)
			return
		}

		slog.Info("websocket.handler.connected",
			"component", "websocket",
			"event", "handler.connected",
			"display_id", displayID,
			"role", role,
			"remote_addr", r.RemoteAddr,
		)

		dc := &displayConn{
			hub:       hub,
			conn:      conn,
			send:      make(chan Message, sendBufferSize),
			displayID: displayID,
			role:      role,
			admin:     admin,
		}

		if err := hub.RegisterDisplayAndSubscribe(r.Context(), dc); err != nil {
			conn.WriteJSON(DisconnectMessage("registration failed")) //nolint:errcheck
			conn.Close()
			return
		}

		// writePump runs in a separate goroutine; readPump blocks until the
		// connection closes (and then unregisters the display from the hub).
		go dc.writePump()
		dc.readPump()
	}
}
