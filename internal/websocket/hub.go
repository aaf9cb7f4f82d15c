package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/bracketpi/bracketd/internal/db"
	"github.com/bracketpi/bracketd/internal/metrics"
	"github.com/bracketpi/bracketd/internal/poller"
)

const (
	pingInterval   = 30 * time.Second
	pongTimeout    = 60 * time.Second
	writeTimeout   = 10 * time.Second
	readLimit      = 4096
	sendBufferSize = 32
	// redisChanPrefix is the prefix for pub/sub channel names. Not a key prefix.
	// Full channel names: ws:displays, ws:role:{role}, ws:display:{id}, ws:admins
	redisChanPrefix = "ws:"
	// lastMatchesKey holds the most recent matches:update payload so displays
	// connecting after a restart still get a warm start.
	lastMatchesKey = "ws:last_matches_update"
	lastMatchesTTL = 24 * time.Hour
	// activityLogSize bounds the feed replayed to newly connected displays.
	activityLogSize = 50
)

// Display roles. A display declares one at registration.
const (
	RoleMatch   = "match"
	RoleBracket = "bracket"
	RoleFlyer   = "flyer"
)

// ValidRole reports whether role is one a display may register with.
func ValidRole(role string) bool {
	return role == RoleMatch || role == RoleBracket || role == RoleFlyer
}

type subscribeReq struct {
	channel string
	respCh  chan error // buffered (size 1) so hub.Run never blocks
}

// displayConn holds a single display's WebSocket connection state.
type displayConn struct {
	hub         *Hub
	conn        *ws.Conn
	send        chan Message
	displayID   string
	role        string
	admin       bool
	channelKeys []string // routing keys, e.g. ["displays", "role:match", "display:stage-left"]
}

// enqueue hands msg to the connection's write pump without blocking. A
// slow client drops the message; ack-tracked messages are redelivered by the
// tracker, the rest are superseded by the next update.
func (dc *displayConn) enqueue(msg Message) {
	select {
	case dc.send <- msg:
	default:
		slog.Warn("websocket.hub.send_buffer_full",
			"component", "websocket",
			"event", "hub.drop_message",
			"display_id", dc.displayID,
			"message_type", msg.Type,
		)
	}
}

// Hub is the in-memory registry of active display WebSocket connections.
// Fire-and-forget broadcasts go through Redis pub/sub so any instance can
// publish; ack-tracked events are delivered directly to local connections.
type Hub struct {
	mu              sync.RWMutex
	displays        map[string]*displayConn        // keyed by display ID
	channelDisplays map[string]map[string]struct{} // channelKey → set of display IDs
	lastMatches     *Message                       // most recent matches:update
	activityLog     []ActivityEntry                // bounded, newest last

	redis *db.RedisClient
	acks  *ackTracker

	// subCh and unsubCh carry channel names to the Run goroutine.
	subCh     chan subscribeReq
	unsubCh   chan string
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewHub creates a new Hub backed by the given RedisClient.
func NewHub(redis *db.RedisClient) *Hub {
	return &Hub{
		displays:        make(map[string]*displayConn),
		channelDisplays: make(map[string]map[string]struct{}),
		redis:           redis,
		acks:            newAckTracker(),
		subCh:           make(chan subscribeReq, 8),
		unsubCh:         make(chan string, 8),
		closeCh:         make(chan struct{}),
	}
}

func (h *Hub) subscribeSync(ctx context.Context, channel string) error {
	respCh := make(chan error, 1)
	req := subscribeReq{channel: channel, respCh: respCh}

	// Subscription requests MUST NOT be dropped: if we accept a WebSocket
	// connection but fail to subscribe to its Redis channels, the hub will
	// silently miss messages. Block here, bounded by ctx.
	select {
	case h.subCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-respCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterDisplayAndSubscribe registers dc and ensures the required Redis
// subscriptions are in place before returning. On success the display is sent
// the last known matches:update so it renders current state immediately.
// If subscription fails, the connection is unregistered so the client can
// retry cleanly.
func (h *Hub) RegisterDisplayAndSubscribe(ctx context.Context, dc *displayConn) error {
	channelKeys := []string{"displays", "role:" + dc.role, "display:" + dc.displayID}
	if dc.admin {
		channelKeys = append(channelKeys, "admins")
	}
	dc.channelKeys = channelKeys

	needsSub := make([]bool, len(channelKeys))
	var toUnsub []string
	var replaced *displayConn

	h.mu.Lock()

	// If this display is already connected, replace the old connection.
	if old := h.displays[dc.displayID]; old != nil && old != dc {
		replaced = old

		for _, channelKey := range old.channelKeys {
			if ids, ok := h.channelDisplays[channelKey]; ok {
				delete(ids, dc.displayID)
				if len(ids) == 0 {
					delete(h.channelDisplays, channelKey)
					toUnsub = append(toUnsub, channelKey)
				}
			}
		}
	}

	h.displays[dc.displayID] = dc
	for i, channelKey := range channelKeys {
		if h.channelDisplays[channelKey] == nil {
			h.channelDisplays[channelKey] = make(map[string]struct{})
		}
		needsSub[i] = len(h.channelDisplays[channelKey]) == 0
		h.channelDisplays[channelKey][dc.displayID] = struct{}{}
	}

	h.mu.Unlock()

	slog.Info("websocket.hub.display_registered",
		"component", "websocket",
		"event", "hub.register",
		"display_id", dc.displayID,
		"role", dc.role,
		"admin", dc.admin,
	)
	metrics.DisplaysConnected.WithLabelValues(dc.role).Inc()
	if replaced != nil {
		metrics.DisplaysConnected.WithLabelValues(replaced.role).Dec()
	}

	// Unsubscribe requests are best-effort, but still avoid silent drops:
	// block unless ctx is done.
	for _, channelKey := range toUnsub {
		select {
		case h.unsubCh <- redisChanPrefix + channelKey:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Ensure subscriptions are actually applied before we proceed.
	for i, channelKey := range channelKeys {
		if !needsSub[i] {
			continue
		}
		if err := h.subscribeSync(ctx, redisChanPrefix+channelKey); err != nil {
			slog.Error("websocket.hub.subscribe_failed_before_accept",
				"component", "websocket",
				"event", "hub.subscribe_sync_error",
				"channel", redisChanPrefix+channelKey,
				"display_id", dc.displayID,
				"error", err,
			)
			h.UnregisterDisplayConn(dc)
			return err
		}
	}

	// Ask the replaced connection to disconnect (outside the hub lock).
	if replaced != nil {
		h.acks.dropConn(replaced)
		select {
		case replaced.send <- DisconnectMessage("replaced by new connection"):
		default:
		}
		close(replaced.send)
		if replaced.conn != nil {
			replaced.conn.Close() //nolint:errcheck
		}
	}

	// Warm start.
	if msg, ok := h.lastMatchesUpdate(ctx); ok {
		dc.enqueue(msg)
	}
	h.mu.RLock()
	entries := append([]ActivityEntry(nil), h.activityLog...)
	h.mu.RUnlock()
	if len(entries) > 0 {
		dc.enqueue(EventMessage(TypeActivityInitial, ActivityFeedPayload{Entries: entries}))
	}

	return nil
}

// lastMatchesUpdate returns the most recent matches:update, preferring the
// in-memory copy and falling back to Redis after a restart.
func (h *Hub) lastMatchesUpdate(ctx context.Context) (Message, bool) {
	h.mu.RLock()
	cached := h.lastMatches
	h.mu.RUnlock()
	if cached != nil {
		return *cached, true
	}
	if h.redis == nil {
		return Message{}, false
	}
	raw, err := h.redis.Get(ctx, lastMatchesKey).Result()
	if err != nil {
		return Message{}, false
	}
	msg := Message{Type: TypeMatchesUpdate, Payload: json.RawMessage(raw)}
	h.mu.Lock()
	h.lastMatches = &msg
	h.mu.Unlock()
	return msg, true
}

// IsConnected reports whether a display with the given ID is currently
// registered in this Hub instance.
func (h *Hub) IsConnected(displayID string) bool {
	h.mu.RLock()
	_, ok := h.displays[displayID]
	h.mu.RUnlock()
	return ok
}

// UnregisterDisplayConn removes a specific connection from the hub and
// requests Redis unsubscriptions for any channels with no remaining
// subscribers.
//
// Connection-aware so a stale connection cannot unregister a newer
// replacement that reused the same display ID.
func (h *Hub) UnregisterDisplayConn(dc *displayConn) {
	if dc == nil {
		return
	}

	var toUnsub []string

	h.mu.Lock()

	current := h.displays[dc.displayID]
	if current != dc {
		h.mu.Unlock()
		return
	}

	delete(h.displays, dc.displayID)
	for _, channelKey := range dc.channelKeys {
		if ids, ok := h.channelDisplays[channelKey]; ok {
			delete(ids, dc.displayID)
			if len(ids) == 0 {
				delete(h.channelDisplays, channelKey)
				toUnsub = append(toUnsub, channelKey)
			}
		}
	}

	h.mu.Unlock()

	h.acks.dropConn(dc)
	metrics.DisplaysConnected.WithLabelValues(dc.role).Dec()
	slog.Info("websocket.hub.display_unregistered",
		"component", "websocket",
		"event", "hub.unregister",
		"display_id", dc.displayID,
		"role", dc.role,
	)

	// Unsubscribe is best-effort; block unless the hub is shutting down.
	for _, channelKey := range toUnsub {
		select {
		case h.unsubCh <- redisChanPrefix + channelKey:
		case <-h.closeCh:
			return
		}
	}
}

// BroadcastMatchesUpdate sends the poller's delta to every display and
// persists it for warm starts.
func (h *Hub) BroadcastMatchesUpdate(update poller.MatchesUpdate) {
	msg := EventMessage(TypeMatchesUpdate, update)

	h.mu.Lock()
	h.lastMatches = &msg
	h.mu.Unlock()

	if h.redis != nil {
		if err := h.redis.Set(context.Background(), lastMatchesKey, []byte(msg.Payload), lastMatchesTTL).Err(); err != nil {
			slog.Warn("websocket.hub.persist_failed",
				"component", "websocket",
				"event", "hub.persist_error",
				"error", err,
			)
		}
	}

	h.BroadcastToAll(msg)
}

// BroadcastTournamentUpdate notifies every display of a tournament lifecycle
// change. Implements the mutation dispatcher's event sink.
func (h *Hub) BroadcastTournamentUpdate(tournamentID, action string) {
	h.BroadcastToAll(EventMessage(TypeTournamentUpdate, TournamentUpdatePayload{
		TournamentID: tournamentID,
		Action:       action,
	}))
}

// BroadcastActivity appends entry to the bounded activity feed and announces
// it to every display. The feed is replayed as activity:initial on connect.
func (h *Hub) BroadcastActivity(entry ActivityEntry) {
	h.mu.Lock()
	h.activityLog = append(h.activityLog, entry)
	if len(h.activityLog) > activityLogSize {
		h.activityLog = h.activityLog[len(h.activityLog)-activityLogSize:]
	}
	h.mu.Unlock()

	h.BroadcastToAll(EventMessage(TypeActivityNew, entry))
}

// BroadcastToAll sends msg to every connected display.
func (h *Hub) BroadcastToAll(msg Message) {
	h.broadcast("displays", msg)
}

// BroadcastToRole sends msg to displays registered with the given role.
func (h *Hub) BroadcastToRole(role string, msg Message) {
	h.broadcast("role:"+role, msg)
}

// BroadcastToDisplay sends msg to the specific display.
func (h *Hub) BroadcastToDisplay(displayID string, msg Message) {
	h.broadcast("display:"+displayID, msg)
}

// BroadcastToAdmins sends msg to connected admin clients.
func (h *Hub) BroadcastToAdmins(msg Message) {
	h.broadcast("admins", msg)
}

// broadcast routes msg for channelKey. Fire-and-forget messages go through
// Redis pub/sub so every instance's local clients receive them. Ack-tracked
// messages are delivered directly: their IDs are per-client and exist only in
// this instance's tracker.
func (h *Hub) broadcast(channelKey string, msg Message) {
	if needsAck(msg.Type) {
		for _, dc := range h.connsForChannel(channelKey) {
			h.acks.send(dc, msg)
		}
		return
	}

	// Without Redis there is no pub/sub bridge; deliver straight to the
	// local connections, same as lastMatchesUpdate's degraded path.
	if h.redis == nil {
		h.deliverToChannel(channelKey, msg)
		return
	}

	channel := redisChanPrefix + channelKey
	if err := h.redis.Publish(context.Background(), channel, msg); err != nil {
		slog.Error("websocket.hub.publish_failed",
			"component", "websocket",
			"event", "hub.publish_error",
			"channel_key", channelKey,
			"error", err,
		)
	}
}

// HandleAck resolves a pending ack-tracked message. Called by the read pump.
func (h *Hub) HandleAck(id string) {
	h.acks.ack(id)
}

// ConnectedCount reports the number of registered displays.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.displays)
}

// PendingAcks reports the number of messages awaiting acknowledgement.
func (h *Hub) PendingAcks() int {
	return h.acks.pendingCount()
}

// Run starts the hub's Redis pub/sub listener. Call it in a goroutine.
// It blocks until ctx is cancelled or Close is called.
func (h *Hub) Run(ctx context.Context) {
	pubSub := h.redis.Subscribe(ctx)
	defer pubSub.Close()

	// Events() uses ChannelWithSubscriptions so we receive both subscription
	// confirmations and actual messages. This allows subscribeSync to wait
	// until Redis has truly registered the subscription before returning,
	// eliminating the race between SUBSCRIBE and a subsequent PUBLISH.
	eventCh := pubSub.Events()

	// pendingSubs maps a fully-prefixed channel name to the response channel
	// of the subscribeSync call awaiting Redis confirmation.
	pendingSubs := make(map[string]chan<- error)

	for {
		select {
		case <-ctx.Done():
			h.closeAllConnections("server shutting down")
			return
		case <-h.closeCh:
			h.closeAllConnections("hub closed")
			return

		case req := <-h.subCh:
			err := pubSub.Subscribe(ctx, req.channel)
			if err != nil {
				// Send error immediately; no confirmation will arrive.
				select {
				case req.respCh <- err:
				default:
				}
			} else {
				// Confirmation will arrive as a PubSubSubscribed event.
				pendingSubs[req.channel] = req.respCh
			}

		case channel := <-h.unsubCh:
			if err := pubSub.Unsubscribe(ctx, channel); err != nil {
				slog.Error("websocket.hub.unsubscribe_failed",
					"component", "websocket",
					"event", "hub.unsubscribe_error",
					"channel", channel,
					"error", err,
				)
			}

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			switch event.Kind {
			case db.PubSubSubscribed:
				// Redis confirmed the subscription; unblock the waiting subscribeSync.
				if respCh, ok := pendingSubs[event.Channel]; ok {
					delete(pendingSubs, event.Channel)
					select {
					case respCh <- nil:
					default:
					}
				}

			case db.PubSubMessage:
				if len(event.Channel) <= len(redisChanPrefix) {
					continue
				}
				channelKey := event.Channel[len(redisChanPrefix):]
				var msg Message
				if err := json.Unmarshal([]byte(event.Payload), &msg); err != nil {
					slog.Warn("websocket.hub.bad_redis_payload",
						"component", "websocket",
						"event", "hub.decode_error",
						"channel", event.Channel,
						"error", err,
					)
					continue
				}
				h.deliverToChannel(channelKey, msg)
			}
		}
	}
}

// connsForChannel snapshots the locally-registered connections for channelKey.
func (h *Hub) connsForChannel(channelKey string) []*displayConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := h.channelDisplays[channelKey]
	conns := make([]*displayConn, 0, len(ids))
	for id := range ids {
		if dc, ok := h.displays[id]; ok {
			conns = append(conns, dc)
		}
	}
	return conns
}

// deliverToChannel sends msg to all locally-registered displays for channelKey.
func (h *Hub) deliverToChannel(channelKey string, msg Message) {
	// Keep the in-memory warm-start copy fresh on bridged updates too.
	if msg.Type == TypeMatchesUpdate {
		h.mu.Lock()
		h.lastMatches = &msg
		h.mu.Unlock()
	}
	for _, dc := range h.connsForChannel(channelKey) {
		dc.enqueue(msg)
	}
}

// closeAllConnections sends a disconnect message to every connected display
// and closes their send channels, terminating their write pumps.
func (h *Hub) closeAllConnections(reason string) {
	h.mu.Lock()
	conns := make([]*displayConn, 0, len(h.displays))
	for _, dc := range h.displays {
		conns = append(conns, dc)
	}
	h.mu.Unlock()

	h.acks.close()
	msg := DisconnectMessage(reason)
	for _, dc := range conns {
		select {
		case dc.send <- msg:
		default:
		}
		close(dc.send)
	}
}

// Close shuts down the hub, disconnecting all displays. Safe to call multiple
// times.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closeCh) })
}

// writePump runs in a goroutine per display. It writes outgoing messages and
// sends periodic pings. Per-client ordering comes from this single writer
// draining the send channel in FIFO order.
func (dc *displayConn) writePump() {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		pingTicker.Stop()
		dc.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-dc.send:
			dc.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				dc.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "")) //nolint:errcheck
				return
			}
			if err := dc.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-pingTicker.C:
			dc.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := dc.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump runs in the handler goroutine. It reads incoming messages from the
// display, resolving acks. When it returns the display is unregistered.
func (dc *displayConn) readPump() {
	defer func() {
		dc.hub.UnregisterDisplayConn(dc)
		dc.conn.Close()
	}()

	dc.conn.SetReadLimit(readLimit)
	dc.conn.SetReadDeadline(time.Now().Add(pongTimeout)) //nolint:errcheck
	dc.conn.SetPongHandler(func(string) error {
		return dc.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var msg Message
		if err := dc.conn.ReadJSON(&msg); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseAbnormalClosure, ws.CloseNormalClosure) {
				slog.Warn("websocket.display.unexpected_close",
					"component", "websocket",
					"event", "display.read_error",
					"display_id", dc.displayID,
					"error", err,
				)
			}
			break
		}

		if msg.Type == TypeAck && msg.ID != "" {
			dc.hub.HandleAck(msg.ID)
		}
	}
}
