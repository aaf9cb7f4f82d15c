package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bracketpi/bracketd/internal/metrics"
)

// ackRetrySchedule is the backoff before each redelivery: one retry per entry,
// so a message lives at most 13s (1+3+9) from first send. The last entry's
// fire is both the final redelivery and the drop point; no ack can arrive in
// time to extend it.
var ackRetrySchedule = []time.Duration{1 * time.Second, 3 * time.Second, 9 * time.Second}

// pendingAck tracks one ack-awaited message on one connection.
type pendingAck struct {
	conn    *displayConn
	msg     Message
	attempt int
	timer   *time.Timer
}

// ackTracker assigns message IDs, awaits client acks, and redelivers on a
// fixed backoff schedule. Tracked delivery is always direct to a local
// connection: message IDs are per-client, so routing them through the pub/sub
// bridge would fan one ID out to many clients.
type ackTracker struct {
	mu      sync.Mutex
	pending map[string]*pendingAck
	closed  bool
	newID   func() string
	after   func(time.Duration, func()) *time.Timer
}

func newAckTracker() *ackTracker {
	return &ackTracker{
		pending: make(map[string]*pendingAck),
		newID:   uuid.NewString,
		after:   time.AfterFunc,
	}
}

// send delivers msg to dc with ack tracking. The message gets a fresh ID and
// is retried per ackRetrySchedule until acked or exhausted.
func (t *ackTracker) send(dc *displayConn, msg Message) {
	msg.ID = t.newID()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	p := &pendingAck{conn: dc, msg: msg}
	t.pending[msg.ID] = p
	p.timer = t.after(ackRetrySchedule[0], func() { t.redeliver(msg.ID) })
	t.mu.Unlock()

	dc.enqueue(msg)
}

// ack resolves a pending message. Unknown IDs (late acks after a drop) are
// ignored.
func (t *ackTracker) ack(id string) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
}

func (t *ackTracker) redeliver(id string) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if !ok || t.closed {
		t.mu.Unlock()
		return
	}
	p.attempt++
	final := p.attempt >= len(ackRetrySchedule)
	if final {
		delete(t.pending, id)
	} else {
		p.timer = t.after(ackRetrySchedule[p.attempt], func() { t.redeliver(id) })
	}
	t.mu.Unlock()

	metrics.BroadcastAckRetries.Inc()
	p.conn.enqueue(p.msg)

	if final {
		metrics.BroadcastAckDropped.Inc()
		slog.Warn("websocket.ack.dropped",
			"component", "websocket",
			"event", "ack.dropped",
			"message_type", p.msg.Type,
			"display_id", p.conn.displayID,
			"attempts", p.attempt,
		)
	}
}

// dropConn abandons all pending messages for a disconnected client. The
// client will receive current state on reconnect via warm start.
func (t *ackTracker) dropConn(dc *displayConn) {
	t.mu.Lock()
	var timers []*time.Timer
	for id, p := range t.pending {
		if p.conn == dc {
			delete(t.pending, id)
			if p.timer != nil {
				timers = append(timers, p.timer)
			}
		}
	}
	t.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}
}

func (t *ackTracker) close() {
	t.mu.Lock()
	t.closed = true
	var timers []*time.Timer
	for id, p := range t.pending {
		delete(t.pending, id)
		if p.timer != nil {
			timers = append(timers, p.timer)
		}
	}
	t.mu.Unlock()
	for _, timer := range timers {
		timer.Stop()
	}
}

// pendingCount is used by tests and the status surface.
func (t *ackTracker) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
