// Package poller converts the provider's pull-only match data into push
// events: a mode-driven ticker fetches matches for the active tournament,
// detects deltas by digest, and hands changed state to the broadcast hub.
package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bracketpi/bracketd/internal/challonge"
	"github.com/bracketpi/bracketd/internal/metrics"
)

const (
	// ActiveInterval is the tick period while a tournament is underway.
	ActiveInterval = 15 * time.Second
	// DevInterval is the tick period while dev mode is on, regardless of mode.
	DevInterval = 5 * time.Second
)

// Source supplies the poller's inputs: the active tournament hint and the
// cached match fetch. Implemented over the controller, cache and provider
// client.
type Source interface {
	ActiveTournament() (string, bool)
	FetchMatches(ctx context.Context, tournamentID string) ([]byte, error)
}

// Broadcaster receives the update when a delta is detected.
type Broadcaster interface {
	BroadcastMatchesUpdate(update MatchesUpdate)
}

// MatchesUpdate is the payload of a matches:update event.
type MatchesUpdate struct {
	TournamentID string          `json:"tournament_id"`
	Matches      json.RawMessage `json:"matches"`
	Metadata     Metadata        `json:"metadata"`
	Digest       string          `json:"digest"`
	PolledAt     time.Time       `json:"polled_at"`
}

// Status is the poller snapshot for the operator surface.
type Status struct {
	Active     bool          `json:"active"`
	Interval   time.Duration `json:"interval"`
	LastPollAt time.Time     `json:"last_poll_at"`
	LastDigest string        `json:"last_digest,omitempty"`
}

// Poller is the centralized match poller. Process-singleton.
type Poller struct {
	mu         sync.Mutex
	active     bool
	interval   time.Duration
	lastPollAt time.Time
	lastDigest string
	cancel     context.CancelFunc
	fireCh     chan struct{}

	source Source
	hub    Broadcaster
}

func New(source Source, hub Broadcaster) *Poller {
	return &Poller{
		source: source,
		hub:    hub,
		fireCh: make(chan struct{}, 1),
	}
}

// Start begins ticking at the given interval. Starting an already-running
// poller retimes it; both operations are idempotent.
func (p *Poller) Start(interval time.Duration) {
	p.mu.Lock()
	if p.active && p.interval == interval {
		p.mu.Unlock()
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.active = true
	p.interval = interval
	p.mu.Unlock()

	slog.Info("poller.started",
		"component", "poller",
		"event", "poller.start",
		"interval", interval,
	)
	go p.run(ctx, interval)
}

// Stop halts ticking. A tick already in flight completes; no further ticks
// are scheduled. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	slog.Info("poller.stopped",
		"component", "poller",
		"event", "poller.stop",
	)
}

// FireNow requests an immediate tick, used by mutation paths so operator
// actions reach displays in about one round trip. Coalesces when a fire is
// already pending; a no-op when the poller is stopped.
func (p *Poller) FireNow() {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if !active {
		return
	}
	select {
	case p.fireCh <- struct{}{}:
	default:
	}
}

// Status reports the poller state for the operator surface.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Active:     p.active,
		Interval:   p.interval,
		LastPollAt: p.lastPollAt,
		LastDigest: p.lastDigest,
	}
}

func (p *Poller) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Tick immediately on start so a fresh ACTIVE transition does not wait
	// out the first interval.
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		case <-p.fireCh:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	tournamentID, ok := p.source.ActiveTournament()
	if !ok {
		return
	}

	payload, err := p.source.FetchMatches(ctx, tournamentID)
	if err != nil {
		slog.Warn("poller.fetch_failed",
			"component", "poller",
			"event", "poller.tick_error",
			"tournament_id", tournamentID,
			"error", err,
		)
		return
	}

	matches, err := challonge.DecodeMatches(payload)
	if err != nil {
		slog.Error("poller.decode_failed",
			"component", "poller",
			"event", "poller.tick_error",
			"tournament_id", tournamentID,
			"error", err,
		)
		return
	}

	digest := Digest(matches)

	p.mu.Lock()
	p.lastPollAt = time.Now()
	changed := digest != p.lastDigest
	if changed {
		p.lastDigest = digest
	}
	p.mu.Unlock()

	if !changed {
		return
	}

	update := MatchesUpdate{
		TournamentID: tournamentID,
		Matches:      json.RawMessage(payload),
		Metadata:     BuildMetadata(matches),
		Digest:       digest,
		PolledAt:     time.Now(),
	}
	metrics.PollBroadcasts.Inc()
	slog.Info("poller.delta_detected",
		"component", "poller",
		"event", "poller.broadcast",
		"tournament_id", tournamentID,
		"digest", digest[:12],
		"completed", update.Metadata.CompletedCount,
		"total", update.Metadata.TotalCount,
	)
	p.hub.BroadcastMatchesUpdate(update)
}
