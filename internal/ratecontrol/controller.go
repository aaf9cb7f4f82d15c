// Package ratecontrol classifies tournaments into IDLE, UPCOMING and ACTIVE
// modes and derives the provider request budget from the result. Mode
// changes retune the request gate and the match poller.
package ratecontrol

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bracketpi/bracketd/internal/config"
	"github.com/bracketpi/bracketd/internal/metrics"
)

// Mode is the adaptive controller mode.
type Mode string

const (
	ModeIdle     Mode = "IDLE"
	ModeUpcoming Mode = "UPCOMING"
	ModeActive   Mode = "ACTIVE"
)

// staleAfter is how old a tournament's started_at may be before the
// tournament is treated as orphaned and ignored by classification. Such a
// tournament never drives ACTIVE mode and is therefore never polled.
const staleAfter = 7 * 24 * time.Hour

// postLifecycleCheckDelay is how soon after a lifecycle mutation the next
// classification runs.
const postLifecycleCheckDelay = 500 * time.Millisecond

// TournamentSummary is the slice of tournament state classification needs.
type TournamentSummary struct {
	ID        string
	State     string
	StartsAt  *time.Time
	StartedAt *time.Time
}

// TournamentLister supplies tournaments for classification. Implemented over
// the cache + provider client.
type TournamentLister interface {
	ListTournaments(ctx context.Context) ([]TournamentSummary, error)
}

// RateSink receives the effective budget on every mode change.
type RateSink interface {
	SetRate(perMinute int)
}

// Status is the controller snapshot for the operator surface.
type Status struct {
	Mode             Mode       `json:"mode"`
	Description      string     `json:"description"`
	ManualOverride   *Mode      `json:"manual_override,omitempty"`
	EffectiveRate    int        `json:"effective_rate_per_minute"`
	ManualCap        int        `json:"manual_cap"`
	LastCheck        time.Time  `json:"last_check"`
	NextCheck        time.Time  `json:"next_check"`
	ActiveTournament string     `json:"active_tournament,omitempty"`
	DevMode          DevStatus  `json:"dev_mode"`
}

// Controller is the adaptive rate controller. Process-singleton; state
// resets to defaults on boot.
type Controller struct {
	mu             sync.Mutex
	mode           Mode
	manualOverride *Mode
	modeRates      map[Mode]int
	manualCap      int
	checkInterval  time.Duration
	upcomingWindow time.Duration
	lastCheck      time.Time
	nextCheck      time.Time
	activeID       string
	dev            devState

	lister       TournamentLister
	gate         RateSink
	scheduler    *Scheduler
	onModeChange func() // poller retune hook, also fired on dev-mode toggles
	now          func() time.Time
}

func New(cfg config.RateControlConfig, lister TournamentLister, gate RateSink, scheduler *Scheduler) *Controller {
	return &Controller{
		mode: ModeIdle,
		modeRates: map[Mode]int{
			ModeIdle:     cfg.IdleRate,
			ModeUpcoming: cfg.UpcomingRate,
			ModeActive:   cfg.ActiveRate,
		},
		manualCap:      cfg.ManualCap,
		checkInterval:  cfg.CheckInterval,
		upcomingWindow: cfg.UpcomingWindow,
		lister:         lister,
		gate:           gate,
		scheduler:      scheduler,
		now:            time.Now,
	}
}

// SetModeChangeHook installs the poller retune callback. Must be called
// before Run.
func (c *Controller) SetModeChangeHook(f func()) {
	c.mu.Lock()
	c.onModeChange = f
	c.mu.Unlock()
}

// CurrentMode returns the effective mode, honoring a manual override.
func (c *Controller) CurrentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manualOverride != nil {
		return *c.manualOverride
	}
	return c.mode
}

// EffectiveRate returns min(mode rate, manual cap) in requests per minute.
// Ignored by the gate while dev mode is active.
func (c *Controller) EffectiveRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveRateLocked()
}

func (c *Controller) effectiveRateLocked() int {
	mode := c.mode
	if c.manualOverride != nil {
		mode = *c.manualOverride
	}
	r := c.modeRates[mode]
	if r > c.manualCap {
		r = c.manualCap
	}
	if r < 1 {
		r = 1
	}
	if r > 60 {
		r = 60
	}
	return r
}

// ActiveTournament returns the id of the tournament driving ACTIVE mode, as
// cached by the last Check.
func (c *Controller) ActiveTournament() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID, c.activeID != ""
}

// Check classifies tournaments and applies the resulting mode. A manual
// override suppresses the mode change but classification still refreshes the
// active-tournament hint.
func (c *Controller) Check(ctx context.Context) error {
	tournaments, err := c.lister.ListTournaments(ctx)
	if err != nil {
		slog.Error("ratecontrol.check_failed",
			"component", "ratecontrol",
			"event", "check.error",
			"error", err,
		)
		c.mu.Lock()
		c.lastCheck = c.now()
		c.nextCheck = c.lastCheck.Add(c.checkInterval)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	mode, activeID := classify(tournaments, c.now(), c.upcomingWindow)
	changed := mode != c.mode
	c.mode = mode
	c.activeID = activeID
	c.lastCheck = c.now()
	c.nextCheck = c.lastCheck.Add(c.checkInterval)
	c.mu.Unlock()

	slog.Info("ratecontrol.check",
		"component", "ratecontrol",
		"event", "check.complete",
		"mode", mode,
		"active_tournament", activeID,
		"tournaments", len(tournaments),
		"changed", changed,
	)

	c.applyMode()
	return nil
}

// classify implements the mode selection:
// underway (and not stale) wins, then a start within the upcoming window,
// otherwise idle.
func classify(tournaments []TournamentSummary, now time.Time, window time.Duration) (Mode, string) {
	upcoming := false
	for _, t := range tournaments {
		if t.StartedAt != nil && now.Sub(*t.StartedAt) > staleAfter {
			// Orphaned: closed out-of-band and never finalized.
			continue
		}
		if t.State == "underway" {
			return ModeActive, t.ID
		}
		if t.StartsAt != nil && t.StartsAt.Sub(now) <= window {
			upcoming = true
		}
	}
	if upcoming {
		return ModeUpcoming, ""
	}
	return ModeIdle, ""
}

// SetOverride forces the mode. A nil mode restores automatic control and
// immediately re-runs Check.
func (c *Controller) SetOverride(ctx context.Context, mode *Mode) error {
	c.mu.Lock()
	c.manualOverride = mode
	c.mu.Unlock()

	if mode == nil {
		return c.Check(ctx)
	}
	c.applyMode()
	return nil
}

// ScheduleCheckSoon schedules a Check shortly after a lifecycle mutation so
// mode transitions happen promptly.
func (c *Controller) ScheduleCheckSoon() {
	c.scheduler.ScheduleAfter(postLifecycleCheckDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.Check(ctx) //nolint:errcheck
	})
}

// applyMode pushes the effective rate into the gate and retunes the poller.
func (c *Controller) applyMode() {
	c.mu.Lock()
	rate := c.effectiveRateLocked()
	mode := c.mode
	if c.manualOverride != nil {
		mode = *c.manualOverride
	}
	hook := c.onModeChange
	c.mu.Unlock()

	metrics.RateControlEffectiveRate.Set(float64(rate))
	metrics.RateControlMode.Set(modeGaugeValue(mode))

	if c.gate != nil {
		c.gate.SetRate(rate)
	}
	if hook != nil {
		hook()
	}
}

func modeGaugeValue(mode Mode) float64 {
	switch mode {
	case ModeActive:
		return 2
	case ModeUpcoming:
		return 1
	default:
		return 0
	}
}

// Status reports the controller state for the operator surface.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	mode := c.mode
	if c.manualOverride != nil {
		mode = *c.manualOverride
	}
	return Status{
		Mode:             mode,
		Description:      modeDescription(mode),
		ManualOverride:   c.manualOverride,
		EffectiveRate:    c.effectiveRateLocked(),
		ManualCap:        c.manualCap,
		LastCheck:        c.lastCheck,
		NextCheck:        c.nextCheck,
		ActiveTournament: c.activeID,
		DevMode:          c.devStatusLocked(),
	}
}

func modeDescription(mode Mode) string {
	switch mode {
	case ModeActive:
		return "a tournament is underway; polling and budget at maximum"
	case ModeUpcoming:
		return "a tournament starts within the upcoming window"
	default:
		return "no tournaments near; minimal provider traffic"
	}
}

// Run drives the periodic check until ctx is cancelled. The first check runs
// immediately so the process does not boot blind.
func (c *Controller) Run(ctx context.Context) {
	c.Check(ctx) //nolint:errcheck

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx) //nolint:errcheck
		}
	}
}
