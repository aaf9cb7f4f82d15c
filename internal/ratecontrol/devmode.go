package ratecontrol

import (
	"log/slog"
	"time"

	"github.com/bracketpi/bracketd/internal/metrics"
)

// devModeDuration bounds a dev-mode session. Expiry is enforced two ways: a
// scheduled disable, and a re-check on every read so a paused process (or a
// sleeping machine) cannot stretch the window.
const devModeDuration = 3 * time.Hour

type devState struct {
	activatedAt time.Time
	expiresAt   time.Time
}

// DevStatus is the dev-mode slice of the controller status.
type DevStatus struct {
	Active      bool       `json:"active"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// DevModeActive reports whether the rate-gate bypass is on. Expiry is
// evaluated on every call.
func (c *Controller) DevModeActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devActiveLocked()
}

func (c *Controller) devActiveLocked() bool {
	if c.dev.expiresAt.IsZero() {
		return false
	}
	return c.now().Before(c.dev.expiresAt)
}

// EnableDevMode bypasses the rate gate and tightens the poll interval for
// the next three hours.
func (c *Controller) EnableDevMode() {
	c.mu.Lock()
	now := c.now()
	c.dev = devState{activatedAt: now, expiresAt: now.Add(devModeDuration)}
	hook := c.onModeChange
	c.mu.Unlock()

	metrics.DevModeActive.Set(1)
	slog.Warn("ratecontrol.dev_mode_enabled",
		"component", "ratecontrol",
		"event", "devmode.enabled",
		"expires_at", now.Add(devModeDuration),
	)

	// The timer is a courtesy; DevModeActive re-checks expiry regardless.
	c.scheduler.ScheduleAfter(devModeDuration, c.expireDevMode)

	if hook != nil {
		hook()
	}
}

// DisableDevMode ends the bypass immediately.
func (c *Controller) DisableDevMode() {
	c.mu.Lock()
	wasActive := c.devActiveLocked()
	c.dev = devState{}
	hook := c.onModeChange
	c.mu.Unlock()

	metrics.DevModeActive.Set(0)
	if wasActive {
		slog.Info("ratecontrol.dev_mode_disabled",
			"component", "ratecontrol",
			"event", "devmode.disabled",
		)
	}
	if hook != nil {
		hook()
	}
}

// expireDevMode is the scheduled disable. It only fires the hook if the
// session it was scheduled for is still the live one.
func (c *Controller) expireDevMode() {
	c.mu.Lock()
	if c.dev.expiresAt.IsZero() || c.now().Before(c.dev.expiresAt) {
		c.mu.Unlock()
		return
	}
	c.dev = devState{}
	hook := c.onModeChange
	c.mu.Unlock()

	metrics.DevModeActive.Set(0)
	slog.Info("ratecontrol.dev_mode_expired",
		"component", "ratecontrol",
		"event", "devmode.expired",
	)
	if hook != nil {
		hook()
	}
}

func (c *Controller) devStatusLocked() DevStatus {
	if !c.devActiveLocked() {
		return DevStatus{Active: false}
	}
	activated := c.dev.activatedAt
	expires := c.dev.expiresAt
	return DevStatus{Active: true, ActivatedAt: &activated, ExpiresAt: &expires}
}
