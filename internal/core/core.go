// Package core assembles the application: every component is a field on a
// single AppCore value built at startup and handed to the HTTP layer. No
// package-level mutable state; tests construct a core per test.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bracketpi/bracketd/internal/cache"
	"github.com/bracketpi/bracketd/internal/challonge"
	"github.com/bracketpi/bracketd/internal/challonge/oauthclient"
	"github.com/bracketpi/bracketd/internal/config"
	"github.com/bracketpi/bracketd/internal/db"
	"github.com/bracketpi/bracketd/internal/dispatch"
	"github.com/bracketpi/bracketd/internal/gate"
	"github.com/bracketpi/bracketd/internal/poller"
	"github.com/bracketpi/bracketd/internal/ratecontrol"
	"github.com/bracketpi/bracketd/internal/tokenrefresh"
	"github.com/bracketpi/bracketd/internal/websocket"
)

// AppCore wires the request gate, adaptive controller, provider client,
// content cache, match poller, broadcast hub and mutation dispatcher.
type AppCore struct {
	Config     *config.Config
	Conns      *db.Connections
	Gate       *gate.Gate
	Scheduler  *ratecontrol.Scheduler
	Controller *ratecontrol.Controller
	OAuth      *oauthclient.Client
	Tokens     *tokenrefresh.Service
	Client     *challonge.Client
	Cache      *cache.Cache
	Hub        *websocket.Hub
	Poller     *poller.Poller
	Dispatch   *dispatch.Service

	closeOnce sync.Once
}

// New assembles an AppCore from configuration and open connections.
func New(cfg *config.Config, conns *db.Connections) *AppCore {
	c := &AppCore{
		Config: cfg,
		Conns:  conns,
	}

	// The manual cap bounds every rate, including the boot seed.
	c.Gate = gate.New(min(cfg.RateControl.IdleRate, cfg.RateControl.ManualCap), challonge.IsRateLimitStatus)
	c.Scheduler = ratecontrol.NewScheduler()

	if cfg.Provider.OAuthClientID != "" {
		c.OAuth = oauthclient.New(
			cfg.Provider.OAuthClientID,
			cfg.Provider.OAuthClientSecret,
			cfg.Provider.OAuthRedirectURI,
			cfg.Provider.BaseURL,
		)
		c.Tokens = tokenrefresh.NewService(conns, c.OAuth)
	}

	// The client takes the TokenSource as an interface; a nil *Service must
	// become a true nil interface.
	var tokens challonge.TokenSource
	if c.Tokens != nil {
		tokens = c.Tokens
	}
	c.Client = challonge.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.LegacyAPIKey,
		cfg.Provider.RequestTimeout,
		c.Gate,
		tokens,
	)

	c.Cache = cache.New(conns, func() bool {
		return c.Controller != nil && c.Controller.CurrentMode() == ratecontrol.ModeActive
	})

	c.Controller = ratecontrol.New(cfg.RateControl, &tournamentLister{core: c}, c.Gate, c.Scheduler)
	c.Gate.SetBypass(c.Controller.DevModeActive)

	c.Hub = websocket.NewHub(conns.Redis)
	c.Poller = poller.New(&pollerSource{core: c}, c.Hub)
	c.Controller.SetModeChangeHook(c.retunePoller)

	c.Dispatch = dispatch.NewService(c.Client, c.Cache, c.Poller, c.Controller)
	c.Dispatch.SetEventSink(c.Hub)

	return c
}

// Run starts the background loops and blocks until ctx is cancelled.
func (c *AppCore) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		c.Gate.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.Hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		c.Controller.Run(ctx)
	}()

	<-ctx.Done()
	c.Close()
	wg.Wait()
}

// Close stops the poller, scheduler and hub. Safe to call multiple times.
func (c *AppCore) Close() {
	c.closeOnce.Do(func() {
		c.Poller.Stop()
		c.Scheduler.Close()
		c.Hub.Close()
		slog.Info("core.closed", "component", "core", "event", "core.close")
	})
}

// retunePoller applies the poll schedule for the current mode: dev mode polls
// fastest regardless of mode, ACTIVE polls at the standard cadence, anything
// else stops the poller.
func (c *AppCore) retunePoller() {
	switch {
	case c.Controller.DevModeActive():
		c.Poller.Start(poller.DevInterval)
	case c.Controller.CurrentMode() == ratecontrol.ModeActive:
		c.Poller.Start(poller.ActiveInterval)
	default:
		c.Poller.Stop()
	}
}

// tournamentLister feeds classification from the cached tournaments list.
type tournamentLister struct {
	core *AppCore
}

func (l *tournamentLister) ListTournaments(ctx context.Context) ([]ratecontrol.TournamentSummary, error) {
	payload, _, err := l.core.Cache.GetOrFetch(ctx, cache.TypeTournamentsList, "list",
		func(ctx context.Context) ([]byte, error) {
			return l.core.Client.ListTournamentsRaw(ctx, nil)
		}, cache.Options{})
	if err != nil {
		return nil, err
	}
	tournaments, err := challonge.DecodeTournamentList(payload)
	if err != nil {
		return nil, err
	}
	summaries := make([]ratecontrol.TournamentSummary, 0, len(tournaments))
	for _, t := range tournaments {
		summaries = append(summaries, ratecontrol.TournamentSummary{
			ID:        t.ID,
			State:     t.State,
			StartsAt:  t.StartsAt,
			StartedAt: t.StartedAt,
		})
	}
	return summaries, nil
}

// pollerSource feeds the match poller from the controller hint and the cache.
type pollerSource struct {
	core *AppCore
}

func (s *pollerSource) ActiveTournament() (string, bool) {
	return s.core.Controller.ActiveTournament()
}

func (s *pollerSource) FetchMatches(ctx context.Context, tournamentID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	payload, _, err := s.core.Cache.GetOrFetch(ctx, cache.TypeMatches, tournamentID,
		func(ctx context.Context) ([]byte, error) {
			return s.core.Client.MatchesRaw(ctx, tournamentID)
		}, cache.Options{})
	return payload, err
}
