// Package dispatch owns provider mutations. Every mutation follows the same
// contract: refresh a baseline through the cache with ForWrite (never serve
// cache; abort if the refresh fails), issue the provider request, then
// invalidate every cache keyed on the affected tournament. Match mutations
// additionally trigger an immediate repoll; lifecycle mutations schedule a
// prompt rate-controller check.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/bracketpi/bracketd/internal/cache"
	"github.com/bracketpi/bracketd/internal/challonge"
)

// ProviderClient is the slice of the provider API client the dispatcher uses.
type ProviderClient interface {
	Request(ctx context.Context, method string, target any, options ...challonge.RequestOption) ([]byte, error)
	TournamentRaw(ctx context.Context, tournamentID string) ([]byte, error)
	MatchesRaw(ctx context.Context, tournamentID string) ([]byte, error)
	ParticipantsRaw(ctx context.Context, tournamentID string) ([]byte, error)
	ListTournamentsRaw(ctx context.Context, params map[string]string) ([]byte, error)
}

// Repoller triggers an immediate match poll after a match mutation.
type Repoller interface {
	FireNow()
}

// CheckScheduler requests a prompt rate-controller check after a lifecycle
// mutation.
type CheckScheduler interface {
	ScheduleCheckSoon()
}

// EventSink pushes tournament lifecycle changes to connected displays.
type EventSink interface {
	BroadcastTournamentUpdate(tournamentID, action string)
}

// Service is the mutation dispatcher.
type Service struct {
	client ProviderClient
	cache  *cache.Cache
	poller Repoller
	checks CheckScheduler
	events EventSink
}

func NewService(client ProviderClient, contentCache *cache.Cache, poller Repoller, checks CheckScheduler) *Service {
	return &Service{
		client: client,
		cache:  contentCache,
		poller: poller,
		checks: checks,
	}
}

// freshBaseline fetches the entity with ForWrite semantics: the provider is
// always consulted and a failure aborts the mutation.
func (s *Service) freshBaseline(ctx context.Context, typ cache.Type, tournamentID string, fetch cache.Fetcher) ([]byte, error) {
	payload, _, err := s.cache.GetOrFetch(ctx, typ, tournamentID, fetch, cache.Options{ForWrite: true})
	return payload, err
}

// afterMatchMutation invalidates the tournament's caches and asks the poller
// to repoll so displays converge within one round trip.
func (s *Service) afterMatchMutation(tournamentID, action string) {
	s.invalidateTournament(tournamentID, action)
	if s.poller != nil {
		s.poller.FireNow()
	}
}

// SetEventSink attaches the broadcast hub. Optional; a nil sink just skips
// the tournament:update notifications.
func (s *Service) SetEventSink(events EventSink) {
	s.events = events
}

// afterLifecycleMutation additionally drops the tournaments list, notifies
// displays, and asks the controller to re-classify promptly.
func (s *Service) afterLifecycleMutation(tournamentID, action string) {
	if tournamentID != "" {
		s.invalidateTournament(tournamentID, action)
	}
	if err := s.cache.Invalidate(cache.TypeTournamentsList, ""); err != nil {
		slog.Error("dispatch.invalidate_failed",
			"component", "dispatch",
			"event", "dispatch.invalidate_error",
			"cache_type", cache.TypeTournamentsList,
			"action", action,
			"error", err,
		)
	}
	if s.events != nil {
		s.events.BroadcastTournamentUpdate(tournamentID, action)
	}
	if s.checks != nil {
		s.checks.ScheduleCheckSoon()
	}
}

func (s *Service) invalidateTournament(tournamentID, action string) {
	if err := s.cache.InvalidateTournament(tournamentID); err != nil {
		slog.Error("dispatch.invalidate_failed",
			"component", "dispatch",
			"event", "dispatch.invalidate_error",
			"tournament_id", tournamentID,
			"action", action,
			"error", err,
		)
		return
	}
	slog.Info("dispatch.caches_invalidated",
		"component", "dispatch",
		"event", "dispatch.invalidated",
		"tournament_id", tournamentID,
		"action", action,
	)
}
