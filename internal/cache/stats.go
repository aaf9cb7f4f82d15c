package cache

import (
	"time"

	"github.com/bracketpi/bracketd/internal/db/cachestore"
)

// TypeStats is the per-type slice of the cache statistics report.
type TypeStats struct {
	Hits               int64      `json:"hits"`
	Misses             int64      `json:"misses"`
	SavedProviderCalls int64      `json:"saved_provider_calls"`
	HitRate            float64    `json:"hit_rate"`
	LastHit            *time.Time `json:"last_hit,omitempty"`
	LastMiss           *time.Time `json:"last_miss,omitempty"`
	EntryCount         int64      `json:"entry_count"`
}

// StatsReport aggregates per-type counters plus totals.
type StatsReport struct {
	Types  map[string]TypeStats `json:"types"`
	Totals TypeStats            `json:"totals"`
}

// Stats builds the statistics report from the persisted counters and the
// current row counts.
func (c *Cache) Stats() (*StatsReport, error) {
	rows, err := cachestore.GetStats(c.conns)
	if err != nil {
		return nil, err
	}
	byType := make(map[string]TypeStats, len(cachestore.Types))

	report := &StatsReport{Types: byType}
	for _, row := range rows {
		ts := TypeStats{
			Hits:               row.Hits,
			Misses:             row.Misses,
			SavedProviderCalls: row.Saved,
			LastHit:            row.LastHit,
			LastMiss:           row.LastMiss,
		}
		byType[row.Type] = ts
	}

	for _, typ := range cachestore.Types {
		ts := byType[string(typ)]
		count, err := cachestore.CountEntries(c.conns, typ)
		if err != nil {
			return nil, err
		}
		ts.EntryCount = count
		if total := ts.Hits + ts.Misses; total > 0 {
			ts.HitRate = float64(ts.Hits) / float64(total)
		}
		byType[string(typ)] = ts

		report.Totals.Hits += ts.Hits
		report.Totals.Misses += ts.Misses
		report.Totals.SavedProviderCalls += ts.SavedProviderCalls
		report.Totals.EntryCount += ts.EntryCount
	}
	if total := report.Totals.Hits + report.Totals.Misses; total > 0 {
		report.Totals.HitRate = float64(report.Totals.Hits) / float64(total)
	}
	return report, nil
}

// TournamentSummary reports which cache rows exist for one tournament.
type TournamentSummary struct {
	TournamentID string                      `json:"tournament_id"`
	Entries      map[string]TournamentEntry  `json:"entries"`
}

// TournamentEntry is one cached row in a tournament summary.
type TournamentEntry struct {
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Stale     bool      `json:"stale"`
	Count     int       `json:"count,omitempty"`
}

// TournamentCacheSummary reports the cache state for one tournament across
// all tournament-scoped types.
func (c *Cache) TournamentCacheSummary(tournamentID string) (*TournamentSummary, error) {
	summary := &TournamentSummary{
		TournamentID: tournamentID,
		Entries:      make(map[string]TournamentEntry),
	}
	now := c.now()
	for _, typ := range cachestore.TournamentScopedTypes {
		entry, err := cachestore.Get(c.conns, typ, tournamentID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		summary.Entries[string(typ)] = TournamentEntry{
			CachedAt:  entry.CachedAt,
			ExpiresAt: entry.ExpiresAt,
			Stale:     now.After(entry.ExpiresAt),
			Count:     entry.Count,
		}
	}
	return summary, nil
}
