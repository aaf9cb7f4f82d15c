// Package cache implements the stale-while-revalidate content cache over
// the relational store. Reads prefer freshness, tolerate staleness when the
// provider is unreachable, and never lie about it: the Stale and Offline
// meta flags are always populated.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/bracketpi/bracketd/internal/db"
	"github.com/bracketpi/bracketd/internal/db/cachestore"
	"github.com/bracketpi/bracketd/internal/metrics"
)

// Type re-exports the cache table identifiers.
type Type = cachestore.Type

const (
	TypeTournamentsList = cachestore.TypeTournamentsList
	TypeMatches         = cachestore.TypeMatches
	TypeParticipants    = cachestore.TypeParticipants
	TypeStations        = cachestore.TypeStations
	TypeDetails         = cachestore.TypeDetails
)

// defaultTTLs apply outside ACTIVE mode.
var defaultTTLs = map[Type]time.Duration{
	TypeTournamentsList: 60 * time.Second,
	TypeMatches:         30 * time.Second,
	TypeParticipants:    120 * time.Second,
	TypeStations:        300 * time.Second,
	TypeDetails:         300 * time.Second,
}

// activeTTLs apply while the adaptive controller is in ACTIVE mode.
var activeTTLs = map[Type]time.Duration{
	TypeTournamentsList: 30 * time.Second,
	TypeMatches:         15 * time.Second,
	TypeParticipants:    60 * time.Second,
	TypeStations:        60 * time.Second,
	TypeDetails:         120 * time.Second,
}

// Meta describes where a payload came from and how trustworthy it is.
type Meta struct {
	Source   string        `json:"source"` // "cache" or "provider"
	Stale    bool          `json:"stale"`
	Offline  bool          `json:"offline,omitempty"`
	ForWrite bool          `json:"for_write,omitempty"`
	CachedAt time.Time     `json:"cached_at"`
	Age      time.Duration `json:"age"`
	Version  string        `json:"version,omitempty"`
	Err      error         `json:"-"`
}

// Fetcher retrieves a fresh payload from the provider.
type Fetcher func(ctx context.Context) ([]byte, error)

// Options adjust a GetOrFetch call.
type Options struct {
	// ForWrite forces a provider fetch and forbids serving from cache.
	// Mutations use it to obtain a fresh baseline.
	ForWrite bool
	// TTL overrides the type default for the resulting Set.
	TTL time.Duration
}

// Cache is the content cache. Store failures are never fatal: a read
// degrades to a provider fetch, a statistics update is dropped.
type Cache struct {
	conns      *db.Connections
	activeMode func() bool
	now        func() time.Time
}

// New creates the cache. activeMode reports whether the adaptive controller
// is in ACTIVE mode, which shortens TTLs; nil means never.
func New(conns *db.Connections, activeMode func() bool) *Cache {
	return &Cache{
		conns:      conns,
		activeMode: activeMode,
		now:        time.Now,
	}
}

// TTLFor returns the TTL applied to the type right now.
func (c *Cache) TTLFor(typ Type) time.Duration {
	if c.activeMode != nil && c.activeMode() {
		if ttl, ok := activeTTLs[typ]; ok {
			return ttl
		}
	}
	return defaultTTLs[typ]
}

// Get returns the cached payload and meta for (typ, key), or ok=false on a
// miss. Expired entries are returned with Stale=true; serving them is the
// caller's decision.
func (c *Cache) Get(typ Type, key string) ([]byte, *Meta, bool) {
	entry, err := cachestore.Get(c.conns, typ, key)
	if err != nil {
		slog.Error("cache.lookup_failed",
			"component", "cache",
			"event", "cache.error",
			"cache_type", typ,
			"key", key,
			"error", err,
		)
		metrics.CacheOperations.WithLabelValues(string(typ), "error").Inc()
		return nil, nil, false
	}
	if entry == nil {
		return nil, nil, false
	}
	now := c.now()
	meta := &Meta{
		Source:   "cache",
		Stale:    now.After(entry.ExpiresAt),
		CachedAt: entry.CachedAt,
		Age:      now.Sub(entry.CachedAt),
		Version:  extractVersion([]byte(entry.Payload), now),
	}
	return []byte(entry.Payload), meta, true
}

// Set stores a payload. A zero ttl selects the type default (shortened in
// ACTIVE mode).
func (c *Cache) Set(typ Type, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.TTLFor(typ)
	}
	now := c.now()
	entry := cachestore.Entry{
		Type:      typ,
		Key:       key,
		Payload:   string(payload),
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if typ == TypeMatches || typ == TypeParticipants {
		entry.Count = itemCount(payload)
	}
	return cachestore.Upsert(c.conns, entry)
}

// GetOrFetch is the stale-while-revalidate read path.
//
// ForWrite: the fetcher is invoked unconditionally and the cache is never
// served; a fetch failure is the caller's failure.
//
// Otherwise: a fresh hit is served from cache; a stale hit triggers a fetch
// and falls back to the stale payload if the fetch fails; a miss fetches and
// propagates any error.
func (c *Cache) GetOrFetch(ctx context.Context, typ Type, key string, fetch Fetcher, opts Options) ([]byte, *Meta, error) {
	if opts.ForWrite {
		payload, err := fetch(ctx)
		if err != nil {
			return nil, nil, err
		}
		c.storeBestEffort(typ, key, payload, opts.TTL)
		now := c.now()
		return payload, &Meta{
			Source:   "provider",
			ForWrite: true,
			CachedAt: now,
			Version:  extractVersion(payload, now),
		}, nil
	}

	cached, meta, ok := c.Get(typ, key)
	if ok && !meta.Stale {
		c.recordHit(typ, true)
		return cached, meta, nil
	}

	payload, err := fetch(ctx)
	if err != nil {
		if ok {
			// Refresh failed but a stale copy exists: serve it, flagged.
			c.recordHit(typ, false)
			meta.Stale = true
			meta.Offline = true
			meta.Err = err
			slog.Warn("cache.serving_stale",
				"component", "cache",
				"event", "cache.stale_served",
				"cache_type", typ,
				"key", key,
				"age", meta.Age,
				"error", err,
			)
			metrics.CacheOperations.WithLabelValues(string(typ), "stale_hit").Inc()
			return cached, meta, nil
		}
		c.recordMiss(typ)
		return nil, nil, err
	}

	c.recordMiss(typ)
	c.storeBestEffort(typ, key, payload, opts.TTL)
	now := c.now()
	return payload, &Meta{
		Source:   "provider",
		CachedAt: now,
		Version:  extractVersion(payload, now),
	}, nil
}

// storeBestEffort writes through to the store; failures are logged only.
func (c *Cache) storeBestEffort(typ Type, key string, payload []byte, ttl time.Duration) {
	if err := c.Set(typ, key, payload, ttl); err != nil {
		slog.Error("cache.store_failed",
			"component", "cache",
			"event", "cache.error",
			"cache_type", typ,
			"key", key,
			"error", err,
		)
		metrics.CacheOperations.WithLabelValues(string(typ), "error").Inc()
	}
}

// Invalidate removes the entry for (typ, key). An empty key purges every
// entry of the type; for the tournaments list, the well-known key "list"
// purges every list variant. Idempotent.
func (c *Cache) Invalidate(typ Type, key string) error {
	if key == "" || (typ == TypeTournamentsList && key == "list") {
		return cachestore.DeleteAllOfType(c.conns, typ)
	}
	return cachestore.Delete(c.conns, typ, key)
}

// InvalidateTournament purges matches, participants, stations and details
// for one tournament.
func (c *Cache) InvalidateTournament(tournamentID string) error {
	return cachestore.DeleteTournament(c.conns, tournamentID)
}

// CleanupExpired deletes rows whose TTL has lapsed.
func (c *Cache) CleanupExpired() (int64, error) {
	return cachestore.CleanupExpired(c.conns, c.now())
}

func (c *Cache) recordHit(typ Type, saved bool) {
	metrics.CacheOperations.WithLabelValues(string(typ), "hit").Inc()
	if saved {
		metrics.CacheSavedProviderCalls.WithLabelValues(string(typ)).Inc()
	}
	if err := cachestore.RecordHit(c.conns, typ, saved, c.now()); err != nil {
		slog.Debug("cache.stats_dropped", "component", "cache", "event", "cache.stats_error", "error", err)
	}
}

func (c *Cache) recordMiss(typ Type) {
	metrics.CacheOperations.WithLabelValues(string(typ), "miss").Inc()
	if err := cachestore.RecordMiss(c.conns, typ, c.now()); err != nil {
		slog.Debug("cache.stats_dropped", "component", "cache", "event", "cache.stats_error", "error", err)
	}
}
