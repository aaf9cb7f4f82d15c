package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketpi/bracketd/internal/db"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	conns := db.SetupTestDB(t)
	return New(conns, nil)
}

func staticFetcher(payload []byte) (Fetcher, *int) {
	calls := new(int)
	return func(ctx context.Context) ([]byte, error) {
		*calls++
		return payload, nil
	}, calls
}

func failingFetcher(err error) (Fetcher, *int) {
	calls := new(int)
	return func(ctx context.Context) ([]byte, error) {
		*calls++
		return nil, err
	}, calls
}

func TestColdRead(t *testing.T) {
	c := newTestCache(t)
	payload := []byte(`{"data":{"type":"tournaments","id":"T1","attributes":{"updated_at":"2024-03-01T10:00:00Z"}}}`)
	fetch, calls := staticFetcher(payload)

	got, meta, err := c.GetOrFetch(context.Background(), TypeDetails, "T1", fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "provider", meta.Source)
	assert.False(t, meta.Stale)
	assert.False(t, meta.Offline)
	assert.Equal(t, "2024-03-01T10:00:00Z", meta.Version)
	assert.Equal(t, 1, *calls)
}

func TestWarmReadWithinTTL(t *testing.T) {
	c := newTestCache(t)
	payload := []byte(`{"data":{"id":"T1","attributes":{"updated_at":"2024-03-01T10:00:00Z"}}}`)
	fetch, calls := staticFetcher(payload)

	_, _, err := c.GetOrFetch(context.Background(), TypeDetails, "T1", fetch, Options{})
	require.NoError(t, err)

	got, meta, err := c.GetOrFetch(context.Background(), TypeDetails, "T1", fetch, Options{})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "cache", meta.Source)
	assert.False(t, meta.Stale)
	assert.Equal(t, 1, *calls, "warm read must not contact the provider")
}

func TestStaleServedWhenProviderOffline(t *testing.T) {
	c := newTestCache(t)
	payload := []byte(`{"data":{"id":"T1","attributes":{"updated_at":"2024-03-01T10:00:00Z"}}}`)
	fetch, _ := staticFetcher(payload)

	_, _, err := c.GetOrFetch(context.Background(), TypeDetails, "T1", fetch, Options{})
	require.NoError(t, err)

	// Jump past the TTL, then fail the refresh.
	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	transport := errors.New("connection refused")
	failing, calls := failingFetcher(transport)

	got, meta, err := c.GetOrFetch(context.Background(), TypeDetails, "T1", failing, Options{})
	require.NoError(t, err, "a stale copy is a success, not an error")
	assert.Equal(t, payload, got)
	assert.Equal(t, "cache", meta.Source)
	assert.True(t, meta.Stale)
	assert.True(t, meta.Offline)
	assert.ErrorIs(t, meta.Err, transport)
	assert.Equal(t, 1, *calls)
}

func TestMissWithProviderFailurePropagates(t *testing.T) {
	c := newTestCache(t)
	transport := errors.New("dial timeout")
	failing, _ := failingFetcher(transport)

	_, _, err := c.GetOrFetch(context.Background(), TypeDetails, "missing", failing, Options{})
	require.ErrorIs(t, err, transport)
}

func TestForWriteBypassesCache(t *testing.T) {
	c := newTestCache(t)
	cached := []byte(`{"data":{"id":"T1","attributes":{"updated_at":"2024-01-01T00:00:00Z"}}}`)
	require.NoError(t, c.Set(TypeDetails, "T1", cached, 0))

	fresh := []byte(`{"data":{"id":"T1","attributes":{"updated_at":"2024-06-01T00:00:00Z"}}}`)
	fetch, calls := staticFetcher(fresh)

	got, meta, err := c.GetOrFetch(context.Background(), TypeDetails, "T1", fetch, Options{ForWrite: true})
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, "provider", meta.Source)
	assert.True(t, meta.ForWrite)
	assert.Equal(t, 1, *calls, "fetcher invoked exactly once")
}

func TestForWriteFailureAborts(t *testing.T) {
	c := newTestCache(t)
	cached := []byte(`{"data":{"id":"T1","attributes":{}}}`)
	require.NoError(t, c.Set(TypeDetails, "T1", cached, 0))

	boom := errors.New("refresh failed")
	failing, _ := failingFetcher(boom)

	_, _, err := c.GetOrFetch(context.Background(), TypeDetails, "T1", failing, Options{ForWrite: true})
	require.ErrorIs(t, err, boom, "ForWrite never falls back to cache")
}

func TestInvalidateIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(TypeMatches, "T1", []byte(`{"data":[]}`), 0))

	require.NoError(t, c.Invalidate(TypeMatches, "T1"))
	_, _, ok := c.Get(TypeMatches, "T1")
	assert.False(t, ok)

	// Second invalidation of the same key is a no-op, not an error.
	require.NoError(t, c.Invalidate(TypeMatches, "T1"))
}

func TestInvalidateTournamentPurgesAllScopedTypes(t *testing.T) {
	c := newTestCache(t)
	for _, typ := range []Type{TypeMatches, TypeParticipants, TypeStations, TypeDetails} {
		require.NoError(t, c.Set(typ, "T1", []byte(`{"data":[]}`), 0))
	}
	require.NoError(t, c.Set(TypeMatches, "T2", []byte(`{"data":[]}`), 0))

	require.NoError(t, c.InvalidateTournament("T1"))

	for _, typ := range []Type{TypeMatches, TypeParticipants, TypeStations, TypeDetails} {
		_, _, ok := c.Get(typ, "T1")
		assert.False(t, ok, "%s not purged", typ)
	}
	_, _, ok := c.Get(TypeMatches, "T2")
	assert.True(t, ok, "other tournaments untouched")
}

func TestInvalidateListKeyword(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(TypeTournamentsList, "list", []byte(`{"data":[]}`), 0))
	require.NoError(t, c.Set(TypeTournamentsList, "list?state=underway", []byte(`{"data":[]}`), 0))

	require.NoError(t, c.Invalidate(TypeTournamentsList, "list"))

	_, _, ok := c.Get(TypeTournamentsList, "list")
	assert.False(t, ok)
	_, _, ok = c.Get(TypeTournamentsList, "list?state=underway")
	assert.False(t, ok, "the list keyword purges every list variant")
}

func TestTTLShortensInActiveMode(t *testing.T) {
	conns := db.SetupTestDB(t)
	active := false
	c := New(conns, func() bool { return active })

	assert.Equal(t, 30*time.Second, c.TTLFor(TypeMatches))
	active = true
	assert.Equal(t, 15*time.Second, c.TTLFor(TypeMatches))
	assert.Equal(t, 30*time.Second, c.TTLFor(TypeTournamentsList))
}

func TestVersionExtraction(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "top level updated_at",
			payload: `{"updated_at":"2024-03-01T10:00:00Z"}`,
			want:    "2024-03-01T10:00:00Z",
		},
		{
			name:    "camel case",
			payload: `{"updatedAt":"2024-03-02T10:00:00Z"}`,
			want:    "2024-03-02T10:00:00Z",
		},
		{
			name:    "nested timestamps",
			payload: `{"timestamps":{"updated_at":"2024-03-03T10:00:00Z"}}`,
			want:    "2024-03-03T10:00:00Z",
		},
		{
			name:    "jsonapi envelope and attributes",
			payload: `{"data":{"id":"1","attributes":{"updated_at":"2024-03-04T10:00:00Z"}}}`,
			want:    "2024-03-04T10:00:00Z",
		},
		{
			name:    "array takes the maximum",
			payload: `{"data":[{"attributes":{"updated_at":"2024-03-01T00:00:00Z"}},{"attributes":{"updated_at":"2024-03-05T00:00:00Z"}}]}`,
			want:    "2024-03-05T00:00:00Z",
		},
		{
			name:    "no timestamp falls back to now",
			payload: `{"data":{"id":"1","attributes":{"name":"x"}}}`,
			want:    "2024-05-01T12:00:00Z",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractVersion([]byte(tc.payload), now))
		})
	}
}

func TestItemCount(t *testing.T) {
	assert.Equal(t, 3, itemCount([]byte(`{"data":[{},{},{}]}`)))
	assert.Equal(t, 0, itemCount([]byte(`{"data":{"id":"1"}}`)))
	assert.Equal(t, 2, itemCount([]byte(`[{},{}]`)))
}

func TestStatsReport(t *testing.T) {
	c := newTestCache(t)
	payload := []byte(`{"data":[]}`)
	fetch, _ := staticFetcher(payload)

	// One miss, then one hit.
	_, _, err := c.GetOrFetch(context.Background(), TypeMatches, "T1", fetch, Options{})
	require.NoError(t, err)
	_, _, err = c.GetOrFetch(context.Background(), TypeMatches, "T1", fetch, Options{})
	require.NoError(t, err)

	report, err := c.Stats()
	require.NoError(t, err)
	ts := report.Types[string(TypeMatches)]
	assert.Equal(t, int64(1), ts.Hits)
	assert.Equal(t, int64(1), ts.Misses)
	assert.Equal(t, int64(1), ts.SavedProviderCalls)
	assert.InDelta(t, 0.5, ts.HitRate, 0.001)
	assert.Equal(t, int64(1), ts.EntryCount)
	assert.Equal(t, int64(1), report.Totals.Hits)
}

func TestTournamentCacheSummary(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set(TypeMatches, "T1", []byte(`{"data":[{},{}]}`), 0))
	require.NoError(t, c.Set(TypeDetails, "T1", []byte(`{"data":{}}`), 0))

	summary, err := c.TournamentCacheSummary("T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", summary.TournamentID)
	require.Contains(t, summary.Entries, string(TypeMatches))
	assert.Equal(t, 2, summary.Entries[string(TypeMatches)].Count)
	assert.Contains(t, summary.Entries, string(TypeDetails))
	assert.NotContains(t, summary.Entries, string(TypeParticipants))
}
