package cachestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketpi/bracketd/internal/db"
)

func entry(typ Type, key, payload string, expiresIn time.Duration) Entry {
	now := time.Now()
	return Entry{
		Type:      typ,
		Key:       key,
		Payload:   payload,
		CachedAt:  now,
		ExpiresAt: now.Add(expiresIn),
	}
}

func TestUpsertAndGet(t *testing.T) {
	conns := db.SetupTestDB(t)

	require.NoError(t, Upsert(conns, entry(TypeMatches, "T1", `{"data":[]}`, time.Minute)))

	got, err := Get(conns, TypeMatches, "T1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `{"data":[]}`, got.Payload)
	assert.Equal(t, TypeMatches, got.Type)
	assert.Equal(t, "T1", got.Key)
}

func TestGetMissingReturnsNil(t *testing.T) {
	conns := db.SetupTestDB(t)

	got, err := Get(conns, TypeMatches, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertReplacesExisting(t *testing.T) {
	conns := db.SetupTestDB(t)

	require.NoError(t, Upsert(conns, entry(TypeDetails, "T1", `{"v":1}`, time.Minute)))
	require.NoError(t, Upsert(conns, entry(TypeDetails, "T1", `{"v":2}`, time.Minute)))

	got, err := Get(conns, TypeDetails, "T1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `{"v":2}`, got.Payload)

	count, err := CountEntries(conns, TypeDetails)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "upsert must not duplicate rows")
}

func TestUpsertKeepsCountColumn(t *testing.T) {
	conns := db.SetupTestDB(t)

	e := entry(TypeMatches, "T1", `{"data":[{},{}]}`, time.Minute)
	e.Count = 2
	require.NoError(t, Upsert(conns, e))

	e.Count = 5
	e.Payload = `{"data":[{},{},{},{},{}]}`
	require.NoError(t, Upsert(conns, e))

	got, err := Get(conns, TypeMatches, "T1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Count)
}

func TestExpiredRowsStillReturned(t *testing.T) {
	conns := db.SetupTestDB(t)

	require.NoError(t, Upsert(conns, entry(TypeMatches, "T1", `{"old":true}`, -time.Minute)))

	got, err := Get(conns, TypeMatches, "T1")
	require.NoError(t, err)
	require.NotNil(t, got, "staleness is the cache layer's decision, not the store's")
	assert.True(t, time.Now().After(got.ExpiresAt))
}

func TestDeleteAndDeleteAllOfType(t *testing.T) {
	conns := db.SetupTestDB(t)

	require.NoError(t, Upsert(conns, entry(TypeTournamentsList, "list", `{}`, time.Minute)))
	require.NoError(t, Upsert(conns, entry(TypeTournamentsList, "list?state=underway", `{}`, time.Minute)))

	require.NoError(t, Delete(conns, TypeTournamentsList, "list"))
	got, err := Get(conns, TypeTournamentsList, "list")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, DeleteAllOfType(conns, TypeTournamentsList))
	count, err := CountEntries(conns, TypeTournamentsList)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Deleting what is already gone is not an error.
	require.NoError(t, Delete(conns, TypeTournamentsList, "list"))
}

func TestDeleteTournament(t *testing.T) {
	conns := db.SetupTestDB(t)

	for _, typ := range TournamentScopedTypes {
		require.NoError(t, Upsert(conns, entry(typ, "T1", `{}`, time.Minute)))
		require.NoError(t, Upsert(conns, entry(typ, "T2", `{}`, time.Minute)))
	}

	require.NoError(t, DeleteTournament(conns, "T1"))

	for _, typ := range TournamentScopedTypes {
		got, err := Get(conns, typ, "T1")
		require.NoError(t, err)
		assert.Nil(t, got, "%s for T1 should be gone", typ)

		got, err = Get(conns, typ, "T2")
		require.NoError(t, err)
		assert.NotNil(t, got, "%s for T2 should remain", typ)
	}
}

func TestCleanupExpired(t *testing.T) {
	conns := db.SetupTestDB(t)

	require.NoError(t, Upsert(conns, entry(TypeMatches, "old", `{}`, -time.Hour)))
	require.NoError(t, Upsert(conns, entry(TypeMatches, "fresh", `{}`, time.Hour)))
	require.NoError(t, Upsert(conns, entry(TypeDetails, "old", `{}`, -time.Hour)))

	removed, err := CleanupExpired(conns, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err := Get(conns, TypeMatches, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestStatsCounters(t *testing.T) {
	conns := db.SetupTestDB(t)
	now := time.Now()

	require.NoError(t, RecordHit(conns, TypeMatches, true, now))
	require.NoError(t, RecordHit(conns, TypeMatches, false, now))
	require.NoError(t, RecordMiss(conns, TypeMatches, now))
	require.NoError(t, RecordMiss(conns, TypeDetails, now))

	rows, err := GetStats(conns)
	require.NoError(t, err)
	byType := make(map[string]db.CacheStat, len(rows))
	for _, row := range rows {
		byType[row.Type] = row
	}

	matches := byType[string(TypeMatches)]
	assert.Equal(t, int64(2), matches.Hits)
	assert.Equal(t, int64(1), matches.Misses)
	assert.Equal(t, int64(1), matches.Saved)
	require.NotNil(t, matches.LastHit)

	details := byType[string(TypeDetails)]
	assert.Equal(t, int64(1), details.Misses)

	require.NoError(t, ResetStats(conns))
	rows, err = GetStats(conns)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
