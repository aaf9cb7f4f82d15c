// Package cachestore persists provider response payloads in the relational
// store, one table per cache type. Row contention is resolved by per-key
// upserts; for a given key the last successful write wins.
package cachestore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bracketpi/bracketd/internal/db"
)

// Type identifies one of the cache tables.
type Type string

const (
	TypeTournamentsList Type = "tournaments_list"
	TypeMatches         Type = "matches"
	TypeParticipants    Type = "participants"
	TypeStations        Type = "stations"
	TypeDetails         Type = "tournament_details"
)

// Types lists every cache type, in stats display order.
var Types = []Type{TypeTournamentsList, TypeMatches, TypeParticipants, TypeStations, TypeDetails}

// TournamentScopedTypes are the types keyed by tournament id.
var TournamentScopedTypes = []Type{TypeMatches, TypeParticipants, TypeStations, TypeDetails}

// Entry is a cache row independent of which table holds it.
type Entry struct {
	Type      Type
	Key       string
	Payload   string
	Count     int // meaningful for matches and participants only
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Get returns the row for (typ, key), or nil if absent. Expired rows are
// still returned; freshness is the caller's policy, not the store's.
func Get(conns *db.Connections, typ Type, key string) (*Entry, error) {
	switch typ {
	case TypeTournamentsList:
		var row db.CachedTournamentList
		if err := first(conns, &row, "cache_key = ?", key); err != nil {
			return nil, err
		} else if row.CacheKey == "" {
			return nil, nil
		}
		return &Entry{Type: typ, Key: row.CacheKey, Payload: row.Payload, CachedAt: row.CachedAt, ExpiresAt: row.ExpiresAt}, nil
	case TypeMatches:
		var row db.CachedMatches
		if err := first(conns, &row, "tournament_id = ?", key); err != nil {
			return nil, err
		} else if row.TournamentID == "" {
			return nil, nil
		}
		return &Entry{Type: typ, Key: row.TournamentID, Payload: row.Payload, Count: row.Count, CachedAt: row.CachedAt, ExpiresAt: row.ExpiresAt}, nil
	case TypeParticipants:
		var row db.CachedParticipants
		if err := first(conns, &row, "tournament_id = ?", key); err != nil {
			return nil, err
		} else if row.TournamentID == "" {
			return nil, nil
		}
		return &Entry{Type: typ, Key: row.TournamentID, Payload: row.Payload, Count: row.Count, CachedAt: row.CachedAt, ExpiresAt: row.ExpiresAt}, nil
	case TypeStations:
		var row db.CachedStations
		if err := first(conns, &row, "tournament_id = ?", key); err != nil {
			return nil, err
		} else if row.TournamentID == "" {
			return nil, nil
		}
		return &Entry{Type: typ, Key: row.TournamentID, Payload: row.Payload, CachedAt: row.CachedAt, ExpiresAt: row.ExpiresAt}, nil
	case TypeDetails:
		var row db.CachedTournamentDetails
		if err := first(conns, &row, "tournament_id = ?", key); err != nil {
			return nil, err
		} else if row.TournamentID == "" {
			return nil, nil
		}
		return &Entry{Type: typ, Key: row.TournamentID, Payload: row.Payload, CachedAt: row.CachedAt, ExpiresAt: row.ExpiresAt}, nil
	}
	return nil, fmt.Errorf("unknown cache type %q", typ)
}

func first(conns *db.Connections, dest any, query string, args ...any) error {
	err := conns.DB.Where(query, args...).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// Upsert writes the row for (entry.Type, entry.Key), replacing any existing
// payload and timestamps.
func Upsert(conns *db.Connections, entry Entry) error {
	keyCol := "tournament_id"
	if entry.Type == TypeTournamentsList {
		keyCol = "cache_key"
	}
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: keyCol}},
		DoUpdates: clause.AssignmentColumns(updateColumns(entry.Type)),
	}

	switch entry.Type {
	case TypeTournamentsList:
		return conns.DB.Clauses(conflict).Create(&db.CachedTournamentList{
			CacheKey: entry.Key, Payload: entry.Payload, CachedAt: entry.CachedAt, ExpiresAt: entry.ExpiresAt,
		}).Error
	case TypeMatches:
		return conns.DB.Clauses(conflict).Create(&db.CachedMatches{
			TournamentID: entry.Key, Payload: entry.Payload, Count: entry.Count, CachedAt: entry.CachedAt, ExpiresAt: entry.ExpiresAt,
		}).Error
	case TypeParticipants:
		return conns.DB.Clauses(conflict).Create(&db.CachedParticipants{
			TournamentID: entry.Key, Payload: entry.Payload, Count: entry.Count, CachedAt: entry.CachedAt, ExpiresAt: entry.ExpiresAt,
		}).Error
	case TypeStations:
		return conns.DB.Clauses(conflict).Create(&db.CachedStations{
			TournamentID: entry.Key, Payload: entry.Payload, CachedAt: entry.CachedAt, ExpiresAt: entry.ExpiresAt,
		}).Error
	case TypeDetails:
		return conns.DB.Clauses(conflict).Create(&db.CachedTournamentDetails{
			TournamentID: entry.Key, Payload: entry.Payload, CachedAt: entry.CachedAt, ExpiresAt: entry.ExpiresAt,
		}).Error
	}
	return fmt.Errorf("unknown cache type %q", entry.Type)
}

func updateColumns(typ Type) []string {
	switch typ {
	case TypeMatches, TypeParticipants:
		return []string{"payload", "count", "cached_at", "expires_at"}
	default:
		return []string{"payload", "cached_at", "expires_at"}
	}
}

// Delete removes the row for (typ, key). Deleting an absent row is a no-op.
func Delete(conns *db.Connections, typ Type, key string) error {
	model, keyCol, err := modelFor(typ)
	if err != nil {
		return err
	}
	return conns.DB.Where(keyCol+" = ?", key).Delete(model).Error
}

// DeleteAllOfType purges every row of the given type.
func DeleteAllOfType(conns *db.Connections, typ Type) error {
	model, keyCol, err := modelFor(typ)
	if err != nil {
		return err
	}
	return conns.DB.Where(keyCol + " IS NOT NULL").Delete(model).Error
}

// DeleteTournament removes the matches, participants, stations and details
// rows for one tournament.
func DeleteTournament(conns *db.Connections, tournamentID string) error {
	for _, typ := range TournamentScopedTypes {
		if err := Delete(conns, typ, tournamentID); err != nil {
			return err
		}
	}
	return nil
}

// CleanupExpired deletes rows in every cache table whose expires_at has
// passed. Returns the number of rows removed.
func CleanupExpired(conns *db.Connections, now time.Time) (int64, error) {
	var total int64
	for _, typ := range Types {
		model, _, err := modelFor(typ)
		if err != nil {
			return total, err
		}
		res := conns.DB.Where("expires_at < ?", now).Delete(model)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

// CountEntries returns the number of rows currently held for the type.
func CountEntries(conns *db.Connections, typ Type) (int64, error) {
	model, _, err := modelFor(typ)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := conns.DB.Model(model).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func modelFor(typ Type) (any, string, error) {
	switch typ {
	case TypeTournamentsList:
		return &db.CachedTournamentList{}, "cache_key", nil
	case TypeMatches:
		return &db.CachedMatches{}, "tournament_id", nil
	case TypeParticipants:
		return &db.CachedParticipants{}, "tournament_id", nil
	case TypeStations:
		return &db.CachedStations{}, "tournament_id", nil
	case TypeDetails:
		return &db.CachedTournamentDetails{}, "tournament_id", nil
	}
	return nil, "", fmt.Errorf("unknown cache type %q", typ)
}
