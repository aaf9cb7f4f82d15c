package cachestore

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bracketpi/bracketd/internal/db"
)

// RecordHit increments the hit counter for the type. saved marks the hit as
// having avoided a provider call (a fresh hit; a stale hit still fetched).
func RecordHit(conns *db.Connections, typ Type, saved bool, at time.Time) error {
	assignments := map[string]any{
		"hits":     gorm.Expr("hits + 1"),
		"last_hit": at,
	}
	if saved {
		assignments["saved"] = gorm.Expr("saved + 1")
	}
	savedInc := int64(0)
	if saved {
		savedInc = 1
	}
	return conns.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&db.CacheStat{
		Type:    string(typ),
		Hits:    1,
		Saved:   savedInc,
		LastHit: &at,
	}).Error
}

// RecordMiss increments the miss counter for the type.
func RecordMiss(conns *db.Connections, typ Type, at time.Time) error {
	return conns.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "type"}},
		DoUpdates: clause.Assignments(map[string]any{
			"misses":    gorm.Expr("misses + 1"),
			"last_miss": at,
		}),
	}).Create(&db.CacheStat{
		Type:     string(typ),
		Misses:   1,
		LastMiss: &at,
	}).Error
}

// GetStats returns the accumulated counters for all cache types.
func GetStats(conns *db.Connections) ([]db.CacheStat, error) {
	var rows []db.CacheStat
	if err := conns.DB.Order("type").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ResetStats clears all counters. Exposed on the cache-management surface.
func ResetStats(conns *db.Connections) error {
	return conns.DB.Where("type IS NOT NULL").Delete(&db.CacheStat{}).Error
}
