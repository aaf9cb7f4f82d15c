package db

import (
	"time"

	"gorm.io/gorm"
)

// CachedTournamentList is one cached variant of the provider's tournament
// list, keyed by the list selector (state filter, recency window and so on).
type CachedTournamentList struct {
	// CacheKey is the list selector, e.g. "list" or "list:created_after=...".
	CacheKey string `gorm:"primaryKey;column:cache_key;type:varchar(255)"`

	// Payload is the provider response body, preserved verbatim.
	Payload string `gorm:"column:payload;type:text;not null"`

	CachedAt  time.Time `gorm:"column:cached_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

func (CachedTournamentList) TableName() string {
	return "cache_tournaments"
}

// CachedMatches holds the match list for one tournament.
type CachedMatches struct {
	TournamentID string `gorm:"primaryKey;column:tournament_id;type:varchar(255)"`
	Payload      string `gorm:"column:payload;type:text;not null"`

	// Count is the length of the primary data array, kept denormalized so
	// per-tournament cache summaries never need to re-parse the payload.
	Count int `gorm:"column:count;not null;default:0"`

	CachedAt  time.Time `gorm:"column:cached_at;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}

func (CachedMatches) TableName() string {
	return "cache_matches"
}

// CachedParticipants holds the participant list for one tournament.
type CachedParticipants struct {
	TournamentID string    `gorm:"primaryKey;column:tournament_id;type:varchar(255)"`
	Payload      string    `gorm:"column:payload;type:text;not null"`
	Count        int       `gorm:"column:count;not null;default:0"`
	CachedAt     time.Time `gorm:"column:cached_at;not null"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index"`
}

func (CachedParticipants) TableName() string {
	return "cache_participants"
}

// CachedStations holds the station list for one tournament.
type CachedStations struct {
	TournamentID string    `gorm:"primaryKey;column:tournament_id;type:varchar(255)"`
	Payload      string    `gorm:"column:payload;type:text;not null"`
	CachedAt     time.Time `gorm:"column:cached_at;not null"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index"`
}

func (CachedStations) TableName() string {
	return "cache_stations"
}

// CachedTournamentDetails holds the detail record for one tournament.
type CachedTournamentDetails struct {
	TournamentID string    `gorm:"primaryKey;column:tournament_id;type:varchar(255)"`
	Payload      string    `gorm:"column:payload;type:text;not null"`
	CachedAt     time.Time `gorm:"column:cached_at;not null"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index"`
}

func (CachedTournamentDetails) TableName() string {
	return "cache_details"
}

// CacheStat accumulates hit/miss counters per cache type. Updates are best
// effort; a failed statistics write is never surfaced to a caller.
type CacheStat struct {
	Type     string     `gorm:"primaryKey;column:type;type:varchar(50)"`
	Hits     int64      `gorm:"column:hits;not null;default:0"`
	Misses   int64      `gorm:"column:misses;not null;default:0"`
	Saved    int64      `gorm:"column:saved;not null;default:0"`
	LastHit  *time.Time `gorm:"column:last_hit"`
	LastMiss *time.Time `gorm:"column:last_miss"`
}

func (CacheStat) TableName() string {
	return "cache_stats"
}

// ProviderToken is the stored OAuth bearer token for the bracket provider.
// At most one row is live at a time; a 401 from the provider deletes it,
// dropping the client back to the legacy API key.
type ProviderToken struct {
	ID           uint      `gorm:"primaryKey;column:id"`
	AccessToken  string    `gorm:"column:access_token;type:text;not null"`
	RefreshToken string    `gorm:"column:refresh_token;type:text;not null"`
	TokenExpiry  time.Time `gorm:"column:token_expiry;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
}

func (ProviderToken) TableName() string {
	return "provider_tokens"
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CachedTournamentList{},
		&CachedMatches{},
		&CachedParticipants{},
		&CachedStations{},
		&CachedTournamentDetails{},
		&CacheStat{},
		&ProviderToken{},
	)
}
