// Package tokenstore persists the provider OAuth bearer token record.
// At most one record is live; replacing or deleting it is atomic.
package tokenstore

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/bracketpi/bracketd/internal/db"
)

// Get returns the current token record, or nil if none is stored.
func Get(conns *db.Connections) (*db.ProviderToken, error) {
	var record db.ProviderToken
	err := conns.DB.Order("id DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Save replaces the stored token record with the given tokens.
func Save(conns *db.Connections, accessToken, refreshToken string, expiry time.Time) error {
	return conns.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id IS NOT NULL").Delete(&db.ProviderToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&db.ProviderToken{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenExpiry:  expiry,
		}).Error
	})
}

// Delete removes any stored token record. Called when the provider rejects
// the bearer token; the record is irrecoverable at that point.
func Delete(conns *db.Connections) error {
	return conns.DB.Where("id IS NOT NULL").Delete(&db.ProviderToken{}).Error
}
