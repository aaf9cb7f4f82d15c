package tokenstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketpi/bracketd/internal/db"
)

func TestGetEmptyReturnsNil(t *testing.T) {
	conns := db.SetupTestDB(t)

	record, err := Get(conns)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestSaveAndGet(t *testing.T) {
	conns := db.SetupTestDB(t)
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	require.NoError(t, Save(conns, "access-1", "refresh-1", expiry))

	record, err := Get(conns)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "access-1", record.AccessToken)
	assert.Equal(t, "refresh-1", record.RefreshToken)
	assert.WithinDuration(t, expiry, record.TokenExpiry, time.Second)
}

func TestSaveReplacesPreviousRecord(t *testing.T) {
	conns := db.SetupTestDB(t)
	expiry := time.Now().Add(time.Hour)

	require.NoError(t, Save(conns, "access-1", "refresh-1", expiry))
	require.NoError(t, Save(conns, "access-2", "refresh-2", expiry))

	record, err := Get(conns)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "access-2", record.AccessToken)

	var count int64
	require.NoError(t, conns.DB.Model(&db.ProviderToken{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "at most one token record is live")
}

func TestDelete(t *testing.T) {
	conns := db.SetupTestDB(t)

	require.NoError(t, Save(conns, "access-1", "refresh-1", time.Now().Add(time.Hour)))
	require.NoError(t, Delete(conns))

	record, err := Get(conns)
	require.NoError(t, err)
	assert.Nil(t, record)

	// Deleting again is a no-op.
	require.NoError(t, Delete(conns))
}
