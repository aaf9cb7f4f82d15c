package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracketpi/bracketd/internal/config"
	"github.com/bracketpi/bracketd/internal/db"
)

func testConfig() *config.Config {
	return &config.Config{
		Provider: config.ProviderConfig{
			BaseURL:        "http://127.0.0.1:0",
			LegacyAPIKey:   "test-key",
			RequestTimeout: time.Second,
		},
		RateControl: config.RateControlConfig{
			IdleRate:       2,
			UpcomingRate:   10,
			ActiveRate:     30,
			ManualCap:      60,
			CheckInterval:  8 * time.Hour,
			UpcomingWindow: 48 * time.Hour,
		},
	}
}

func TestNewSeedsGateWithIdleRate(t *testing.T) {
	c := New(testConfig(), db.SetupTestDB(t))
	t.Cleanup(c.Close)

	assert.Equal(t, 2, c.Gate.Status().RatePerMinute)
}

func TestNewSeedsGateWithinManualCap(t *testing.T) {
	cfg := testConfig()
	cfg.RateControl.IdleRate = 10
	cfg.RateControl.ManualCap = 4

	c := New(cfg, db.SetupTestDB(t))
	t.Cleanup(c.Close)

	assert.Equal(t, 4, c.Gate.Status().RatePerMinute)
}

func TestNewWithoutOAuthLeavesTokensNil(t *testing.T) {
	c := New(testConfig(), db.SetupTestDB(t))
	t.Cleanup(c.Close)

	assert.Nil(t, c.OAuth)
	assert.Nil(t, c.Tokens)
}

func TestNewWithOAuthBuildsTokenService(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.OAuthClientID = "client-id"
	cfg.Provider.OAuthClientSecret = "client-secret"
	cfg.Provider.OAuthRedirectURI = "https://bracketd.test/oauth/callback"

	c := New(cfg, db.SetupTestDB(t))
	t.Cleanup(c.Close)

	require.NotNil(t, c.OAuth)
	require.NotNil(t, c.Tokens)
}
