package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Server.Port)
	assert.Equal(t, "cast_indexer", cfg.Database.Postgres.Database)
	assert.Equal(t, 50, cfg.Backfill.UsersPageSize)
	assert.Equal(t, 1000, cfg.Backfill.CastsPageSize)
	assert.Equal(t, 100, cfg.Backfill.MaxPagesPerUser)
	assert.Equal(t, 10, cfg.Backfill.MaxAttempts)
	assert.Equal(t, 0.6, cfg.Backfill.MinScore)
	assert.Equal(t, 30*time.Second, cfg.Backfill.UserTimeout)
	assert.Equal(t, 15*time.Second, cfg.Backfill.HubTimeout)
	assert.Equal(t, 2*time.Second, cfg.Backfill.RetryDelay)
	assert.Equal(t, time.Second, cfg.Backfill.HubRetryDelay)
	assert.Equal(t, 24*time.Hour, cfg.Listener.StalenessWindow)
	assert.Equal(t, 5*time.Second, cfg.Listener.ReconnectDelay)
	assert.False(t, cfg.Database.ClickHouse.Enabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("BACKFILL_USERS_PAGE_SIZE", "25")
	t.Setenv("BACKFILL_MIN_SCORE", "0.8")
	t.Setenv("BACKFILL_USER_TIMEOUT", "45s")
	t.Setenv("HUB_BASE_URL", "http://hub.example.com:2281")
	t.Setenv("CLICKHOUSE_HOST", "ch.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Backfill.UsersPageSize)
	assert.Equal(t, 0.8, cfg.Backfill.MinScore)
	assert.Equal(t, 45*time.Second, cfg.Backfill.UserTimeout)
	assert.Equal(t, "http://hub.example.com:2281", cfg.Hub.BaseURL)
	assert.True(t, cfg.Database.ClickHouse.Enabled())
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BACKFILL_USERS_PAGE_SIZE", "not-a-number")
	t.Setenv("BACKFILL_USER_TIMEOUT", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Backfill.UsersPageSize)
	assert.Equal(t, 30*time.Second, cfg.Backfill.UserTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"zero users page size", "BACKFILL_USERS_PAGE_SIZE", "0", "BACKFILL_USERS_PAGE_SIZE"},
		{"negative casts page size", "BACKFILL_CASTS_PAGE_SIZE", "-5", "BACKFILL_CASTS_PAGE_SIZE"},
		{"zero page cap", "BACKFILL_MAX_PAGES_PER_USER", "0", "BACKFILL_MAX_PAGES_PER_USER"},
		{"zero attempts", "BACKFILL_MAX_ATTEMPTS", "0", "BACKFILL_MAX_ATTEMPTS"},
		{"zero profile rps", "NEYNAR_REQUESTS_PER_SECOND", "0", "NEYNAR_REQUESTS_PER_SECOND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := PostgresConfig{
		Host: "db", Port: "5432", Database: "indexer", User: "app", Password: "pw",
	}
	assert.Equal(t, "postgres://app:pw@db:5432/indexer?sslmode=disable", cfg.URL())
}
