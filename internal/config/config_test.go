package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BRANDLIFT_DEV", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, DevJWTSecret, cfg.JWTSecret)
	assert.Equal(t, int32(20), cfg.DBMaxConns)
	assert.False(t, cfg.UsesPostgres())
}

func TestLoadRejectsDevSecretOutsideDev(t *testing.T) {
	t.Setenv("BRANDLIFT_DEV", "false")
	t.Setenv("BRANDLIFT_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BRANDLIFT_JWT_SECRET")

	t.Setenv("BRANDLIFT_JWT_SECRET", DevJWTSecret)
	_, err = Load()
	require.Error(t, err)

	t.Setenv("BRANDLIFT_JWT_SECRET", "a-real-secret")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("DATABASE_URL", "postgres://brandlift@localhost/brandlift")
	t.Setenv("BRANDLIFT_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("BRANDLIFT_ACCESS_TTL", "1h")
	t.Setenv("BRANDLIFT_JWT_SECRET", "override-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
}

func TestValidateRejectsInvertedPool(t *testing.T) {
	cfg := Config{JWTSecret: "s", AccessTTL: time.Minute, DBMinConns: 10, DBMaxConns: 2}
	require.Error(t, cfg.Validate())
}

func TestValidateDevSecret(t *testing.T) {
	cfg := Config{JWTSecret: DevJWTSecret, AccessTTL: time.Minute, DBMaxConns: 4}
	require.Error(t, cfg.Validate())

	cfg.Dev = true
	require.NoError(t, cfg.Validate())
}
