package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solace.app/companion/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, store.DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, VectorBackendChromem, cfg.VectorBackend)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 20*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, 1500, cfg.ReindexRatePerMinute)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load()
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestValidatePgVectorNeedsPostgres(t *testing.T) {
	cfg := &Config{
		GeminiAPIKey:         "key",
		JWTSecret:            "secret",
		DatabaseDriver:       DriverSQLite,
		VectorBackend:        VectorBackendPgVector,
		GenerationTimeout:    time.Second,
		ReindexRatePerMinute: 1,
	}
	assert.Error(t, cfg.Validate())

	cfg.DatabaseDriver = DriverPostgres
	assert.NoError(t, cfg.Validate())
}

func TestGetEnvAsIntFallsBack(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))

	t.Setenv("SOME_INT", "42")
	assert.Equal(t, 42, getEnvAsInt("SOME_INT", 7))
}
