package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := Load()
	require.ErrorIs(t, err, ErrNoDatabase)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.True(t, cfg.Development())
	assert.Equal(t, uint32(250), cfg.PlatformFeeBps)
	assert.Equal(t, 2, cfg.MirrorWorkers)
	assert.Equal(t, 500*time.Millisecond, cfg.MirrorPoll)
	assert.Equal(t, 256, cfg.MaxConns)
	assert.NotEqual(t, cfg.Treasury, cfg.Custody)
	assert.NotEqual(t, cfg.Custody, cfg.EscrowVault)
	assert.False(t, cfg.EnableDevRoutes, "deposits stay off unless asked for")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/carrierwave")
	t.Setenv("PLATFORM_FEE_BPS", "0")
	t.Setenv("MIRROR_POLL_MS", "50")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("TREASURY_ADDRESS", "0x1000000000000000000000000000000000000001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cfg.PlatformFeeBps)
	assert.Equal(t, 50*time.Millisecond, cfg.MirrorPoll)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, "0x1000000000000000000000000000000000000001", cfg.Treasury.Hex())
	assert.True(t, cfg.Development())
	assert.False(t, cfg.EnableDevRoutes, "a development env alone does not enable deposits")

	t.Setenv("ENABLE_DEV_ROUTES", "true")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.EnableDevRoutes)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/carrierwave")

	t.Run("fee out of range", func(t *testing.T) {
		t.Setenv("PLATFORM_FEE_BPS", "10001")
		_, err := Load()
		assert.ErrorContains(t, err, "PLATFORM_FEE_BPS")
	})
	t.Run("malformed address", func(t *testing.T) {
		t.Setenv("CUSTODY_ADDRESS", "0x1234")
		_, err := Load()
		assert.ErrorContains(t, err, "CUSTODY_ADDRESS")
	})
	t.Run("production requires addresses", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		_, err := Load()
		assert.ErrorContains(t, err, "required in production")
	})
	t.Run("dev routes refused in production", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		t.Setenv("ENABLE_DEV_ROUTES", "1")
		_, err := Load()
		assert.ErrorContains(t, err, "ENABLE_DEV_ROUTES")
	})
}

func TestParseAddress(t *testing.T) {
	_, err := ParseAddress("0x0000000000000000000000000000000000000000")
	assert.Error(t, err)
	_, err = ParseAddress("not-an-address")
	assert.Error(t, err)
	a, err := ParseAddress("0x852ed1ffbc473e7353d793f9fffafbc24faf907d")
	require.NoError(t, err)
	assert.Equal(t, "0x852eD1fFbc473e7353D793F9FffAFbC24FAf907D", a.Hex())
}
