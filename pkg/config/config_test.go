package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "AUTH_MODE", "JWT_SECRET",
		"TOKEN_TTL_SECONDS", "MAX_TOKEN_TTL_SECONDS", "REFRESH_TOKEN_TTL_SECONDS",
		"KMS_KEY_ARN", "OIDC_ISSUER_URL", "OIDC_AUDIENCE",
		"STRIPE_WEBHOOK_SECRET", "ADVISORY_URL", "ADVISORY_API_KEY",
		"CORS_ORIGINS", "MIN_CLIENT_VERSION", "RECONCILE_SCHEDULES_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.Equal(t, auth.ModeDevelopment, cfg.AuthMode)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.MaxTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.RefreshTokenTTL)
	assert.Empty(t, cfg.CORSOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "sufficiently-long-secret")
	t.Setenv("TOKEN_TTL_SECONDS", "600")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("MIN_CLIENT_VERSION", "1.4.0")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, auth.ModeJWT, cfg.AuthMode)
	assert.Equal(t, 10*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "1.4.0", cfg.MinClientVersion)
	require.NoError(t, cfg.Validate())
}

func TestValidateJWTSecretRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_MODE", "jwt")

	err := config.Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateKMSRequiresKeyARN(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_MODE", "kms_exchange")
	t.Setenv("JWT_SECRET", "s")

	err := config.Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KMS_KEY_ARN")
}

func TestValidateOIDCRequiresIssuerAndAudience(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_MODE", "oidc_onprem")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("OIDC_ISSUER_URL", "https://idp.example.com")

	err := config.Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC_AUDIENCE")
}

func TestValidateUnknownMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_MODE", "magic")

	err := config.Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_MODE")
}

func TestValidateTTLOrdering(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_TTL_SECONDS", "7200")
	t.Setenv("MAX_TOKEN_TTL_SECONDS", "3600")

	err := config.Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_TOKEN_TTL_SECONDS")
}

func TestBadTTLFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_TTL_SECONDS", "not-a-number")

	cfg := config.Load()
	assert.Equal(t, time.Hour, cfg.TokenTTL)
}
