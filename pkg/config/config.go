// Package config loads control-plane configuration from the
// environment, 12-factor style. Load never fails; Validate catches
// the combinations that must not reach production.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ironlayer/ironlayer/pkg/auth"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string

	AuthMode        auth.AuthMode
	JWTSecret       string
	TokenTTL        time.Duration
	MaxTokenTTL     time.Duration
	RefreshTokenTTL time.Duration
	KMSKeyARN       string
	OIDCIssuerURL   string
	OIDCAudience    string
	InsecureCookies bool

	StripeWebhookSecret string
	AdvisoryURL         string
	AdvisoryAPIKey      string
	LicenseFile         string
	LicensePublicKey    string

	CORSOrigins       []string
	MinClientVersion  string
	SchedulesFile     string
	AutoApprovePolicy string

	OTLPEndpoint string
	OTLPEnabled  bool
	Environment  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	mode := auth.AuthMode(envDefault("AUTH_MODE", string(auth.ModeDevelopment)))

	return &Config{
		Port:        envDefault("PORT", "8080"),
		LogLevel:    envDefault("LOG_LEVEL", "INFO"),
		DatabaseURL: envDefault("DATABASE_URL", "postgres://ironlayer@localhost:5432/ironlayer?sslmode=disable"),

		AuthMode:        mode,
		JWTSecret:       os.Getenv("JWT_SECRET"),
		TokenTTL:        envSeconds("TOKEN_TTL_SECONDS", auth.DefaultTokenTTL),
		MaxTokenTTL:     envSeconds("MAX_TOKEN_TTL_SECONDS", auth.MaxTokenTTL),
		RefreshTokenTTL: envSeconds("REFRESH_TOKEN_TTL_SECONDS", auth.DefaultRefreshTokenTTL),
		KMSKeyARN:       os.Getenv("KMS_KEY_ARN"),
		OIDCIssuerURL:   os.Getenv("OIDC_ISSUER_URL"),
		OIDCAudience:    os.Getenv("OIDC_AUDIENCE"),
		InsecureCookies: os.Getenv("INSECURE_COOKIES") == "true",

		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AdvisoryURL:         os.Getenv("ADVISORY_URL"),
		AdvisoryAPIKey:      os.Getenv("ADVISORY_API_KEY"),
		LicenseFile:         os.Getenv("LICENSE_FILE"),
		LicensePublicKey:    os.Getenv("LICENSE_PUBLIC_KEY"),

		CORSOrigins:       envList("CORS_ORIGINS"),
		MinClientVersion:  os.Getenv("MIN_CLIENT_VERSION"),
		SchedulesFile:     os.Getenv("RECONCILE_SCHEDULES_FILE"),
		AutoApprovePolicy: envDefault("AUTO_APPROVE_POLICY",
			"breaking_violations == 0 && estimated_cost_usd < 50.0 && !has_full_refresh"),

		OTLPEndpoint: envDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		Environment:  envDefault("ENVIRONMENT", "development"),
	}
}

// Validate rejects configurations that cannot run safely.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case auth.ModeDevelopment, auth.ModeJWT, auth.ModeKMSExchange, auth.ModeOIDCOnPrem:
	default:
		return fmt.Errorf("config: unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.AuthMode != auth.ModeDevelopment && c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required when AUTH_MODE=%s", c.AuthMode)
	}
	if c.AuthMode == auth.ModeKMSExchange && c.KMSKeyARN == "" {
		return fmt.Errorf("config: KMS_KEY_ARN is required when AUTH_MODE=kms_exchange")
	}
	if c.AuthMode == auth.ModeOIDCOnPrem && (c.OIDCIssuerURL == "" || c.OIDCAudience == "") {
		return fmt.Errorf("config: OIDC_ISSUER_URL and OIDC_AUDIENCE are required when AUTH_MODE=oidc_onprem")
	}
	if c.TokenTTL > c.MaxTokenTTL {
		return fmt.Errorf("config: TOKEN_TTL_SECONDS %d exceeds MAX_TOKEN_TTL_SECONDS %d",
			int(c.TokenTTL/time.Second), int(c.MaxTokenTTL/time.Second))
	}
	return nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
