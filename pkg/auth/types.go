// Package auth issues and validates the control plane's bearer
// credentials and carries the authenticated identity through request
// contexts. Three credential forms are accepted: development HMAC
// tokens (prefix "bmdev."), production JWTs, and long-lived API keys
// (prefix "bmkey.") validated by hash lookup.
package auth

import (
	"time"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

// AuthMode selects the token validation strategy.
type AuthMode string

const (
	ModeDevelopment AuthMode = "development"
	ModeJWT         AuthMode = "jwt"
	ModeKMSExchange AuthMode = "kms_exchange"
	ModeOIDCOnPrem  AuthMode = "oidc_onprem"
)

// IdentityKind distinguishes humans from service accounts.
type IdentityKind string

const (
	KindUser    IdentityKind = "user"
	KindService IdentityKind = "service"
)

// Claims is the payload carried by every token form.
type Claims struct {
	Subject      string         `json:"sub"`
	TenantID     string         `json:"tenant_id"`
	Issuer       string         `json:"iss"`
	IssuedAt     int64          `json:"iat"`
	ExpiresAt    int64          `json:"exp"`
	Scopes       []string       `json:"scopes,omitempty"`
	JTI          string         `json:"jti"`
	IdentityKind IdentityKind   `json:"identity_kind"`
	Role         contracts.Role `json:"role"`
}

// Identity is the authenticated caller attached to request contexts.
type Identity struct {
	UserID   string
	TenantID string
	Role     contracts.Role
	Kind     IdentityKind
	Scopes   []string
	JTI      string
}

// HasScope reports whether a service identity carries the scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Default token lifetimes, overridable through TOKEN_TTL_SECONDS,
// MAX_TOKEN_TTL_SECONDS and REFRESH_TOKEN_TTL_SECONDS.
const (
	DefaultTokenTTL        = 3600 * time.Second
	MaxTokenTTL            = 86400 * time.Second
	DefaultRefreshTokenTTL = 86400 * time.Second
)
