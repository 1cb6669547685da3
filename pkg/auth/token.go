package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

const (
	// DevTokenPrefix marks development HMAC tokens.
	DevTokenPrefix = "bmdev."
	// APIKeyPrefix marks long-lived API keys.
	APIKeyPrefix = "bmkey."
)

var (
	// ErrInvalidToken covers malformed tokens and bad signatures (401).
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken is a structurally valid but expired token (403).
	ErrExpiredToken = errors.New("auth: token expired")
	// ErrRevokedToken is a valid token whose jti has been revoked.
	ErrRevokedToken = errors.New("auth: token revoked")
	// ErrNoSecret is returned when JWT mode is configured without a
	// secret.
	ErrNoSecret = errors.New("auth: JWT_SECRET required outside development mode")
)

// RevocationChecker answers whether a token ID has been revoked.
// Errors from the checker fail closed at the call site.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// APIKeyStore resolves an API key hash to its identity. Keys are
// stored hashed; the plaintext exists only in the caller's hands.
type APIKeyStore interface {
	LookupKeyHash(ctx context.Context, keyHash string) (*Identity, error)
}

// Manager mints and validates bearer tokens.
type Manager struct {
	mode        AuthMode
	secret      []byte
	issuer      string
	ttl         time.Duration
	revocations RevocationChecker
	apiKeys     APIKeyStore
	now         func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRevocations plugs in the revocation cache.
func WithRevocations(rc RevocationChecker) ManagerOption {
	return func(m *Manager) { m.revocations = rc }
}

// WithAPIKeys plugs in the API key store.
func WithAPIKeys(ks APIKeyStore) ManagerOption {
	return func(m *Manager) { m.apiKeys = ks }
}

// WithTTL overrides the access token lifetime, clamped to MaxTokenTTL.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > MaxTokenTTL {
			ttl = MaxTokenTTL
		}
		m.ttl = ttl
	}
}

// WithManagerClock overrides the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a token manager. JWT mode requires a secret.
func NewManager(mode AuthMode, secret, issuer string, opts ...ManagerOption) (*Manager, error) {
	if mode != ModeDevelopment && secret == "" {
		return nil, ErrNoSecret
	}
	m := &Manager{
		mode:   mode,
		secret: []byte(secret),
		issuer: issuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Mint issues an access token for the identity. In development mode
// the token is the bmdev HMAC form; otherwise an HS256 JWT.
func (m *Manager) Mint(identity *Identity) (string, error) {
	now := m.now()
	claims := Claims{
		Subject:      identity.UserID,
		TenantID:     identity.TenantID,
		Issuer:       m.issuer,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(m.ttl).Unix(),
		Scopes:       identity.Scopes,
		JTI:          "jti-" + uuid.NewString(),
		IdentityKind: identity.Kind,
		Role:         identity.Role,
	}
	if m.mode == ModeDevelopment {
		return m.mintDev(&claims)
	}
	return m.mintJWT(&claims)
}

// mintDev produces bmdev.<base64url(payload)>.<hex(hmac-sha256)>.
func (m *Manager) mintDev(claims *Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshal claims: %w", err)
	}
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	return DevTokenPrefix +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		hex.EncodeToString(mac.Sum(nil)), nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	TenantID     string         `json:"tenant_id"`
	Scopes       []string       `json:"scopes,omitempty"`
	IdentityKind IdentityKind   `json:"identity_kind"`
	Role         contracts.Role `json:"role"`
}

func (m *Manager) mintJWT(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			Issuer:    claims.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
			ID:        claims.JTI,
		},
		TenantID:     claims.TenantID,
		Scopes:       claims.Scopes,
		IdentityKind: claims.IdentityKind,
		Role:         claims.Role,
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Validate checks a bearer value of any accepted form and returns the
// identity it carries. Revocation is consulted last so the error
// reported reflects the strongest failure.
func (m *Manager) Validate(ctx context.Context, bearer string) (*Identity, error) {
	var claims *Claims
	var err error
	switch {
	case strings.HasPrefix(bearer, APIKeyPrefix):
		return m.validateAPIKey(ctx, bearer)
	case strings.HasPrefix(bearer, DevTokenPrefix):
		claims, err = m.validateDev(bearer)
	default:
		claims, err = m.validateJWT(bearer)
	}
	if err != nil {
		return nil, err
	}

	if m.revocations != nil && claims.JTI != "" {
		revoked, err := m.revocations.IsRevoked(ctx, claims.JTI)
		if err != nil || revoked {
			// Checker errors fail closed.
			return nil, ErrRevokedToken
		}
	}

	return &Identity{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
		Kind:     claims.IdentityKind,
		Scopes:   claims.Scopes,
		JTI:      claims.JTI,
	}, nil
}

func (m *Manager) validateDev(token string) (*Claims, error) {
	rest := strings.TrimPrefix(token, DevTokenPrefix)
	payloadPart, sigPart, ok := strings.Cut(rest, ".")
	if !ok {
		return nil, fmt.Errorf("%w: malformed dev token", ErrInvalidToken)
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return nil, fmt.Errorf("%w: bad payload encoding", ErrInvalidToken)
	}
	sig, err := hex.DecodeString(sigPart)
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature encoding", ErrInvalidToken)
	}

	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, fmt.Errorf("%w: missing subject or tenant", ErrInvalidToken)
	}
	if m.now().Unix() >= claims.ExpiresAt {
		return nil, ErrExpiredToken
	}
	return &claims, nil
}

func (m *Manager) validateJWT(bearer string) (*Claims, error) {
	var parsed jwtClaims
	token, err := jwt.ParseWithClaims(bearer, &parsed, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || parsed.Subject == "" || parsed.TenantID == "" {
		return nil, fmt.Errorf("%w: missing subject or tenant", ErrInvalidToken)
	}
	claims := Claims{
		Subject:      parsed.Subject,
		TenantID:     parsed.TenantID,
		Issuer:       parsed.Issuer,
		JTI:          parsed.ID,
		Scopes:       parsed.Scopes,
		IdentityKind: parsed.IdentityKind,
		Role:         parsed.Role,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Unix()
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Unix()
	}
	return &claims, nil
}

func (m *Manager) validateAPIKey(ctx context.Context, key string) (*Identity, error) {
	if m.apiKeys == nil {
		return nil, fmt.Errorf("%w: API keys not configured", ErrInvalidToken)
	}
	identity, err := m.apiKeys.LookupKeyHash(ctx, HashAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("%w: unknown API key", ErrInvalidToken)
	}
	return identity, nil
}

// HashAPIKey is the stored form of an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey generates a fresh API key and its storage hash.
func NewAPIKey() (key, hash string) {
	key = APIKeyPrefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return key, HashAPIKey(key)
}

// KMSKind identifies a production signing backend from its key
// identifier.
type KMSKind string

const (
	KMSNone  KMSKind = ""
	KMSAWS   KMSKind = "aws"
	KMSAzure KMSKind = "azure"
)

// DetectKMSKind classifies a configured KMS key identifier.
func DetectKMSKind(keyID string) KMSKind {
	switch {
	case strings.HasPrefix(keyID, "arn:aws:kms:"):
		return KMSAWS
	case strings.HasPrefix(keyID, "https://") && strings.Contains(keyID, ".vault.azure.net/keys/"):
		return KMSAzure
	default:
		return KMSNone
	}
}
