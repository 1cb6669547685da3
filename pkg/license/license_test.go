package license_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/license"
)

func testClock() time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
}

func validLicense() *contracts.LicenseFile {
	return &contracts.LicenseFile{
		LicenseID:         "lic-001",
		TenantID:          "tenant-1",
		Tier:              contracts.TierTeam,
		IssuedAt:          "2025-01-01T00:00:00Z",
		ExpiresAt:         "2026-01-01T00:00:00Z",
		MaxModels:         50,
		MaxPlanRunsPerDay: 200,
		AIEnabled:         true,
		Features:          []string{"ai_advisory"},
	}
}

func signedLicense(t *testing.T) (*contracts.LicenseFile, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	lic := validLicense()
	require.NoError(t, license.Sign(lic, priv))
	return lic, pub
}

func TestVerify_SignedLicense(t *testing.T) {
	lic, pub := signedLicense(t)
	m := license.NewManager(pub, license.WithClock(testClock))
	assert.NoError(t, m.Verify(lic))
}

func TestVerify_UnsignedRejectedWithKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	m := license.NewManager(pub, license.WithClock(testClock))

	assert.ErrorIs(t, m.Verify(validLicense()), license.ErrUnsigned)
}

func TestVerify_TamperedPayloadRejected(t *testing.T) {
	lic, pub := signedLicense(t)
	lic.MaxModels = 5000
	m := license.NewManager(pub, license.WithClock(testClock))

	assert.ErrorIs(t, m.Verify(lic), license.ErrBadSignature)
}

func TestVerify_WrongKeyRejected(t *testing.T) {
	lic, _ := signedLicense(t)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	m := license.NewManager(otherPub, license.WithClock(testClock))

	assert.ErrorIs(t, m.Verify(lic), license.ErrBadSignature)
}

func TestVerify_DevModeSkipsSignature(t *testing.T) {
	m := license.NewManager(nil, license.WithClock(testClock))
	assert.NoError(t, m.Verify(validLicense()))
}

func TestVerify_SignatureCheckedBeforeExpiry(t *testing.T) {
	// An expired license with a bad signature must report the signature
	// problem, not the expiry.
	lic, pub := signedLicense(t)
	lic.ExpiresAt = "2020-01-01T00:00:00Z"
	m := license.NewManager(pub, license.WithClock(testClock))

	assert.ErrorIs(t, m.Verify(lic), license.ErrBadSignature)
}

func TestVerify_Expired(t *testing.T) {
	m := license.NewManager(nil, license.WithClock(testClock))
	lic := validLicense()
	lic.ExpiresAt = "2025-05-31T00:00:00Z"
	assert.ErrorIs(t, m.Verify(lic), license.ErrExpired)

	// Exactly at the boundary counts as expired.
	lic.ExpiresAt = "2025-06-01T00:00:00Z"
	assert.ErrorIs(t, m.Verify(lic), license.ErrExpired)
}

func TestLoad_SchemaValidation(t *testing.T) {
	m := license.NewManager(nil, license.WithClock(testClock))

	data, err := json.Marshal(validLicense())
	require.NoError(t, err)
	lic, err := m.Load(data)
	require.NoError(t, err)
	assert.Equal(t, "lic-001", lic.LicenseID)

	_, err = m.Load([]byte(`{"license_id": "x"}`))
	assert.Error(t, err)

	_, err = m.Load([]byte(`{"license_id": "x", "tenant_id": "t", "tier": "platinum",
		"issued_at": "2025-01-01T00:00:00Z", "expires_at": "2026-01-01T00:00:00Z"}`))
	assert.Error(t, err)

	_, err = m.Load([]byte(`not json`))
	assert.Error(t, err)
}

func TestEntitlements(t *testing.T) {
	m := license.NewManager(nil, license.WithClock(testClock))
	lic := validLicense()

	assert.True(t, m.HasFeature(lic, "ai_advisory"))
	assert.True(t, m.HasFeature(lic, "impact_analysis")) // via team tier
	assert.False(t, m.HasFeature(lic, "audit_log"))

	assert.True(t, m.ModelsAllowed(lic, 50))
	assert.False(t, m.ModelsAllowed(lic, 51))
	assert.True(t, m.PlanRunsAllowed(lic, 199))
	assert.False(t, m.PlanRunsAllowed(lic, 200))

	lic.MaxModels = 0
	assert.True(t, m.ModelsAllowed(lic, 1_000_000))
}
