// Package license loads, verifies, and queries Ed25519-signed license
// files. Verification order is fixed: signature first, then expiry,
// then entitlement queries.
package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ironlayer/ironlayer/pkg/canonicalize"
	"github.com/ironlayer/ironlayer/pkg/contracts"
	"github.com/ironlayer/ironlayer/pkg/tiers"
)

var (
	// ErrUnsigned is returned when a public key is configured but the
	// license carries no signature.
	ErrUnsigned = errors.New("license: file is not signed")
	// ErrBadSignature is returned when signature verification fails.
	ErrBadSignature = errors.New("license: signature verification failed")
	// ErrExpired is returned for a license past its expires_at.
	ErrExpired = errors.New("license: expired")
)

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["license_id", "tenant_id", "tier", "issued_at", "expires_at"],
  "properties": {
    "license_id": {"type": "string", "minLength": 1},
    "tenant_id": {"type": "string", "minLength": 1},
    "tier": {"enum": ["community", "team", "enterprise"]},
    "issued_at": {"type": "string", "format": "date-time"},
    "expires_at": {"type": "string", "format": "date-time"},
    "max_models": {"type": "integer"},
    "max_plan_runs_per_day": {"type": "integer"},
    "ai_enabled": {"type": "boolean"},
    "features": {"type": "array", "items": {"type": "string"}},
    "signature": {"type": "string"}
  },
  "additionalProperties": false
}`

var licenseSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("license.json", strings.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile("license.json")
}

// SigningPayload returns the canonical JSON the signature covers: every
// field except signature, keys sorted, compact separators.
func SigningPayload(lic *contracts.LicenseFile) ([]byte, error) {
	unsigned := *lic
	unsigned.Signature = ""
	return canonicalize.JCS(&unsigned)
}

// Sign computes and attaches the license signature.
func Sign(lic *contracts.LicenseFile, priv ed25519.PrivateKey) error {
	payload, err := SigningPayload(lic)
	if err != nil {
		return fmt.Errorf("license: canonicalize payload: %w", err)
	}
	lic.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload))
	return nil
}

// Manager verifies license files and answers entitlement queries.
// With no public key configured (development mode) signature checks
// are skipped; expiry is always enforced.
type Manager struct {
	pubKey ed25519.PublicKey
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a license manager. pubKey may be nil for
// development installs.
func NewManager(pubKey ed25519.PublicKey, opts ...Option) *Manager {
	m := &Manager{pubKey: pubKey, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load parses and schema-validates a license file without verifying it.
func (m *Manager) Load(data []byte) (*contracts.LicenseFile, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("license: parse: %w", err)
	}
	if err := licenseSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("license: schema validation: %w", err)
	}
	var lic contracts.LicenseFile
	if err := json.Unmarshal(data, &lic); err != nil {
		return nil, fmt.Errorf("license: parse: %w", err)
	}
	return &lic, nil
}

// Verify checks signature then expiry. Entitlement queries come after a
// successful Verify.
func (m *Manager) Verify(lic *contracts.LicenseFile) error {
	if m.pubKey != nil {
		if lic.Signature == "" {
			return ErrUnsigned
		}
		sig, err := base64.StdEncoding.DecodeString(lic.Signature)
		if err != nil {
			return fmt.Errorf("%w: bad base64", ErrBadSignature)
		}
		payload, err := SigningPayload(lic)
		if err != nil {
			return fmt.Errorf("license: canonicalize payload: %w", err)
		}
		if !ed25519.Verify(m.pubKey, payload, sig) {
			return ErrBadSignature
		}
	}

	expires, err := time.Parse(time.RFC3339, lic.ExpiresAt)
	if err != nil {
		return fmt.Errorf("license: bad expires_at %q: %w", lic.ExpiresAt, err)
	}
	if !m.now().UTC().Before(expires) {
		return fmt.Errorf("%w: expired at %s", ErrExpired, lic.ExpiresAt)
	}
	return nil
}

// HasFeature reports whether the license grants a feature, either
// explicitly or through its tier.
func (m *Manager) HasFeature(lic *contracts.LicenseFile, feature string) bool {
	for _, f := range lic.Features {
		if f == feature || f == "all" {
			return true
		}
	}
	if t := tiers.Get(tiers.TierID(lic.Tier)); t != nil {
		return t.HasFeature(feature)
	}
	return false
}

// ModelsAllowed reports whether count models fit under the license.
// Zero or negative max_models means unlimited.
func (m *Manager) ModelsAllowed(lic *contracts.LicenseFile, count int64) bool {
	if lic.MaxModels <= 0 {
		return true
	}
	return count <= lic.MaxModels
}

// PlanRunsAllowed reports whether todayCount more daily plan runs fit
// under the license. Zero or negative means unlimited.
func (m *Manager) PlanRunsAllowed(lic *contracts.LicenseFile, todayCount int64) bool {
	if lic.MaxPlanRunsPerDay <= 0 {
		return true
	}
	return todayCount < lic.MaxPlanRunsPerDay
}
