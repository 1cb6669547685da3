package license_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironlayer/ironlayer/pkg/license"
)

type fixedUsage struct {
	count int64
	err   error
}

func (f fixedUsage) PlanRunsToday(context.Context, string, time.Time) (int64, error) {
	return f.count, f.err
}

func TestGateAllowsUnderLimit(t *testing.T) {
	lic, pub := signedLicense(t)
	m := license.NewManager(pub, license.WithClock(testClock))
	gate := license.NewGate(m, lic, fixedUsage{count: 199}, license.WithGateClock(testClock))

	assert.NoError(t, gate.AuthorizePlanRun(context.Background(), "tenant-1"))
}

func TestGateBlocksAtLimit(t *testing.T) {
	lic, pub := signedLicense(t)
	m := license.NewManager(pub, license.WithClock(testClock))
	gate := license.NewGate(m, lic, fixedUsage{count: 200}, license.WithGateClock(testClock))

	err := gate.AuthorizePlanRun(context.Background(), "tenant-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, license.ErrPlanRunsExhausted)
	assert.Contains(t, err.Error(), "200")
}

func TestGateUnlimitedWhenZero(t *testing.T) {
	lic, _ := signedLicense(t)
	lic.MaxPlanRunsPerDay = 0
	m := license.NewManager(nil, license.WithClock(testClock)) // dev mode, tampering ok
	gate := license.NewGate(m, lic, fixedUsage{count: 1_000_000}, license.WithGateClock(testClock))

	assert.NoError(t, gate.AuthorizePlanRun(context.Background(), "tenant-1"))
}

func TestGateReverifiesExpiry(t *testing.T) {
	lic, pub := signedLicense(t)
	m := license.NewManager(pub, license.WithClock(func() time.Time {
		return time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC) // past expires_at
	}))
	gate := license.NewGate(m, lic, fixedUsage{}, license.WithGateClock(testClock))

	assert.ErrorIs(t, gate.AuthorizePlanRun(context.Background(), "tenant-1"), license.ErrExpired)
}

func TestGateSurfacesUsageErrors(t *testing.T) {
	lic, pub := signedLicense(t)
	m := license.NewManager(pub, license.WithClock(testClock))
	gate := license.NewGate(m, lic, fixedUsage{err: assert.AnError}, license.WithGateClock(testClock))

	assert.Error(t, gate.AuthorizePlanRun(context.Background(), "tenant-1"))
}
