package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "ironlayer", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// A disabled provider still hands out usable no-op instruments.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "plan.generate",
		attribute.String("tenant_id", "ten-1"))
	require.NotNil(t, ctx)
	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "plan.apply")
	finish(errors.New("executor unavailable"))
}

func TestControlPlaneCountersDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	// None of these may panic on a disabled provider.
	p.PlanGenerated(ctx, "ten-1")
	p.PlanApplied(ctx, "ten-1")
	p.QuotaDenied(ctx, "ten-1", "PLAN_GENERATED")
	p.DiscrepanciesFound(ctx, "ten-1", 3)
	p.RecordRequest(ctx, attribute.String("route", "/api/v1/plans"))
	p.RecordError(ctx, errors.New("boom"))
	p.RecordDuration(ctx, 100*time.Millisecond)
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "reconcile.pass")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}
