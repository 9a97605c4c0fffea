package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fandomtools/ficbot/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func TestGateEnforcesMinimumSpacing(t *testing.T) {
	const interval = 50 * time.Millisecond
	g := New(interval)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	// First grant is immediate; the next two each wait a full interval.
	require.GreaterOrEqual(t, elapsed, 2*interval)
}

func TestGateDisabledWhenIntervalNonPositive(t *testing.T) {
	g := New(0)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	require.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestGateRespectsContextCancellation(t *testing.T) {
	g := New(time.Minute)
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Wait(ctx)
	require.Error(t, err)
}
