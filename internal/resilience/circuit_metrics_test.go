package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func TestBreakerMetricsTransitions(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("metrics-target")
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("metrics-target")))

	require.Eventually(t, func() bool {
		return breaker.Allow(ctx)
	}, 100*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("metrics-target")))

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("metrics-target")))

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("metrics-target", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("metrics-target", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("metrics-target", "half_open", "closed")))
}
