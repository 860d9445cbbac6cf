package obs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/obs"
)

func TestInitTracerWithoutExporter(t *testing.T) {
	shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName: "storefront-test",
		Exporter:    "none",
		Environment: "test",
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	_, err := obs.InitTracer(context.Background(), obs.TracingConfig{Exporter: "zipkin"})
	require.Error(t, err)
}
