package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("storefront", []float64{1, 10}, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/api/v1/checkout/{cartId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/checkout/cart_1", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/checkout/{cartId}", "204"))
	require.Equal(t, 1.0, total)
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("storefront", nil, registry)
	second := obs.NewHTTPMetrics("storefront", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestRequestLoggerIncludesCartID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Post("/api/v1/checkout/{cartId}/pay", func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusAccepted)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/cart_9/pay", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "http_request", entry["message"])
	require.Equal(t, "cart_9", entry["cart_id"])
	require.Equal(t, "/api/v1/checkout/{cartId}/pay", entry["route"])
	require.Equal(t, float64(http.StatusAccepted), entry["status"])
}

func TestParseBucketsCSV(t *testing.T) {
	require.Nil(t, obs.ParseBucketsCSV(" "))
	require.Equal(t, []float64{5, 50}, obs.ParseBucketsCSV("5, bad, -1, 50"))
}
