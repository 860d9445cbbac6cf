package resilience_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func TestHTTPClientSingleAttemptReturnsServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, `{"ping":true}`, string(body))
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	}))
	defer srv.Close()

	client := resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1, Target: "single-attempt"}
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"ping":true}`))
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "upstream down")
	require.Equal(t, int32(1), hits.Load())
}

func TestHTTPClientRetriesReplayBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "payload", string(body))
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Target:      "retrying",
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("payload"))
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), hits.Load())
}

func TestHTTPClientOpenBreakerRejects(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("rejecting")
	client := resilience.HTTPClient{Client: srv.Client(), Breaker: breaker, Target: "rejecting"}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	_, err = client.Do(context.Background(), req)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, int32(1), hits.Load())
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	client := resilience.HTTPClient{Client: srv.Client(), Timeout: 20 * time.Millisecond, Target: "slow"}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(context.Background(), req)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
