package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/health"
)

type stubChecker struct {
	backendErr error
	redisErr   error
}

func (s stubChecker) PingBackend(_ context.Context, _ time.Duration) error {
	return s.backendErr
}

func (s stubChecker) PingRedis(_ context.Context, _ time.Duration) error {
	return s.redisErr
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestLive(t *testing.T) {
	handler := health.Handler{}
	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadySuccess(t *testing.T) {
	handler := health.Handler{Checker: stubChecker{}, BackendTimeout: 50 * time.Millisecond, RedisTimeout: 50 * time.Millisecond}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, map[string]string{"backend": "ok", "redis": "ok"}, status)
}

func TestReadyFailure(t *testing.T) {
	handler := health.Handler{Checker: stubChecker{backendErr: errors.New("backend down")}}
	rr := httptest.NewRecorder()
	handler.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "backend down")
}

func TestReadinessAfterShutdown(t *testing.T) {
	handler := health.Handler{Checker: stubChecker{}}
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })
	resp := httptest.NewRecorder()
	handler.Ready(resp, req)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)

	health.SetReady(true)
	resp = httptest.NewRecorder()
	handler.Ready(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestDependencies(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var sawDeadline bool
	deps := health.Dependencies{
		Backend: pingFunc(func(ctx context.Context) error {
			_, sawDeadline = ctx.Deadline()
			return nil
		}),
		Redis: client,
	}
	require.NoError(t, deps.PingBackend(context.Background(), time.Second))
	require.True(t, sawDeadline)
	require.NoError(t, deps.PingRedis(context.Background(), time.Second))

	mr.Close()
	require.Error(t, deps.PingRedis(context.Background(), 100*time.Millisecond))
}
