package common_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/common"
)

func newIdem(t *testing.T) common.Idem {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return common.Idem{R: client}
}

func TestIdemRejectsReplay(t *testing.T) {
	idem := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Idempotency-Key", "k1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusAccepted, send("/api/v1/checkout/cart_1/pay"))
	require.Equal(t, http.StatusConflict, send("/api/v1/checkout/cart_1/pay"))
	require.Equal(t, http.StatusAccepted, send("/api/v1/checkout/cart_2/pay"))
	require.Equal(t, 2, calls)
}

func TestIdemFreesKeyAfterServerError(t *testing.T) {
	idem := newIdem(t)
	status := http.StatusBadGateway
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/pay", nil)
		req.Header.Set("Idempotency-Key", "k2")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusBadGateway, send())
	status = http.StatusAccepted
	require.Equal(t, http.StatusAccepted, send())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	require.Equal(t, "192.0.2.1", common.ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "198.51.100.2", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	require.Equal(t, "203.0.113.5", common.ClientIP(req))
}

func TestAppError(t *testing.T) {
	base := errors.New("boom")
	err := common.NewAppError("BACKEND_UNAVAILABLE", "backend unavailable", http.StatusBadGateway, base)
	require.True(t, common.IsAppError(err))
	require.ErrorIs(t, err, base)
	require.Equal(t, "boom", err.Error())

	rr := httptest.NewRecorder()
	common.WriteError(rr, err)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.JSONEq(t, `{"error":{"code":"BACKEND_UNAVAILABLE","message":"backend unavailable"}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	common.WriteError(rr, base)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
