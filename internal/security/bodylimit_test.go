package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyLimitAllowsSmallBodies(t *testing.T) {
	var got string
	handler := BodyLimit{Max: 64}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		got = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader(`{"notReady":true}`)))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, `{"notReady":true}`, got)
}

func TestBodyLimitRejectsDeclaredLength(t *testing.T) {
	called := false
	handler := BodyLimit{Max: 4}.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader("too long")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")
	require.False(t, called)
}

func TestBodyLimitStreamsUnknownLength(t *testing.T) {
	var readErr error
	handler := BodyLimit{Max: 4}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader("too long"))
	req.ContentLength = -1
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Error(t, readErr)
	require.True(t, TooLarge(readErr))
}
