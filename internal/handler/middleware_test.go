package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLocalOnly(t *testing.T) {
	h := LocalOnly(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/admin/scan", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/scan", nil)
	req.RemoteAddr = "10.1.2.3:54321"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/scan", nil)
	req.RemoteAddr = "not-an-addr"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecureArtifactServer(t *testing.T) {
	h := SecureArtifactServer(okHandler())

	cases := []struct {
		path string
		code int
	}{
		{"/demo-1.2.0.zip", http.StatusOK},
		{"/demo-1.2.0-py3-none-any.whl", http.StatusOK},
		{"/demo-1.2.0.tar.gz", http.StatusOK},
		{"/demo.exe", http.StatusNotFound},
		{"/subdir/", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, tc.code, rec.Code, tc.path)
	}

	// Security headers are set even on rejected paths
	req := httptest.NewRequest(http.MethodGet, "/demo.exe", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	h := rl.RateLimit(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.RemoteAddr = "192.0.2.1:1000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The burst is spent; the next request is throttled
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client has its own bucket
	other := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	other.RemoteAddr = "192.0.2.2:1000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterCloseStopsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rl := NewRateLimiter(1, 1)
	rl.getLimiter("192.0.2.9:1000")
	rl.Close()
}
