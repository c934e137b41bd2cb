package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	l, err := New("1-S", nil, "test")
	require.NoError(t, err)

	handler := Handler{Limiter: l, Key: func(*http.Request) string { return "static" }}
	counted := handler.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/quote", nil)
	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)
	require.Equal(t, "0", rr1.Header().Get("X-RateLimit-Remaining"))

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.Equal(t, "1", rr2.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))
}

func TestHandlerMiddlewareKeysByClientIP(t *testing.T) {
	l, err := New("1-M", nil, "ip")
	require.NoError(t, err)
	counted := Handler{Limiter: l}.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/quote", nil)
	first.Header.Set("X-Forwarded-For", "10.0.0.1")
	second := httptest.NewRequest(http.MethodPost, "/quote", nil)
	second.Header.Set("X-Forwarded-For", "10.0.0.2")

	for _, req := range []*http.Request{first, second} {
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestHandlerMiddlewareRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New("2-M", client, "quote")
	require.NoError(t, err)
	counted := Handler{Limiter: l, Key: func(*http.Request) string { return "k" }}.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/quote", nil))
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	l, err := New("1-S", client, "err")
	require.NoError(t, err)
	mr.Close()

	called := false
	handler := Handler{Limiter: l, OnError: func(error) { called = true }}

	rr := httptest.NewRecorder()
	handler.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}

func TestNewRejectsMalformedRate(t *testing.T) {
	_, err := New("lots", nil, "bad")
	require.Error(t, err)
}
