package common_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/common"
)

func TestIdemRejectsReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	idem := common.Idem{R: redis.NewClient(&redis.Options{Addr: mr.Addr()}), TTL: time.Minute}
	status := http.StatusCreated
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))

	send := func(subject string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/rules", nil)
		req.Header.Set("Idempotency-Key", "abc")
		req = req.WithContext(common.WithUserID(req.Context(), subject))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusCreated, send("ops"))
	require.Equal(t, http.StatusConflict, send("ops"))
	require.Equal(t, http.StatusCreated, send("other"), "keys are scoped per caller")
}

func TestIdemReleasesKeyOnServerError(t *testing.T) {
	mr := miniredis.RunT(t)
	idem := common.Idem{R: redis.NewClient(&redis.Options{Addr: mr.Addr()}), TTL: time.Minute}
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, want := range []int{http.StatusServiceUnavailable, http.StatusOK, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/rules/a", nil)
		req.Header.Set("Idempotency-Key", "k1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, want, rr.Code)
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, common.NotFound("rule not found", errors.New("missing")))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"rule not found"}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	common.WriteError(rr, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:1234"
	require.Equal(t, "10.1.1.1", common.ClientIP(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", common.ClientIP(req))
}
