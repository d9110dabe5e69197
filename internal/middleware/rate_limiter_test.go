package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rubilnik4/weather-api/internal/model"
	"github.com/rubilnik4/weather-api/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func serve(h http.Handler, ip, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = ip
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.Response {
	t.Helper()
	var resp model.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp
}

func TestRateLimiter_GlobalBurst(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	rl := NewRateLimiter(RateLimitConfig{GlobalRate: 10, GlobalBurst: 10, ParamRate: 2, ParamBurst: 2}, metrics)
	mw := rl.Middleware(okHandler())
	ip := "1.2.3.4:1234"

	for i := 0; i < 10; i++ {
		w := serve(mw, ip, fmt.Sprintf("/weather/current?city=city%d", i))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := serve(mw, ip, "/weather/current?city=another")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeError(t, w)
	assert.Contains(t, *resp.Error, "Rate limit exceeded")
	assert.Equal(t, "Too Many Requests (global limit)", resp.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimited.WithLabelValues("global")))

	// A different client is unaffected.
	assert.Equal(t, http.StatusOK, serve(mw, "5.6.7.8:1", "/weather/current?city=x").Code)
}

func TestRateLimiter_PerParamBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{GlobalRate: 10, GlobalBurst: 10, ParamRate: 2, ParamBurst: 2}, nil)
	mw := rl.Middleware(okHandler())
	ip := "2.3.4.5:2345"

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(mw, ip, "/weather/current?city=London").Code)
	}

	w := serve(mw, ip, "/weather/current?city=london")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeError(t, w)
	assert.Contains(t, *resp.Error, "per city")
	assert.Equal(t, "Too Many Requests (param limit)", resp.Message)

	assert.Equal(t, http.StatusOK, serve(mw, ip, "/weather/current?city=Paris").Code)
}

func TestRateLimiter_IgnoresForwardedFor(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{GlobalRate: 1, GlobalBurst: 1, ParamRate: 10, ParamBurst: 10}, nil)
	mw := rl.Middleware(okHandler())

	for i, xff := range []string{"9.9.9.9", "8.8.8.8"} {
		req := httptest.NewRequest(http.MethodGet, "/weather/current?city=a", nil)
		req.RemoteAddr = "3.3.3.3:1234"
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		if i == 0 {
			require.Equal(t, http.StatusOK, w.Code)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, w.Code, "a new X-Forwarded-For value must not reset the limit")
		}
	}
}

func TestRateLimiter_GlobalMiddlewareSkipsParamLimit(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	rl := NewRateLimiter(RateLimitConfig{GlobalRate: 3, GlobalBurst: 3, ParamRate: 1, ParamBurst: 1}, metrics)
	mw := rl.GlobalMiddleware(okHandler())
	ip := "4.4.4.4:1"

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, serve(mw, ip, "/tools/call").Code, "request %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(mw, ip, "/tools/call").Code)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RateLimited.WithLabelValues("param")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimited.WithLabelValues("global")))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{GlobalRate: 10, GlobalBurst: 10, ParamRate: 2, ParamBurst: 2, IdleTimeout: time.Minute}, nil)
	mw := rl.Middleware(okHandler())
	serve(mw, "1.1.1.1:1", "/weather/current?city=a")
	serve(mw, "2.2.2.2:1", "/weather/current?city=b")
	require.Equal(t, 2, rl.visitors())

	rl.Cleanup(time.Now())
	assert.Equal(t, 2, rl.visitors())

	rl.Cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, rl.visitors())
	assert.Empty(t, rl.paramVisitors)
}
