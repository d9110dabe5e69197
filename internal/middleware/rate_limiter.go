package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rubilnik4/weather-api/internal/model"
	"github.com/rubilnik4/weather-api/internal/observability"
	"golang.org/x/time/rate"
)

// RateLimitConfig sets the limits. Rates are requests per minute.
type RateLimitConfig struct {
	GlobalRate  float64
	GlobalBurst int
	ParamRate   float64
	ParamBurst  int
	// ParamKey is the query parameter limited separately, e.g. "city".
	ParamKey string
	// IdleTimeout is how long an unused limiter is kept before cleanup.
	IdleTimeout time.Duration
}

// visitor holds a rate limiter and the last time it was used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-IP limit and a per-IP, per-parameter-value limit.
type RateLimiter struct {
	cfg     RateLimitConfig
	metrics *observability.Metrics

	muGlobal       sync.Mutex
	globalVisitors map[string]*visitor // key: ip

	muParam       sync.Mutex
	paramVisitors map[string]map[string]*visitor // key: ip -> param value
}

// NewRateLimiter creates a limiter. metrics may be nil.
func NewRateLimiter(cfg RateLimitConfig, metrics *observability.Metrics) *RateLimiter {
	if cfg.ParamKey == "" {
		cfg.ParamKey = "city"
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 3 * time.Minute
	}
	return &RateLimiter{
		cfg:            cfg,
		metrics:        metrics,
		globalVisitors: make(map[string]*visitor),
		paramVisitors:  make(map[string]map[string]*visitor),
	}
}

func perMinute(r float64) rate.Limit {
	return rate.Limit(r / 60.0)
}

// globalLimiter returns the limiter for ip, creating one if it does not exist.
func (rl *RateLimiter) globalLimiter(ip string, now time.Time) *rate.Limiter {
	rl.muGlobal.Lock()
	defer rl.muGlobal.Unlock()
	v, exists := rl.globalVisitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(perMinute(rl.cfg.GlobalRate), rl.cfg.GlobalBurst)}
		rl.globalVisitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// paramLimiter returns the limiter for ip and param value, creating one if it does not exist.
func (rl *RateLimiter) paramLimiter(ip, param string, now time.Time) *rate.Limiter {
	rl.muParam.Lock()
	defer rl.muParam.Unlock()
	byParam, ok := rl.paramVisitors[ip]
	if !ok {
		byParam = make(map[string]*visitor)
		rl.paramVisitors[ip] = byParam
	}
	v, exists := byParam[param]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(perMinute(rl.cfg.ParamRate), rl.cfg.ParamBurst)}
		byParam[param] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Cleanup removes limiters idle for longer than the configured timeout.
func (rl *RateLimiter) Cleanup(now time.Time) {
	rl.muGlobal.Lock()
	for ip, v := range rl.globalVisitors {
		if now.Sub(v.lastSeen) > rl.cfg.IdleTimeout {
			delete(rl.globalVisitors, ip)
		}
	}
	rl.muGlobal.Unlock()

	rl.muParam.Lock()
	for ip, byParam := range rl.paramVisitors {
		for param, v := range byParam {
			if now.Sub(v.lastSeen) > rl.cfg.IdleTimeout {
				delete(byParam, param)
			}
		}
		if len(byParam) == 0 {
			delete(rl.paramVisitors, ip)
		}
	}
	rl.muParam.Unlock()
}

// StartCleanup runs Cleanup every minute until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.Cleanup(now)
			}
		}
	}()
}

// visitors reports how many IPs currently hold a global limiter.
func (rl *RateLimiter) visitors() int {
	rl.muGlobal.Lock()
	defer rl.muGlobal.Unlock()
	return len(rl.globalVisitors)
}

// getIP returns the host part of RemoteAddr. Forwarding headers are not read
// here; behind a trusted proxy, a RealIP middleware rewrites RemoteAddr first.
func getIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr // fallback
	}
	return ip
}

// Middleware enforces the global and per-parameter limits. Rejected requests
// get 429 with a JSON error envelope.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return rl.limit(next, true)
}

// GlobalMiddleware enforces the per-IP limit only, for routes that carry no
// query parameter to key on.
func (rl *RateLimiter) GlobalMiddleware(next http.Handler) http.Handler {
	return rl.limit(next, false)
}

func (rl *RateLimiter) limit(next http.Handler, perParam bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ip := getIP(r)

		if !rl.globalLimiter(ip, now).AllowN(now, 1) {
			rl.reject(w, "global", fmt.Sprintf("Rate limit exceeded: max %g requests per minute per user/IP", rl.cfg.GlobalRate))
			return
		}
		if perParam {
			param := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(rl.cfg.ParamKey)))
			if param == "" {
				// If param is missing, treat as a single bucket
				param = "__none__"
			}
			if !rl.paramLimiter(ip, param, now).AllowN(now, 1) {
				rl.reject(w, "param", fmt.Sprintf("Rate limit exceeded: max %g requests per minute per %s per user/IP", rl.cfg.ParamRate, rl.cfg.ParamKey))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter, scope, detail string) {
	if rl.metrics != nil {
		rl.metrics.RateLimited.WithLabelValues(scope).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	resp := model.ErrorResponseBody(detail)
	resp.Message = fmt.Sprintf("Too Many Requests (%s limit)", scope)
	_ = json.NewEncoder(w).Encode(resp)
}
