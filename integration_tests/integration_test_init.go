package integrationtest

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rubilnik4/weather-api/internal/handler"
	"github.com/rubilnik4/weather-api/internal/middleware"
	"github.com/rubilnik4/weather-api/internal/observability"
	"github.com/rubilnik4/weather-api/internal/redis"
	"github.com/rubilnik4/weather-api/internal/repository"
	"github.com/rubilnik4/weather-api/internal/service"
)

const testAPIKey = "test_api_key"

// mockOWM is a stand-in for OpenWeatherMap that knows about London only.
type mockOWM struct {
	*httptest.Server
	hits atomic.Int32
}

func fixture(name string) []byte {
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		panic(err)
	}
	return data
}

func newMockOWM() *mockOWM {
	m := &mockOWM{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)
		q := r.URL.Query()
		if q.Get("appid") != testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"cod":401,"message":"Invalid API key. Please see https://openweathermap.org/faq#error401 for more info."}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		london := q.Get("q") == "London" || q.Get("q") == "London,GB"
		switch {
		case r.URL.Path == "/data/2.5/weather" && london:
			_, _ = w.Write(fixture("current_london.json"))
		case r.URL.Path == "/data/2.5/forecast" && london:
			_, _ = w.Write(fixture("forecast_london.json"))
		case r.URL.Path == "/geo/1.0/direct" && london:
			_, _ = w.Write(fixture("geo_london.json"))
		case r.URL.Path == "/geo/1.0/direct":
			_, _ = w.Write([]byte(`[]`))
		case r.URL.Path == "/data/3.0/onecall" && q.Get("lat") != "" && q.Get("lon") != "":
			_, _ = w.Write(fixture("onecall_london.json"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"cod": "404", "message": "city not found"}`))
		}
	}))
	return m
}

// newTestServer wires the full HTTP stack against the mock provider. cache may be nil.
func newTestServer(owm *mockOWM, apiKey string, cache *redis.Cache, metrics *observability.Metrics, reg *prometheus.Registry) *httptest.Server {
	repo := repository.NewWeatherRepository(owm.URL, apiKey, owm.Client(), metrics)
	svc := service.NewWeatherService(repo, cache, metrics)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		GlobalRate:  600,
		GlobalBurst: 100,
		ParamRate:   600,
		ParamBurst:  100,
	}, metrics)

	var health handler.HealthChecker
	if cache != nil {
		health = cache
	}
	h := handler.NewWeatherHandler(svc, health)
	return httptest.NewServer(h.Routes(limiter, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
}

// register adds the metrics to reg so /metrics can be asserted on.
func register(reg *prometheus.Registry, m *observability.Metrics) {
	reg.MustRegister(m.ProviderRequests, m.ProviderDuration, m.CacheLookups, m.RateLimited)
}
