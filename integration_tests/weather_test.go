package integrationtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/rubilnik4/weather-api/internal/config"
	"github.com/rubilnik4/weather-api/internal/model"
	"github.com/rubilnik4/weather-api/internal/observability"
	"github.com/rubilnik4/weather-api/internal/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type WeatherAPITestSuite struct {
	suite.Suite
	httpServer   *httptest.Server
	badKeyServer *httptest.Server
	owm          *mockOWM
	miniRedis    *miniredis.Miniredis
	redisClient  *redisv9.Client
}

func (suite *WeatherAPITestSuite) SetupSuite() {
	suite.miniRedis = miniredis.NewMiniRedis()
	require.NoError(suite.T(), suite.miniRedis.Start())

	config.ReloadConfigForTest()
	cfg, err := config.Load()
	require.NoError(suite.T(), err)

	suite.owm = newMockOWM()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsForTesting()
	register(reg, metrics)
	suite.redisClient = redis.NewClient(suite.miniRedis.Addr())
	cache := redis.NewCache(suite.redisClient, cfg.CacheExpiration)
	suite.httpServer = newTestServer(suite.owm, cfg.APIKey, cache, metrics, reg)

	suite.badKeyServer = newTestServer(suite.owm, "invalid_key", nil, observability.NewMetricsForTesting(), prometheus.NewRegistry())
}

func (suite *WeatherAPITestSuite) TearDownSuite() {
	for _, srv := range []*httptest.Server{suite.httpServer, suite.badKeyServer} {
		if srv != nil {
			srv.Close()
		}
	}
	if suite.owm != nil {
		suite.owm.Close()
	}
	if suite.redisClient != nil {
		_ = suite.redisClient.Close()
	}
	if suite.miniRedis != nil {
		suite.miniRedis.Close()
	}
	config.ReloadConfigForTest()
}

func (suite *WeatherAPITestSuite) SetupTest() {
	suite.miniRedis.FlushAll()
	suite.owm.hits.Store(0)
}

func TestWeatherAPITestSuite(t *testing.T) {
	suite.Run(t, new(WeatherAPITestSuite))
}

func (suite *WeatherAPITestSuite) get(srv *httptest.Server, path string) (*http.Response, model.Response) {
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(suite.T(), err)
	defer resp.Body.Close()

	var body model.Response
	require.NoError(suite.T(), json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

// dataAs re-decodes the envelope's data into dst.
func dataAs(t *testing.T, body model.Response, dst any) {
	t.Helper()
	raw, err := json.Marshal(body.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func (suite *WeatherAPITestSuite) TestCurrentWeatherEndpoint() {
	tests := []struct {
		name          string
		setupMockTest func()
		path          string
		badKey        bool
		wantStatus    int
		validate      func(t *testing.T, body model.Response)
	}{
		{
			name:       "Failed - Missing city parameter",
			path:       "/weather/current",
			wantStatus: http.StatusBadRequest,
			validate: func(t *testing.T, body model.Response) {
				require.NotNil(t, body.Error)
				assert.Equal(t, "Missing 'city' query parameter", *body.Error)
			},
		},
		{
			name:       "Failed - Empty city parameter",
			path:       "/weather/current?city=",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Failed - Invalid API key",
			path:       "/weather/current?city=London",
			badKey:     true,
			wantStatus: http.StatusBadGateway,
			validate: func(t *testing.T, body model.Response) {
				require.NotNil(t, body.Error)
				assert.Contains(t, *body.Error, "Weather API returned 401 Unauthorized for 'London' - Invalid API key")
			},
		},
		{
			name:       "Failed - Invalid location",
			path:       "/weather/current?city=InvalidCity12345",
			wantStatus: http.StatusNotFound,
			validate: func(t *testing.T, body model.Response) {
				require.NotNil(t, body.Error)
				assert.Contains(t, *body.Error, "404 Not Found for 'InvalidCity12345' - city not found")
			},
		},
		{
			name: "Success - Valid location (cached)",
			setupMockTest: func() {
				data, _ := json.Marshal(model.CurrentWeather{Temperature: 99, Conditions: []string{"from cache"}})
				require.NoError(suite.T(), suite.miniRedis.Set("weather:current:london", string(data)))
			},
			path:       "/weather/current?city=London",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, body model.Response) {
				var weather model.CurrentWeather
				dataAs(t, body, &weather)
				assert.Equal(t, 99.0, weather.Temperature)
				assert.Equal(t, int32(0), suite.owm.hits.Load())
			},
		},
		{
			name:       "Success - Valid location (not-cached)",
			path:       "/weather/current?city=London&country=GB",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, body model.Response) {
				var weather model.CurrentWeather
				dataAs(t, body, &weather)
				assert.Equal(t, 15.2, weather.Temperature)
				assert.Equal(t, []string{"clear sky"}, weather.Conditions)
				assert.Equal(t, int32(1), suite.owm.hits.Load())
				assert.True(t, suite.miniRedis.Exists("weather:current:london,gb"))
			},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.SetupTest()
			if tt.setupMockTest != nil {
				tt.setupMockTest()
			}
			srv := suite.httpServer
			if tt.badKey {
				srv = suite.badKeyServer
			}

			resp, body := suite.get(srv, tt.path)
			assert.Equal(suite.T(), tt.wantStatus, resp.StatusCode)
			if tt.validate != nil {
				tt.validate(suite.T(), body)
			}
		})
	}
}

func (suite *WeatherAPITestSuite) TestForecastEndpoint() {
	resp, body := suite.get(suite.httpServer, "/weather/forecast?city=London&days=2")
	suite.Require().Equal(http.StatusOK, resp.StatusCode)

	var forecast model.Forecast
	dataAs(suite.T(), body, &forecast)
	suite.Require().Len(forecast.Entries, 2)
	suite.Equal("2025-08-01 00:00:00", model.FormatProviderTime(forecast.Entries[0].Timestamp.Time))
	suite.Equal("2025-08-02 00:00:00", model.FormatProviderTime(forecast.Entries[1].Timestamp.Time))
	suite.Equal(18.5, forecast.Entries[1].Temperature)

	// More days than the provider covers returns what is available.
	_, body = suite.get(suite.httpServer, "/weather/forecast?city=London&days=10")
	dataAs(suite.T(), body, &forecast)
	suite.Len(forecast.Entries, 5)

	// Cached per day count.
	suite.True(suite.miniRedis.Exists("weather:forecast:london:2"))
	suite.True(suite.miniRedis.Exists("weather:forecast:london:10"))
	suite.Equal(int32(2), suite.owm.hits.Load())
}

func (suite *WeatherAPITestSuite) TestAlertsEndpoint() {
	resp, body := suite.get(suite.httpServer, "/weather/alerts?city=London")
	suite.Require().Equal(http.StatusOK, resp.StatusCode)

	var alerts model.AlertSet
	dataAs(suite.T(), body, &alerts)
	suite.Require().Len(alerts.Alerts, 1)
	suite.Equal("Yellow warning for wind", alerts.Alerts[0].EventName)
	// Geocoding plus one-call.
	suite.Equal(int32(2), suite.owm.hits.Load())

	resp, body = suite.get(suite.httpServer, "/weather/alerts?city=Atlantis")
	suite.Equal(http.StatusNotFound, resp.StatusCode)
	suite.Require().NotNil(body.Error)
	suite.Contains(*body.Error, "location not found")
}

func (suite *WeatherAPITestSuite) TestToolCall() {
	payload := `{"name":"GetWeatherForecast","arguments":{"city":"London","days":2}}`
	resp, err := suite.httpServer.Client().Post(suite.httpServer.URL+"/tools/call", "application/json", strings.NewReader(payload))
	suite.Require().NoError(err)
	defer resp.Body.Close()
	suite.Require().Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			Content string `json:"content"`
		} `json:"data"`
	}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	suite.Equal("Forecast for London:\n2025-08-01: 10.5°C, light rain\n2025-08-02: 18.5°C, light rain", body.Data.Content)
}

func (suite *WeatherAPITestSuite) TestHealthAndMetrics() {
	resp, body := suite.get(suite.httpServer, "/healthz")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("OK", body.Message)

	_, _ = suite.get(suite.httpServer, "/weather/current?city=London")
	_, _ = suite.get(suite.httpServer, "/weather/current?city=London")

	metricsResp, err := suite.httpServer.Client().Get(suite.httpServer.URL + "/metrics")
	suite.Require().NoError(err)
	defer metricsResp.Body.Close()
	raw, err := io.ReadAll(metricsResp.Body)
	suite.Require().NoError(err)
	text := string(raw)
	suite.Contains(text, `weather_api_provider_requests_total{endpoint="weather",outcome="success"}`)
	suite.Contains(text, `weather_api_cache_lookups_total{operation="current",result="hit"}`)
}

func (suite *WeatherAPITestSuite) TestRedisUnavailable() {
	suite.miniRedis.SetError("server down")
	defer suite.miniRedis.SetError("")

	resp, _ := suite.get(suite.httpServer, "/weather/current?city=London")
	suite.Equal(http.StatusOK, resp.StatusCode)

	resp, _ = suite.get(suite.httpServer, "/healthz")
	suite.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}
