package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rubilnik4/weather-api/internal/config"
	"github.com/rubilnik4/weather-api/internal/model"
	"github.com/rubilnik4/weather-api/internal/observability"
	"github.com/rubilnik4/weather-api/internal/redis"
	"github.com/rubilnik4/weather-api/internal/repository"
	"go.uber.org/zap"
)

// WeatherService fronts a WeatherRepository with an optional Redis cache.
// Without a cache every call goes straight to the repository.
type WeatherService struct {
	WeatherRepo repository.WeatherRepository
	cache       *redis.Cache
	metrics     *observability.Metrics
	logger      *zap.SugaredLogger
}

var _ repository.WeatherRepository = (*WeatherService)(nil)

// NewWeatherService wraps repo. cache and metrics may be nil.
func NewWeatherService(repo repository.WeatherRepository, cache *redis.Cache, metrics *observability.Metrics) *WeatherService {
	return &WeatherService{
		WeatherRepo: repo,
		cache:       cache,
		metrics:     metrics,
		logger:      config.GetLogger(),
	}
}

func (s *WeatherService) GetCurrentWeather(ctx context.Context, city string, opts ...repository.Option) (*model.CurrentWeather, error) {
	key := cacheKey("current", city, repository.NewOptions(opts...), false)
	return cached(ctx, s, "current", key, func() (*model.CurrentWeather, error) {
		return s.WeatherRepo.GetCurrentWeather(ctx, city, opts...)
	})
}

func (s *WeatherService) GetWeatherForecast(ctx context.Context, city string, opts ...repository.Option) (*model.Forecast, error) {
	key := cacheKey("forecast", city, repository.NewOptions(opts...), true)
	return cached(ctx, s, "forecast", key, func() (*model.Forecast, error) {
		return s.WeatherRepo.GetWeatherForecast(ctx, city, opts...)
	})
}

func (s *WeatherService) GetWeatherAlerts(ctx context.Context, city string, opts ...repository.Option) (*model.AlertSet, error) {
	key := cacheKey("alerts", city, repository.NewOptions(opts...), false)
	return cached(ctx, s, "alerts", key, func() (*model.AlertSet, error) {
		return s.WeatherRepo.GetWeatherAlerts(ctx, city, opts...)
	})
}

// cached serves key from Redis when possible and stores successful results.
// Cache failures are logged and never fail the call; errors are never cached.
func cached[T any](ctx context.Context, s *WeatherService, operation, key string, fetch func() (*T, error)) (*T, error) {
	if s.cache == nil {
		return fetch()
	}

	var hit T
	ok, err := s.cache.GetJSON(ctx, key, &hit)
	if err != nil {
		s.logger.Warnw("Cache read failed", "key", key, "error", err)
	}
	if ok {
		s.countLookup(operation, "hit")
		return &hit, nil
	}
	s.countLookup(operation, "miss")

	result, err := fetch()
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, key, result); err != nil {
		s.logger.Warnw("Cache write failed", "key", key, "error", err)
	}
	return result, nil
}

func (s *WeatherService) countLookup(operation, result string) {
	if s.metrics != nil {
		s.metrics.CacheLookups.WithLabelValues(operation, result).Inc()
	}
}

func cacheKey(operation, city string, o repository.Options, withDays bool) string {
	key := "weather:" + operation + ":" + strings.ToLower(o.LocationQuery(city))
	if withDays {
		key += fmt.Sprintf(":%d", o.Days)
	}
	return key
}
