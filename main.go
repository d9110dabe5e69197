package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rubilnik4/weather-api/internal/config"
	"github.com/rubilnik4/weather-api/internal/handler"
	"github.com/rubilnik4/weather-api/internal/middleware"
	"github.com/rubilnik4/weather-api/internal/observability"
	"github.com/rubilnik4/weather-api/internal/redis"
	"github.com/rubilnik4/weather-api/internal/repository"
	"github.com/rubilnik4/weather-api/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	logger := config.GetLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalw("Invalid configuration", "error", err)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, observability.NewMetrics(), promhttp.Handler()); err != nil {
		logger.Fatalw("Weather API server failed", "error", err)
	}
}

// app is the wired service graph.
type app struct {
	handler http.Handler
	limiter *middleware.RateLimiter
	closers []func() error
}

func newApp(cfg *config.Config, metrics *observability.Metrics, metricsHandler http.Handler) *app {
	logger := config.GetLogger()

	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	weatherRepo := repository.NewWeatherRepository(cfg.BaseURL, cfg.APIKey, httpClient, metrics)

	a := &app{}
	var cache *redis.Cache
	var health handler.HealthChecker
	if cfg.CacheEnabled {
		client := redis.NewClient(cfg.RedisAddr)
		cache = redis.NewCache(client, cfg.CacheExpiration)
		health = cache
		a.closers = append(a.closers, client.Close)
		logger.Infow("Response cache enabled", "addr", cfg.RedisAddr, "expiration", cfg.CacheExpiration)
	}
	weatherService := service.NewWeatherService(weatherRepo, cache, metrics)

	a.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
		GlobalRate:  cfg.GlobalRate,
		GlobalBurst: cfg.GlobalBurst,
		ParamRate:   cfg.ParamRate,
		ParamBurst:  cfg.ParamBurst,
		ParamKey:    "city",
		IdleTimeout: cfg.RateLimiterCleanup,
	}, metrics)

	h := handler.NewWeatherHandler(weatherService, health)
	h.TrustProxy = cfg.TrustProxy
	a.handler = otelhttp.NewHandler(h.Routes(a.limiter, metricsHandler), "weather-api")
	return a
}

func (a *app) close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, metricsHandler http.Handler) error {
	logger := config.GetLogger()
	a := newApp(cfg, metrics, metricsHandler)
	defer func() {
		if err := a.close(); err != nil {
			logger.Warnw("Error closing resources", "error", err)
		}
	}()
	a.limiter.StartCleanup(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           a.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("Weather API server running", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("listen on port %s: %w", cfg.ServerPort, err)
	case <-ctx.Done():
	}

	logger.Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
