package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var once sync.Once
var logger *zap.SugaredLogger
var loggerOnce sync.Once
var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// ErrAPIKeyMissing is returned by Load when no OpenWeatherMap API key is configured.
var ErrAPIKeyMissing = errors.New("OPENWEATHERMAP_API_KEY is required")

// Config is the validated runtime configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	HTTPTimeout time.Duration

	ServerPort        string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	// TrustProxy takes client IPs from forwarding headers.
	TrustProxy        bool

	RedisAddr       string
	CacheEnabled    bool
	CacheExpiration time.Duration

	GlobalRate         float64 // requests per minute
	GlobalBurst        int
	ParamRate          float64 // requests per minute
	ParamBurst         int
	RateLimiterCleanup time.Duration

	LogLevel string
}

// isTestRun returns true if the current process is a Go test binary.
func isTestRun() bool {
	return flag.Lookup("test.v") != nil || filepath.Ext(os.Args[0]) == ".test"
}

func setDefaults() {
	viper.SetDefault("openweathermap.base_url", "https://api.openweathermap.org")
	viper.SetDefault("openweathermap.timeout", "10s")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_header_timeout", "15s")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.trust_proxy", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.expiration", "10m")
	viper.SetDefault("rate_limiter.global.rate", 10)
	viper.SetDefault("rate_limiter.global.burst", 10)
	viper.SetDefault("rate_limiter.param.rate", 2)
	viper.SetDefault("rate_limiter.param.burst", 2)
	viper.SetDefault("rate_limiter.cleanup_timeout", "3m")
	viper.SetDefault("log.level", "info")
}

func bindEnv() {
	_ = godotenv.Load()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("openweathermap.api_key", "OPENWEATHERMAP_API_KEY")
	_ = viper.BindEnv("openweathermap.base_url", "OPENWEATHERMAP_BASE_URL")
	_ = viper.BindEnv("server.port", "PORT")
	_ = viper.BindEnv("server.trust_proxy", "TRUST_PROXY")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("cache.enabled", "CACHE_ENABLED")
	_ = viper.BindEnv("log.level", "LOG_LEVEL")
}

func initConfig() {
	once.Do(func() {
		setDefaults()
		bindEnv()

		root, err := getProjectRoot()
		if err != nil {
			GetLogger().Debugw("Project root not found, using defaults", "error", err)
			return
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
		viper.AddConfigPath(root)
		if err = viper.ReadInConfig(); err != nil {
			GetLogger().Warnw("Error reading config file", "error", err)
		}

		if isTestRun() {
			viper.SetConfigName("config_test")
			if err = viper.MergeInConfig(); err != nil {
				GetLogger().Debugw("No test config merged", "error", err)
			}
		}
	})
}

func getProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// Load reads, defaults and validates the configuration. A missing API key is a
// startup failure.
func Load() (*Config, error) {
	initConfig()

	cfg := &Config{
		APIKey:             GetOpenWeatherMapAPIKey(),
		BaseURL:            GetOpenWeatherBaseURL(),
		ServerPort:         GetServerPort(),
		TrustProxy:         viper.GetBool("server.trust_proxy"),
		RedisAddr:          GetRedisAddr(),
		CacheEnabled:       viper.GetBool("cache.enabled"),
		RateLimiterCleanup: GetRateLimiterCleanupTimeout(),
		LogLevel:           viper.GetString("log.level"),
	}
	cfg.GlobalRate, cfg.GlobalBurst = GetGlobalRateLimiterConfig()
	cfg.ParamRate, cfg.ParamBurst = GetParamRateLimiterConfig()

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyMissing
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("openweathermap.base_url must not be empty")
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"openweathermap.timeout", &cfg.HTTPTimeout},
		{"server.read_header_timeout", &cfg.ReadHeaderTimeout},
		{"server.read_timeout", &cfg.ReadTimeout},
		{"server.write_timeout", &cfg.WriteTimeout},
		{"server.idle_timeout", &cfg.IdleTimeout},
		{"server.shutdown_timeout", &cfg.ShutdownTimeout},
		{"cache.expiration", &cfg.CacheExpiration},
	}
	for _, d := range durations {
		v, err := parsePositiveDuration(d.key)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if err := SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parsePositiveDuration(key string) (time.Duration, error) {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func GetOpenWeatherBaseURL() string {
	initConfig()
	return strings.TrimRight(viper.GetString("openweathermap.base_url"), "/")
}

func GetOpenWeatherMapAPIKey() string {
	initConfig()
	return viper.GetString("openweathermap.api_key")
}

func GetRedisAddr() string {
	initConfig()
	return viper.GetString("redis.addr")
}

func GetServerPort() string {
	initConfig()
	return viper.GetString("server.port")
}

// ReloadConfigForTest resets the config singleton and reloads Viper config. Use only in tests.
func ReloadConfigForTest() {
	viper.Reset()
	once = sync.Once{}
	initConfig()
}

// GetLogger returns the process-wide sugared logger. Its level follows SetLogLevel.
func GetLogger() *zap.SugaredLogger {
	loggerOnce.Do(func() {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = logLevel
		l, err := cfg.Build()
		if err != nil {
			panic(err)
		}
		logger = l.Sugar()
	})
	return logger
}

// SetLogLevel changes the level of the shared logger, e.g. "debug" or "warn".
func SetLogLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", level, err)
	}
	logLevel.SetLevel(lvl)
	return nil
}

// GetRateLimiterCleanupTimeout returns the rate limiter cleanup timeout as a time.Duration.
// Defaults to 3m if not set or invalid.
func GetRateLimiterCleanupTimeout() time.Duration {
	initConfig()
	dur, err := time.ParseDuration(viper.GetString("rate_limiter.cleanup_timeout"))
	if err != nil || dur <= 0 {
		return 3 * time.Minute
	}
	return dur
}

// GetGlobalRateLimiterConfig returns the per-minute rate and burst for the global rate limiter.
func GetGlobalRateLimiterConfig() (rate float64, burst int) {
	initConfig()
	rate = viper.GetFloat64("rate_limiter.global.rate")
	if rate <= 0 {
		rate = 10
	}
	burst = viper.GetInt("rate_limiter.global.burst")
	if burst <= 0 {
		burst = 10
	}
	return
}

// GetParamRateLimiterConfig returns the per-minute rate and burst for the per-city rate limiter.
func GetParamRateLimiterConfig() (rate float64, burst int) {
	initConfig()
	rate = viper.GetFloat64("rate_limiter.param.rate")
	if rate <= 0 {
		rate = 2
	}
	burst = viper.GetInt("rate_limiter.param.burst")
	if burst <= 0 {
		burst = 2
	}
	return
}
