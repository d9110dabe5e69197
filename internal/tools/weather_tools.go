// Package tools exposes the weather operations as named tools that answer in
// plain text, for callers such as LLM agents.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rubilnik4/weather-api/internal/config"
	"github.com/rubilnik4/weather-api/internal/repository"
	"go.uber.org/zap"
)

const (
	ToolCurrentWeather  = "GetCurrentWeather"
	ToolWeatherForecast = "GetWeatherForecast"
	ToolWeatherAlerts   = "GetWeatherAlerts"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Definition describes a tool to the caller.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Arguments is the JSON argument object accepted by Call.
type Arguments struct {
	City        string `json:"city"`
	CountryCode string `json:"countryCode,omitempty"`
	Days        *int   `json:"days,omitempty"`
}

// WeatherTools renders repository results as sentences. Failures become
// sentences too; only unknown tools and bad arguments are returned as errors.
type WeatherTools struct {
	weather repository.WeatherRepository
	logger  *zap.SugaredLogger
}

func NewWeatherTools(weather repository.WeatherRepository) *WeatherTools {
	return &WeatherTools{weather: weather, logger: config.GetLogger()}
}

// Definitions lists the available tools.
func (t *WeatherTools) Definitions() []Definition {
	country := func(example string) Parameter {
		return Parameter{Name: "countryCode", Type: "string", Description: fmt.Sprintf("Optional country code (e.g., '%s')", example)}
	}
	return []Definition{
		{
			Name:        ToolCurrentWeather,
			Description: "Gets the current weather conditions for the specified city",
			Parameters: []Parameter{
				{Name: "city", Type: "string", Description: "The city name (e.g., 'London')", Required: true},
				country("GB"),
			},
		},
		{
			Name:        ToolWeatherForecast,
			Description: "Gets a multi-day weather forecast for the specified city.",
			Parameters: []Parameter{
				{Name: "city", Type: "string", Description: "The city name (e.g., 'Berlin')", Required: true},
				country("DE"),
				{Name: "days", Type: "integer", Description: "Number of days to include in the forecast (default is 3)"},
			},
		},
		{
			Name:        ToolWeatherAlerts,
			Description: "Gets active weather alerts (e.g., storms, floods) for the specified city.",
			Parameters: []Parameter{
				{Name: "city", Type: "string", Description: "The city name (e.g., 'New York')", Required: true},
				country("US"),
			},
		},
	}
}

// Call runs the named tool with JSON arguments.
func (t *WeatherTools) Call(ctx context.Context, name string, rawArgs json.RawMessage) (string, error) {
	switch name {
	case ToolCurrentWeather, ToolWeatherForecast, ToolWeatherAlerts:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	var args Arguments
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	if strings.TrimSpace(args.City) == "" {
		return "", fmt.Errorf("%w: city is required", ErrInvalidArguments)
	}

	switch name {
	case ToolCurrentWeather:
		return t.GetCurrentWeather(ctx, args.City, args.CountryCode), nil
	case ToolWeatherForecast:
		days := repository.DefaultForecastDays
		if args.Days != nil {
			days = *args.Days
		}
		return t.GetWeatherForecast(ctx, args.City, args.CountryCode, days), nil
	case ToolWeatherAlerts:
		return t.GetWeatherAlerts(ctx, args.City, args.CountryCode), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

func (t *WeatherTools) GetCurrentWeather(ctx context.Context, city, countryCode string) string {
	t.logger.Infow("Tool called GetCurrentWeather", "city", city, "country", countryCode)

	weather, err := t.weather.GetCurrentWeather(ctx, city, repository.WithCountry(countryCode))
	if err != nil {
		if repository.IsClassified(err) {
			t.logger.Errorw("Weather API error in GetCurrentWeather", "city", city, "error", err)
			return fmt.Sprintf("Could not retrieve weather data for '%s'.", city)
		}
		t.logger.Errorw("Unexpected error in GetCurrentWeather", "city", city, "error", err)
		return fmt.Sprintf("Unexpected error while fetching weather for '%s'.", city)
	}

	return fmt.Sprintf("Current weather in %s: %s°C, %s.", city, formatTemp(weather.Temperature), weather.Conditions[0])
}

func (t *WeatherTools) GetWeatherForecast(ctx context.Context, city, countryCode string, days int) string {
	t.logger.Infow("Tool called GetWeatherForecast", "city", city, "country", countryCode, "days", days)

	forecast, err := t.weather.GetWeatherForecast(ctx, city, repository.WithCountry(countryCode), repository.WithDays(days))
	if err != nil {
		if repository.IsClassified(err) {
			t.logger.Warnw("Weather API failure in GetWeatherForecast", "city", city, "error", err)
			return fmt.Sprintf("Could not retrieve forecast data for '%s'", city)
		}
		t.logger.Errorw("Unexpected error in GetWeatherForecast", "city", city, "error", err)
		return fmt.Sprintf("Unexpected error occurred while fetching the forecast for '%s'.", city)
	}
	if len(forecast.Entries) == 0 {
		return fmt.Sprintf("No forecast data available for '%s'.", city)
	}

	lines := make([]string, 0, len(forecast.Entries))
	for _, e := range forecast.Entries {
		lines = append(lines, fmt.Sprintf("%s: %s°C, %s", e.Timestamp.Format("2006-01-02"), formatTemp(e.Temperature), firstOr(e.Conditions, "no description")))
	}
	return fmt.Sprintf("Forecast for %s:\n", city) + strings.Join(lines, "\n")
}

func (t *WeatherTools) GetWeatherAlerts(ctx context.Context, city, countryCode string) string {
	t.logger.Infow("Tool called GetWeatherAlerts", "city", city, "country", countryCode)

	alerts, err := t.weather.GetWeatherAlerts(ctx, city, repository.WithCountry(countryCode))
	if err != nil {
		var pe *repository.ProviderError
		switch {
		case errors.As(err, &pe) && pe.IsPlanRestricted():
			t.logger.Warnw("Weather alerts unavailable for this API plan", "city", city, "error", err)
			return fmt.Sprintf("Weather alerts are not available for '%s' with the current OpenWeatherMap plan.", city)
		case repository.IsClassified(err):
			t.logger.Warnw("Weather API failure in GetWeatherAlerts", "city", city, "error", err)
			return fmt.Sprintf("Could not retrieve weather alerts data for '%s'", city)
		default:
			t.logger.Warnw("Weather alert service failure in GetWeatherAlerts", "city", city, "error", err)
			return fmt.Sprintf("Weather alert service failed for '%s'. Please try again later.", city)
		}
	}
	if len(alerts.Alerts) == 0 {
		return fmt.Sprintf("There are no active weather alerts for '%s'.", city)
	}

	blocks := make([]string, 0, len(alerts.Alerts))
	for _, a := range alerts.Alerts {
		blocks = append(blocks, fmt.Sprintf("%s, %s", a.EventName, a.Description))
	}
	return fmt.Sprintf("Weather alerts for %s:\n\n", city) + strings.Join(blocks, "\n\n")
}

func formatTemp(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

func firstOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return items[0]
}
