package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rubilnik4/weather-api/internal/config"
	"github.com/rubilnik4/weather-api/internal/model"
	"github.com/rubilnik4/weather-api/internal/observability"
	"go.uber.org/zap"
)

// DefaultBaseURL is the OpenWeatherMap API host.
const DefaultBaseURL = "https://api.openweathermap.org"

// The forecast endpoint returns 3-hour samples, eight per day.
const samplesPerDay = 8

const maxErrorBody = 64 << 10

const (
	noMessageInResponse = "No message in error response"
	unknownErrorMessage = "Unknown error message"
)

// Operation names used in error text.
const (
	opWeather     = "Weather"
	opForecast    = "Forecast"
	opCoordinates = "Coordinates"
	opAlerts      = "Weather alert"
)

// Metric outcome labels.
const (
	outcomeSuccess    = "success"
	outcomeProvider   = "provider_error"
	outcomeDecode     = "decode_error"
	outcomeValidation = "validation_error"
	outcomeTransport  = "transport_error"
)

type endpoint struct {
	name string // metric label
	op   string
	path string
}

var (
	currentEndpoint  = endpoint{name: "weather", op: opWeather, path: "/data/2.5/weather"}
	forecastEndpoint = endpoint{name: "forecast", op: opForecast, path: "/data/2.5/forecast"}
	geocodeEndpoint  = endpoint{name: "geocode", op: opCoordinates, path: "/geo/1.0/direct"}
	oneCallEndpoint  = endpoint{name: "onecall", op: opAlerts, path: "/data/3.0/onecall"}
)

// WeatherRepository defines the interface for weather data access
type WeatherRepository interface {
	GetCurrentWeather(ctx context.Context, city string, opts ...Option) (*model.CurrentWeather, error)
	GetWeatherForecast(ctx context.Context, city string, opts ...Option) (*model.Forecast, error)
	GetWeatherAlerts(ctx context.Context, city string, opts ...Option) (*model.AlertSet, error)
}

// weatherRepository talks to OpenWeatherMap. It holds no per-call state and is
// safe for concurrent use as long as httpClient is.
type weatherRepository struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.SugaredLogger
	metrics    *observability.Metrics
}

// NewWeatherRepository creates a new weather repository instance. A nil
// httpClient falls back to http.DefaultClient, a nil metrics disables metrics.
func NewWeatherRepository(baseURL, apiKey string, httpClient *http.Client, metrics *observability.Metrics) WeatherRepository {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &weatherRepository{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     config.GetLogger(),
		metrics:    metrics,
	}
}

// GetCurrentWeather returns current temperature and conditions for a city.
func (r *weatherRepository) GetCurrentWeather(ctx context.Context, city string, opts ...Option) (*model.CurrentWeather, error) {
	o := NewOptions(opts...)
	location := o.LocationQuery(city)
	r.logger.Debugw("Calling GetCurrentWeather", "city", city, "country", o.CountryCode)

	var data model.CurrentWeatherResponse
	if err := r.get(ctx, currentEndpoint, city, providerParams(location), &data); err != nil {
		return nil, err
	}
	if len(data.Weather) == 0 {
		return nil, r.fail(currentEndpoint, outcomeValidation, &ValidationError{
			Location: city,
			Reason:   "invalid or empty weather data",
		})
	}

	r.succeed(currentEndpoint)
	return &model.CurrentWeather{
		Temperature: data.Main.Temp,
		Conditions:  descriptions(data.Weather),
	}, nil
}

// GetWeatherForecast returns one entry per day, up to the requested number of days.
// The provider's first sample of each day is kept; missing days are never filled in.
func (r *weatherRepository) GetWeatherForecast(ctx context.Context, city string, opts ...Option) (*model.Forecast, error) {
	o := NewOptions(opts...)
	location := o.LocationQuery(city)
	r.logger.Debugw("Calling GetWeatherForecast", "city", city, "country", o.CountryCode, "days", o.Days)

	var data model.ForecastResponse
	if err := r.get(ctx, forecastEndpoint, city, providerParams(location), &data); err != nil {
		return nil, err
	}
	if len(data.List) == 0 {
		return nil, r.fail(forecastEndpoint, outcomeValidation, &ValidationError{
			Location: city,
			Reason:   "malformed forecast data",
		})
	}

	r.succeed(forecastEndpoint)
	return &model.Forecast{Entries: downsample(data.List, o.Days)}, nil
}

// GetWeatherAlerts geocodes the city and then queries active alerts at its
// coordinates. An empty AlertSet means there are no active alerts.
func (r *weatherRepository) GetWeatherAlerts(ctx context.Context, city string, opts ...Option) (*model.AlertSet, error) {
	o := NewOptions(opts...)
	geo, err := r.getCoordinates(ctx, city, o)
	if err != nil {
		return nil, err
	}

	r.logger.Debugw("Calling GetWeatherAlerts", "city", city, "country", o.CountryCode)

	params := providerParams("")
	params.Set("lat", strconv.FormatFloat(geo.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(geo.Longitude, 'f', -1, 64))
	params.Set("exclude", "current,minutely,hourly,daily")

	var data model.AlertResponse
	if err := r.get(ctx, oneCallEndpoint, city, params, &data); err != nil {
		return nil, err
	}
	if data.Alerts == nil {
		return nil, r.fail(oneCallEndpoint, outcomeValidation, &ValidationError{
			Location: city,
			Reason:   "no alerts field in weather alert data",
		})
	}

	r.succeed(oneCallEndpoint)
	alerts := make([]model.WeatherAlert, 0, len(data.Alerts))
	for _, a := range data.Alerts {
		alerts = append(alerts, model.WeatherAlert{EventName: a.Event, Description: a.Description})
	}
	return &model.AlertSet{Alerts: alerts}, nil
}

// getCoordinates resolves the location to its first direct-geocoding match.
func (r *weatherRepository) getCoordinates(ctx context.Context, city string, o Options) (model.GeoLocation, error) {
	location := o.LocationQuery(city)
	r.logger.Debugw("Calling GetCoordinates", "city", city, "country", o.CountryCode)

	params := url.Values{}
	params.Set("q", location)
	params.Set("limit", "1")

	var matches []model.GeoLocationResponse
	if err := r.get(ctx, geocodeEndpoint, city, params, &matches); err != nil {
		return model.GeoLocation{}, err
	}
	if len(matches) == 0 {
		return model.GeoLocation{}, r.fail(geocodeEndpoint, outcomeValidation, &ValidationError{
			Location: location,
			Reason:   "location not found",
			Err:      ErrLocationNotFound,
		})
	}

	r.succeed(geocodeEndpoint)
	return model.GeoLocation{Latitude: matches[0].Lat, Longitude: matches[0].Lon}, nil
}

// get performs one GET against ep and decodes a 2xx body into dst. Every
// failure goes through fail.
func (r *weatherRepository) get(ctx context.Context, ep endpoint, city string, params url.Values, dst any) error {
	params.Set("appid", r.apiKey)
	fullURL := r.baseURL + ep.path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return r.fail(ep, outcomeTransport, fmt.Errorf("create %s request: %w", ep.name, err))
	}

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if r.metrics != nil {
		r.metrics.ProviderDuration.WithLabelValues(ep.name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return r.fail(ep, outcomeTransport, fmt.Errorf("%s request for '%s': %w", ep.name, city, redactURL(err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return r.fail(ep, outcomeProvider, &ProviderError{
			Operation:  ep.op,
			Location:   city,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		})
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return r.fail(ep, outcomeDecode, &DecodeError{Operation: ep.op, Location: city, Err: err})
	}
	return nil
}

// fail logs err once, records the outcome and returns err unchanged.
func (r *weatherRepository) fail(ep endpoint, outcome string, err error) error {
	r.logger.Errorw("Weather service failure", "endpoint", ep.name, "outcome", outcome, "error", err)
	if r.metrics != nil {
		r.metrics.ProviderRequests.WithLabelValues(ep.name, outcome).Inc()
	}
	return err
}

func (r *weatherRepository) succeed(ep endpoint) {
	if r.metrics != nil {
		r.metrics.ProviderRequests.WithLabelValues(ep.name, outcomeSuccess).Inc()
	}
}

// providerParams returns the query shared by the data endpoints.
func providerParams(location string) url.Values {
	params := url.Values{}
	if location != "" {
		params.Set("q", location)
	}
	params.Set("units", "metric")
	params.Set("lang", "en")
	return params
}

// readErrorMessage extracts the "message" field of an error body, falling back
// to a generic text when the body is not JSON or carries no usable message.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return noMessageInResponse
	}

	var envelope model.ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Message == nil {
		return noMessageInResponse
	}

	var msg *string
	if err := json.Unmarshal(envelope.Message, &msg); err != nil || msg == nil {
		return unknownErrorMessage
	}
	return *msg
}

// redactURL drops the request URL, which carries the API key, from transport errors.
func redactURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

func downsample(list []model.ForecastEntryResponse, days int) []model.ForecastEntry {
	available := (len(list) + samplesPerDay - 1) / samplesPerDay
	entries := make([]model.ForecastEntry, 0, min(max(days, 0), available))
	for i := 0; i < len(list) && len(entries) < days; i += samplesPerDay {
		e := list[i]
		entries = append(entries, model.ForecastEntry{
			Timestamp:   e.Date,
			Temperature: e.Main.Temp,
			Conditions:  descriptions(e.Weather),
		})
	}
	return entries
}

func descriptions(items []model.DescriptionResponse) []string {
	out := make([]string, 0, len(items))
	for _, w := range items {
		out = append(out, w.Description)
	}
	return out
}
