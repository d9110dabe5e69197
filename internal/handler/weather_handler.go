package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rubilnik4/weather-api/internal/config"
	"github.com/rubilnik4/weather-api/internal/model"
	"github.com/rubilnik4/weather-api/internal/repository"
	"github.com/rubilnik4/weather-api/internal/tools"
	"go.uber.org/zap"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Limiter supplies the rate-limiting middleware. Middleware also limits per
// city query parameter; GlobalMiddleware limits per client IP only.
type Limiter interface {
	Middleware(next http.Handler) http.Handler
	GlobalMiddleware(next http.Handler) http.Handler
}

type WeatherHandler struct {
	Weather repository.WeatherRepository
	Tools   *tools.WeatherTools
	// Health is optional; nil means nothing to check.
	Health HealthChecker
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP. Enable
	// only behind a proxy that sets those headers.
	TrustProxy bool
	logger     *zap.SugaredLogger
}

// ToolCallRequest is the body of POST /tools/call.
type ToolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResponse is the data of a successful tool call.
type ToolCallResponse struct {
	Content string `json:"content"`
}

func NewWeatherHandler(weather repository.WeatherRepository, health HealthChecker) *WeatherHandler {
	return &WeatherHandler{
		Weather: weather,
		Tools:   tools.NewWeatherTools(weather),
		Health:  health,
		logger:  config.GetLogger(),
	}
}

// Routes builds the router. limiter may be nil; metrics is served on /metrics
// when non-nil.
func (h *WeatherHandler) Routes(limiter Limiter, metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if h.TrustProxy {
		r.Use(middleware.RealIP)
	}

	r.Get("/healthz", h.HandleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Get("/weather/current", h.HandleCurrentWeather)
		r.Get("/weather/forecast", h.HandleWeatherForecast)
		r.Get("/weather/alerts", h.HandleWeatherAlerts)
	})

	// Tool calls carry the city in the body, so only the per-IP limit applies.
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.GlobalMiddleware)
		}
		r.Get("/tools", h.HandleToolDefinitions)
		r.Post("/tools/call", h.HandleToolCall)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, "Not found")
	})
	return r
}

func (h *WeatherHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Errorw("could not encode json", "error", err)
	}
}

func (h *WeatherHandler) writeError(w http.ResponseWriter, statusCode int, detail string) {
	h.writeJSONResponse(w, statusCode, model.ErrorResponseBody(detail))
}

func (h *WeatherHandler) writeData(w http.ResponseWriter, data any) {
	h.writeJSONResponse(w, http.StatusOK, model.Response{Data: data, Message: "Success"})
}

// locationOptions reads city and country from the query. ok is false when the
// response has already been written.
func (h *WeatherHandler) locationOptions(w http.ResponseWriter, r *http.Request) (city string, opts []repository.Option, ok bool) {
	q := r.URL.Query()
	city = strings.TrimSpace(q.Get("city"))
	if city == "" {
		h.writeError(w, http.StatusBadRequest, "Missing 'city' query parameter")
		return "", nil, false
	}
	if country := strings.TrimSpace(q.Get("country")); country != "" {
		opts = append(opts, repository.WithCountry(country))
	}
	return city, opts, true
}

func (h *WeatherHandler) HandleCurrentWeather(w http.ResponseWriter, r *http.Request) {
	city, opts, ok := h.locationOptions(w, r)
	if !ok {
		return
	}
	weather, err := h.Weather.GetCurrentWeather(r.Context(), city, opts...)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, weather)
}

func (h *WeatherHandler) HandleWeatherForecast(w http.ResponseWriter, r *http.Request) {
	city, opts, ok := h.locationOptions(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Query parameter 'days' must be an integer")
			return
		}
		opts = append(opts, repository.WithDays(days))
	}
	forecast, err := h.Weather.GetWeatherForecast(r.Context(), city, opts...)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, forecast)
}

func (h *WeatherHandler) HandleWeatherAlerts(w http.ResponseWriter, r *http.Request) {
	city, opts, ok := h.locationOptions(w, r)
	if !ok {
		return
	}
	alerts, err := h.Weather.GetWeatherAlerts(r.Context(), city, opts...)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeData(w, alerts)
}

func (h *WeatherHandler) HandleToolDefinitions(w http.ResponseWriter, _ *http.Request) {
	h.writeData(w, h.Tools.Definitions())
}

func (h *WeatherHandler) HandleToolCall(w http.ResponseWriter, r *http.Request) {
	var req ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	content, err := h.Tools.Call(r.Context(), req.Name, req.Arguments)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, tools.ErrInvalidArguments):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "Tool call failed")
		return
	}
	h.writeData(w, ToolCallResponse{Content: content})
}

func (h *WeatherHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health.Ping(ctx); err != nil {
			h.logger.Warnw("Health check failed", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "Cache unavailable")
			return
		}
	}
	h.writeJSONResponse(w, http.StatusOK, model.Response{Message: "OK"})
}

// writeServiceError maps repository failures to HTTP statuses. Provider
// messages are passed through; transport details are not.
func (h *WeatherHandler) writeServiceError(w http.ResponseWriter, err error) {
	var pe *repository.ProviderError
	var ve *repository.ValidationError
	var de *repository.DecodeError
	var ne net.Error
	switch {
	case errors.Is(err, repository.ErrLocationNotFound),
		errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound:
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ve):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &pe):
		h.writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &de):
		h.writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		h.writeError(w, http.StatusGatewayTimeout, "Weather provider timed out")
	default:
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch weather data")
	}
}
