package model

// Normalized results returned to callers. Each value is built from a single
// provider response and never mutated afterwards.

// CurrentWeather holds current conditions. Conditions is never empty.
type CurrentWeather struct {
	Temperature float64  `json:"temperature"`
	Conditions  []string `json:"conditions"`
}

// ForecastEntry is one representative sample per forecast day.
type ForecastEntry struct {
	Timestamp   ProviderTime `json:"timestamp"`
	Temperature float64      `json:"temperature"`
	Conditions  []string     `json:"conditions"`
}

// Forecast is a chronological list of daily entries.
type Forecast struct {
	Entries []ForecastEntry `json:"entries"`
}

// GeoLocation is the coordinate pair resolved by direct geocoding.
type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type WeatherAlert struct {
	EventName   string `json:"event"`
	Description string `json:"description"`
}

// AlertSet may be empty; that means no active alerts.
type AlertSet struct {
	Alerts []WeatherAlert `json:"alerts"`
}
