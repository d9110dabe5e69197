package model

import "encoding/json"

// OpenWeatherMap payload shapes. Only the fields the client reads are declared.

type MainResponse struct {
	Temp float64 `json:"temp"`
}

type DescriptionResponse struct {
	Description string `json:"description"`
}

// CurrentWeatherResponse is the body of /data/2.5/weather.
type CurrentWeatherResponse struct {
	Main    MainResponse          `json:"main"`
	Weather []DescriptionResponse `json:"weather"`
}

// ForecastEntryResponse is one 3-hour sample of /data/2.5/forecast.
type ForecastEntryResponse struct {
	Date    ProviderTime          `json:"dt_txt"`
	Main    MainResponse          `json:"main"`
	Weather []DescriptionResponse `json:"weather"`
}

// ForecastResponse is the body of /data/2.5/forecast.
type ForecastResponse struct {
	List []ForecastEntryResponse `json:"list"`
}

// GeoLocationResponse is one element of the /geo/1.0/direct result array.
type GeoLocationResponse struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type AlertEventResponse struct {
	Event       string `json:"event"`
	Description string `json:"description"`
}

// AlertResponse is the alerts-only body of /data/3.0/onecall.
// Alerts stays nil when the field is absent or null; "alerts": [] decodes to an
// empty, non-nil slice.
type AlertResponse struct {
	Alerts []AlertEventResponse `json:"alerts"`
}

// ErrorResponse is the envelope OpenWeatherMap returns on non-2xx responses.
// Message stays raw because the provider is not consistent about its type.
type ErrorResponse struct {
	Message json.RawMessage `json:"message"`
}
