package repository

import "strings"

// DefaultForecastDays is the number of days GetWeatherForecast returns unless WithDays is given.
const DefaultForecastDays = 3

// Options carries the optional inputs of every operation.
type Options struct {
	CountryCode string
	Days        int
}

type Option func(*Options)

// WithCountry narrows the lookup to an ISO 3166 country code, e.g. "GB".
func WithCountry(code string) Option {
	return func(o *Options) {
		o.CountryCode = code
	}
}

// WithDays sets the number of forecast days. Zero or negative yields an empty forecast.
func WithDays(days int) Option {
	return func(o *Options) {
		o.Days = days
	}
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{Days: DefaultForecastDays}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// LocationQuery returns "city,country" when a country code is set, else city.
func (o Options) LocationQuery(city string) string {
	if strings.TrimSpace(o.CountryCode) != "" {
		return city + "," + o.CountryCode
	}
	return city
}
