package repository

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrLocationNotFound is wrapped by the ValidationError returned when geocoding has no match.
var ErrLocationNotFound = errors.New("location not found")

// ProviderError is a non-2xx response from OpenWeatherMap.
type ProviderError struct {
	Operation  string
	Location   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API returned %d %s for '%s' - %s",
		e.Operation, e.StatusCode, http.StatusText(e.StatusCode), e.Location, e.Message)
}

// IsPlanRestricted reports whether the provider refused the one-call alert
// endpoint, which happens when the API key's plan has no One Call 3.0 access.
func (e *ProviderError) IsPlanRestricted() bool {
	if e.Operation != opAlerts {
		return false
	}
	return e.StatusCode == http.StatusUnauthorized || strings.Contains(e.Message, "One Call")
}

// ValidationError is a 2xx response whose payload is unusable.
type ValidationError struct {
	Location string
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s for '%s'", e.Reason, e.Location)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DecodeError is a 2xx response body that does not match the expected JSON shape.
type DecodeError struct {
	Operation string
	Location  string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s API returned an undecodable body for '%s': %v", e.Operation, e.Location, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsClassified reports whether err is one of the provider-level failures
// (ProviderError, ValidationError, DecodeError) rather than a transport or
// context error.
func IsClassified(err error) bool {
	var pe *ProviderError
	var ve *ValidationError
	var de *DecodeError
	return errors.As(err, &pe) || errors.As(err, &ve) || errors.As(err, &de)
}
