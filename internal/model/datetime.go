package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderTimeLayout is the layout of OpenWeatherMap's "dt_txt" field, e.g. "2025-07-28 12:00:00".
const ProviderTimeLayout = "2006-01-02 15:04:05"

// ParseError is returned when a timestamp does not match ProviderTimeLayout.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid provider timestamp %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseProviderTime parses a provider-local naive timestamp. No zone is inferred;
// the result is expressed in UTC so it formats back to the same text.
func ParseProviderTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(ProviderTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, &ParseError{Value: s, Err: err}
	}
	return t, nil
}

// FormatProviderTime writes t using ProviderTimeLayout.
func FormatProviderTime(t time.Time) string {
	return t.Format(ProviderTimeLayout)
}

// ProviderTime is a time.Time that (de)serializes with ProviderTimeLayout.
type ProviderTime struct {
	time.Time
}

func (p *ProviderTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &ParseError{Value: string(b), Err: err}
	}
	t, err := ParseProviderTime(s)
	if err != nil {
		return err
	}
	p.Time = t
	return nil
}

func (p ProviderTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatProviderTime(p.Time))
}
