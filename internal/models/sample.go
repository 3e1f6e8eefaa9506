package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Sample is a single telemetry measurement for one signal.
type Sample struct {
	// Signal identifier, matching a registry entry
	SignalID string `json:"signal_id"`

	// Timestamp when the measurement was taken
	Timestamp time.Time `json:"timestamp"`

	// Measured value in the signal's configured unit
	Value float64 `json:"value"`
}

// Validation errors
var (
	ErrEmptySignalID    = errors.New("sample signal_id cannot be empty")
	ErrZeroTimestamp    = errors.New("sample timestamp cannot be zero")
	ErrNonFiniteValue   = errors.New("sample value must be finite")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
)

// Validate checks that the sample has all required fields and a usable value.
func (s *Sample) Validate() error {
	if s.SignalID == "" {
		return ErrEmptySignalID
	}
	if s.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return ErrNonFiniteValue
	}
	return nil
}

// Normalize trims the signal id and converts the timestamp to UTC.
func (s *Sample) Normalize() {
	s.SignalID = strings.TrimSpace(s.SignalID)
	s.Timestamp = s.Timestamp.UTC()
}

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
