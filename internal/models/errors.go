package models

import (
	"fmt"
	"time"
)

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// DataFormatError reports a daily token that matches no known grammar.
// It aborts resolution of the whole station.
type DataFormatError struct {
	StationID string
	Date      time.Time
	Token     string
	Reason    string
}

func (e *DataFormatError) Error() string {
	return fmt.Sprintf("station %s: unrecognized token %q on %s: %s",
		e.StationID, e.Token, e.Date.Format(DateLayout), e.Reason)
}

// Unwrap lets callers match ErrMalformedToken
func (e *DataFormatError) Unwrap() error {
	return ErrMalformedToken
}

// IsTransient returns false; refetching returns the same token
func (e *DataFormatError) IsTransient() bool {
	return false
}

// AlignmentError reports a series whose length disagrees with its date span
type AlignmentError struct {
	StationID string
	Start     time.Time
	End       time.Time
	Expected  int
	Actual    int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("station %s: series has %d values but %s..%s spans %d days",
		e.StationID, e.Actual, e.Start.Format(DateLayout), e.End.Format(DateLayout), e.Expected)
}

// IsTransient returns false as misaligned input never heals
func (e *AlignmentError) IsTransient() bool {
	return false
}

// TooManyStationsError is returned when a region query matches more stations
// than the configured ceiling
type TooManyStationsError struct {
	Found int
	Limit int
}

func (e *TooManyStationsError) Error() string {
	return fmt.Sprintf("query matched %d stations, limit is %d; choose a smaller bounding box", e.Found, e.Limit)
}

// IsTransient returns false
func (e *TooManyStationsError) IsTransient() bool {
	return false
}
