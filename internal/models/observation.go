package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedToken is wrapped by every token parsing failure
var ErrMalformedToken = errors.New("malformed observation token")

// ObservationKind tags the variant held by an Observation
type ObservationKind int

const (
	ObservationNumber ObservationKind = iota
	ObservationMissing
	ObservationTrace
	ObservationAccumulationStart
	ObservationAccumulationEnd
)

// String returns string representation of observation kind
func (k ObservationKind) String() string {
	switch k {
	case ObservationNumber:
		return "number"
	case ObservationMissing:
		return "missing"
	case ObservationTrace:
		return "trace"
	case ObservationAccumulationStart:
		return "accumulation_start"
	case ObservationAccumulationEnd:
		return "accumulation_end"
	default:
		return "unknown"
	}
}

// RawObservation is one day's token exactly as the upstream service sent it
type RawObservation struct {
	Date  time.Time `json:"date"`
	Token string    `json:"token"`
}

// Observation is a parsed daily token.
// Value is meaningful for ObservationNumber and ObservationAccumulationEnd.
// TraceTotal marks an accumulation end reported as "TA".
type Observation struct {
	Kind       ObservationKind
	Value      float64
	TraceTotal bool
}

// ParseToken converts a raw daily token into an Observation.
//
// Grammar: a decimal number, "M" (missing), "T" (trace), "S" (start of a
// multi-day accumulation) or a number suffixed with "A" (end of an
// accumulation carrying the run total). "TA" is a trace-sized total.
func ParseToken(token string) (Observation, error) {
	t := strings.TrimSpace(token)

	switch t {
	case "":
		return Observation{}, fmt.Errorf("%w: empty token", ErrMalformedToken)
	case "M":
		return Observation{Kind: ObservationMissing}, nil
	case "T":
		return Observation{Kind: ObservationTrace}, nil
	case "S":
		return Observation{Kind: ObservationAccumulationStart}, nil
	}

	if strings.HasSuffix(t, "A") {
		prefix := strings.TrimSuffix(t, "A")
		if prefix == "T" {
			return Observation{Kind: ObservationAccumulationEnd, TraceTotal: true}, nil
		}
		v, err := parseFinite(prefix)
		if err != nil {
			return Observation{}, fmt.Errorf("%w: accumulation total %q is not a number", ErrMalformedToken, prefix)
		}
		return Observation{Kind: ObservationAccumulationEnd, Value: v}, nil
	}

	v, err := parseFinite(t)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: %q is not a number or sentinel", ErrMalformedToken, t)
	}
	return Observation{Kind: ObservationNumber, Value: v}, nil
}

func parseFinite(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	// Only plain decimal notation; hex floats and digit separators are not data.
	if strings.Trim(s, "0123456789+-.eE") != "" {
		return 0, errors.New("not a decimal number")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not finite")
	}
	return v, nil
}

// AccumulationRun is an inclusive index range [Start, End] covered by one
// multi-day accumulation. Total is the value reported on the End day.
type AccumulationRun struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Total float64 `json:"total"`
}

// Len returns the number of days in the run
func (r AccumulationRun) Len() int {
	return r.End - r.Start + 1
}

// ResolutionSummary counts how each day of a series was resolved
type ResolutionSummary struct {
	Numbers          int `json:"numbers"`
	Missing          int `json:"missing"`
	Traces           int `json:"traces"`
	Runs             int `json:"runs"`
	RunDays          int `json:"run_days"`
	StandaloneEnds   int `json:"standalone_ends"`
	StandaloneStarts int `json:"standalone_starts"`
}

// ResolvedSeries is one station's numeric daily series.
// Values[i] belongs to Start + i days.
type ResolvedSeries struct {
	StationID string            `json:"sid"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	Values    []float64         `json:"-"`
	Summary   ResolutionSummary `json:"summary"`
}

// Len returns the number of days in the series
func (s *ResolvedSeries) Len() int {
	return len(s.Values)
}
