package models

import (
	"encoding/json"
	"math"
)

// GridKind names the calendar layout of a CalendarGrid
type GridKind string

const (
	GridDayOfYear   GridKind = "doy"
	GridMonthOfYear GridKind = "moy"
	GridCumulative  GridKind = "cumulative"
)

// CalendarPosition is one fixed row of a calendar grid.
// Day is zero for month-of-year grids.
type CalendarPosition struct {
	Month int `json:"month"`
	Day   int `json:"day,omitempty"`
}

// CalendarGrid has one row per calendar position and one column per year.
// Values[y][p] is the value for Years[y] at Positions[p]; NaN means no value.
type CalendarGrid struct {
	Kind           GridKind
	IncludeLeapDay bool
	Aggregator     string
	Positions      []CalendarPosition
	Years          []int
	Values         [][]float64

	// CoverageGaps counts source days that had no reporting station
	CoverageGaps int
}

// YearIndex returns the column index of year, or -1
func (g *CalendarGrid) YearIndex(year int) int {
	for i, y := range g.Years {
		if y == year {
			return i
		}
	}
	return -1
}

// Column returns the values for a year
func (g *CalendarGrid) Column(year int) ([]float64, bool) {
	i := g.YearIndex(year)
	if i < 0 {
		return nil, false
	}
	return g.Values[i], true
}

// MissingCount returns the number of NaN positions in a year's column
func (g *CalendarGrid) MissingCount(year int) int {
	col, ok := g.Column(year)
	if !ok {
		return 0
	}
	n := 0
	for _, v := range col {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy
func (g *CalendarGrid) Clone() *CalendarGrid {
	out := *g
	out.Positions = append([]CalendarPosition(nil), g.Positions...)
	out.Years = append([]int(nil), g.Years...)
	out.Values = make([][]float64, len(g.Values))
	for i := range g.Values {
		out.Values[i] = append([]float64(nil), g.Values[i]...)
	}
	return &out
}

type gridColumnJSON struct {
	Year   int            `json:"year"`
	Values NullableFloats `json:"values"`
}

type gridJSON struct {
	Kind           GridKind           `json:"kind"`
	IncludeLeapDay bool               `json:"include_leap_day,omitempty"`
	Aggregator     string             `json:"aggregator,omitempty"`
	Positions      []CalendarPosition `json:"positions"`
	Columns        []gridColumnJSON   `json:"columns"`
	CoverageGaps   int                `json:"coverage_gaps"`
}

// MarshalJSON emits the calendar positions followed by one column per year
func (g *CalendarGrid) MarshalJSON() ([]byte, error) {
	out := gridJSON{
		Kind:           g.Kind,
		IncludeLeapDay: g.IncludeLeapDay,
		Aggregator:     g.Aggregator,
		Positions:      g.Positions,
		Columns:        make([]gridColumnJSON, len(g.Years)),
		CoverageGaps:   g.CoverageGaps,
	}
	for i, y := range g.Years {
		out.Columns[i] = gridColumnJSON{Year: y, Values: NullableFloats(g.Values[i])}
	}
	return json.Marshal(out)
}
