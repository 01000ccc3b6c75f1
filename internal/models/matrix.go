package models

import (
	"encoding/json"
	"math"
	"time"
)

// StationColumn holds one station's values across the matrix rows.
// Rows outside [FirstRow, LastRow] carry no data for the station.
type StationColumn struct {
	StationID string
	Label     string
	Values    []float64
	FirstRow  int
	LastRow   int
}

// StationSeriesMatrix is a gap-free daily table with one column per station
type StationSeriesMatrix struct {
	Dates   []time.Time
	Columns []StationColumn
}

// Rows returns the number of days in the matrix
func (m *StationSeriesMatrix) Rows() int {
	return len(m.Dates)
}

// HasData reports whether the cell lies inside the station's coverage window
func (m *StationSeriesMatrix) HasData(row, col int) bool {
	c := m.Columns[col]
	return row >= c.FirstRow && row <= c.LastRow
}

// Value returns the cell value; NaN for no data
func (m *StationSeriesMatrix) Value(row, col int) float64 {
	return m.Columns[col].Values[row]
}

// RowValues returns a copy of every station's value for a row
func (m *StationSeriesMatrix) RowValues(row int) []float64 {
	out := make([]float64, len(m.Columns))
	for c := range m.Columns {
		out[c] = m.Columns[c].Values[row]
	}
	return out
}

// Clone returns a deep copy
func (m *StationSeriesMatrix) Clone() *StationSeriesMatrix {
	out := &StationSeriesMatrix{
		Dates:   append([]time.Time(nil), m.Dates...),
		Columns: make([]StationColumn, len(m.Columns)),
	}
	for i, c := range m.Columns {
		c.Values = append([]float64(nil), c.Values...)
		out.Columns[i] = c
	}
	return out
}

// FirstDate returns the first row date, zero when empty
func (m *StationSeriesMatrix) FirstDate() time.Time {
	if len(m.Dates) == 0 {
		return time.Time{}
	}
	return m.Dates[0]
}

// LastDate returns the last row date, zero when empty
func (m *StationSeriesMatrix) LastDate() time.Time {
	if len(m.Dates) == 0 {
		return time.Time{}
	}
	return m.Dates[len(m.Dates)-1]
}

type matrixColumnJSON struct {
	StationID string         `json:"sid"`
	Label     string         `json:"label"`
	FirstDate string         `json:"first_date,omitempty"`
	LastDate  string         `json:"last_date,omitempty"`
	Values    NullableFloats `json:"values"`
}

type matrixJSON struct {
	Dates    []string           `json:"dates"`
	Stations []matrixColumnJSON `json:"stations"`
}

// MarshalJSON encodes dates as YYYY-MM-DD and NaN cells as null
func (m *StationSeriesMatrix) MarshalJSON() ([]byte, error) {
	out := matrixJSON{
		Dates:    make([]string, len(m.Dates)),
		Stations: make([]matrixColumnJSON, len(m.Columns)),
	}
	for i, d := range m.Dates {
		out.Dates[i] = d.Format(DateLayout)
	}
	for i, c := range m.Columns {
		col := matrixColumnJSON{
			StationID: c.StationID,
			Label:     c.Label,
			Values:    NullableFloats(c.Values),
		}
		if c.FirstRow <= c.LastRow && c.LastRow < len(m.Dates) {
			col.FirstDate = m.Dates[c.FirstRow].Format(DateLayout)
			col.LastDate = m.Dates[c.LastRow].Format(DateLayout)
		}
		out.Stations[i] = col
	}
	return json.Marshal(out)
}

// NullableFloats encodes NaN and infinities as JSON null
type NullableFloats []float64

// MarshalJSON implements json.Marshaler
func (f NullableFloats) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(f))
	for i := range f {
		if math.IsNaN(f[i]) || math.IsInf(f[i], 0) {
			continue
		}
		v := f[i]
		out[i] = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes null back into NaN
func (f *NullableFloats) UnmarshalJSON(data []byte) error {
	var in []*float64
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	out := make(NullableFloats, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*f = out
	return nil
}
