package processing

import (
	"math"
	"time"

	"climate-platform/internal/models"
)

// StationSeriesInput is one station's resolved series and its column label
type StationSeriesInput struct {
	Label  string
	Series *models.ResolvedSeries
}

// Assemble aligns per-station series onto one gap-free daily index.
//
// Rows cover [earliest start, latest end]. Columns follow input order.
// Cells outside a station's own range are NaN and report HasData false.
// An input whose value count disagrees with its date span fails with
// AlignmentError, including a claimed span with no values. A series with
// neither dates nor values is an empty column. No input yields an empty matrix.
func Assemble(inputs []StationSeriesInput) (*models.StationSeriesMatrix, error) {
	m := &models.StationSeriesMatrix{}
	if len(inputs) == 0 {
		return m, nil
	}

	var first, last time.Time
	for _, in := range inputs {
		s := in.Series
		if s == nil {
			return nil, &models.ValidationError{Field: "series", Value: in.Label, Message: "station series is nil"}
		}
		if s.Start.IsZero() && s.End.IsZero() && s.Len() == 0 {
			continue
		}
		expected := models.DaysInclusive(s.Start, s.End)
		if expected == 0 || expected != s.Len() {
			return nil, &models.AlignmentError{
				StationID: s.StationID,
				Start:     s.Start,
				End:       s.End,
				Expected:  expected,
				Actual:    s.Len(),
			}
		}
		start, end := models.Day(s.Start), models.Day(s.End)
		if first.IsZero() || start.Before(first) {
			first = start
		}
		if last.IsZero() || end.After(last) {
			last = end
		}
	}

	rows := 0
	if !first.IsZero() {
		rows = models.DaysInclusive(first, last)
	}
	m.Dates = make([]time.Time, rows)
	for i := range m.Dates {
		m.Dates[i] = first.AddDate(0, 0, i)
	}

	m.Columns = make([]models.StationColumn, len(inputs))
	for c, in := range inputs {
		s := in.Series
		col := models.StationColumn{
			StationID: s.StationID,
			Label:     in.Label,
			Values:    make([]float64, rows),
			FirstRow:  0,
			LastRow:   -1,
		}
		for i := range col.Values {
			col.Values[i] = math.NaN()
		}
		if s.Len() > 0 {
			col.FirstRow = models.DayOffset(first, s.Start)
			col.LastRow = models.DayOffset(first, s.End)
			copy(col.Values[col.FirstRow:col.LastRow+1], s.Values)
		}
		if col.Label == "" {
			col.Label = s.StationID
		}
		m.Columns[c] = col
	}
	return m, nil
}
