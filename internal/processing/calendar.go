package processing

import (
	"fmt"
	"math"
	"time"

	"climate-platform/internal/models"
)

const (
	leapCalendarDays = 366
	feb28Slot        = 58
	feb29Slot        = 59
)

// IsLeapYearInSupportedRange reports leap years as every fourth year from
// 1800 through 2100. It is false outside that window, and it deliberately
// treats 1800, 1900 and 2100 as leap years.
func IsLeapYearInSupportedRange(year int) bool {
	return year >= 1800 && year <= 2100 && year%4 == 0
}

// Aggregator reduces a month of pooled daily values to one number
type Aggregator string

const (
	AggregateMax  Aggregator = "max"
	AggregateMin  Aggregator = "min"
	AggregateMean Aggregator = "mean"
)

// ParseAggregator validates an aggregator name
func ParseAggregator(s string) (Aggregator, error) {
	switch a := Aggregator(s); a {
	case AggregateMax, AggregateMin, AggregateMean:
		return a, nil
	default:
		return "", &models.ValidationError{
			Field:   "agg",
			Value:   s,
			Message: fmt.Sprintf("unsupported aggregator %q, expected max, min or mean", s),
		}
	}
}

// Apply reduces values, ignoring NaN. It returns NaN when nothing remains.
func (a Aggregator) Apply(values []float64) float64 {
	switch a {
	case AggregateMax:
		return nanMax(values)
	case AggregateMin:
		return nanMin(values)
	default:
		return nanMean(values)
	}
}

// DayOfYearPositions returns the calendar rows of a day-of-year grid
func DayOfYearPositions(includeLeapDay bool) []models.CalendarPosition {
	positions := make([]models.CalendarPosition, 0, leapCalendarDays)
	d := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < leapCalendarDays; i++ {
		if includeLeapDay || i != feb29Slot {
			positions = append(positions, models.CalendarPosition{Month: int(d.Month()), Day: d.Day()})
		}
		d = d.AddDate(0, 0, 1)
	}
	return positions
}

// MonthOfYearPositions returns the twelve rows of a month-of-year grid
func MonthOfYearPositions() []models.CalendarPosition {
	positions := make([]models.CalendarPosition, 12)
	for i := range positions {
		positions[i] = models.CalendarPosition{Month: i + 1}
	}
	return positions
}

// leapSlot maps a date to its index in a 366-day calendar
func leapSlot(t time.Time) int {
	return time.Date(2000, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).YearDay() - 1
}

// DailyMeans returns the cross-station NaN-ignoring mean for each row and the
// number of rows where no station reported
func DailyMeans(m *models.StationSeriesMatrix) ([]float64, int) {
	means := make([]float64, m.Rows())
	gaps := 0
	for row := range means {
		means[row] = nanMean(m.RowValues(row))
		if math.IsNaN(means[row]) {
			gaps++
		}
	}
	return means, gaps
}

// DayOfYearGrid reshapes the matrix into calendar position rows by year columns.
//
// Each cell is the cross-station mean for that date. With includeLeapDay the
// grid has 366 positions and years without Feb 29 carry NaN there. Without
// it the grid has 365 positions and Feb 29 is folded into Feb 28 by a
// NaN-ignoring mean. Days outside the matrix range are NaN.
func DayOfYearGrid(m *models.StationSeriesMatrix, includeLeapDay bool) *models.CalendarGrid {
	g := &models.CalendarGrid{
		Kind:           models.GridDayOfYear,
		IncludeLeapDay: includeLeapDay,
		Positions:      DayOfYearPositions(includeLeapDay),
	}
	if m.Rows() == 0 {
		return g
	}

	means, gaps := DailyMeans(m)
	g.CoverageGaps = gaps

	firstYear, lastYear := m.FirstDate().Year(), m.LastDate().Year()
	full := make(map[int][]float64, lastYear-firstYear+1)
	for y := firstYear; y <= lastYear; y++ {
		g.Years = append(g.Years, y)
		full[y] = nanSlice(leapCalendarDays)
	}
	for row, d := range m.Dates {
		full[d.Year()][leapSlot(d)] = means[row]
	}

	g.Values = make([][]float64, len(g.Years))
	for i, y := range g.Years {
		col := full[y]
		if includeLeapDay {
			g.Values[i] = col
			continue
		}
		folded := make([]float64, 0, leapCalendarDays-1)
		folded = append(folded, col[:feb28Slot]...)
		if IsLeapYearInSupportedRange(y) || hasLeapDay(y) {
			folded = append(folded, nanMean(col[feb28Slot:feb29Slot+1]))
		} else {
			folded = append(folded, col[feb28Slot])
		}
		folded = append(folded, col[feb29Slot+1:]...)
		g.Values[i] = folded
	}
	return g
}

// MonthOfYearGrid reduces the pooled station-by-day values of each
// (year, month) with agg. Months without any value are NaN.
func MonthOfYearGrid(m *models.StationSeriesMatrix, agg Aggregator) *models.CalendarGrid {
	g := &models.CalendarGrid{
		Kind:       models.GridMonthOfYear,
		Aggregator: string(agg),
		Positions:  MonthOfYearPositions(),
	}
	if m.Rows() == 0 {
		return g
	}

	firstYear, lastYear := m.FirstDate().Year(), m.LastDate().Year()
	pools := make([][][]float64, lastYear-firstYear+1)
	for i := range pools {
		g.Years = append(g.Years, firstYear+i)
		pools[i] = make([][]float64, 12)
	}

	for row, d := range m.Dates {
		reported := false
		bucket := &pools[d.Year()-firstYear][int(d.Month())-1]
		for c := range m.Columns {
			if !m.HasData(row, c) {
				continue
			}
			v := m.Value(row, c)
			if math.IsNaN(v) {
				continue
			}
			*bucket = append(*bucket, v)
			reported = true
		}
		if !reported {
			g.CoverageGaps++
		}
	}

	g.Values = make([][]float64, len(g.Years))
	for i := range g.Years {
		col := make([]float64, 12)
		for month := range col {
			col[month] = agg.Apply(pools[i][month])
		}
		g.Values[i] = col
	}
	return g
}

func hasLeapDay(year int) bool {
	return time.Date(year, time.February, 29, 0, 0, 0, 0, time.UTC).Month() == time.February
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func nanMean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func nanMax(values []float64) float64 {
	out := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(out) || v > out {
			out = v
		}
	}
	return out
}

func nanMin(values []float64) float64 {
	out := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(out) || v < out {
			out = v
		}
	}
	return out
}
