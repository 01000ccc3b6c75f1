package processing

import (
	"math"
	"slices"

	"climate-platform/internal/models"
)

// ReportingCounts returns how many stations have a finite value on each row
func ReportingCounts(m *models.StationSeriesMatrix) []int {
	counts := make([]int, m.Rows())
	for row := range counts {
		for c := range m.Columns {
			if m.HasData(row, c) && !math.IsNaN(m.Value(row, c)) {
				counts[row]++
			}
		}
	}
	return counts
}

// FilterMinimumStations returns a copy of m in which every row with fewer
// than minStations reporting stations is blanked for all stations
func FilterMinimumStations(m *models.StationSeriesMatrix, minStations int) *models.StationSeriesMatrix {
	out := m.Clone()
	if minStations <= 1 {
		return out
	}
	for row, n := range ReportingCounts(m) {
		if n >= minStations {
			continue
		}
		for c := range out.Columns {
			out.Columns[c].Values[row] = math.NaN()
		}
	}
	return out
}

// CumulativeGrid turns each year column of g into a running sum.
//
// Missing positions count as zero except in currentYear, where they stay
// NaN while the sum carries on. Years other than currentYear with more than
// maxMissing NaN positions become entirely NaN. A negative maxMissing keeps
// every year.
func CumulativeGrid(g *models.CalendarGrid, currentYear, maxMissing int) *models.CalendarGrid {
	out := g.Clone()
	out.Kind = models.GridCumulative

	for i, y := range out.Years {
		col := out.Values[i]
		if y != currentYear && maxMissing >= 0 && g.MissingCount(y) > maxMissing {
			for p := range col {
				col[p] = math.NaN()
			}
			continue
		}

		total := 0.0
		for p, v := range col {
			if math.IsNaN(v) {
				if y == currentYear {
					continue
				}
				v = 0
			}
			total += v
			col[p] = total
		}
	}
	return out
}

// ClimatologySummary holds per-position statistics across a range of years
type ClimatologySummary struct {
	Positions []models.CalendarPosition `json:"positions"`
	StartYear int                       `json:"start_year"`
	EndYear   int                       `json:"end_year"`
	Years     int                       `json:"years"`
	Mean      models.NullableFloats     `json:"mean"`
	Min       models.NullableFloats     `json:"min"`
	Max       models.NullableFloats     `json:"max"`
	P05       models.NullableFloats     `json:"p05"`
	P95       models.NullableFloats     `json:"p95"`
}

// Climatology summarizes the grid columns for years in [startYear, endYear].
// Statistics ignore NaN; percentiles interpolate linearly between ranks.
func Climatology(g *models.CalendarGrid, startYear, endYear int) *ClimatologySummary {
	n := len(g.Positions)
	s := &ClimatologySummary{
		Positions: append([]models.CalendarPosition(nil), g.Positions...),
		StartYear: startYear,
		EndYear:   endYear,
		Mean:      make(models.NullableFloats, n),
		Min:       make(models.NullableFloats, n),
		Max:       make(models.NullableFloats, n),
		P05:       make(models.NullableFloats, n),
		P95:       make(models.NullableFloats, n),
	}

	var cols [][]float64
	for i, y := range g.Years {
		if y >= startYear && y <= endYear {
			cols = append(cols, g.Values[i])
		}
	}
	s.Years = len(cols)

	sample := make([]float64, 0, len(cols))
	for p := 0; p < n; p++ {
		sample = sample[:0]
		for _, col := range cols {
			if !math.IsNaN(col[p]) {
				sample = append(sample, col[p])
			}
		}
		s.Mean[p] = nanMean(sample)
		s.Min[p] = nanMin(sample)
		s.Max[p] = nanMax(sample)
		slices.Sort(sample)
		s.P05[p] = percentile(sample, 0.05)
		s.P95[p] = percentile(sample, 0.95)
	}
	return s
}

// percentile expects sorted finite values
func percentile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return math.NaN()
	case 1:
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// SelectYearRange picks the default climatology window: the earliest year
// with fewer than maxMissing NaN positions and the latest year, excluding
// the final column, that has any value. ok is false when either is absent.
func SelectYearRange(g *models.CalendarGrid, maxMissing int) (first, last int, ok bool) {
	foundFirst := false
	for _, y := range g.Years {
		if g.MissingCount(y) < maxMissing {
			first, foundFirst = y, true
			break
		}
	}
	if !foundFirst {
		return 0, 0, false
	}

	for i := len(g.Years) - 2; i >= 0; i-- {
		y := g.Years[i]
		if g.MissingCount(y) < len(g.Positions) {
			last = y
			return first, last, last >= first
		}
	}
	return 0, 0, false
}
