package processing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-platform/internal/models"
)

func gridOf(years []int, cols ...[]float64) *models.CalendarGrid {
	positions := make([]models.CalendarPosition, len(cols[0]))
	for i := range positions {
		positions[i] = models.CalendarPosition{Month: 1, Day: i + 1}
	}
	return &models.CalendarGrid{
		Kind:      models.GridDayOfYear,
		Positions: positions,
		Years:     years,
		Values:    cols,
	}
}

func TestReportingCountsAndFilter(t *testing.T) {
	nan := math.NaN()
	m := matrixOf(t,
		series(t, "A", "2021-01-01", 1, 2, nan),
		series(t, "B", "2021-01-01", 3, nan, nan),
		series(t, "C", "2021-01-02", 5),
	)

	assert.Equal(t, []int{2, 2, 0}, ReportingCounts(m))

	filtered := FilterMinimumStations(m, 2)
	assert.Equal(t, 1.0, filtered.Value(0, 0))
	assert.Equal(t, 2.0, filtered.Value(1, 0))

	strict := FilterMinimumStations(m, 3)
	for row := 0; row < strict.Rows(); row++ {
		for c := range strict.Columns {
			assert.True(t, math.IsNaN(strict.Value(row, c)))
		}
	}
	assert.Equal(t, 1.0, m.Value(0, 0), "input must not change")
}

func TestCumulativeGrid(t *testing.T) {
	nan := math.NaN()
	g := gridOf([]int{2019, 2020, 2021},
		[]float64{1, nan, 2, 3},
		[]float64{nan, nan, nan, 1},
		[]float64{1, 1, nan, nan},
	)

	c := CumulativeGrid(g, 2021, 2)
	assert.Equal(t, models.GridCumulative, c.Kind)
	assert.Equal(t, []float64{1, 1, 3, 6}, c.Values[0])

	for _, v := range c.Values[1] {
		assert.True(t, math.IsNaN(v), "2020 exceeds the missing threshold")
	}

	current := c.Values[2]
	assert.Equal(t, 1.0, current[0])
	assert.Equal(t, 2.0, current[1])
	assert.True(t, math.IsNaN(current[2]))
	assert.True(t, math.IsNaN(current[3]))

	assert.Equal(t, 1.0, g.Values[0][0], "input must not change")
	assert.True(t, math.IsNaN(g.Values[0][1]))
}

func TestCumulativeGridNoThreshold(t *testing.T) {
	g := gridOf([]int{2020}, []float64{math.NaN(), math.NaN(), 2})
	c := CumulativeGrid(g, 2030, -1)
	assert.Equal(t, []float64{0, 0, 2}, c.Values[0])
}

func TestClimatology(t *testing.T) {
	nan := math.NaN()
	g := gridOf([]int{2000, 2001, 2002, 2003, 2004, 2005},
		[]float64{1, nan},
		[]float64{2, nan},
		[]float64{3, nan},
		[]float64{4, 7},
		[]float64{5, nan},
		[]float64{100, 100},
	)

	s := Climatology(g, 2000, 2004)
	require.Len(t, s.Mean, 2)
	assert.Equal(t, 5, s.Years)
	assert.InDelta(t, 3.0, s.Mean[0], 1e-9)
	assert.Equal(t, 1.0, s.Min[0])
	assert.Equal(t, 5.0, s.Max[0])
	assert.InDelta(t, 1.2, s.P05[0], 1e-9)
	assert.InDelta(t, 4.8, s.P95[0], 1e-9)

	assert.Equal(t, 7.0, s.Mean[1])
	assert.Equal(t, 7.0, s.P05[1])
	assert.Equal(t, 7.0, s.P95[1])

	empty := Climatology(g, 1900, 1950)
	assert.Equal(t, 0, empty.Years)
	assert.True(t, math.IsNaN(empty.Mean[0]))
	assert.True(t, math.IsNaN(empty.P95[0]))
}

func TestSelectYearRange(t *testing.T) {
	nan := math.NaN()
	g := gridOf([]int{1990, 1991, 1992, 1993, 1994},
		[]float64{nan, nan, nan},
		[]float64{1, nan, nan},
		[]float64{1, 2, 3},
		[]float64{nan, nan, nan},
		[]float64{1, nan, nan},
	)

	first, last, ok := SelectYearRange(g, 2)
	require.True(t, ok)
	assert.Equal(t, 1992, first)
	assert.Equal(t, 1992, last)

	first, last, ok = SelectYearRange(g, 3)
	require.True(t, ok)
	assert.Equal(t, 1991, first)
	assert.Equal(t, 1992, last)

	_, _, ok = SelectYearRange(g, 0)
	assert.False(t, ok)
}
