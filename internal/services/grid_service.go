package services

import (
	"context"
	"fmt"
	"time"

	"climate-platform/internal/models"
	"climate-platform/internal/processing"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

// GridResult is a calendar grid with the report of the query that fed it
type GridResult struct {
	Report *QueryReport        `json:"report"`
	Grid   *models.CalendarGrid `json:"grid"`
}

// ClimatologyResult is a climatology summary with its source query report
type ClimatologyResult struct {
	Report  *QueryReport                   `json:"report"`
	Summary *processing.ClimatologySummary `json:"climatology"`
}

// CumulativeOptions controls running-sum grids
type CumulativeOptions struct {
	IncludeLeapDay bool
	CurrentYear    int
	MaxMissing     int
}

// ClimatologyOptions selects the reference period. Zero years are chosen
// from the data with MaxMissing as the completeness threshold.
type ClimatologyOptions struct {
	IncludeLeapDay bool
	StartYear      int
	EndYear        int
	MaxMissing     int
}

// GridService builds calendar grids from region queries
type GridService struct {
	queries *QueryService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewGridService creates a new grid service
func NewGridService(queries *QueryService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *GridService {
	return &GridService{
		queries: queries,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// DayOfYearGrid builds a day-of-year grid and reports coverage gaps
func (s *GridService) DayOfYearGrid(ctx context.Context, m *models.StationSeriesMatrix, includeLeapDay bool) *models.CalendarGrid {
	timer := s.metrics.NewTimer(s.metrics.GridBuildDuration.WithLabelValues(string(models.GridDayOfYear)))
	g := processing.DayOfYearGrid(m, includeLeapDay)
	timer.ObserveDuration()
	s.reportGaps(ctx, g)
	return g
}

// MonthOfYearGrid builds a month-of-year grid and reports coverage gaps
func (s *GridService) MonthOfYearGrid(ctx context.Context, m *models.StationSeriesMatrix, agg processing.Aggregator) *models.CalendarGrid {
	timer := s.metrics.NewTimer(s.metrics.GridBuildDuration.WithLabelValues(string(models.GridMonthOfYear)))
	g := processing.MonthOfYearGrid(m, agg)
	timer.ObserveDuration()
	s.reportGaps(ctx, g)
	return g
}

func (s *GridService) reportGaps(ctx context.Context, g *models.CalendarGrid) {
	s.metrics.RecordCoverageGaps(string(g.Kind), g.CoverageGaps)
	if g.CoverageGaps == 0 {
		return
	}
	s.logger.Warn(ctx, "[GRID_COVERAGE_GAP] Days without any reporting station", logging.Fields{
		"kind":          g.Kind,
		"coverage_gaps": g.CoverageGaps,
		"years":         len(g.Years),
	})
}

// QueryDayOfYear runs q and lays the result out by day of year
func (s *GridService) QueryDayOfYear(ctx context.Context, q RegionQuery, includeLeapDay bool) (*GridResult, error) {
	res, err := s.queries.QueryRegion(ctx, q)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithQueryID(ctx, res.Report.QueryID)
	return &GridResult{Report: res.Report, Grid: s.DayOfYearGrid(ctx, res.Matrix, includeLeapDay)}, nil
}

// QueryMonthOfYear runs q and aggregates the result by month
func (s *GridService) QueryMonthOfYear(ctx context.Context, q RegionQuery, agg processing.Aggregator) (*GridResult, error) {
	res, err := s.queries.QueryRegion(ctx, q)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithQueryID(ctx, res.Report.QueryID)
	return &GridResult{Report: res.Report, Grid: s.MonthOfYearGrid(ctx, res.Matrix, agg)}, nil
}

// QueryCumulative runs q and turns the day-of-year grid into running sums
func (s *GridService) QueryCumulative(ctx context.Context, q RegionQuery, opts CumulativeOptions) (*GridResult, error) {
	res, err := s.queries.QueryRegion(ctx, q)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithQueryID(ctx, res.Report.QueryID)

	if opts.CurrentYear == 0 {
		opts.CurrentYear = time.Now().UTC().Year()
	}
	doy := s.DayOfYearGrid(ctx, res.Matrix, opts.IncludeLeapDay)

	timer := s.metrics.NewTimer(s.metrics.GridBuildDuration.WithLabelValues(string(models.GridCumulative)))
	g := processing.CumulativeGrid(doy, opts.CurrentYear, opts.MaxMissing)
	timer.ObserveDuration()

	return &GridResult{Report: res.Report, Grid: g}, nil
}

// QueryClimatology runs q and summarizes the day-of-year grid over a reference period
func (s *GridService) QueryClimatology(ctx context.Context, q RegionQuery, opts ClimatologyOptions) (*ClimatologyResult, error) {
	if opts.StartYear != 0 && opts.EndYear != 0 && opts.EndYear < opts.StartYear {
		return nil, &models.ValidationError{
			Field:   "end_year",
			Value:   fmt.Sprint(opts.EndYear),
			Message: "end_year must not precede start_year",
		}
	}

	res, err := s.queries.QueryRegion(ctx, q)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithQueryID(ctx, res.Report.QueryID)
	doy := s.DayOfYearGrid(ctx, res.Matrix, opts.IncludeLeapDay)

	start, end := opts.StartYear, opts.EndYear
	if start == 0 || end == 0 {
		first, last, ok := processing.SelectYearRange(doy, opts.MaxMissing)
		if !ok {
			return nil, &models.ValidationError{
				Field:   "max_missing",
				Value:   fmt.Sprint(opts.MaxMissing),
				Message: "no year meets the completeness threshold",
			}
		}
		if start == 0 {
			start = first
		}
		if end == 0 {
			end = last
		}
	}

	summary := processing.Climatology(doy, start, end)
	s.logger.Info(ctx, "[GRID_CLIMATOLOGY] Climatology computed", logging.Fields{
		"start_year": start,
		"end_year":   end,
		"years":      summary.Years,
	})
	return &ClimatologyResult{Report: res.Report, Summary: summary}, nil
}
