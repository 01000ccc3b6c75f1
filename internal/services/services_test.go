package services

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-platform/internal/acis"
	"climate-platform/internal/cache"
	"climate-platform/internal/models"
	"climate-platform/internal/processing"
	"climate-platform/internal/repository"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

// fakeSource serves canned metadata and tokens keyed by station id
type fakeSource struct {
	stations  []models.StationMetadata
	tokens    map[string][]models.RawObservation
	dataErr   error
	metaCalls atomic.Int32
	dataCalls atomic.Int32
}

func (f *fakeSource) StationMetadata(ctx context.Context, q acis.MetaQuery) ([]models.StationMetadata, error) {
	f.metaCalls.Add(1)
	if len(q.SIDs) == 0 {
		return f.stations, nil
	}
	var out []models.StationMetadata
	for _, sid := range q.SIDs {
		for _, st := range f.stations {
			if st.StationID == sid {
				out = append(out, st)
			}
		}
	}
	return out, nil
}

func (f *fakeSource) StationData(ctx context.Context, q acis.DataQuery) ([]models.RawObservation, error) {
	f.dataCalls.Add(1)
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	var out []models.RawObservation
	for _, o := range f.tokens[q.SID] {
		if !o.Date.Before(q.Start) && !o.Date.After(q.End) {
			out = append(out, o)
		}
	}
	return out, nil
}

// fakeRepo is an in-memory ClimateRepository
type fakeRepo struct {
	mu       sync.Mutex
	stations map[string]models.StationMetadata
	series   map[string]*models.ResolvedSeries
	saveErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		stations: make(map[string]models.StationMetadata),
		series:   make(map[string]*models.ResolvedSeries),
	}
}

func (r *fakeRepo) UpsertStations(ctx context.Context, stations []models.StationMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range stations {
		r.stations[st.StationID+"/"+string(st.Element)] = st
	}
	return nil
}

func (r *fakeRepo) GetStation(ctx context.Context, sid string, element models.Element) (*models.StationMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stations[sid+"/"+string(element)]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "station", ID: sid}
	}
	return &st, nil
}

func (r *fakeRepo) ListStations(ctx context.Context, filter repository.StationFilter) ([]*models.StationMetadata, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StationMetadata
	for _, st := range r.stations {
		out = append(out, &st)
	}
	return out, len(out), nil
}

func (r *fakeRepo) SaveSeries(ctx context.Context, element models.Element, series *models.ResolvedSeries) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series[series.StationID+"/"+string(element)] = series
	return nil
}

func (r *fakeRepo) GetSeries(ctx context.Context, sid string, element models.Element, start, end time.Time) (*models.ResolvedSeries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[sid+"/"+string(element)]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "series", ID: sid}
	}
	return s, nil
}

func (r *fakeRepo) HealthCheck(ctx context.Context) error { return nil }

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	logger := logging.NewStructuredLogger("services-test", "test", logging.DebugLevel)
	logger.SetOutput(io.Discard)
	return logger, metrics.NewCollectorWithRegistry("services_test", prometheus.NewRegistry())
}

func day(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func tokens(start string, toks ...string) []models.RawObservation {
	d := day(start)
	out := make([]models.RawObservation, len(toks))
	for i, tok := range toks {
		out[i] = models.RawObservation{Date: d.AddDate(0, 0, i), Token: tok}
	}
	return out
}

func station(sid, name string, elem models.Element, start, end string) models.StationMetadata {
	return models.StationMetadata{
		StationID:  sid,
		Element:    elem,
		Name:       name,
		State:      "IL",
		ValidStart: day(start),
		ValidEnd:   day(end),
	}
}

func precipSource() *fakeSource {
	return &fakeSource{
		stations: []models.StationMetadata{
			station("A", "ALPHA", models.ElementPrecipitation, "2024-01-01", "2024-01-04"),
			station("B", "BRAVO", models.ElementPrecipitation, "2024-01-02", "2024-01-03"),
		},
		tokens: map[string][]models.RawObservation{
			"A": tokens("2024-01-01", "0.10", "S", "M", "0.90A"),
			"B": tokens("2024-01-02", "M", "T"),
		},
	}
}

func newQueryService(t *testing.T, src StationSource, repo repository.ClimateRepository, opts QueryOptions, c *cache.TTL[*QueryResult]) *QueryService {
	t.Helper()
	logger, collector := testDeps()
	svc, err := NewQueryService(src, repo, nil, opts, c, logger, collector)
	require.NoError(t, err)
	return svc
}

func TestQueryRegion_AssemblesInStationOrder(t *testing.T) {
	src := precipSource()
	svc := newQueryService(t, src, nil, QueryOptions{FetchConcurrency: 4, AuditLog: true}, nil)

	res, err := svc.QueryRegion(context.Background(), RegionQuery{
		Element: models.ElementPrecipitation,
		BBox:    &models.BoundingBox{West: -90, South: 37, East: -89, North: 38},
	})
	require.NoError(t, err)

	m := res.Matrix
	require.Equal(t, 4, m.Rows())
	require.Len(t, m.Columns, 2)
	assert.Equal(t, "A: ALPHA, IL", m.Columns[0].Label)
	assert.Equal(t, "B: BRAVO, IL", m.Columns[1].Label)

	a := m.Columns[0].Values
	assert.InDelta(t, 0.10, a[0], 1e-9)
	for _, v := range a[1:] {
		assert.InDelta(t, 0.30, v, 1e-9)
	}

	b := m.Columns[1]
	assert.Equal(t, 1, b.FirstRow)
	assert.Equal(t, 2, b.LastRow)
	assert.True(t, math.IsNaN(b.Values[0]))
	assert.True(t, math.IsNaN(b.Values[1]))
	assert.Equal(t, processing.DefaultTraceValue, b.Values[2])
	assert.True(t, math.IsNaN(b.Values[3]))

	r := res.Report
	assert.NotEmpty(t, r.QueryID)
	assert.Equal(t, 2, r.StationsMatched)
	assert.Equal(t, 2, r.StationsResolved)
	assert.Equal(t, 1, r.Stations[0].Summary.Runs)
	assert.Equal(t, OutcomeResolved, r.Stations[1].Outcome)
	assert.Equal(t, "2024-01-02", r.Stations[1].Start)
	assert.False(t, r.Cached)
}

func TestQueryRegion_TooManyStations(t *testing.T) {
	src := precipSource()
	svc := newQueryService(t, src, nil, QueryOptions{MaxStations: 2}, nil)

	_, err := svc.QueryRegion(context.Background(), RegionQuery{Element: models.ElementPrecipitation, SIDs: []string{"A", "B"}})
	var tooMany *models.TooManyStationsError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 2, tooMany.Found)
	assert.Equal(t, int32(0), src.dataCalls.Load())
}

func TestQueryRegion_MalformedStation(t *testing.T) {
	src := precipSource()
	src.tokens["B"] = tokens("2024-01-02", "M", "X")
	q := RegionQuery{Element: models.ElementPrecipitation, SIDs: []string{"A", "B"}}

	strict := newQueryService(t, src, nil, QueryOptions{FetchConcurrency: 2}, nil)
	_, err := strict.QueryRegion(context.Background(), q)
	var dfe *models.DataFormatError
	require.ErrorAs(t, err, &dfe)
	assert.Equal(t, "B", dfe.StationID)
	assert.Equal(t, "X", dfe.Token)

	lenient := newQueryService(t, src, nil, QueryOptions{FetchConcurrency: 2, SkipMalformedStations: true}, nil)
	res, err := lenient.QueryRegion(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, res.Matrix.Columns, 1)
	assert.Equal(t, "A", res.Matrix.Columns[0].StationID)
	assert.Equal(t, 1, res.Report.StationsSkipped)
	assert.Equal(t, OutcomeMalformed, res.Report.Stations[1].Outcome)
	assert.Contains(t, res.Report.Stations[1].Error, `"X"`)
}

func TestQueryRegion_WindowAndMinStations(t *testing.T) {
	src := precipSource()
	svc := newQueryService(t, src, nil, QueryOptions{}, nil)

	res, err := svc.QueryRegion(context.Background(), RegionQuery{
		Element: models.ElementPrecipitation,
		SIDs:    []string{"A", "B"},
		Start:   day("2024-01-04"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOverlap, res.Report.Stations[1].Outcome)
	require.Equal(t, 1, res.Matrix.Rows())
	assert.Equal(t, day("2024-01-04"), res.Matrix.Dates[0])

	res, err = svc.QueryRegion(context.Background(), RegionQuery{
		Element:     models.ElementPrecipitation,
		SIDs:        []string{"A", "B"},
		MinStations: 2,
	})
	require.NoError(t, err)
	// only 2024-01-03 has both stations reporting a finite value
	for row := 0; row < res.Matrix.Rows(); row++ {
		finite := !math.IsNaN(res.Matrix.Value(row, 0))
		assert.Equal(t, row == 2, finite, "row %d", row)
	}
}

func TestQueryRegion_CachesResults(t *testing.T) {
	src := precipSource()
	svc := newQueryService(t, src, nil, QueryOptions{}, cache.New[*QueryResult](time.Minute))
	q := RegionQuery{Element: models.ElementPrecipitation, SIDs: []string{"A"}}

	first, err := svc.QueryRegion(context.Background(), q)
	require.NoError(t, err)
	second, err := svc.QueryRegion(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.metaCalls.Load())
	assert.True(t, second.Report.Cached)
	assert.False(t, first.Report.Cached)
	assert.Equal(t, first.Report.QueryID, second.Report.QueryID)
}

func TestQueryRegion_Persists(t *testing.T) {
	src := precipSource()
	repo := newFakeRepo()
	svc := newQueryService(t, src, repo, QueryOptions{Persist: true}, nil)

	res, err := svc.QueryRegion(context.Background(), RegionQuery{Element: models.ElementPrecipitation, SIDs: []string{"A", "B"}})
	require.NoError(t, err)
	assert.True(t, res.Report.Persisted)
	assert.Len(t, repo.stations, 2)
	assert.Len(t, repo.series, 2)

	repo.saveErr = errors.New("disk full")
	svc = newQueryService(t, src, repo, QueryOptions{Persist: true}, nil)
	res, err = svc.QueryRegion(context.Background(), RegionQuery{Element: models.ElementPrecipitation, SIDs: []string{"A"}})
	require.NoError(t, err)
	assert.False(t, res.Report.Persisted)
}

func TestQueryRegion_Errors(t *testing.T) {
	src := precipSource()
	svc := newQueryService(t, src, nil, QueryOptions{}, nil)

	tests := []struct {
		name  string
		query RegionQuery
	}{
		{name: "no selector", query: RegionQuery{Element: models.ElementPrecipitation}},
		{name: "both selectors", query: RegionQuery{
			Element: models.ElementPrecipitation,
			BBox:    &models.BoundingBox{West: -90, South: 37, East: -89, North: 38},
			SIDs:    []string{"A"},
		}},
		{name: "bad element", query: RegionQuery{Element: "hdd", SIDs: []string{"A"}}},
		{name: "inverted box", query: RegionQuery{
			Element: models.ElementPrecipitation,
			BBox:    &models.BoundingBox{West: -89, South: 37, East: -90, North: 38},
		}},
		{name: "inverted dates", query: RegionQuery{
			Element: models.ElementPrecipitation,
			SIDs:    []string{"A"},
			Start:   day("2024-02-01"),
			End:     day("2024-01-01"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.QueryRegion(context.Background(), tt.query)
			var ve *models.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}

	src.dataErr = &acis.UpstreamError{Endpoint: "StnData", Message: "boom", Transient: true}
	_, err := svc.QueryRegion(context.Background(), RegionQuery{Element: models.ElementPrecipitation, SIDs: []string{"A"}})
	var ue *acis.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.True(t, ue.IsTransient())
}

func temperatureSource() *fakeSource {
	// two full years of maxt with a constant per year
	var obs []models.RawObservation
	for d := day("2023-01-01"); !d.After(day("2024-12-31")); d = d.AddDate(0, 0, 1) {
		tok := "50"
		if d.Year() == 2024 {
			tok = "60"
		}
		obs = append(obs, models.RawObservation{Date: d, Token: tok})
	}
	return &fakeSource{
		stations: []models.StationMetadata{station("T", "TEMP", models.ElementMaxTemperature, "2023-01-01", "2024-12-31")},
		tokens:   map[string][]models.RawObservation{"T": obs},
	}
}

func newGridService(t *testing.T, src StationSource) *GridService {
	t.Helper()
	logger, collector := testDeps()
	return NewGridService(newQueryService(t, src, nil, QueryOptions{}, nil), logger, collector)
}

func TestGridService_DayOfYearAndMonth(t *testing.T) {
	svc := newGridService(t, temperatureSource())
	q := RegionQuery{Element: models.ElementMaxTemperature, SIDs: []string{"T"}}

	res, err := svc.QueryDayOfYear(context.Background(), q, false)
	require.NoError(t, err)
	g := res.Grid
	assert.Equal(t, []int{2023, 2024}, g.Years)
	assert.Len(t, g.Positions, 365)
	assert.Equal(t, 0, g.CoverageGaps)
	assert.Equal(t, 60.0, g.Values[1][58])

	res, err = svc.QueryMonthOfYear(context.Background(), q, processing.AggregateMax)
	require.NoError(t, err)
	assert.Len(t, res.Grid.Positions, 12)
	assert.Equal(t, 50.0, res.Grid.Values[0][0])
	assert.Equal(t, "max", res.Grid.Aggregator)
}

func TestGridService_CumulativeAndClimatology(t *testing.T) {
	svc := newGridService(t, temperatureSource())
	q := RegionQuery{Element: models.ElementMaxTemperature, SIDs: []string{"T"}}

	res, err := svc.QueryCumulative(context.Background(), q, CumulativeOptions{CurrentYear: 2024, MaxMissing: 10})
	require.NoError(t, err)
	assert.Equal(t, models.GridCumulative, res.Grid.Kind)
	assert.InDelta(t, 365*50.0, res.Grid.Values[0][364], 1e-6)

	clim, err := svc.QueryClimatology(context.Background(), q, ClimatologyOptions{StartYear: 2023, EndYear: 2024})
	require.NoError(t, err)
	assert.Equal(t, 2, clim.Summary.Years)
	assert.InDelta(t, 55.0, clim.Summary.Mean[0], 1e-9)
	assert.InDelta(t, 50.5, clim.Summary.P05[0], 1e-9)

	// the final column is excluded from automatic selection
	clim, err = svc.QueryClimatology(context.Background(), q, ClimatologyOptions{MaxMissing: 5})
	require.NoError(t, err)
	assert.Equal(t, 2023, clim.Summary.StartYear)
	assert.Equal(t, 2023, clim.Summary.EndYear)

	_, err = svc.QueryClimatology(context.Background(), q, ClimatologyOptions{StartYear: 2024, EndYear: 2023})
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRefreshService_RefreshStations(t *testing.T) {
	src := precipSource()
	repo := newFakeRepo()
	logger, collector := testDeps()
	svc, err := NewRefreshService(src, repo, nil, logger, collector)
	require.NoError(t, err)

	res, err := svc.RefreshStations(context.Background(), []string{"A", "B"}, []models.Element{models.ElementPrecipitation}, day("2023-12-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.StationsTotal)
	assert.Equal(t, 2, res.StationsStored)
	assert.Equal(t, 6, res.DaysStored)
	assert.Empty(t, res.Errors)

	stored, err := repo.GetSeries(context.Background(), "A", models.ElementPrecipitation, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, stored.Values[3], 1e-9)

	src.tokens["B"] = tokens("2024-01-02", "bad", "T")
	res, err = svc.RefreshStations(context.Background(), []string{"A", "B"}, []models.Element{models.ElementPrecipitation}, day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.StationsFailed)
	assert.Len(t, res.Errors, 1)

	noRepo, err := NewRefreshService(src, nil, nil, logger, collector)
	require.NoError(t, err)
	_, err = noRepo.RefreshStations(context.Background(), []string{"A"}, []models.Element{models.ElementPrecipitation}, day("2024-01-01"), day("2024-01-31"))
	assert.Error(t, err)
}

func TestRefreshService_IngestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stndata.json")
	doc := `{"data":[["2024-01-01","S"],["2024-01-02","0.40A"],["2024-01-03","1.5A"]]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	repo := newFakeRepo()
	logger, collector := testDeps()
	svc, err := NewRefreshService(nil, repo, nil, logger, collector)
	require.NoError(t, err)

	st := models.StationMetadata{StationID: "F", Element: models.ElementPrecipitation}
	series, err := svc.IngestFile(context.Background(), path, st)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.2, 1.5}, series.Values)
	assert.Equal(t, 1, series.Summary.StandaloneEnds)

	saved, err := repo.GetStation(context.Background(), "F", models.ElementPrecipitation)
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-03"), saved.ValidEnd)

	_, err = svc.IngestFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"), st)
	assert.Error(t, err)
}
