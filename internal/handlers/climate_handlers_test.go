package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-platform/internal/acis"
	"climate-platform/internal/models"
	"climate-platform/internal/repository"
	"climate-platform/internal/services"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

type stubSource struct {
	stations []models.StationMetadata
	tokens   map[string][]models.RawObservation
	err      error
}

func (s *stubSource) StationMetadata(ctx context.Context, q acis.MetaQuery) ([]models.StationMetadata, error) {
	return s.stations, nil
}

func (s *stubSource) StationData(ctx context.Context, q acis.DataQuery) ([]models.RawObservation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tokens[q.SID], nil
}

type stubRepo struct {
	series *models.ResolvedSeries
}

func (r *stubRepo) UpsertStations(ctx context.Context, stations []models.StationMetadata) error {
	return nil
}

func (r *stubRepo) GetStation(ctx context.Context, sid string, element models.Element) (*models.StationMetadata, error) {
	return nil, &repository.NotFoundError{Resource: "station", ID: sid}
}

func (r *stubRepo) ListStations(ctx context.Context, filter repository.StationFilter) ([]*models.StationMetadata, int, error) {
	st := &models.StationMetadata{StationID: "A", Element: models.ElementPrecipitation, State: "IL"}
	return []*models.StationMetadata{st}, 1, nil
}

func (r *stubRepo) SaveSeries(ctx context.Context, element models.Element, series *models.ResolvedSeries) error {
	return nil
}

func (r *stubRepo) GetSeries(ctx context.Context, sid string, element models.Element, start, end time.Time) (*models.ResolvedSeries, error) {
	if r.series == nil || r.series.StationID != sid {
		return nil, &repository.NotFoundError{Resource: "series", ID: sid}
	}
	return r.series, nil
}

func (r *stubRepo) HealthCheck(ctx context.Context) error { return nil }

func obsFrom(start time.Time, toks ...string) []models.RawObservation {
	out := make([]models.RawObservation, len(toks))
	for i, tok := range toks {
		out[i] = models.RawObservation{Date: start.AddDate(0, 0, i), Token: tok}
	}
	return out
}

func defaultSource() *stubSource {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &stubSource{
		stations: []models.StationMetadata{{
			StationID:  "A",
			Element:    models.ElementPrecipitation,
			Name:       "ALPHA",
			State:      "IL",
			ValidStart: start,
			ValidEnd:   start.AddDate(0, 0, 3),
		}},
		tokens: map[string][]models.RawObservation{"A": obsFrom(start, "0.10", "M", "S", "0.60A")},
	}
}

func newRouter(t *testing.T, src services.StationSource, repo repository.ClimateRepository, opts services.QueryOptions) *mux.Router {
	t.Helper()
	logger := logging.NewStructuredLogger("handlers-test", "test", logging.DebugLevel)
	logger.SetOutput(io.Discard)
	collector := metrics.NewCollectorWithRegistry("handlers_test", prometheus.NewRegistry())

	queries, err := services.NewQueryService(src, nil, nil, opts, nil, logger, collector)
	require.NoError(t, err)
	grids := services.NewGridService(queries, logger, collector)
	var stations *services.StationService
	if repo != nil {
		stations = services.NewStationService(repo, logger, collector)
	}

	router := mux.NewRouter()
	NewClimateHandler(queries, grids, stations, logger, collector).RegisterRoutes(router)
	return router
}

func get(t *testing.T, router http.Handler, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestGetSeries(t *testing.T) {
	router := newRouter(t, defaultSource(), nil, services.QueryOptions{})

	rec, body := get(t, router, "/api/series?elem=pcpn&sids=A")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	matrix := body["matrix"].(map[string]interface{})
	assert.Equal(t, []interface{}{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04"}, matrix["dates"])

	cols := matrix["stations"].([]interface{})
	require.Len(t, cols, 1)
	col := cols[0].(map[string]interface{})
	assert.Equal(t, "A: ALPHA, IL", col["label"])
	values := col["values"].([]interface{})
	assert.InDelta(t, 0.10, values[0], 1e-9)
	assert.Nil(t, values[1])
	assert.InDelta(t, 0.30, values[2], 1e-9)
	assert.InDelta(t, 0.30, values[3], 1e-9)

	report := body["report"].(map[string]interface{})
	assert.EqualValues(t, 1, report["stations_resolved"])
}

func TestGetSeries_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		source func() *stubSource
		opts   services.QueryOptions
		target string
		status int
	}{
		{name: "missing element", target: "/api/series?sids=A", status: http.StatusBadRequest},
		{name: "malformed bbox", target: "/api/series?elem=pcpn&bbox=1,2,3", status: http.StatusBadRequest},
		{name: "bad date", target: "/api/series?elem=pcpn&sids=A&sdate=2024-13-01", status: http.StatusBadRequest},
		{name: "no selector", target: "/api/series?elem=pcpn", status: http.StatusBadRequest},
		{name: "too many stations", opts: services.QueryOptions{MaxStations: 1}, target: "/api/series?elem=pcpn&sids=A", status: http.StatusUnprocessableEntity},
		{name: "malformed token", source: func() *stubSource {
			s := defaultSource()
			s.tokens["A"][1].Token = "??"
			return s
		}, target: "/api/series?elem=pcpn&sids=A", status: http.StatusBadGateway},
		{name: "upstream unavailable", source: func() *stubSource {
			s := defaultSource()
			s.err = &acis.UpstreamError{Endpoint: "StnData", Message: "down", Transient: true}
			return s
		}, target: "/api/series?elem=pcpn&sids=A", status: http.StatusServiceUnavailable},
		{name: "unexpected failure", source: func() *stubSource {
			s := defaultSource()
			s.err = errors.New("boom")
			return s
		}, target: "/api/series?elem=pcpn&sids=A", status: http.StatusInternalServerError},
		{name: "bad aggregator", target: "/api/grids/moy?elem=pcpn&sids=A&agg=median", status: http.StatusBadRequest},
		{name: "bad leap flag", target: "/api/grids/doy?elem=pcpn&sids=A&include_leap_day=maybe", status: http.StatusBadRequest},
		{name: "bad max_missing", target: "/api/grids/cumulative?elem=pcpn&sids=A&max_missing=x", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := defaultSource()
			if tt.source != nil {
				src = tt.source()
			}
			router := newRouter(t, src, nil, tt.opts)
			rec, body := get(t, router, tt.target)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.EqualValues(t, tt.status, body["code"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestGridEndpoints(t *testing.T) {
	router := newRouter(t, defaultSource(), nil, services.QueryOptions{})

	rec, body := get(t, router, "/api/grids/doy?elem=pcpn&sids=A&include_leap_day=true")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	grid := body["grid"].(map[string]interface{})
	assert.Equal(t, "doy", grid["kind"])
	assert.Len(t, grid["positions"], 366)
	cols := grid["columns"].([]interface{})
	require.Len(t, cols, 1)
	assert.EqualValues(t, 2024, cols[0].(map[string]interface{})["year"])

	rec, body = get(t, router, "/api/grids/moy?elem=pcpn&sids=A&agg=max")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	grid = body["grid"].(map[string]interface{})
	assert.Equal(t, "max", grid["aggregator"])
	jan := grid["columns"].([]interface{})[0].(map[string]interface{})["values"].([]interface{})[0]
	assert.InDelta(t, 0.30, jan, 1e-9)

	rec, body = get(t, router, "/api/grids/cumulative?elem=pcpn&sids=A&current_year=2024")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cumulative", body["grid"].(map[string]interface{})["kind"])

	rec, body = get(t, router, "/api/climatology?elem=pcpn&sids=A&start_year=2024&end_year=2024")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	clim := body["climatology"].(map[string]interface{})
	assert.EqualValues(t, 1, clim["years"])
	assert.InDelta(t, 0.10, clim["mean"].([]interface{})[0], 1e-9)
}

func TestStoredEndpoints(t *testing.T) {
	noDB := newRouter(t, defaultSource(), nil, services.QueryOptions{})
	rec, _ := get(t, noDB, "/api/stations")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, body := get(t, noDB, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", body["database"])

	repo := &stubRepo{series: &models.ResolvedSeries{
		StationID: "A",
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Values:    []float64{1.5, math.NaN()},
	}}
	router := newRouter(t, defaultSource(), repo, services.QueryOptions{})

	rec, body = get(t, router, "/api/stations?elem=pcpn&state=il&page=1&limit=10")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, 1, body["total_pages"])

	rec, _ = get(t, router, "/api/stations?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = get(t, router, "/api/stations/A/series?elem=pcpn")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-01-01", body["sdate"])
	assert.Equal(t, []interface{}{1.5, nil}, body["values"])

	rec, _ = get(t, router, "/api/stations/Z/series?elem=pcpn")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = get(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["database"])
}

func TestDocs(t *testing.T) {
	rec := httptest.NewRecorder()
	OpenAPISpec(rec, httptest.NewRequest(http.MethodGet, "/api/docs/openapi.json", nil))
	var spec map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	paths := spec["paths"].(map[string]interface{})
	for _, p := range []string{"/api/series", "/api/grids/doy", "/api/grids/moy", "/api/grids/cumulative", "/api/climatology", "/api/stations", "/api/stations/{sid}/series", "/health"} {
		assert.Contains(t, paths, p)
	}

	rec = httptest.NewRecorder()
	SwaggerUI("/api/docs/openapi.json")(rec, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `openapi.json`)
	assert.Contains(t, rec.Body.String(), "Climate Platform API Documentation")
}
