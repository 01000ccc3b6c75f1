package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"climate-platform/internal/acis"
	"climate-platform/internal/models"
	"climate-platform/internal/processing"
	"climate-platform/internal/repository"
	"climate-platform/internal/services"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

// ClimateHandler handles the climate API endpoints
type ClimateHandler struct {
	queries  *services.QueryService
	grids    *services.GridService
	stations *services.StationService
	validate *validator.Validate
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewClimateHandler creates a new climate handler. stations may be nil when
// no database is configured; the stored-data endpoints then return 503.
func NewClimateHandler(
	queries *services.QueryService,
	grids *services.GridService,
	stations *services.StationService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ClimateHandler {
	return &ClimateHandler{
		queries:  queries,
		grids:    grids,
		stations: stations,
		validate: validator.New(),
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// SeriesResponse is the body of GET /api/series
type SeriesResponse struct {
	Report   *services.QueryReport       `json:"report"`
	Stations []models.StationMetadata    `json:"stations"`
	Matrix   *models.StationSeriesMatrix `json:"matrix"`
}

// StoredSeriesResponse is the body of GET /api/stations/{sid}/series
type StoredSeriesResponse struct {
	StationID string                   `json:"sid"`
	Element   models.Element           `json:"elem"`
	Start     string                   `json:"sdate"`
	End       string                   `json:"edate"`
	Values    models.NullableFloats    `json:"values"`
	Summary   models.ResolutionSummary `json:"summary"`
}

type paginationParams struct {
	Page  int `validate:"min=1"`
	Limit int `validate:"min=1,max=1000"`
}

// GetSeries handles GET /api/series
func (h *ClimateHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/series"
	defer h.observe(endpoint, time.Now())

	q, err := parseRegionQuery(r)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	res, err := h.queries.QueryRegion(r.Context(), q)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, SeriesResponse{Report: res.Report, Stations: res.Stations, Matrix: res.Matrix}, http.StatusOK)
}

// GetDayOfYearGrid handles GET /api/grids/doy
func (h *ClimateHandler) GetDayOfYearGrid(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/grids/doy"
	defer h.observe(endpoint, time.Now())

	q, err := parseRegionQuery(r)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	includeLeap, err := boolParam(r, "include_leap_day")
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	res, err := h.grids.QueryDayOfYear(r.Context(), q, includeLeap)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, res, http.StatusOK)
}

// GetMonthOfYearGrid handles GET /api/grids/moy
func (h *ClimateHandler) GetMonthOfYearGrid(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/grids/moy"
	defer h.observe(endpoint, time.Now())

	q, err := parseRegionQuery(r)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	aggName := r.URL.Query().Get("agg")
	if aggName == "" {
		aggName = string(processing.AggregateMean)
	}
	agg, err := processing.ParseAggregator(aggName)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	res, err := h.grids.QueryMonthOfYear(r.Context(), q, agg)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, res, http.StatusOK)
}

// GetCumulativeGrid handles GET /api/grids/cumulative
func (h *ClimateHandler) GetCumulativeGrid(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/grids/cumulative"
	defer h.observe(endpoint, time.Now())

	q, err := parseRegionQuery(r)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	var opts services.CumulativeOptions
	if opts.IncludeLeapDay, err = boolParam(r, "include_leap_day"); err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	if opts.CurrentYear, err = intParam(r, "current_year", 0); err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	if opts.MaxMissing, err = intParam(r, "max_missing", 10); err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	res, err := h.grids.QueryCumulative(r.Context(), q, opts)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, res, http.StatusOK)
}

// GetClimatology handles GET /api/climatology
func (h *ClimateHandler) GetClimatology(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/climatology"
	defer h.observe(endpoint, time.Now())

	q, err := parseRegionQuery(r)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	var opts services.ClimatologyOptions
	if opts.IncludeLeapDay, err = boolParam(r, "include_leap_day"); err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	if opts.StartYear, err = intParam(r, "start_year", 0); err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	if opts.EndYear, err = intParam(r, "end_year", 0); err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	if opts.MaxMissing, err = intParam(r, "max_missing", 10); err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	res, err := h.grids.QueryClimatology(r.Context(), q, opts)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, res, http.StatusOK)
}

// ListStations handles GET /api/stations
func (h *ClimateHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/stations"
	defer h.observe(endpoint, time.Now())

	if h.stations == nil {
		h.sendError(w, r, "station storage is not configured", http.StatusServiceUnavailable)
		return
	}

	page, err := intParam(r, "page", 1)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	if err := h.validate.Struct(paginationParams{Page: page, Limit: limit}); err != nil {
		h.sendError(w, r, "page must be at least 1 and limit between 1 and 1000", http.StatusBadRequest)
		return
	}

	filter := repository.StationFilter{Limit: limit, Offset: (page - 1) * limit}
	if e := r.URL.Query().Get("elem"); e != "" {
		elem, err := models.ParseElement(e)
		if err != nil {
			h.sendServiceError(w, r, endpoint, err)
			return
		}
		filter.Element = &elem
	}
	if state := r.URL.Query().Get("state"); state != "" {
		state = strings.ToUpper(state)
		filter.State = &state
	}
	if b := r.URL.Query().Get("bbox"); b != "" {
		bbox, err := models.ParseBoundingBox(b)
		if err != nil {
			h.sendServiceError(w, r, endpoint, err)
			return
		}
		filter.BBox = bbox
	}

	stations, total, err := h.stations.ListStations(r.Context(), filter)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, PaginatedResponse{
		Data:       stations,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// GetStoredSeries handles GET /api/stations/{sid}/series
func (h *ClimateHandler) GetStoredSeries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/stations/{sid}/series"
	defer h.observe(endpoint, time.Now())

	if h.stations == nil {
		h.sendError(w, r, "station storage is not configured", http.StatusServiceUnavailable)
		return
	}

	sid := mux.Vars(r)["sid"]
	elem, err := models.ParseElement(r.URL.Query().Get("elem"))
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	start, err := dateParam(r, "sdate")
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}
	end, err := dateParam(r, "edate")
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	series, err := h.stations.GetSeries(r.Context(), sid, elem, start, end)
	if err != nil {
		h.sendServiceError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, StoredSeriesResponse{
		StationID: series.StationID,
		Element:   elem,
		Start:     series.Start.Format(models.DateLayout),
		End:       series.End.Format(models.DateLayout),
		Values:    models.NullableFloats(series.Values),
		Summary:   series.Summary,
	}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ClimateHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  "disabled",
	}
	code := http.StatusOK

	if h.stations != nil {
		status["database"] = "ok"
		if err := h.stations.HealthCheck(ctx); err != nil {
			h.logger.Error(ctx, "[HEALTH_CHECK_ERROR] Database health check failed", nil, err)
			status["status"] = "degraded"
			status["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

// parseRegionQuery reads elem, bbox|sids, sdate, edate and min_stations
func parseRegionQuery(r *http.Request) (services.RegionQuery, error) {
	values := r.URL.Query()
	var q services.RegionQuery

	elem, err := models.ParseElement(values.Get("elem"))
	if err != nil {
		return q, err
	}
	q.Element = elem

	if b := values.Get("bbox"); b != "" {
		if q.BBox, err = models.ParseBoundingBox(b); err != nil {
			return q, err
		}
	}
	if s := values.Get("sids"); s != "" {
		for _, sid := range strings.Split(s, ",") {
			if sid = strings.TrimSpace(sid); sid != "" {
				q.SIDs = append(q.SIDs, sid)
			}
		}
	}
	if q.Start, err = dateParam(r, "sdate"); err != nil {
		return q, err
	}
	if q.End, err = dateParam(r, "edate"); err != nil {
		return q, err
	}
	if q.MinStations, err = intParam(r, "min_stations", 0); err != nil {
		return q, err
	}
	return q, nil
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	d, err := models.ParseDate(s)
	if err != nil {
		return time.Time{}, &models.ValidationError{Field: name, Value: s, Message: fmt.Sprintf("invalid %s format, expected YYYY-MM-DD", name)}
	}
	return d, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Value: s, Message: fmt.Sprintf("%s must be an integer", name)}
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, &models.ValidationError{Field: name, Value: s, Message: fmt.Sprintf("%s must be true or false", name)}
	}
	return b, nil
}

func (h *ClimateHandler) observe(endpoint string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// sendServiceError maps domain errors onto HTTP status codes
func (h *ClimateHandler) sendServiceError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var (
		ve       *models.ValidationError
		tooMany  *models.TooManyStationsError
		dfe      *models.DataFormatError
		ae       *models.AlignmentError
		ue       *acis.UpstreamError
		notFound *repository.NotFoundError
	)

	switch {
	case errors.As(err, &ve):
		h.metrics.RecordAPIError("validation", endpoint)
		h.sendError(w, r, ve.Error(), http.StatusBadRequest)
	case errors.As(err, &tooMany):
		h.metrics.RecordAPIError("too_many_stations", endpoint)
		h.sendError(w, r, tooMany.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &notFound):
		h.metrics.RecordAPIError("not_found", endpoint)
		h.sendError(w, r, notFound.Error(), http.StatusNotFound)
	case errors.As(err, &dfe), errors.As(err, &ae):
		h.metrics.RecordAPIError("upstream_data", endpoint)
		h.logger.Warn(r.Context(), "[API_UPSTREAM_DATA] Upstream data could not be resolved", logging.Fields{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		h.sendError(w, r, err.Error(), http.StatusBadGateway)
	case errors.As(err, &ue):
		h.metrics.RecordAPIError("upstream", endpoint)
		h.logger.Error(r.Context(), "[API_UPSTREAM_ERROR] ACIS request failed", logging.Fields{
			"endpoint": endpoint,
		}, err)
		status := http.StatusBadGateway
		if ue.IsTransient() {
			status = http.StatusServiceUnavailable
		}
		h.sendError(w, r, "upstream climate service failed", status)
	default:
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.logger.Error(r.Context(), "[API_INTERNAL_ERROR] Request failed", logging.Fields{
			"endpoint": endpoint,
		}, err)
		h.sendError(w, r, "internal server error", http.StatusInternalServerError)
	}
}

// sendJSON sends a JSON response
func (h *ClimateHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error(context.Background(), "[API_ENCODE_ERROR] Failed to encode response", nil, err)
	}
}

// sendError sends an error response
func (h *ClimateHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all climate API routes
func (h *ClimateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/series", h.GetSeries).Methods("GET")
	router.HandleFunc("/api/grids/doy", h.GetDayOfYearGrid).Methods("GET")
	router.HandleFunc("/api/grids/moy", h.GetMonthOfYearGrid).Methods("GET")
	router.HandleFunc("/api/grids/cumulative", h.GetCumulativeGrid).Methods("GET")
	router.HandleFunc("/api/climatology", h.GetClimatology).Methods("GET")
	router.HandleFunc("/api/stations", h.ListStations).Methods("GET")
	router.HandleFunc("/api/stations/{sid}/series", h.GetStoredSeries).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
