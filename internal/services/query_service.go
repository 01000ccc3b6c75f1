package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"climate-platform/internal/acis"
	"climate-platform/internal/cache"
	"climate-platform/internal/models"
	"climate-platform/internal/processing"
	"climate-platform/internal/repository"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

// StationSource provides station metadata and raw daily tokens
type StationSource interface {
	StationMetadata(ctx context.Context, q acis.MetaQuery) ([]models.StationMetadata, error)
	StationData(ctx context.Context, q acis.DataQuery) ([]models.RawObservation, error)
}

// RegionQuery selects stations and a date window for one element.
// Zero Start or End falls back to each station's valid range.
type RegionQuery struct {
	Element     models.Element      `json:"elem" validate:"required"`
	BBox        *models.BoundingBox `json:"bbox,omitempty" validate:"omitempty"`
	SIDs        []string            `json:"sids,omitempty" validate:"omitempty,dive,required"`
	Start       time.Time           `json:"sdate"`
	End         time.Time           `json:"edate"`
	MinStations int                 `json:"min_stations" validate:"min=0"`
}

var queryValidator = validator.New()

// Validate checks the query before any upstream call is made
func (q RegionQuery) Validate() error {
	if _, err := models.ParseElement(string(q.Element)); err != nil {
		return err
	}
	if err := queryValidator.Struct(q); err != nil {
		return &models.ValidationError{Field: "query", Message: err.Error()}
	}
	if (q.BBox == nil) == (len(q.SIDs) == 0) {
		return &models.ValidationError{Field: "bbox", Message: "exactly one of bbox or sids is required"}
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return &models.ValidationError{
			Field:   "edate",
			Value:   q.End.Format(models.DateLayout),
			Message: "edate must not precede sdate",
		}
	}
	return nil
}

func (q RegionQuery) cacheKey() string {
	var b strings.Builder
	b.WriteString(string(q.Element))
	if q.BBox != nil {
		b.WriteString("|bbox=" + q.BBox.String())
	} else {
		b.WriteString("|sids=" + strings.Join(q.SIDs, ","))
	}
	fmt.Fprintf(&b, "|%s|%s|%d", formatDate(q.Start), formatDate(q.End), q.MinStations)
	return b.String()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

// Station outcomes recorded in a QueryReport
const (
	OutcomeResolved  = "resolved"
	OutcomeMalformed = "skipped_malformed"
	OutcomeNoOverlap = "skipped_no_overlap"
)

// StationOutcome is the per-station line of a QueryReport
type StationOutcome struct {
	StationID string                   `json:"sid"`
	Label     string                   `json:"label"`
	Outcome   string                   `json:"outcome"`
	Start     string                   `json:"sdate,omitempty"`
	End       string                   `json:"edate,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Summary   models.ResolutionSummary `json:"summary"`
}

// QueryReport summarizes how a region query was answered
type QueryReport struct {
	QueryID          string           `json:"query_id"`
	Element          models.Element   `json:"elem"`
	StationsMatched  int              `json:"stations_matched"`
	StationsResolved int              `json:"stations_resolved"`
	StationsSkipped  int              `json:"stations_skipped"`
	Stations         []StationOutcome `json:"stations"`
	Persisted        bool             `json:"persisted"`
	Cached           bool             `json:"cached"`
	DurationMS       int64            `json:"duration_ms"`
}

// QueryResult is an assembled matrix plus the metadata of its columns
type QueryResult struct {
	Report   *QueryReport
	Stations []models.StationMetadata
	Matrix   *models.StationSeriesMatrix
}

// QueryOptions bound and shape region queries
type QueryOptions struct {
	MaxStations           int
	FetchConcurrency      int
	SkipMalformedStations bool
	Persist               bool
	AuditLog              bool
}

// QueryService answers region queries: metadata lookup, bounded parallel
// fetch and resolve, then assembly
type QueryService struct {
	source       StationSource
	repo         repository.ClimateRepository
	resolverOpts []processing.Option
	opts         QueryOptions
	cache        *cache.TTL[*QueryResult]
	logger       *logging.StructuredLogger
	metrics      *metrics.Collector
}

// NewQueryService creates a query service. repo may be nil when persistence is off.
func NewQueryService(
	source StationSource,
	repo repository.ClimateRepository,
	resolverOpts []processing.Option,
	opts QueryOptions,
	resultCache *cache.TTL[*QueryResult],
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) (*QueryService, error) {
	if _, err := processing.NewResolver(resolverOpts...); err != nil {
		return nil, fmt.Errorf("invalid resolver options: %w", err)
	}
	if opts.MaxStations <= 0 {
		opts.MaxStations = 1000
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 1
	}
	if resultCache == nil {
		resultCache = cache.New[*QueryResult](0)
	}
	return &QueryService{
		source:       source,
		repo:         repo,
		resolverOpts: resolverOpts,
		opts:         opts,
		cache:        resultCache,
		logger:       logger,
		metrics:      metricsCollector,
	}, nil
}

// QueryRegion fetches, resolves and assembles every station matching q
func (s *QueryService) QueryRegion(ctx context.Context, q RegionQuery) (*QueryResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := q.cacheKey()
	cached, hit := s.cache.Get(key)
	hits, misses := s.cache.Stats()
	s.metrics.RecordCacheLookup(hit, hits, misses)
	if hit {
		report := *cached.Report
		report.Cached = true
		return &QueryResult{Report: &report, Stations: cached.Stations, Matrix: cached.Matrix}, nil
	}

	startTime := time.Now()
	queryID := uuid.NewString()
	ctx = logging.WithQueryID(ctx, queryID)

	s.logger.Info(ctx, "[QUERY_START] Starting region query", logging.Fields{
		"element": q.Element,
		"bbox":    bboxField(q.BBox),
		"sids":    len(q.SIDs),
		"stage":   "INITIALIZATION",
	})

	stations, err := s.source.StationMetadata(ctx, acis.MetaQuery{Element: q.Element, BBox: q.BBox, SIDs: q.SIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to query station metadata: %w", err)
	}
	if len(stations) >= s.opts.MaxStations {
		return nil, &models.TooManyStationsError{Found: len(stations), Limit: s.opts.MaxStations}
	}

	report := &QueryReport{
		QueryID:         queryID,
		Element:         q.Element,
		StationsMatched: len(stations),
		Stations:        make([]StationOutcome, len(stations)),
	}
	series, err := s.fetchAll(ctx, q, stations, report.Stations)
	if err != nil {
		return nil, err
	}

	kept := make([]models.StationMetadata, 0, len(stations))
	inputs := make([]processing.StationSeriesInput, 0, len(stations))
	for i, st := range stations {
		if report.Stations[i].Outcome != OutcomeResolved {
			report.StationsSkipped++
			continue
		}
		report.StationsResolved++
		kept = append(kept, st)
		inputs = append(inputs, processing.StationSeriesInput{Label: st.Label(), Series: series[i]})
	}

	matrix, err := processing.Assemble(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble station matrix: %w", err)
	}
	if q.MinStations > 1 {
		matrix = processing.FilterMinimumStations(matrix, q.MinStations)
	}

	if s.opts.Persist && s.repo != nil {
		report.Persisted = s.persist(ctx, q.Element, kept, series, report.Stations)
	}

	duration := time.Since(startTime)
	report.DurationMS = duration.Milliseconds()
	s.metrics.QueryDuration.Observe(duration.Seconds())
	s.metrics.QueryStations.Observe(float64(report.StationsResolved))

	s.logger.Info(ctx, "[QUERY_COMPLETE] Region query completed", logging.Fields{
		"element":           q.Element,
		"stations_matched":  report.StationsMatched,
		"stations_resolved": report.StationsResolved,
		"stations_skipped":  report.StationsSkipped,
		"rows":              matrix.Rows(),
		"duration_seconds":  duration.Seconds(),
		"stage":             "COMPLETE",
	})

	result := &QueryResult{Report: report, Stations: kept, Matrix: matrix}
	s.cache.Set(key, result)
	return result, nil
}

// fetchAll resolves every station in parallel; series[i] and outcomes[i] belong to stations[i]
func (s *QueryService) fetchAll(ctx context.Context, q RegionQuery, stations []models.StationMetadata, outcomes []StationOutcome) ([]*models.ResolvedSeries, error) {
	resolver, err := processing.NewResolver(append(s.resolverOpts[:len(s.resolverOpts):len(s.resolverOpts)],
		processing.WithAuditSink(s.auditSink(ctx, q.Element)))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	series := make([]*models.ResolvedSeries, len(stations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FetchConcurrency)

	for i, st := range stations {
		outcomes[i] = StationOutcome{StationID: st.StationID, Label: st.Label()}

		start, end, ok := window(q, st)
		if !ok {
			outcomes[i].Outcome = OutcomeNoOverlap
			s.metrics.RecordStationResolved(string(q.Element), OutcomeNoOverlap)
			continue
		}
		outcomes[i].Start = start.Format(models.DateLayout)
		outcomes[i].End = end.Format(models.DateLayout)

		g.Go(func() error {
			sctx := logging.WithStationID(gctx, st.StationID)
			raw, err := s.source.StationData(sctx, acis.DataQuery{
				SID:     st.StationID,
				Element: q.Element,
				Start:   start,
				End:     end,
			})
			if err != nil {
				return fmt.Errorf("failed to fetch station %s: %w", st.StationID, err)
			}

			resolved, err := resolver.Resolve(st.StationID, raw, q.Element.Kind())
			var dfe *models.DataFormatError
			if errors.As(err, &dfe) && s.opts.SkipMalformedStations {
				outcomes[i].Outcome = OutcomeMalformed
				outcomes[i].Error = dfe.Error()
				s.metrics.RecordStationResolved(string(q.Element), OutcomeMalformed)
				s.logger.Warn(sctx, "[QUERY_STATION_SKIPPED] Station dropped for malformed data", logging.Fields{
					"token": dfe.Token,
					"date":  dfe.Date.Format(models.DateLayout),
				})
				return nil
			}
			if err != nil {
				s.metrics.RecordStationResolved(string(q.Element), "failed")
				return err
			}

			series[i] = resolved
			outcomes[i].Outcome = OutcomeResolved
			outcomes[i].Summary = resolved.Summary
			s.recordSummary(string(q.Element), resolved.Summary)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error(ctx, "[QUERY_FETCH_ERROR] Region query aborted", logging.Fields{
			"element": q.Element,
			"stage":   "FETCH",
		}, err)
		return nil, err
	}
	return series, nil
}

// window intersects the requested range with the station's valid range
func window(q RegionQuery, st models.StationMetadata) (time.Time, time.Time, bool) {
	start, end := st.ValidStart, st.ValidEnd
	if !q.Start.IsZero() && q.Start.After(start) {
		start = q.Start
	}
	if !q.End.IsZero() && q.End.Before(end) {
		end = q.End
	}
	return start, end, !end.Before(start)
}

func (s *QueryService) recordSummary(element string, sum models.ResolutionSummary) {
	s.metrics.RecordStationResolved(element, OutcomeResolved)
	s.metrics.RecordTokens("number", sum.Numbers)
	s.metrics.RecordTokens("missing", sum.Missing)
	s.metrics.RecordTokens("trace", sum.Traces)
	s.metrics.RecordTokens("accumulation", sum.RunDays)
}

// auditSink logs accumulation decisions under the query id and counts them
func (s *QueryService) auditSink(ctx context.Context, element models.Element) processing.AuditSink {
	return processing.AuditSinkFunc(func(ev processing.AuditEvent) {
		s.metrics.RecordAccumulationEvent(string(ev.Kind))
		if !s.opts.AuditLog || !s.logger.Enabled(logging.DebugLevel) {
			return
		}
		fields := logging.Fields{
			"element": element,
			"kind":    ev.Kind,
			"date":    ev.Date.Format(models.DateLayout),
			"value":   ev.Value,
		}
		if ev.Kind == processing.AuditAccumulationRun {
			fields["end_date"] = ev.EndDate.Format(models.DateLayout)
			fields["days"] = ev.Days
		} else {
			fields["token"] = ev.Token
		}
		s.logger.Debug(logging.WithStationID(ctx, ev.StationID), "[RESOLVE_AUDIT] Accumulation resolved", fields)
	})
}

// persist stores metadata and series; failures are logged and reported, not returned
func (s *QueryService) persist(ctx context.Context, element models.Element, stations []models.StationMetadata, series []*models.ResolvedSeries, outcomes []StationOutcome) bool {
	if err := s.repo.UpsertStations(ctx, stations); err != nil {
		s.logger.Error(ctx, "[QUERY_PERSIST_ERROR] Failed to store station metadata", logging.Fields{
			"stations": len(stations),
		}, err)
		return false
	}

	ok := true
	for i := range outcomes {
		if outcomes[i].Outcome != OutcomeResolved {
			continue
		}
		if err := s.repo.SaveSeries(ctx, element, series[i]); err != nil {
			ok = false
			s.logger.Error(logging.WithStationID(ctx, outcomes[i].StationID), "[QUERY_PERSIST_ERROR] Failed to store series", nil, err)
		}
	}
	return ok
}

func bboxField(b *models.BoundingBox) string {
	if b == nil {
		return ""
	}
	return b.String()
}
