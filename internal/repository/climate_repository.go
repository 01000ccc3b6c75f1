package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"climate-platform/internal/models"
	"climate-platform/pkg/database"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

// ClimateRepository provides data access for station metadata and resolved daily series
type ClimateRepository interface {
	// Station operations
	UpsertStations(ctx context.Context, stations []models.StationMetadata) error
	GetStation(ctx context.Context, stationID string, element models.Element) (*models.StationMetadata, error)
	ListStations(ctx context.Context, filter StationFilter) ([]*models.StationMetadata, int, error)

	// Series operations
	SaveSeries(ctx context.Context, element models.Element, series *models.ResolvedSeries) error
	GetSeries(ctx context.Context, stationID string, element models.Element, start, end time.Time) (*models.ResolvedSeries, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// StationFilter defines filters for listing stations
type StationFilter struct {
	Element *models.Element
	State   *string
	BBox    *models.BoundingBox
	Limit   int
	Offset  int
}

// climateRepository implements ClimateRepository
type climateRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClimateRepository creates a new climate repository
func NewClimateRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ClimateRepository {
	return &climateRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const stationColumns = `sid, element, name, state, sid_code, sid_type, lat, lon, valid_start, valid_end, updated_at`

// UpsertStations inserts or refreshes station metadata rows
func (r *climateRepository) UpsertStations(ctx context.Context, stations []models.StationMetadata) error {
	if len(stations) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]models.StationMetadata, len(stations))
	for i, s := range stations {
		s.UpdatedAt = now
		rows[i] = s
	}

	query := `
		INSERT INTO stations (` + stationColumns + `)
		VALUES (:sid, :element, :name, :state, :sid_code, :sid_type, :lat, :lon, :valid_start, :valid_end, :updated_at)
		ON CONFLICT (sid, element) DO UPDATE SET
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			sid_code = EXCLUDED.sid_code,
			sid_type = EXCLUDED.sid_type,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			valid_start = EXCLUDED.valid_start,
			valid_end = EXCLUDED.valid_end,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.NamedExecContext(ctx, "upsert_stations", query, rows); err != nil {
		return fmt.Errorf("failed to upsert stations: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_UPSERT_STATIONS] Stations upserted", logging.Fields{
		"count": len(rows),
	})
	return nil
}

// GetStation retrieves one station's metadata for an element
func (r *climateRepository) GetStation(ctx context.Context, stationID string, element models.Element) (*models.StationMetadata, error) {
	query := `SELECT ` + stationColumns + ` FROM stations WHERE sid = $1 AND element = $2`

	var station models.StationMetadata
	err := r.db.GetContext(ctx, "get_station", &station, query, stationID, element)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "station",
			ID:       fmt.Sprintf("%s:%s", stationID, element),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get station: %w", err)
	}

	return &station, nil
}

// ListStations retrieves stored stations with filtering and pagination
func (r *climateRepository) ListStations(ctx context.Context, filter StationFilter) ([]*models.StationMetadata, int, error) {
	query := `SELECT ` + stationColumns + ` FROM stations WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Element != nil {
		query += fmt.Sprintf(" AND element = $%d", argNum)
		args = append(args, *filter.Element)
		argNum++
	}

	if filter.State != nil {
		query += fmt.Sprintf(" AND state = $%d", argNum)
		args = append(args, *filter.State)
		argNum++
	}

	if filter.BBox != nil {
		query += fmt.Sprintf(" AND lon BETWEEN $%d AND $%d AND lat BETWEEN $%d AND $%d",
			argNum, argNum+1, argNum+2, argNum+3)
		args = append(args, filter.BBox.West, filter.BBox.East, filter.BBox.South, filter.BBox.North)
		argNum += 4
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_stations", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count stations: %w", err)
	}

	query += " ORDER BY sid, element"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var stations []*models.StationMetadata
	if err := r.db.SelectContext(ctx, "list_stations", &stations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list stations: %w", err)
	}

	return stations, totalCount, nil
}

// SaveSeries writes a resolved series in a single transaction.
// NaN values are stored as NULL.
func (r *climateRepository) SaveSeries(ctx context.Context, element models.Element, series *models.ResolvedSeries) error {
	if series.Len() == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_SAVE_SERIES] Series saved", logging.Fields{
			"station_id":  series.StationID,
			"element":     element,
			"days":        series.Len(),
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_values (sid, element, obs_date, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sid, element, obs_date) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, v := range series.Values {
		date := series.Start.AddDate(0, 0, i)
		if _, err := stmt.ExecContext(ctx, series.StationID, element, date, toNullFloat(v), now); err != nil {
			return fmt.Errorf("failed to insert value for %s on %s: %w",
				series.StationID, date.Format(models.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.metrics.RecordDBError("commit_error")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type dailyValueRow struct {
	ObsDate time.Time       `db:"obs_date"`
	Value   sql.NullFloat64 `db:"value"`
}

// GetSeries reads a stored series for [start, end]. Days with no stored row
// are NaN. A zero start or end takes the bound from the stored rows.
func (r *climateRepository) GetSeries(ctx context.Context, stationID string, element models.Element, start, end time.Time) (*models.ResolvedSeries, error) {
	query := `
		SELECT obs_date, value
		FROM daily_values
		WHERE sid = $1 AND element = $2
	`
	args := []interface{}{stationID, element}
	if !start.IsZero() {
		query += " AND obs_date >= $3"
		args = append(args, models.Day(start))
	}
	if !end.IsZero() {
		query += fmt.Sprintf(" AND obs_date <= $%d", len(args)+1)
		args = append(args, models.Day(end))
	}
	query += " ORDER BY obs_date"

	var rows []dailyValueRow
	if err := r.db.SelectContext(ctx, "get_series", &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get series: %w", err)
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{
			Resource: "series",
			ID:       fmt.Sprintf("%s:%s", stationID, element),
		}
	}

	return seriesFromRows(stationID, rows, start, end), nil
}

func seriesFromRows(stationID string, rows []dailyValueRow, start, end time.Time) *models.ResolvedSeries {
	if start.IsZero() {
		start = rows[0].ObsDate
	}
	if end.IsZero() {
		end = rows[len(rows)-1].ObsDate
	}
	start, end = models.Day(start), models.Day(end)

	values := make([]float64, models.DaysInclusive(start, end))
	for i := range values {
		values[i] = math.NaN()
	}
	for _, row := range rows {
		idx := models.DayOffset(start, row.ObsDate)
		if idx < 0 || idx >= len(values) || !row.Value.Valid {
			continue
		}
		values[idx] = row.Value.Float64
	}

	return &models.ResolvedSeries{
		StationID: stationID,
		Start:     start,
		End:       end,
		Values:    values,
	}
}

func toNullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// HealthCheck performs a repository health check
func (r *climateRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
