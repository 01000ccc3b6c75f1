package services

import (
	"context"
	"time"

	"climate-platform/internal/models"
	"climate-platform/internal/repository"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

// StationService reads stored stations and series
type StationService struct {
	repo    repository.ClimateRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStationService creates a new station service
func NewStationService(repo repository.ClimateRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StationService {
	return &StationService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListStations retrieves stored stations with filtering
func (s *StationService) ListStations(ctx context.Context, filter repository.StationFilter) ([]*models.StationMetadata, int, error) {
	return s.repo.ListStations(ctx, filter)
}

// GetSeries retrieves one stored station series. Zero bounds use the stored range.
func (s *StationService) GetSeries(ctx context.Context, stationID string, element models.Element, start, end time.Time) (*models.ResolvedSeries, error) {
	return s.repo.GetSeries(ctx, stationID, element, start, end)
}

// HealthCheck verifies the store is reachable
func (s *StationService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
