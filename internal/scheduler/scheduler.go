package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"climate-platform/internal/models"
	"climate-platform/internal/services"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

// Refresher stores fresh data for a station list
type Refresher interface {
	RefreshStations(ctx context.Context, sids []string, elements []models.Element, start, end time.Time) (*services.RefreshResult, error)
}

// Config describes the periodic refresh job
type Config struct {
	SIDs     []string
	Elements []models.Element
	Interval time.Duration
	LookBack time.Duration
	Timeout  time.Duration
}

// Scheduler periodically refreshes the configured stations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	cfg       Config
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	now       func() time.Time
}

// New creates a new Scheduler.
func New(cfg Config, refresher Refresher, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metricsCollector,
		now:       time.Now,
	}
}

// Start schedules the refresh job and starts the underlying scheduler.
// The first run happens immediately.
func (s *Scheduler) Start() error {
	ctx := context.Background()
	if len(s.cfg.SIDs) == 0 || len(s.cfg.Elements) == 0 {
		s.logger.Warn(ctx, "[SCHEDULER_IDLE] No stations configured; nothing to schedule", nil)
		return nil
	}

	_, err := s.scheduler.Every(s.cfg.Interval).SingletonMode().Do(s.RunOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info(ctx, "[SCHEDULER_START] Refresh job scheduled", logging.Fields{
		"interval": s.cfg.Interval.String(),
		"stations": len(s.cfg.SIDs),
		"elements": len(s.cfg.Elements),
	})
	return nil
}

// RunOnce refreshes the look-back window ending today
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	end := models.Day(s.now().UTC())
	start := models.Day(end.Add(-s.cfg.LookBack))

	result, err := s.refresher.RefreshStations(ctx, s.cfg.SIDs, s.cfg.Elements, start, end)
	if err != nil {
		s.metrics.RecordRefreshRun("failed")
		s.logger.Error(ctx, "[SCHEDULER_RUN_ERROR] Refresh run failed", logging.Fields{
			"sdate": start.Format(models.DateLayout),
			"edate": end.Format(models.DateLayout),
		}, err)
		return
	}

	outcome := "ok"
	if result.StationsFailed > 0 {
		outcome = "partial"
	}
	s.metrics.RecordRefreshRun(outcome)
	s.logger.Info(ctx, "[SCHEDULER_RUN_COMPLETE] Refresh run completed", logging.Fields{
		"outcome":         outcome,
		"stations_stored": result.StationsStored,
		"stations_failed": result.StationsFailed,
	})
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
