package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/zstd"

	"climate-platform/internal/acis"
	"climate-platform/internal/config"
	"climate-platform/internal/models"
	"climate-platform/internal/processing"
	"climate-platform/internal/repository"
	"climate-platform/internal/services"
	"climate-platform/pkg/database"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

func main() {
	// Parse command-line flags
	elem := flag.String("elem", "pcpn", "ACIS element: maxt, mint, avgt, pcpn, snow, snwd")
	bbox := flag.String("bbox", "", "Region as west,south,east,north")
	sids := flag.String("sids", "", "Comma-separated station ids (alternative to -bbox)")
	sdate := flag.String("sdate", "", "First day, YYYY-MM-DD")
	edate := flag.String("edate", "", "Last day, YYYY-MM-DD")
	minStations := flag.Int("min-stations", 0, "Drop rows reported by fewer stations")
	input := flag.String("input", "", "Resolve a saved StnData JSON file instead of querying ACIS")
	sid := flag.String("sid", "", "Station id of the -input file")
	name := flag.String("name", "", "Station name of the -input file")
	state := flag.String("state", "", "Station state of the -input file")
	persist := flag.Bool("persist", false, "Store resolved series in Postgres")
	grid := flag.String("grid", "", "Reshape the matrix: doy or moy")
	agg := flag.String("agg", "mean", "Month-of-year aggregation: max, min, mean")
	includeLeapDay := flag.Bool("include-leap-day", false, "Keep Feb 29 as its own day-of-year row")
	out := flag.String("out", "", "Write the JSON result here; a .zst suffix compresses it")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewStructuredLogger("climate-fetcher", cfg.Logging.Version, logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	element, err := models.ParseElement(*elem)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Invalid element", logging.Fields{}, err)
	}

	logger.Info(ctx, "[FETCHER_START] Starting climate fetch", logging.Fields{
		"version": cfg.Logging.Version,
		"element": element,
		"input":   *input,
		"persist": *persist,
		"grid":    *grid,
	})

	metricsCollector := metrics.NewCollector("climate_fetcher")

	resolverOpts, err := cfg.Resolver.Options()
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Invalid resolver configuration", logging.Fields{}, err)
	}

	client := acis.NewClient(acis.Config{
		BaseURL:          cfg.ACIS.BaseURL,
		Timeout:          cfg.ACIS.Timeout,
		MaxRetries:       cfg.ACIS.MaxRetries,
		MinWait:          cfg.ACIS.RetryBaseDelay,
		MaxWait:          cfg.ACIS.RetryMaxDelay,
		BreakerFailures:  cfg.ACIS.BreakerFailures,
		BreakerOpenDelay: cfg.ACIS.BreakerOpenDelay,
		UserAgent:        cfg.ACIS.UserAgent,
	}, logger, metricsCollector)

	var repo repository.ClimateRepository
	if *persist {
		db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[FETCHER_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()
		repo = repository.NewClimateRepository(db, logger, metricsCollector)
	}

	queryService, err := services.NewQueryService(client, repo, resolverOpts, services.QueryOptions{
		MaxStations:           cfg.Query.MaxStations,
		FetchConcurrency:      cfg.Query.FetchConcurrency,
		SkipMalformedStations: cfg.Query.SkipMalformedStations,
		Persist:               repo != nil,
		AuditLog:              cfg.Resolver.AuditLog,
	}, nil, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Failed to create query service", logging.Fields{}, err)
	}
	gridService := services.NewGridService(queryService, logger, metricsCollector)

	startTime := time.Now()
	var (
		report *services.QueryReport
		matrix *models.StationSeriesMatrix
	)

	if *input != "" {
		matrix, err = resolveFile(ctx, client, repo, resolverOpts, logger, metricsCollector, *input, models.StationMetadata{
			StationID: *sid,
			Element:   element,
			Name:      *name,
			State:     *state,
		})
	} else {
		var result *services.QueryResult
		result, err = runQuery(ctx, queryService, element, *bbox, *sids, *sdate, *edate, *minStations)
		if result != nil {
			report, matrix = result.Report, result.Matrix
		}
	}
	if err != nil {
		logger.Fatal(ctx, "[FETCHER_ERROR] Fetch failed", logging.Fields{}, err)
	}

	var payload any = struct {
		Report *services.QueryReport       `json:"report,omitempty"`
		Matrix *models.StationSeriesMatrix `json:"matrix"`
	}{report, matrix}

	switch *grid {
	case "":
	case "doy":
		payload = services.GridResult{Report: report, Grid: gridService.DayOfYearGrid(ctx, matrix, *includeLeapDay)}
	case "moy":
		aggregator, err := processing.ParseAggregator(*agg)
		if err != nil {
			logger.Fatal(ctx, "[FETCHER_ERROR] Invalid aggregation", logging.Fields{}, err)
		}
		payload = services.GridResult{Report: report, Grid: gridService.MonthOfYearGrid(ctx, matrix, aggregator)}
	default:
		logger.Fatal(ctx, "[FETCHER_ERROR] Unknown grid kind", logging.Fields{"grid": *grid}, nil)
	}

	if *out != "" {
		if err := writeJSON(*out, payload); err != nil {
			logger.Fatal(ctx, "[FETCHER_ERROR] Failed to write output", logging.Fields{"out": *out}, err)
		}
	}

	printSummary(report, matrix, time.Since(startTime))

	logger.Info(ctx, "[FETCHER_COMPLETE] Fetch completed successfully", logging.Fields{
		"days":             matrix.Rows(),
		"stations":         len(matrix.Columns),
		"duration_seconds": time.Since(startTime).Seconds(),
	})
}

func runQuery(ctx context.Context, queries *services.QueryService, element models.Element, bbox, sids, sdate, edate string, minStations int) (*services.QueryResult, error) {
	q := services.RegionQuery{Element: element, MinStations: minStations}

	var err error
	if bbox != "" {
		if q.BBox, err = models.ParseBoundingBox(bbox); err != nil {
			return nil, err
		}
	}
	for _, s := range strings.Split(sids, ",") {
		if s = strings.TrimSpace(s); s != "" {
			q.SIDs = append(q.SIDs, s)
		}
	}
	if q.Start, err = models.ParseDate(sdate); err != nil {
		return nil, fmt.Errorf("invalid -sdate: %w", err)
	}
	if q.End, err = models.ParseDate(edate); err != nil {
		return nil, fmt.Errorf("invalid -edate: %w", err)
	}

	return queries.QueryRegion(ctx, q)
}

func resolveFile(
	ctx context.Context,
	client *acis.Client,
	repo repository.ClimateRepository,
	resolverOpts []processing.Option,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	path string,
	st models.StationMetadata,
) (*models.StationSeriesMatrix, error) {
	if st.StationID == "" {
		return nil, &models.ValidationError{Field: "sid", Message: "-sid is required with -input"}
	}

	refresh, err := services.NewRefreshService(client, repo, resolverOpts, logger, metricsCollector)
	if err != nil {
		return nil, err
	}
	series, err := refresh.IngestFile(ctx, path, st)
	if err != nil {
		return nil, err
	}
	return processing.Assemble([]processing.StationSeriesInput{{Label: st.Label(), Series: series}})
}

// writeJSON writes v to path, zstd-compressed when path ends in .zst
func writeJSON(path string, v any) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = file
	if strings.HasSuffix(path, ".zst") {
		var enc *zstd.Encoder
		if enc, err = zstd.NewWriter(file); err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printSummary(report *services.QueryReport, matrix *models.StationSeriesMatrix, duration time.Duration) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("FETCH COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	if report != nil {
		fmt.Printf("Query ID:           %s\n", report.QueryID)
		fmt.Printf("Stations Matched:   %d\n", report.StationsMatched)
		fmt.Printf("Stations Resolved:  %d\n", report.StationsResolved)
		fmt.Printf("Stations Skipped:   %d\n", report.StationsSkipped)
		fmt.Printf("Persisted:          %t\n", report.Persisted)
	}
	fmt.Printf("Matrix Columns:     %d\n", len(matrix.Columns))
	fmt.Printf("Matrix Days:        %d\n", matrix.Rows())
	if matrix.Rows() > 0 {
		fmt.Printf("Date Range:         %s .. %s\n",
			matrix.FirstDate().Format(models.DateLayout), matrix.LastDate().Format(models.DateLayout))
	}
	fmt.Printf("Duration:           %v\n", duration)

	if report == nil {
		return
	}
	var skipped []services.StationOutcome
	for _, o := range report.Stations {
		if o.Outcome != services.OutcomeResolved {
			skipped = append(skipped, o)
		}
	}
	if len(skipped) > 0 {
		fmt.Printf("\nSkipped (%d):\n", len(skipped))
		for i, o := range skipped {
			if i == 10 {
				fmt.Printf("  ... and %d more\n", len(skipped)-10)
				break
			}
			fmt.Printf("  - %s: %s\n", o.StationID, o.Outcome)
		}
	}
}
