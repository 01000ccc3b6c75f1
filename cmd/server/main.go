package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"climate-platform/internal/acis"
	"climate-platform/internal/cache"
	"climate-platform/internal/config"
	"climate-platform/internal/handlers"
	"climate-platform/internal/repository"
	"climate-platform/internal/scheduler"
	"climate-platform/internal/services"
	"climate-platform/pkg/database"
	"climate-platform/pkg/logging"
	"climate-platform/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logLevel, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewStructuredLogger(cfg.Logging.Service, cfg.Logging.Version, logLevel)

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting climate platform API server", logging.Fields{
		"version":     cfg.Logging.Version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"acis_url":    cfg.ACIS.BaseURL,
		"db_enabled":  cfg.Database.Enabled,
	})

	metricsCollector := metrics.NewCollector("climate_platform")

	resolverOpts, err := cfg.Resolver.Options()
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid resolver configuration", logging.Fields{}, err)
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

	// Persistence is optional
	var repo repository.ClimateRepository
	var stationService *services.StationService
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(cfg.Database.Postgres(), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()

		repo = repository.NewClimateRepository(db, logger, metricsCollector)
		stationService = services.NewStationService(repo, logger, metricsCollector)
	}

	// Expired query results are swept in the background
	resultCache := cache.New[*services.QueryResult](cfg.Cache.TTL)
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go resultCache.RunJanitor(janitorCtx, cfg.Cache.PurgeInterval, func(removed int) {
		if removed > 0 {
			logger.Debug(ctx, "[CACHE_PURGE] Expired query results removed", logging.Fields{
				"removed":   removed,
				"remaining": resultCache.Len(),
			})
		}
	})

	// Initialize services
	queryService, err := services.NewQueryService(
		client,
		repo,
		resolverOpts,
		services.QueryOptions{
			MaxStations:           cfg.Query.MaxStations,
			FetchConcurrency:      cfg.Query.FetchConcurrency,
			SkipMalformedStations: cfg.Query.SkipMalformedStations,
			Persist:               cfg.Query.Persist && repo != nil,
			AuditLog:              cfg.Resolver.AuditLog,
		},
		resultCache,
		logger,
		metricsCollector,
	)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to create query service", logging.Fields{}, err)
	}
	gridService := services.NewGridService(queryService, logger, metricsCollector)

	// Scheduled refresh
	if cfg.Refresh.Enabled {
		if repo == nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Scheduled refresh requires DB_ENABLED", logging.Fields{}, nil)
		}
		refreshService, err := services.NewRefreshService(client, repo, resolverOpts, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to create refresh service", logging.Fields{}, err)
		}
		elements, err := cfg.Refresh.ParsedElements()
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Invalid refresh elements", logging.Fields{}, err)
		}

		sched := scheduler.New(scheduler.Config{
			SIDs:     cfg.Refresh.SIDs,
			Elements: elements,
			Interval: cfg.Refresh.Interval,
			LookBack: cfg.Refresh.LookBack,
		}, refreshService, logger, metricsCollector)
		if err := sched.Start(); err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to start scheduler", logging.Fields{}, err)
		}
		defer sched.Stop()
	}

	// Initialize handlers
	climateHandler := handlers.NewClimateHandler(queryService, gridService, stationService, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	climateHandler.RegisterRoutes(router)

	router.HandleFunc("/api/docs/openapi.json", handlers.OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", handlers.SwaggerUI("/api/docs/openapi.json")).Methods("GET")

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gzhttp.GzipHandler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
