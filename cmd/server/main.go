package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulsewatch/internal/alerting"
	"pulsewatch/internal/config"
	"pulsewatch/internal/database"
	"pulsewatch/internal/detection"
	"pulsewatch/internal/handlers"
	"pulsewatch/internal/insight"
	"pulsewatch/internal/kafka"
	"pulsewatch/internal/metrics"
	"pulsewatch/internal/notification"
	"pulsewatch/internal/runstate"
	"pulsewatch/internal/scheduler"
)

const (
	serviceName = "pulsewatch"
	version     = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logger := setupLogging(cfg)
	logger.Info("Starting PulseWatch",
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment)

	// Setup database connection
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", "error", err)
		}
	}()

	// Run database migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// Setup repositories
	eventRepo := database.NewEventRepository(db, logger)
	insightRepo := database.NewInsightRepository(db, logger)
	alertRepo := database.NewAlertRepository(db, logger)
	subRepo := database.NewSubscriptionRepository(db, logger)

	// Setup run-state store
	runState, err := runstate.NewRedisStore(cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to run-state store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := runState.Close(); err != nil {
			logger.Error("Failed to close run-state store", "error", err)
		}
	}()

	// Setup lifecycle event publisher
	var publisher alerting.EventPublisher
	if cfg.Kafka.Enabled {
		kafkaPublisher := kafka.NewPublisher(cfg.Kafka, logger)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Error("Failed to close event publisher", "error", err)
			}
		}()
		publisher = kafkaPublisher
	}

	// Setup notification dispatcher
	dispatcher := notification.NewDispatcher(cfg.Notifications, logger)

	// Setup alert engine
	engine := alerting.NewEngine(alertRepo, subRepo, dispatcher, publisher, alerting.Options{
		BatchSize:      cfg.Alerting.BatchSize,
		AlertTTL:       cfg.Alerting.AlertTTL,
		SendTimeout:    cfg.Alerting.SendTimeout,
		MaxConcurrency: cfg.Alerting.MaxConcurrency,
	}, logger)

	// Setup detection pipeline
	windowBuilder := detection.NewWindowBuilder(eventRepo, detection.BusinessHours{
		Start: cfg.Detection.BusinessHoursStart,
		End:   cfg.Detection.BusinessHoursEnd,
	}, logger)
	upserter := insight.NewUpserter(
		insightRepo,
		detection.Severity(cfg.Insights.MinSeverity),
		cfg.Insights.RecencyWindowDays,
		logger,
	)
	runner := scheduler.NewRunner(
		cfg.Detection,
		windowBuilder,
		detection.AllDetectors(),
		upserter,
		engine,
		eventRepo,
		logger,
	)

	// Setup metrics collector
	metricsCollector := metrics.NewCollector(alertRepo, logger)
	metricsCollector.RegisterMetrics()

	// Setup scheduler
	sched := scheduler.NewScheduler(
		cfg.Scheduler,
		cfg.Detection,
		runner,
		engine,
		eventRepo,
		runState,
		metricsCollector,
		logger,
	)

	// Setup HTTP router
	httpHandlers := handlers.NewHTTPHandler(logger, alertRepo, insightRepo, subRepo, engine, sched, runState)
	httpRouter := mux.NewRouter()
	httpHandlers.RegisterRoutes(httpRouter)
	httpRouter.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      httpRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Start metrics collector
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metricsCollector.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("Metrics collector failed", "error", err)
			cancel()
		}
	}()

	// Start scheduler
	if err := sched.Start(); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Start HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Shutting down services...")

	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server gracefully", "error", err)
	}

	wg.Wait()

	logger.Info("Service shutdown complete")
}

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: cfg.Debug,
	}

	var handler slog.Handler
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, handlerOptions)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOptions)
	}

	logger := slog.New(handler)
	logger = logger.With(
		"service", serviceName,
		"version", version,
		"environment", cfg.Environment,
	)

	slog.SetDefault(logger)
	return logger
}
