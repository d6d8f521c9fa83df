package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/aggregator"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/broker"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/config"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/correlator"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/database"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/export"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/handlers"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/middleware"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/services"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/pkg/logger"
)

func runGateway(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	var fileCfg *logger.FileConfig
	if cfg.Log.File != "" {
		fileCfg = &logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format, fileCfg)
	log.Info().Msg("Starting Informatics Gateway")

	// Connect to database
	if err := database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Connect to the workflow broker
	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	publisher, err := broker.NewRedisPublisher(redisAddr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer publisher.Close()

	// Initialize repositories with the database retry schedule
	retryPolicy := repository.RetryPolicy{Delays: cfg.Retry.Delays}
	payloadRepo := repository.NewRetryingPayloadRepository(repository.NewGormPayloadRepository(), retryPolicy)
	metadataRepo := repository.NewRetryingMetadataRepository(repository.NewGormMetadataRepository(), retryPolicy)
	remoteAppRepo := repository.NewRetryingRemoteAppExecutionRepository(repository.NewGormRemoteAppExecutionRepository(), retryPolicy)
	associationRepo := repository.NewRetryingAssociationRepository(repository.NewGormAssociationRepository(), retryPolicy)

	// Initialize plug-ins
	registry := plugins.NewRegistry()
	plugins.RegisterBuiltIn(registry)
	correlator.RegisterPlugIns(registry, correlator.New(remoteAppRepo))

	// Initialize the payload aggregator
	agg := aggregator.New(payloadRepo, aggregator.Config{
		DefaultTimeout:          cfg.Aggregator.DefaultTimeout,
		DefaultPolicy:           aggregator.GroupingPolicy(cfg.Aggregator.DefaultPolicy),
		RequireRegisteredSource: cfg.Aggregator.RequireRegisteredSource,
	})
	sources, err := cfg.LoadSources()
	if err != nil {
		return err
	}
	for _, src := range sources {
		agg.ConfigureSource(src.Name, aggregator.SourceConfig{
			Timeout:   time.Duration(src.Timeout),
			Threshold: src.Threshold,
			Policy:    aggregator.GroupingPolicy(src.Policy),
			FlushTo:   models.PayloadState(src.FlushTo),
		})
	}

	// Initialize the delivery queue and export destinations
	factory := export.NewExporterFactory()
	defer factory.Close()
	queue := export.NewQueue(factory, export.QueueConfig{RetryDelays: cfg.Export.AttemptDelays})
	exportService := export.NewService(queue, registry)
	destinations, err := cfg.LoadDestinations()
	if err != nil {
		return err
	}
	for _, dst := range destinations {
		dest := export.Destination{
			Name:           dst.Name,
			Type:           export.DestinationType(dst.Type),
			Host:           dst.Host,
			Port:           dst.Port,
			AETitle:        dst.AETitle,
			CallingAETitle: dst.CallingAETitle,
			Endpoint:       dst.Endpoint,
			Timeout:        time.Duration(dst.Timeout),
		}
		if err := exportService.AddDestination(dest, dst.PlugIns); err != nil {
			return err
		}
	}

	// Initialize the dispatcher and reconcile state from a previous run
	dispatcher := services.NewDispatcher(payloadRepo, exportService, publisher, services.DispatcherConfig{
		MaxRetries: cfg.Export.MaxRetries,
		RetryDelay: cfg.Export.RetryDelay,
	})
	dispatcher.Start(ctx, agg.Flushed())

	reconciler := services.NewReconciler(payloadRepo, metadataRepo)
	if err := reconciler.Run(ctx, dispatcher); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	// Initialize ingestion front ends
	ingest, err := services.NewIngestService(services.IngestConfig{
		TemporaryPath: cfg.Storage.TemporaryPath,
		PlugIns:       cfg.Ingest.PlugIns,
	}, metadataRepo, agg, registry)
	if err != nil {
		return err
	}

	var hl7Listener *services.MLLPListener
	if cfg.HL7.Enabled {
		hl7Listener = services.NewMLLPListener(services.MLLPListenerConfig{
			Addr:        cfg.HL7.Addr,
			SourceName:  cfg.HL7.Source,
			Destination: cfg.HL7.Destination,
			IdleTimeout: cfg.HL7.IdleTimeout,
		}, ingest)
		if err := hl7Listener.Start(ctx); err != nil {
			return err
		}
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	managementHandler := handlers.NewManagementHandler(registry, payloadRepo, associationRepo)
	stowHandler := handlers.NewStowHandler(ingest, cfg.Ingest.StowSource)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// DICOMweb ingestion
	r.Route("/dicom-web", func(r chi.Router) {
		r.Use(middleware.CorrelationID)

		r.Post("/studies", stowHandler.Store)
	})

	// Management API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CorrelationID)

		r.Get("/plugins", managementHandler.ListPlugIns)
		r.Get("/payloads", managementHandler.ListPayloads)
		r.Get("/associations", managementHandler.ListAssociations)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down gateway...")

	// Graceful shutdown: stop the HTTP surface, then drain dispatch and
	// delivery before closing shared resources
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if hl7Listener != nil {
		hl7Listener.Shutdown()
	}
	dispatcher.Shutdown()
	exportService.Shutdown()

	log.Info().Msg("Gateway stopped")
	return nil
}
