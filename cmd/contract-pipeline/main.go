package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/issaops/contract-pipeline/config"
	httpserver "github.com/issaops/contract-pipeline/delivery/http"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/infrastructure/connector"
	"github.com/issaops/contract-pipeline/infrastructure/normalize"
	"github.com/issaops/contract-pipeline/infrastructure/secure"
	"github.com/issaops/contract-pipeline/infrastructure/storage"
	"github.com/issaops/contract-pipeline/pkg/logging"
	"github.com/issaops/contract-pipeline/pkg/metrics"
	"github.com/issaops/contract-pipeline/usecase"
)

func main() {
	configPath := flag.String("config", "config", "path to the configuration directory")
	runOnce := flag.Bool("run-once", false, "execute one pipeline run and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: cfg.Service.Name,
		Development: cfg.Service.Environment == "development",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	logger.Info("Starting contract pipeline service",
		logging.String("version", cfg.Service.Version),
		logging.String("environment", cfg.Service.Environment),
	)

	collector := metrics.NewCollector("contract_pipeline")

	pipeline, err := buildPipeline(cfg, logger, collector)
	if err != nil {
		logger.Fatal("Failed to build pipeline", logging.String("error", err.Error()))
	}

	if *runOnce {
		result, err := pipeline.Run(context.Background(), true)
		if err != nil {
			logger.Fatal("Run failed to start", logging.String("error", err.Error()))
		}
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	httpServer := httpserver.NewServer(&cfg.Server, pipeline, logger)
	httpServer.Start()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&metrics.Config{
			Enabled: cfg.Metrics.Enabled,
			Host:    cfg.Metrics.Host,
			Port:    cfg.Metrics.Port,
			Path:    cfg.Metrics.Path,
		}, collector)
		metricsServer.Start()
	}

	scheduler := usecase.NewScheduler(pipeline, &usecase.ScheduleConfig{
		Frequency: cfg.PipelineSettings.ScheduleFrequency,
		Time:      cfg.PipelineSettings.ScheduleTime,
		Weekday:   cfg.PipelineSettings.ScheduleWeekday,
	}, logger)
	scheduler.Start(context.Background())

	// Block until shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutting down", logging.String("signal", sig.String()))

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", logging.String("error", err.Error()))
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", logging.String("error", err.Error()))
		}
	}

	logger.Info("Shutdown complete")
}

// buildPipeline wires every component from configuration.
func buildPipeline(cfg *config.Config, logger *logging.Logger, collector *metrics.Collector) (*usecase.PipelineUseCase, error) {
	registry := connector.NewSourceRegistry(&connector.RegistryConfig{
		FetchTimeout:         cfg.DataSources.FetchTimeout,
		FetchRatePerSecond:   cfg.DataSources.FetchRatePerSecond,
		MaxConcurrentFetches: cfg.DataSources.MaxConcurrentFetches,
	}, logger, collector)

	httpClient := &http.Client{Timeout: cfg.DataSources.FetchTimeout}

	if cfg.DataSources.SAP.Enabled {
		if err := registry.Register(connector.NewSAPConnector(&cfg.DataSources.SAP, logger, httpClient)); err != nil {
			return nil, err
		}
	}
	if cfg.DataSources.Paycom.Enabled {
		if err := registry.Register(connector.NewPaycomConnector(&cfg.DataSources.Paycom, logger, httpClient)); err != nil {
			return nil, err
		}
	}
	if cfg.DataSources.Postgres.Enabled {
		if err := registry.Register(connector.NewPostgresConnector(&cfg.DataSources.Postgres, logger)); err != nil {
			return nil, err
		}
	}
	logger.Info("Data sources registered", logging.Int("count", registry.Len()))

	normalizer := normalize.NewNormalizer(&normalize.Config{
		ProcessedDirectory: cfg.DataSources.FileUpload.ProcessedDirectory,
	}, logger)

	consolidator := service.NewConsolidationService(logger, collector, &service.ConsolidationConfig{
		SourcePriority: cfg.Consolidation.SourcePriority,
	})

	validator := service.NewQualityService(logger, collector, nil)

	var gate service.SecureGate
	if cfg.PipelineSettings.EnableEncryption {
		var err error
		gate, err = secure.NewFieldGate(&secure.Config{
			EncryptionKey:       cfg.Security.EncryptionKey,
			SensitiveColumns:    cfg.Security.SensitiveColumns,
			ConfidenceThreshold: cfg.Security.ConfidenceThreshold,
		}, logger, collector)
		if err != nil {
			return nil, err
		}
	}

	store := storage.NewStore(&storage.Config{
		ConsolidatedOutputPath: cfg.OutputSettings.ConsolidatedOutputPath,
		ProcessedDirectory:     cfg.OutputSettings.ProcessedDirectory,
		BackupDirectory:        cfg.OutputSettings.BackupDirectory,
		ReportsDirectory:       cfg.OutputSettings.ReportsDirectory,
		MetricsArtifactPath:    cfg.OutputSettings.MetricsArtifactPath,
		StatsPath:              cfg.OutputSettings.StatsPath,
		DataRetentionDays:      cfg.PipelineSettings.DataRetentionDays,
	}, logger)

	return usecase.NewPipelineUseCase(
		registry,
		normalizer,
		consolidator,
		validator,
		gate,
		store,
		&usecase.Settings{
			UploadDirectory:   cfg.DataSources.FileUpload.WatchDirectory,
			FileIngestEnabled: cfg.DataSources.FileUpload.Enabled,
			EnableEncryption:  cfg.PipelineSettings.EnableEncryption,
			BackupEnabled:     cfg.PipelineSettings.BackupEnabled,
			QualityChecks:     cfg.PipelineSettings.QualityChecks,
			SensitiveColumns:  cfg.Security.SensitiveColumns,
		},
		logger,
		collector,
	), nil
}
