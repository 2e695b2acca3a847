package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/infrastructure/storage"
	"github.com/issaops/contract-pipeline/pkg/logging"
	"github.com/issaops/contract-pipeline/pkg/metrics"
)

// Settings contains orchestrator behavior flags.
type Settings struct {
	UploadDirectory   string
	FileIngestEnabled bool
	EnableEncryption  bool
	BackupEnabled     bool
	QualityChecks     bool
	SensitiveColumns  []string
}

// PipelineUseCase orchestrates one full pipeline run: backup, ingestion,
// fetch, consolidation, validation, securing, persistence, reporting and
// cleanup. At most one run executes at a time.
type PipelineUseCase struct {
	registry     service.SourceRegistry
	normalizer   service.Normalizer
	consolidator service.ConsolidationService
	validator    service.QualityService
	gate         service.SecureGate
	store        *storage.Store

	settings *Settings
	logger   *logging.Logger
	metrics  *metrics.Collector

	mu         sync.Mutex
	running    bool
	state      entity.RunState
	lastResult *entity.PipelineRunResult
	stats      *entity.PipelineStats
}

// NewPipelineUseCase creates the orchestrator. Cumulative stats are
// restored from the checkpoint so counters survive restarts.
func NewPipelineUseCase(
	registry service.SourceRegistry,
	normalizer service.Normalizer,
	consolidator service.ConsolidationService,
	validator service.QualityService,
	gate service.SecureGate,
	store *storage.Store,
	settings *Settings,
	logger *logging.Logger,
	collector *metrics.Collector,
) *PipelineUseCase {
	if settings == nil {
		settings = &Settings{
			FileIngestEnabled: true,
			EnableEncryption:  true,
			BackupEnabled:     true,
			QualityChecks:     true,
		}
	}

	stats, err := store.LoadStats()
	if err != nil {
		logger.Warn("Failed to restore stats checkpoint, starting fresh",
			logging.String("error", err.Error()))
		stats = &entity.PipelineStats{}
	}

	return &PipelineUseCase{
		registry:     registry,
		normalizer:   normalizer,
		consolidator: consolidator,
		validator:    validator,
		gate:         gate,
		store:        store,
		settings:     settings,
		logger:       logger.WithComponent("pipeline"),
		metrics:      collector,
		state:        entity.StateIdle,
		stats:        stats,
	}
}

// ErrRunInProgress is returned when a trigger arrives while a run is active.
var ErrRunInProgress = entity.NewDomainError("RUN_IN_PROGRESS", "a pipeline run is already in progress")

// Run executes the full pipeline. It always returns a result; failures
// are captured inside it rather than aborting partway without a record.
// Stage failures degrade the run where possible, but finalization
// (stats, report, metrics) happens no matter how the run ends.
func (u *PipelineUseCase) Run(ctx context.Context, manual bool) (runResult *entity.PipelineRunResult, err error) {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return nil, ErrRunInProgress
	}
	u.running = true
	u.mu.Unlock()

	result := &entity.PipelineRunResult{
		RunID:         uuid.New().String(),
		StartTime:     time.Now().UTC(),
		ManualTrigger: manual,
		Success:       true,
	}

	u.logger.Info("Pipeline run started",
		logging.String("run_id", result.RunID),
		logging.Bool("manual", manual),
	)

	var plainRecords []entity.ContractRecord
	var sources []entity.SourceDescriptor
	var quality *service.QualityReport

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.AddError(fmt.Sprintf("panic: %v", r))
			u.logger.Error("Pipeline run panicked",
				logging.String("run_id", result.RunID),
				logging.Any("panic", r),
			)
		}
		u.finalize(result, plainRecords, sources, quality)
		// A recovered panic still yields a result to the caller.
		runResult, err = result, nil
	}()

	// Stage 1: backup the current output.
	if u.settings.BackupEnabled {
		u.setState(entity.StateBackingUp)
		u.timed("backup", func() {
			if _, err := u.store.BackupCurrent(); err != nil {
				result.AddWarning(fmt.Sprintf("backup failed: %v", err))
			}
		})
	}

	// Stage 2: ingest manual uploads.
	var uploaded []entity.ContractRecord
	if u.settings.FileIngestEnabled {
		u.setState(entity.StateIngestingFiles)
		u.timed("ingest_files", func() {
			records, summaries, err := u.normalizer.ProcessDirectory(ctx, u.settings.UploadDirectory)
			if err != nil {
				result.AddWarning(fmt.Sprintf("file ingestion failed: %v", err))
			}
			uploaded = records
			for _, summary := range summaries {
				for _, w := range summary.Warnings {
					result.AddWarning(fmt.Sprintf("%s: %s", summary.FileName, w))
				}
				for _, e := range summary.Errors {
					result.AddWarning(fmt.Sprintf("%s: %s", summary.FileName, e))
				}
			}
		})
	}

	// Stage 3: fetch from all registered sources.
	u.setState(entity.StateFetchingSources)
	var fetched []entity.ContractRecord
	u.timed("fetch_sources", func() {
		fetched, sources = u.registry.FetchAll(ctx)
	})
	for _, src := range sources {
		if src.LastHealth == entity.SourceHealthy {
			result.SourcesProcessed++
		} else if src.LastError != "" {
			result.AddWarning(fmt.Sprintf("source %s: %s", src.Name, src.LastError))
		}
	}
	if len(uploaded) > 0 {
		result.SourcesProcessed++
	}

	if len(uploaded)+len(fetched) == 0 {
		result.AddWarning("no data available from any source")
	}

	// Stage 4: consolidate and deduplicate.
	u.setState(entity.StateConsolidating)
	consolidated, warnings := u.consolidator.Consolidate(ctx, uploaded, fetched)
	for _, w := range warnings {
		result.AddWarning(w)
	}

	// Stage 5: validate quality and hard-filter.
	if u.settings.QualityChecks {
		u.setState(entity.StateValidating)
		consolidated, quality = u.validator.Validate(ctx, consolidated)
		result.DataQualityScore = quality.Score
		for _, w := range quality.Warnings {
			result.AddWarning(w)
		}
	}

	// Keep a decrypted copy for the metrics extract and the report
	// summary before securing.
	plainRecords = make([]entity.ContractRecord, len(consolidated))
	copy(plainRecords, consolidated)

	// Stage 6: secure sensitive fields.
	if u.settings.EnableEncryption && u.gate != nil {
		u.setState(entity.StateSecuring)
		consolidated = u.gate.Apply(ctx, consolidated, u.settings.SensitiveColumns)
	}
	result.RecordsProcessed = len(consolidated)

	// Stage 7: persist the consolidated output.
	u.setState(entity.StatePersisting)
	u.timed("persist", func() {
		if _, err := u.store.SaveConsolidated(consolidated); err != nil {
			result.Success = false
			result.AddError(fmt.Sprintf("failed to persist output: %v", err))
		}
	})

	// Stage 8: write the reporting extract from the decrypted copy.
	u.setState(entity.StateReporting)
	u.timed("report", func() {
		if err := u.store.SaveMetricsArtifact(plainRecords); err != nil {
			result.AddWarning(fmt.Sprintf("metrics artifact failed: %v", err))
		}
	})

	// Stage 9: retention cleanup.
	u.setState(entity.StateCleaningUp)
	u.timed("cleanup", func() {
		if _, err := u.store.CleanupOldFiles(); err != nil {
			result.AddWarning(fmt.Sprintf("cleanup failed: %v", err))
		}
	})

	return result, nil
}

// finalize closes out a run: timing, state, stats accumulation, run
// report and metrics. Stage 10 in the run lifecycle; it executes even
// when the run panicked. The run is folded into the cumulative stats
// first so the report carries the totals including this run. The
// summary is computed over the decrypted records; the persisted table
// may hold ciphertext.
func (u *PipelineUseCase) finalize(result *entity.PipelineRunResult, plainRecords []entity.ContractRecord, sources []entity.SourceDescriptor, quality *service.QualityReport) {
	result.EndTime = time.Now().UTC()
	result.DurationSeconds = result.EndTime.Sub(result.StartTime).Seconds()
	if result.Success {
		result.FinalState = entity.StateIdle
	} else {
		result.FinalState = entity.StateFailed
	}

	u.mu.Lock()
	u.stats.Record(result)
	stats := *u.stats
	u.lastResult = result
	u.running = false
	u.state = entity.StateIdle
	u.mu.Unlock()

	report := &storage.RunReport{
		Result:  result,
		Stats:   stats,
		Quality: quality,
		Sources: sources,
	}
	if result.Success {
		report.DataSummary = storage.Summarize(plainRecords)
	}
	if _, err := u.store.SaveRunReport(report); err != nil {
		u.logger.Error("Failed to save run report",
			logging.String("run_id", result.RunID),
			logging.String("error", err.Error()),
		)
	}

	if err := u.store.SaveStats(&stats); err != nil {
		u.logger.Error("Failed to checkpoint stats",
			logging.String("error", err.Error()))
	}

	if u.metrics != nil {
		u.metrics.RecordRun(result.ManualTrigger, result.Success, result.EndTime.Sub(result.StartTime))
		u.metrics.RecordsProcessed.Add(float64(result.RecordsProcessed))
	}

	u.logger.Info("Pipeline run finished",
		logging.String("run_id", result.RunID),
		logging.Bool("success", result.Success),
		logging.Float64("duration_seconds", result.DurationSeconds),
		logging.Int("records", result.RecordsProcessed),
		logging.Float64("quality_score", result.DataQualityScore),
	)
}

// Status reports the current state, the last completed run and the
// cumulative stats.
func (u *PipelineUseCase) Status() (entity.RunState, *entity.PipelineRunResult, entity.PipelineStats) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state, u.lastResult, *u.stats
}

// Sources re-checks connector health and returns the refreshed snapshot
// for the status surface.
func (u *PipelineUseCase) Sources(ctx context.Context) []entity.SourceDescriptor {
	return u.registry.CheckSources(ctx)
}

func (u *PipelineUseCase) setState(state entity.RunState) {
	u.mu.Lock()
	u.state = state
	u.mu.Unlock()
	u.logger.Debug("Pipeline stage", logging.String("state", string(state)))
}

// timed runs one stage and records its duration.
func (u *PipelineUseCase) timed(stage string, fn func()) {
	start := time.Now()
	fn()
	if u.metrics != nil {
		u.metrics.ObserveStage(stage, time.Since(start))
	}
}
