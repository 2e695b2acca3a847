package entity

import "time"

// RunState represents the stage a pipeline run is currently executing.
type RunState string

const (
	StateIdle            RunState = "IDLE"
	StateBackingUp       RunState = "BACKING_UP"
	StateIngestingFiles  RunState = "INGESTING_FILES"
	StateFetchingSources RunState = "FETCHING_SOURCES"
	StateConsolidating   RunState = "CONSOLIDATING"
	StateValidating      RunState = "VALIDATING"
	StateSecuring        RunState = "SECURING"
	StatePersisting      RunState = "PERSISTING"
	StateReporting       RunState = "REPORTING"
	StateCleaningUp      RunState = "CLEANING_UP"
	StateFailed          RunState = "FAILED"
)

// PipelineRunResult is the complete, immutable record of one pipeline
// execution. It is returned by the trigger surface and embedded into the
// JSON run report.
type PipelineRunResult struct {
	RunID            string    `json:"run_id"`
	Success          bool      `json:"success"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	DurationSeconds  float64   `json:"duration_seconds"`
	RecordsProcessed int       `json:"records_processed"`
	SourcesProcessed int       `json:"sources_processed"`
	DataQualityScore float64   `json:"data_quality_score"`
	Errors           []string  `json:"errors"`
	Warnings         []string  `json:"warnings"`
	ManualTrigger    bool      `json:"manual_trigger"`
	FinalState       RunState  `json:"final_state"`
}

// AddError appends a run-level error.
func (r *PipelineRunResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning appends a run-level warning.
func (r *PipelineRunResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// PipelineStats holds process-wide counters across runs. Owned exclusively
// by the orchestrator and checkpointed to disk after every run.
type PipelineStats struct {
	TotalRuns        int        `json:"total_runs"`
	SuccessfulRuns   int        `json:"successful_runs"`
	FailedRuns       int        `json:"failed_runs"`
	RecordsProcessed int        `json:"records_processed"`
	LastRunTime      *time.Time `json:"last_run_time,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// Record folds a completed run into the cumulative counters.
func (s *PipelineStats) Record(result *PipelineRunResult) {
	s.TotalRuns++
	s.LastRunTime = &result.EndTime
	if result.Success {
		s.SuccessfulRuns++
		s.RecordsProcessed += result.RecordsProcessed
	} else {
		s.FailedRuns++
		if len(result.Errors) > 0 {
			s.LastError = result.Errors[len(result.Errors)-1]
		}
	}
}

// SourceHealth represents the last known health of a registered source.
type SourceHealth string

const (
	SourceHealthy   SourceHealth = "healthy"
	SourceUnhealthy SourceHealth = "unhealthy"
	SourceUnknown   SourceHealth = "unknown"
)

// SourceDescriptor tracks a registered data source. Created at
// registration, mutated on every fetch attempt, never auto-removed.
type SourceDescriptor struct {
	Name          string       `json:"name"`
	ConnectorType string       `json:"connector_type"`
	LastFetchTime *time.Time   `json:"last_fetch_time,omitempty"`
	LastHealth    SourceHealth `json:"last_health"`
	LastError     string       `json:"last_error,omitempty"`
}
