package service

import (
	"context"

	"github.com/issaops/contract-pipeline/domain/entity"
)

// Connector defines a single external data provider. Fetch returns rows in
// the canonical schema; the caller stamps source name and fetch time.
type Connector interface {
	Name() string
	Fetch(ctx context.Context) ([]entity.ContractRecord, error)
}

// HealthChecker is implemented by connectors that can verify their
// credentials and reachability without fetching data.
type HealthChecker interface {
	TestConnection(ctx context.Context) error
}

// SourceRegistry holds zero-or-more named connectors and fans fetches out
// across all of them. A failing connector is excluded from the current run,
// never unregistered.
type SourceRegistry interface {
	Register(connector Connector) error
	FetchAll(ctx context.Context) ([]entity.ContractRecord, []entity.SourceDescriptor)
	Status() []entity.SourceDescriptor
	CheckSources(ctx context.Context) []entity.SourceDescriptor
	Len() int
}

// Normalizer ingests raw tabular uploads and maps them to the canonical
// schema. ProcessTable works on already-parsed rows, for callers that
// receive tabular data without a file.
type Normalizer interface {
	Process(ctx context.Context, path string) ([]entity.ContractRecord, *NormalizationSummary, error)
	ProcessTable(ctx context.Context, header []string, rows [][]string) ([]entity.ContractRecord, *NormalizationSummary, error)
	ProcessDirectory(ctx context.Context, dir string) ([]entity.ContractRecord, []*NormalizationSummary, error)
}

// NormalizationSummary reports what happened to one ingested file.
type NormalizationSummary struct {
	FileName      string   `json:"file_name"`
	RowsIn        int      `json:"rows_in"`
	RowsOut       int      `json:"rows_out"`
	ColumnsMapped int      `json:"columns_mapped"`
	Warnings      []string `json:"warnings"`
	Errors        []string `json:"errors"`
}

// ConsolidationService merges batches from all sources and resolves
// duplicates by source priority.
type ConsolidationService interface {
	Consolidate(ctx context.Context, batches ...[]entity.ContractRecord) ([]entity.ContractRecord, []string)
}

// QualityService scores the consolidated table and removes hard-constraint
// violators.
type QualityService interface {
	Validate(ctx context.Context, records []entity.ContractRecord) ([]entity.ContractRecord, *QualityReport)
}

// QualityReport carries the aggregate quality score and per-check outcomes.
type QualityReport struct {
	Score          float64         `json:"score"`
	Checks         map[string]bool `json:"checks"`
	Warnings       []string        `json:"warnings"`
	RecordsRemoved int             `json:"records_removed"`
}

// SecureGate applies and removes reversible field-level encryption on
// sensitive columns. Apply and Reverse preserve row count and leave
// non-sensitive values untouched.
type SecureGate interface {
	Apply(ctx context.Context, records []entity.ContractRecord, columns []string) []entity.ContractRecord
	Reverse(ctx context.Context, records []entity.ContractRecord) []entity.ContractRecord
}
