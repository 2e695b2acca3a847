package service

import (
	"context"
	"fmt"
	"time"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/pkg/logging"
	"github.com/issaops/contract-pipeline/pkg/metrics"
)

// ConsolidationConfig contains deduplication configuration
type ConsolidationConfig struct {
	// SourcePriority maps source name to rank. A higher rank wins a
	// duplicate regardless of arrival order; unknown sources rank 0.
	SourcePriority map[string]int `json:"source_priority"`
}

// consolidationService implements ConsolidationService
type consolidationService struct {
	logger  *logging.Logger
	metrics *metrics.Collector
	config  *ConsolidationConfig
}

// NewConsolidationService creates a new consolidation service
func NewConsolidationService(
	logger *logging.Logger,
	collector *metrics.Collector,
	config *ConsolidationConfig,
) ConsolidationService {
	if config == nil || config.SourcePriority == nil {
		config = &ConsolidationConfig{
			SourcePriority: map[string]int{
				"SAP":         3,
				"Paycom":      2,
				"Postgres":    2,
				"File_Upload": 1,
			},
		}
	}

	return &consolidationService{
		logger:  logger.WithComponent("consolidation"),
		metrics: collector,
		config:  config,
	}
}

// Consolidate merges all input batches into one deduplicated table. For
// every group of rows sharing a consolidation key, exactly one row
// survives: the one with the highest (source priority, fetch time) pair.
// A full tie keeps the earliest row, so the result is deterministic for
// any fixed input order. Inputs are read-only; the returned slice is
// newly constructed.
func (s *consolidationService) Consolidate(ctx context.Context, batches ...[]entity.ContractRecord) ([]entity.ContractRecord, []string) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveStage("consolidate", time.Since(start))
		}
	}()

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total == 0 {
		s.logger.Warn("No data to consolidate")
		return []entity.ContractRecord{}, nil
	}

	type winner struct {
		record   entity.ContractRecord
		priority int
		position int // position in the surviving slice, keeps output stable
	}

	winners := make(map[string]*winner, total)
	order := make([]string, 0, total)

	for _, batch := range batches {
		for i := range batch {
			record := batch[i]
			key := record.ConsolidationKey()
			priority := s.config.SourcePriority[record.SourceSystem]

			current, seen := winners[key]
			if !seen {
				winners[key] = &winner{record: record, priority: priority, position: len(order)}
				order = append(order, key)
				continue
			}

			// Replace only on a strictly better (priority, fetch time)
			// pair; ties keep the earlier row.
			if priority > current.priority ||
				(priority == current.priority && record.FetchedAt.After(current.record.FetchedAt)) {
				current.record = record
				current.priority = priority
			}
		}
	}

	consolidated := make([]entity.ContractRecord, 0, len(order))
	for _, key := range order {
		consolidated = append(consolidated, winners[key].record)
	}

	var warnings []string
	if removed := total - len(consolidated); removed > 0 {
		warnings = append(warnings, fmt.Sprintf("Removed %d duplicate records", removed))
	}

	s.logger.Info("Consolidated records",
		logging.Int("rows_in", total),
		logging.Int("rows_out", len(consolidated)),
		logging.Int("batches", len(batches)),
	)

	return consolidated, warnings
}
