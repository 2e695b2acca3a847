package service

import (
	"context"
	"fmt"
	"time"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/pkg/logging"
	"github.com/issaops/contract-pipeline/pkg/metrics"
)

// Quality check names, reported in the QualityReport and in warnings.
const (
	CheckVendorCompleteness = "vendor_completeness"
	CheckDateValidity       = "date_validity"
	CheckAmountValidity     = "amount_validity"
	CheckFutureDates        = "future_dates"
	CheckDuplicates         = "duplicate_check"
)

// QualityConfig contains quality validation thresholds
type QualityConfig struct {
	VendorCompletenessMin float64 `json:"vendor_completeness_min"`
	AmountValidityMin     float64 `json:"amount_validity_min"`
	FutureDatesMin        float64 `json:"future_dates_min"`
	DuplicateRatioMax     float64 `json:"duplicate_ratio_max"`
	FutureDateHorizonDays int     `json:"future_date_horizon_days"`
}

// qualityService implements QualityService
type qualityService struct {
	logger  *logging.Logger
	metrics *metrics.Collector
	config  *QualityConfig
	now     func() time.Time
}

// NewQualityService creates a new quality service
func NewQualityService(
	logger *logging.Logger,
	collector *metrics.Collector,
	config *QualityConfig,
) QualityService {
	if config == nil {
		config = &QualityConfig{
			VendorCompletenessMin: 0.80,
			AmountValidityMin:     0.90,
			FutureDatesMin:        0.95,
			DuplicateRatioMax:     0.05,
			FutureDateHorizonDays: 3650,
		}
	}

	return &qualityService{
		logger:  logger.WithComponent("quality"),
		metrics: collector,
		config:  config,
		now:     time.Now,
	}
}

// Validate runs the check battery over the consolidated table, producing a
// 0-100 score and warnings, then hard-filters rows with an empty vendor or
// an out-of-range spend. A failing check never aborts the run.
func (s *qualityService) Validate(ctx context.Context, records []entity.ContractRecord) ([]entity.ContractRecord, *QualityReport) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveStage("validate", time.Since(start))
		}
	}()

	report := &QualityReport{Checks: make(map[string]bool)}

	if len(records) == 0 {
		report.Score = 0
		return records, report
	}

	report.Checks[CheckVendorCompleteness] = s.checkVendorCompleteness(records)
	report.Checks[CheckDateValidity] = s.checkDateValidity(records)
	report.Checks[CheckAmountValidity] = s.checkAmountValidity(records)
	report.Checks[CheckFutureDates] = s.checkFutureDates(records)
	report.Checks[CheckDuplicates] = s.checkRemainingDuplicates(records)

	passed := 0
	for name, ok := range report.Checks {
		if ok {
			passed++
		} else {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Data quality issue: %s", name))
		}
	}
	report.Score = float64(passed) / float64(len(report.Checks)) * 100

	s.logger.Info("Data quality score computed",
		logging.Float64("score", report.Score),
		logging.Int("records", len(records)),
	)
	if s.metrics != nil {
		s.metrics.QualityScore.Set(report.Score)
	}

	cleaned := s.removeInvalidRecords(records, report)
	return cleaned, report
}

// checkVendorCompleteness verifies that enough rows carry a vendor.
func (s *qualityService) checkVendorCompleteness(records []entity.ContractRecord) bool {
	complete := 0
	for i := range records {
		if records[i].HasVendor() {
			complete++
		}
	}
	return float64(complete)/float64(len(records)) >= s.config.VendorCompletenessMin
}

// checkDateValidity verifies that every date either parsed or is absent.
// The normalizer parks unparseable raw values in Extra under a _raw key.
func (s *qualityService) checkDateValidity(records []entity.ContractRecord) bool {
	for i := range records {
		if records[i].Extra[entity.ColumnContractStart+"_raw"] != "" ||
			records[i].Extra[entity.ColumnContractEnd+"_raw"] != "" {
			return false
		}
	}
	return true
}

// checkAmountValidity verifies that enough spend values are plausible.
func (s *qualityService) checkAmountValidity(records []entity.ContractRecord) bool {
	valid := 0
	for i := range records {
		if records[i].SpendInRange() {
			valid++
		}
	}
	return float64(valid)/float64(len(records)) >= s.config.AmountValidityMin
}

// checkFutureDates verifies that end dates are not unreasonably far out.
func (s *qualityService) checkFutureDates(records []entity.ContractRecord) bool {
	horizon := s.now().AddDate(0, 0, s.config.FutureDateHorizonDays)
	withEnd := 0
	reasonable := 0
	for i := range records {
		if records[i].ContractEnd == nil {
			continue
		}
		withEnd++
		if !records[i].ContractEnd.After(horizon) {
			reasonable++
		}
	}
	if withEnd == 0 {
		return true
	}
	return float64(reasonable)/float64(withEnd) >= s.config.FutureDatesMin
}

// checkRemainingDuplicates verifies that consolidation left few duplicates.
func (s *qualityService) checkRemainingDuplicates(records []entity.ContractRecord) bool {
	seen := make(map[string]bool, len(records))
	duplicates := 0
	for i := range records {
		key := records[i].ConsolidationKey()
		if seen[key] {
			duplicates++
		}
		seen[key] = true
	}
	return float64(duplicates)/float64(len(records)) < s.config.DuplicateRatioMax
}

// removeInvalidRecords drops hard-constraint violators: rows with no
// vendor, or with an annual spend outside the plausible range.
func (s *qualityService) removeInvalidRecords(records []entity.ContractRecord, report *QualityReport) []entity.ContractRecord {
	cleaned := make([]entity.ContractRecord, 0, len(records))
	for i := range records {
		if records[i].HasVendor() && records[i].SpendInRange() {
			cleaned = append(cleaned, records[i])
		}
	}

	removed := len(records) - len(cleaned)
	if removed > 0 {
		report.RecordsRemoved = removed
		report.Warnings = append(report.Warnings, fmt.Sprintf("Removed %d invalid records", removed))
		s.logger.Warn("Removed invalid records", logging.Int("removed", removed))
		if s.metrics != nil {
			s.metrics.RecordsRemoved.Add(float64(removed))
		}
	}

	return cleaned
}
