package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/pkg/logging"
)

// Config contains artifact locations and retention settings.
type Config struct {
	ConsolidatedOutputPath string
	ProcessedDirectory     string
	BackupDirectory        string
	ReportsDirectory       string
	MetricsArtifactPath    string
	StatsPath              string
	DataRetentionDays      int
}

// Store persists all pipeline artifacts: the consolidated CSV, backups,
// run reports, the metrics extract and the cumulative stats checkpoint.
type Store struct {
	config *Config
	logger *logging.Logger
	now    func() time.Time
}

// NewStore creates an artifact store.
func NewStore(cfg *Config, logger *logging.Logger) *Store {
	return &Store{
		config: cfg,
		logger: logger.WithComponent("store"),
		now:    time.Now,
	}
}

// csvHeader is the column order of every persisted contract CSV.
var csvHeader = []string{
	entity.ColumnVendor,
	entity.ColumnProduct,
	entity.ColumnContractStart,
	entity.ColumnContractEnd,
	entity.ColumnAnnualSpend,
	entity.ColumnCurrency,
	entity.ColumnContractNumber,
	entity.ColumnDepartment,
	entity.ColumnRenewalOption,
	"source_system",
	"fetched_at",
	"days_until_expiry",
	"alert_status",
	"duration_days",
}

// BackupCurrent copies the current consolidated output into the backup
// directory before a run overwrites it. No existing output is not an
// error; there is simply nothing to protect yet.
func (s *Store) BackupCurrent() (string, error) {
	src, err := os.Open(s.config.ConsolidatedOutputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to open current output for backup")
	}
	defer src.Close()

	if err := os.MkdirAll(s.config.BackupDirectory, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create backup directory")
	}

	name := fmt.Sprintf("contracts_backup_%s.csv", s.now().UTC().Format("20060102_150405"))
	target := filepath.Join(s.config.BackupDirectory, name)

	dst, err := os.Create(target)
	if err != nil {
		return "", errors.Wrap(err, "failed to create backup file")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", errors.Wrap(err, "failed to copy backup")
	}

	s.logger.Info("Backed up consolidated output", logging.String("backup", target))
	return target, nil
}

// SaveConsolidated writes the consolidated table to the stable "latest"
// path and to a timestamped snapshot in the processed directory.
func (s *Store) SaveConsolidated(records []entity.ContractRecord) (string, error) {
	if err := s.writeCSV(s.config.ConsolidatedOutputPath, records); err != nil {
		return "", err
	}

	snapshot := filepath.Join(s.config.ProcessedDirectory,
		fmt.Sprintf("contracts_%s.csv", s.now().UTC().Format("20060102_150405")))
	if err := s.writeCSV(snapshot, records); err != nil {
		return "", err
	}

	s.logger.Info("Saved consolidated output",
		logging.String("path", s.config.ConsolidatedOutputPath),
		logging.Int("records", len(records)),
	)
	return snapshot, nil
}

// SaveMetricsArtifact writes the expiration-alert extract consumed by the
// reporting dashboards: vendor, product, expiry and alert status for every
// contract with a known end date. Input records must already be decrypted.
func (s *Store) SaveMetricsArtifact(records []entity.ContractRecord) error {
	if s.config.MetricsArtifactPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.config.MetricsArtifactPath), 0o755); err != nil {
		return errors.Wrap(err, "failed to create metrics directory")
	}

	f, err := os.Create(s.config.MetricsArtifactPath)
	if err != nil {
		return errors.Wrap(err, "failed to create metrics artifact")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"vendor", "product", "contract_end", "days_until_expiry", "alert_status", "annual_spend"}); err != nil {
		return errors.Wrap(err, "failed to write metrics header")
	}

	for i := range records {
		r := &records[i]
		if r.ContractEnd == nil {
			continue
		}
		days := ""
		if r.DaysUntilExpiry != nil {
			days = strconv.Itoa(*r.DaysUntilExpiry)
		}
		row := []string{
			r.Vendor,
			r.Product,
			r.FieldString(entity.ColumnContractEnd),
			days,
			string(r.AlertStatus),
			strconv.FormatFloat(r.AnnualSpend, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "failed to write metrics row")
		}
	}

	w.Flush()
	return errors.Wrap(w.Error(), "failed to flush metrics artifact")
}

// RunReport is the persisted JSON report of one pipeline run: the full
// result plus the cumulative stats after folding the run in.
type RunReport struct {
	Result      *entity.PipelineRunResult `json:"result"`
	Stats       entity.PipelineStats      `json:"stats"`
	DataSummary *DataSummary              `json:"data_summary,omitempty"`
	Quality     *service.QualityReport    `json:"quality,omitempty"`
	Sources     []entity.SourceDescriptor `json:"sources,omitempty"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// DataSummary aggregates the consolidated table for the run report.
type DataSummary struct {
	TotalContracts   int     `json:"total_contracts"`
	UniqueVendors    int     `json:"unique_vendors"`
	ExpiringIn30     int     `json:"expiring_within_30_days"`
	ExpiringIn90     int     `json:"expiring_within_90_days"`
	TotalAnnualSpend float64 `json:"total_annual_spend"`
}

// Summarize builds the data summary over the final table.
func Summarize(records []entity.ContractRecord) *DataSummary {
	summary := &DataSummary{TotalContracts: len(records)}

	vendors := make(map[string]bool)
	for i := range records {
		r := &records[i]
		vendor := strings.ToUpper(strings.TrimSpace(r.Vendor))
		if vendor != "" {
			vendors[vendor] = true
		}
		summary.TotalAnnualSpend += r.AnnualSpend
		if r.DaysUntilExpiry != nil {
			if *r.DaysUntilExpiry < 30 {
				summary.ExpiringIn30++
			}
			if *r.DaysUntilExpiry < 90 {
				summary.ExpiringIn90++
			}
		}
	}
	summary.UniqueVendors = len(vendors)
	return summary
}

// SaveRunReport persists the JSON run report under the reports directory,
// named by run ID.
func (s *Store) SaveRunReport(report *RunReport) (string, error) {
	if err := os.MkdirAll(s.config.ReportsDirectory, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create reports directory")
	}

	report.GeneratedAt = s.now().UTC()
	path := filepath.Join(s.config.ReportsDirectory,
		fmt.Sprintf("run_report_%s.json", report.Result.RunID))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal run report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write run report")
	}
	return path, nil
}

// LoadStats reads the cumulative stats checkpoint. A missing file yields
// zeroed stats.
func (s *Store) LoadStats() (*entity.PipelineStats, error) {
	data, err := os.ReadFile(s.config.StatsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &entity.PipelineStats{}, nil
		}
		return nil, errors.Wrap(err, "failed to read stats checkpoint")
	}

	stats := &entity.PipelineStats{}
	if err := json.Unmarshal(data, stats); err != nil {
		return nil, errors.Wrap(err, "failed to decode stats checkpoint")
	}
	return stats, nil
}

// SaveStats checkpoints the cumulative stats atomically: the JSON is
// written to a temp file in the same directory, then renamed over the
// target, so readers never observe a partial write.
func (s *Store) SaveStats(stats *entity.PipelineStats) error {
	dir := filepath.Dir(s.config.StatsPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create stats directory")
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal stats")
	}

	tmp, err := os.CreateTemp(dir, ".stats-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp stats file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write temp stats file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to close temp stats file")
	}

	if err := os.Rename(tmpName, s.config.StatsPath); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to replace stats checkpoint")
	}
	return nil
}

// CleanupOldFiles removes backups, snapshots and reports older than the
// retention window. Running it twice in a row is harmless. Files that
// fail to delete are logged and skipped, never fatal.
func (s *Store) CleanupOldFiles() (int, error) {
	cutoff := s.now().Add(-time.Duration(s.config.DataRetentionDays) * 24 * time.Hour)
	removed := 0

	for _, dir := range []string{s.config.BackupDirectory, s.config.ProcessedDirectory, s.config.ReportsDirectory} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, errors.Wrapf(err, "failed to read %s", dir)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			// The stable "latest" output never expires.
			if path == s.config.ConsolidatedOutputPath {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				s.logger.Warn("Failed to remove expired file",
					logging.String("path", path),
					logging.String("error", err.Error()),
				)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Removed expired artifacts", logging.Int("removed", removed))
	}
	return removed, nil
}

// writeCSV writes records to path in the canonical column order. Columns
// still holding ciphertext are written as their ciphertext. Rows stream
// into a temp file which is renamed over the target only once complete,
// so a mid-write failure never publishes a partial table.
func (s *Store) writeCSV(path string, records []entity.ContractRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}

	tmp, err := os.CreateTemp(dir, ".contracts-*.csv")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", path)
	}
	tmpName := tmp.Name()

	if err := writeCSVRows(tmp, records); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to close temp file for %s", path)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to publish %s", path)
	}
	return nil
}

func writeCSVRows(f *os.File, records []entity.ContractRecord) error {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for i := range records {
		if err := w.Write(recordRow(&records[i])); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func recordRow(r *entity.ContractRecord) []string {
	cell := func(column string) string {
		if ct, ok := r.Encrypted[column]; ok {
			return ct
		}
		return r.FieldString(column)
	}

	days := ""
	if r.DaysUntilExpiry != nil {
		days = strconv.Itoa(*r.DaysUntilExpiry)
	}
	duration := ""
	if r.DurationDays != nil {
		duration = strconv.Itoa(*r.DurationDays)
	}

	return []string{
		cell(entity.ColumnVendor),
		cell(entity.ColumnProduct),
		cell(entity.ColumnContractStart),
		cell(entity.ColumnContractEnd),
		cell(entity.ColumnAnnualSpend),
		cell(entity.ColumnCurrency),
		cell(entity.ColumnContractNumber),
		cell(entity.ColumnDepartment),
		cell(entity.ColumnRenewalOption),
		r.SourceSystem,
		r.FetchedAt.UTC().Format(time.RFC3339),
		days,
		string(r.AlertStatus),
		duration,
	}
}
