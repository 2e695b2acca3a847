package normalize

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/pkg/logging"
)

// SourceFileUpload is the provenance stamp for manually uploaded files.
const SourceFileUpload = "File_Upload"

// columnKeywords drives header auto-mapping: each canonical column lists
// the keywords that identify it in a source header. Matching is
// case-insensitive on the lowercased header.
var columnKeywords = map[string][]string{
	entity.ColumnVendor:         {"vendor", "supplier", "company", "provider", "seller"},
	entity.ColumnProduct:        {"product", "service", "item", "description", "material"},
	entity.ColumnContractStart:  {"start", "begin", "effective", "from"},
	entity.ColumnContractEnd:    {"end", "expir", "until", "termination", "to"},
	entity.ColumnAnnualSpend:    {"spend", "cost", "amount", "value", "price", "total"},
	entity.ColumnCurrency:       {"currency", "curr"},
	entity.ColumnContractNumber: {"contract_number", "contract number", "contract id", "agreement", "number", "id"},
	entity.ColumnDepartment:     {"department", "dept", "division", "org", "unit"},
	entity.ColumnRenewalOption:  {"renewal", "renew", "auto"},
}

// dateFormats are tried in order when parsing date cells.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Config contains normalizer settings.
type Config struct {
	// ProcessedDirectory receives successfully ingested files. Empty
	// leaves files in place.
	ProcessedDirectory string
}

// normalizer implements service.Normalizer for CSV uploads.
type normalizer struct {
	config *Config
	logger *logging.Logger
	now    func() time.Time
}

// NewNormalizer creates a normalizer for manually uploaded files.
func NewNormalizer(cfg *Config, logger *logging.Logger) service.Normalizer {
	if cfg == nil {
		cfg = &Config{}
	}
	return &normalizer{
		config: cfg,
		logger: logger.WithComponent("normalizer"),
		now:    time.Now,
	}
}

// Process ingests one CSV file and maps it to the canonical schema. Rows
// are never dropped here: unparseable cells degrade to defaults with a
// warning, and the raw value is parked for the quality stage.
func (n *normalizer) Process(ctx context.Context, path string) ([]entity.ContractRecord, *service.NormalizationSummary, error) {
	summary := &service.NormalizationSummary{FileName: filepath.Base(path)}

	f, err := os.Open(path)
	if err != nil {
		return nil, summary, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, summary, errors.Wrapf(err, "failed to read %s", path)
	}
	if len(rows) == 0 {
		summary.Warnings = append(summary.Warnings, "file is empty")
		return nil, summary, nil
	}

	records, tableSummary, err := n.ProcessTable(ctx, rows[0], rows[1:])
	tableSummary.FileName = summary.FileName
	tableSummary.Warnings = append(summary.Warnings, tableSummary.Warnings...)
	return records, tableSummary, err
}

// ProcessTable maps already-parsed rows to the canonical schema.
func (n *normalizer) ProcessTable(ctx context.Context, header []string, rows [][]string) ([]entity.ContractRecord, *service.NormalizationSummary, error) {
	summary := &service.NormalizationSummary{}

	mapping := mapColumns(header)
	summary.ColumnsMapped = len(mapping)

	if _, ok := mappedCanonical(mapping, entity.ColumnVendor); !ok {
		summary.Warnings = append(summary.Warnings, "no vendor column identified")
	}

	fetchedAt := n.now().UTC()
	records := make([]entity.ContractRecord, 0, len(rows))

	for rowIdx, row := range rows {
		select {
		case <-ctx.Done():
			return nil, summary, ctx.Err()
		default:
		}

		record := entity.ContractRecord{
			RenewalOption: entity.RenewalUnknown,
			SourceSystem:  SourceFileUpload,
			FetchedAt:     fetchedAt,
		}

		for colIdx, cell := range row {
			if colIdx >= len(header) {
				break
			}
			canonical, mapped := mapping[colIdx]
			if !mapped {
				// Unmapped columns survive in Extra under their source name.
				if strings.TrimSpace(cell) != "" {
					if record.Extra == nil {
						record.Extra = make(map[string]string)
					}
					record.Extra[strings.TrimSpace(header[colIdx])] = cell
				}
				continue
			}
			n.assignCell(&record, canonical, cell, rowIdx+2, summary)
		}

		record.ComputeDerivedFields(fetchedAt)
		records = append(records, record)
	}

	summary.RowsIn = len(rows)
	summary.RowsOut = len(records)

	n.logger.Info("Normalized table",
		logging.Int("rows_in", summary.RowsIn),
		logging.Int("columns_mapped", summary.ColumnsMapped),
		logging.Int("warnings", len(summary.Warnings)),
	)

	return records, summary, nil
}

// ProcessDirectory ingests every CSV in dir, archiving each successfully
// processed file into the processed directory. Per-file failures are
// reported in the summaries and never abort the sweep.
func (n *normalizer) ProcessDirectory(ctx context.Context, dir string) ([]entity.ContractRecord, []*service.NormalizationSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, errors.Wrapf(err, "failed to read upload directory %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var all []entity.ContractRecord
	var summaries []*service.NormalizationSummary

	for _, name := range names {
		path := filepath.Join(dir, name)
		records, summary, err := n.Process(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return all, summaries, err
			}
			summary.Errors = append(summary.Errors, err.Error())
			summaries = append(summaries, summary)
			n.logger.Error("Failed to ingest upload",
				logging.String("file", name),
				logging.Any("error", err.Error()),
			)
			continue
		}

		all = append(all, records...)
		summaries = append(summaries, summary)

		if err := n.archive(path); err != nil {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("failed to archive: %v", err))
		}
	}

	return all, summaries, nil
}

// archive moves a processed file out of the watch directory so it is not
// ingested twice. The archived name carries a timestamp to avoid clashes.
func (n *normalizer) archive(path string) error {
	if n.config.ProcessedDirectory == "" {
		return nil
	}
	if err := os.MkdirAll(n.config.ProcessedDirectory, 0o755); err != nil {
		return err
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	target := filepath.Join(n.config.ProcessedDirectory,
		fmt.Sprintf("%s_%s%s", stem, n.now().UTC().Format("20060102_150405"), ext))

	return os.Rename(path, target)
}

// assignCell coerces one cell into its canonical column. Bad values fall
// back to defaults; the raw text is parked in Extra for the quality stage.
func (n *normalizer) assignCell(record *entity.ContractRecord, canonical, cell string, line int, summary *service.NormalizationSummary) {
	value := strings.TrimSpace(cell)

	switch canonical {
	case entity.ColumnContractStart, entity.ColumnContractEnd:
		if value == "" {
			return
		}
		t, ok := parseDate(value)
		if !ok {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("line %d: unparseable date %q in %s", line, value, canonical))
			if record.Extra == nil {
				record.Extra = make(map[string]string)
			}
			record.Extra[canonical+"_raw"] = value
			return
		}
		if canonical == entity.ColumnContractStart {
			record.ContractStart = &t
		} else {
			record.ContractEnd = &t
		}

	case entity.ColumnAnnualSpend:
		if value == "" {
			return
		}
		spend, ok := parseAmount(value)
		if !ok || spend < 0 {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("line %d: unparseable amount %q", line, value))
			if record.Extra == nil {
				record.Extra = make(map[string]string)
			}
			record.Extra[canonical+"_raw"] = value
			return
		}
		record.AnnualSpend = spend

	case entity.ColumnRenewalOption:
		record.RenewalOption = canonicalRenewal(value)

	default:
		_ = record.SetFieldString(canonical, value)
	}
}

// mapColumns scores every header against the keyword table and returns
// the column-index to canonical-name mapping. Each canonical column is
// claimed by at most one header, highest score first.
type candidate struct {
	index     int
	canonical string
	score     int
}

func mapColumns(header []string) map[int]string {
	var candidates []candidate
	for idx, raw := range header {
		h := strings.ToLower(strings.TrimSpace(raw))
		if h == "" {
			continue
		}
		for canonical, keywords := range columnKeywords {
			score := 0
			for _, kw := range keywords {
				if h == kw {
					score += 10
				} else if strings.Contains(h, kw) {
					score += len(kw)
				}
			}
			if score > 0 {
				candidates = append(candidates, candidate{index: idx, canonical: canonical, score: score})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].index != candidates[j].index {
			return candidates[i].index < candidates[j].index
		}
		return candidates[i].canonical < candidates[j].canonical
	})

	mapping := make(map[int]string)
	claimedColumn := make(map[string]bool)
	claimedIndex := make(map[int]bool)
	for _, c := range candidates {
		if claimedColumn[c.canonical] || claimedIndex[c.index] {
			continue
		}
		mapping[c.index] = c.canonical
		claimedColumn[c.canonical] = true
		claimedIndex[c.index] = true
	}
	return mapping
}

func mappedCanonical(mapping map[int]string, canonical string) (int, bool) {
	for idx, name := range mapping {
		if name == canonical {
			return idx, true
		}
	}
	return 0, false
}

// parseDate tries the known formats in order.
func parseDate(value string) (time.Time, bool) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseAmount strips currency symbols and thousands separators before
// parsing, so "$12,500.00" and "12500" both coerce.
func parseAmount(value string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '¥', ',', ' ':
			return -1
		}
		return r
	}, value)

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// canonicalRenewal maps free-form renewal text to the canonical enum.
func canonicalRenewal(value string) entity.RenewalOption {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "1":
		return entity.RenewalYes
	case "no", "n", "false", "0", "none":
		return entity.RenewalNo
	case "auto", "auto-renew", "autorenew", "automatic":
		return entity.RenewalAuto
	case "manual":
		return entity.RenewalManual
	case "optional", "option":
		return entity.RenewalOptional
	case "":
		return entity.RenewalUnknown
	default:
		return entity.RenewalUnknown
	}
}
