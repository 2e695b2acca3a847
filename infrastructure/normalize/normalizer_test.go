package normalize

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/pkg/logging"
)

func writeUpload(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessMapsStandardHeaders(t *testing.T) {
	dir := t.TempDir()
	path := writeUpload(t, dir, "contracts.csv",
		"vendor,product,contract_start,contract_end,annual_spend,currency\n"+
			"Acme Corp,CRM,2025-01-01,2026-01-01,12500,USD\n")

	n := NewNormalizer(nil, logging.NewNopLogger())
	records, summary, err := n.Process(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, summary.RowsIn)
	assert.Equal(t, 1, summary.RowsOut)

	r := records[0]
	assert.Equal(t, "Acme Corp", r.Vendor)
	assert.Equal(t, "CRM", r.Product)
	assert.Equal(t, 12500.0, r.AnnualSpend)
	assert.Equal(t, "USD", r.Currency)
	assert.Equal(t, SourceFileUpload, r.SourceSystem)
	require.NotNil(t, r.ContractStart)
	assert.Equal(t, "2025-01-01", r.ContractStart.Format("2006-01-02"))
}

func TestProcessAutoMapsSupplierHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeUpload(t, dir, "upload.csv",
		"Supplier,Service Description,Total Cost\n"+
			"Globex,Payroll,\"$8,000.50\"\n")

	n := NewNormalizer(nil, logging.NewNopLogger())
	records, summary, err := n.Process(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.GreaterOrEqual(t, summary.ColumnsMapped, 3)

	assert.Equal(t, "Globex", records[0].Vendor)
	assert.Equal(t, "Payroll", records[0].Product)
	assert.Equal(t, 8000.50, records[0].AnnualSpend)
}

func TestProcessParksUnparseableDate(t *testing.T) {
	dir := t.TempDir()
	path := writeUpload(t, dir, "upload.csv",
		"vendor,product,contract_end\n"+
			"Acme,CRM,whenever\n")

	n := NewNormalizer(nil, logging.NewNopLogger())
	records, summary, err := n.Process(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].ContractEnd)
	assert.Equal(t, "whenever", records[0].Extra[entity.ColumnContractEnd+"_raw"])
	assert.NotEmpty(t, summary.Warnings)
}

func TestProcessUnparseableAmountDefaultsToZero(t *testing.T) {
	dir := t.TempDir()
	path := writeUpload(t, dir, "upload.csv",
		"vendor,product,annual_spend\n"+
			"Acme,CRM,a lot\n")

	n := NewNormalizer(nil, logging.NewNopLogger())
	records, summary, err := n.Process(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0.0, records[0].AnnualSpend)
	assert.Equal(t, "a lot", records[0].Extra[entity.ColumnAnnualSpend+"_raw"])
	assert.NotEmpty(t, summary.Warnings)
}

func TestProcessKeepsUnmappedColumnsInExtra(t *testing.T) {
	dir := t.TempDir()
	path := writeUpload(t, dir, "upload.csv",
		"vendor,product,internal_owner\n"+
			"Acme,CRM,J. Smith\n")

	n := NewNormalizer(nil, logging.NewNopLogger())
	records, _, err := n.Process(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "J. Smith", records[0].Extra["internal_owner"])
}

func TestProcessRenewalCanonicalization(t *testing.T) {
	dir := t.TempDir()
	path := writeUpload(t, dir, "upload.csv",
		"vendor,product,renewal_option\n"+
			"A,P1,yes\n"+
			"B,P2,AUTO\n"+
			"C,P3,nonsense\n"+
			"D,P4,\n")

	n := NewNormalizer(nil, logging.NewNopLogger())
	records, _, err := n.Process(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, entity.RenewalYes, records[0].RenewalOption)
	assert.Equal(t, entity.RenewalAuto, records[1].RenewalOption)
	assert.Equal(t, entity.RenewalUnknown, records[2].RenewalOption)
	assert.Equal(t, entity.RenewalUnknown, records[3].RenewalOption)
}

func TestProcessEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeUpload(t, dir, "empty.csv", "")

	n := NewNormalizer(nil, logging.NewNopLogger())
	records, summary, err := n.Process(context.Background(), path)

	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Contains(t, summary.Warnings, "file is empty")
}

func TestProcessDirectoryArchivesFiles(t *testing.T) {
	watch := t.TempDir()
	processed := t.TempDir()

	writeUpload(t, watch, "a.csv", "vendor,product\nAcme,CRM\n")
	writeUpload(t, watch, "b.csv", "vendor,product\nGlobex,ERP\n")
	writeUpload(t, watch, "notes.txt", "not a csv")

	n := NewNormalizer(&Config{ProcessedDirectory: processed}, logging.NewNopLogger())
	records, summaries, err := n.ProcessDirectory(context.Background(), watch)

	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Len(t, summaries, 2)

	// CSVs were moved out of the watch directory; the txt stayed.
	remaining, err := os.ReadDir(watch)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "notes.txt", remaining[0].Name())

	archived, err := os.ReadDir(processed)
	require.NoError(t, err)
	assert.Len(t, archived, 2)
}

func TestProcessDirectoryMissingDirIsNotAnError(t *testing.T) {
	n := NewNormalizer(nil, logging.NewNopLogger())
	records, summaries, err := n.ProcessDirectory(context.Background(), "/nonexistent/uploads")

	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, summaries)
}

func TestProcessTable(t *testing.T) {
	n := NewNormalizer(nil, logging.NewNopLogger())

	records, summary, err := n.ProcessTable(context.Background(),
		[]string{"vendor", "product", "annual_spend"},
		[][]string{
			{"Acme", "CRM", "1000"},
			{"Globex", "ERP", "2000"},
		},
	)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, summary.RowsIn)
	assert.Equal(t, 2, summary.RowsOut)
	assert.Equal(t, "Globex", records[1].Vendor)
	assert.Equal(t, 2000.0, records[1].AnnualSpend)
}

func TestMapColumnsPrefersExactMatches(t *testing.T) {
	mapping := mapColumns([]string{"vendor", "vendor_notes", "product"})

	assert.Equal(t, entity.ColumnVendor, mapping[0])
	assert.Equal(t, entity.ColumnProduct, mapping[2])
	// The weaker "vendor_notes" match must not steal the vendor column.
	assert.NotEqual(t, entity.ColumnVendor, mapping[1])
}
