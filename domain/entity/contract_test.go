package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidationKey(t *testing.T) {
	tests := []struct {
		name    string
		vendor  string
		product string
		want    string
	}{
		{"plain", "Acme Corp", "CRM", "ACME CORP|CRM"},
		{"whitespace trimmed", "  Acme Corp ", " CRM ", "ACME CORP|CRM"},
		{"case folded", "acme corp", "crm", "ACME CORP|CRM"},
		{"empty product", "Acme Corp", "", "ACME CORP|"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ContractRecord{Vendor: tt.vendor, Product: tt.product}
			assert.Equal(t, tt.want, r.ConsolidationKey())
		})
	}
}

func TestConsolidationKeyEquivalence(t *testing.T) {
	a := ContractRecord{Vendor: "Acme Corp", Product: "CRM"}
	b := ContractRecord{Vendor: "ACME CORP ", Product: " crm"}
	assert.Equal(t, a.ConsolidationKey(), b.ConsolidationKey())
}

func TestComputeDerivedFields(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("critical under 30 days", func(t *testing.T) {
		end := now.AddDate(0, 0, 10)
		r := ContractRecord{ContractEnd: &end}
		r.ComputeDerivedFields(now)

		require.NotNil(t, r.DaysUntilExpiry)
		assert.Equal(t, 10, *r.DaysUntilExpiry)
		assert.Equal(t, AlertCritical, r.AlertStatus)
	})

	t.Run("warning under 90 days", func(t *testing.T) {
		end := now.AddDate(0, 0, 60)
		r := ContractRecord{ContractEnd: &end}
		r.ComputeDerivedFields(now)

		assert.Equal(t, AlertWarning, r.AlertStatus)
	})

	t.Run("ok beyond 90 days", func(t *testing.T) {
		end := now.AddDate(0, 0, 365)
		r := ContractRecord{ContractEnd: &end}
		r.ComputeDerivedFields(now)

		assert.Equal(t, AlertOK, r.AlertStatus)
	})

	t.Run("unknown without end date", func(t *testing.T) {
		r := ContractRecord{}
		r.ComputeDerivedFields(now)

		assert.Nil(t, r.DaysUntilExpiry)
		assert.Equal(t, AlertUnknown, r.AlertStatus)
		assert.Nil(t, r.DurationDays)
	})

	t.Run("duration from both dates", func(t *testing.T) {
		start := now
		end := now.AddDate(0, 0, 365)
		r := ContractRecord{ContractStart: &start, ContractEnd: &end}
		r.ComputeDerivedFields(now)

		require.NotNil(t, r.DurationDays)
		assert.Equal(t, 365, *r.DurationDays)
	})
}

func TestFieldStringRoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	original := ContractRecord{
		Vendor:         "Acme Corp",
		Product:        "CRM",
		ContractStart:  &start,
		AnnualSpend:    12500.5,
		Currency:       "USD",
		ContractNumber: "C-1001",
		Department:     "IT",
		RenewalOption:  RenewalAuto,
	}

	columns := []string{
		ColumnVendor, ColumnProduct, ColumnContractStart,
		ColumnAnnualSpend, ColumnCurrency, ColumnContractNumber,
		ColumnDepartment, ColumnRenewalOption,
	}

	var restored ContractRecord
	for _, col := range columns {
		require.NoError(t, restored.SetFieldString(col, original.FieldString(col)))
	}

	assert.Equal(t, original.Vendor, restored.Vendor)
	assert.Equal(t, original.Product, restored.Product)
	require.NotNil(t, restored.ContractStart)
	assert.True(t, original.ContractStart.Equal(*restored.ContractStart))
	assert.Equal(t, original.AnnualSpend, restored.AnnualSpend)
	assert.Equal(t, original.RenewalOption, restored.RenewalOption)
}

func TestSetFieldStringRejectsMalformedValues(t *testing.T) {
	var r ContractRecord

	assert.ErrorIs(t, r.SetFieldString(ColumnContractStart, "not-a-date"), ErrMalformedRecord)
	assert.ErrorIs(t, r.SetFieldString(ColumnAnnualSpend, "not-a-number"), ErrMalformedRecord)
}

func TestSetFieldStringUnknownColumnGoesToExtra(t *testing.T) {
	var r ContractRecord
	require.NoError(t, r.SetFieldString("account_manager", "J. Smith"))
	assert.Equal(t, "J. Smith", r.Extra["account_manager"])
	assert.Equal(t, "J. Smith", r.FieldString("account_manager"))
}

func TestSpendInRange(t *testing.T) {
	assert.True(t, (&ContractRecord{AnnualSpend: 0}).SpendInRange())
	assert.True(t, (&ContractRecord{AnnualSpend: MaxAnnualSpend}).SpendInRange())
	assert.False(t, (&ContractRecord{AnnualSpend: -1}).SpendInRange())
	assert.False(t, (&ContractRecord{AnnualSpend: MaxAnnualSpend + 1}).SpendInRange())
}

func TestPipelineStatsRecord(t *testing.T) {
	stats := &PipelineStats{}
	end := time.Now().UTC()

	stats.Record(&PipelineRunResult{Success: true, RecordsProcessed: 10, EndTime: end})
	stats.Record(&PipelineRunResult{Success: false, Errors: []string{"boom"}, EndTime: end})

	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 1, stats.SuccessfulRuns)
	assert.Equal(t, 1, stats.FailedRuns)
	assert.Equal(t, 10, stats.RecordsProcessed)
	assert.Equal(t, "boom", stats.LastError)
}
