package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/pkg/logging"
)

func newConsolidator(t *testing.T) ConsolidationService {
	t.Helper()
	return NewConsolidationService(logging.NewNopLogger(), nil, nil)
}

func record(vendor, product, source string, spend float64, fetchedAt time.Time) entity.ContractRecord {
	return entity.ContractRecord{
		Vendor:       vendor,
		Product:      product,
		SourceSystem: source,
		AnnualSpend:  spend,
		FetchedAt:    fetchedAt,
	}
}

func TestConsolidateHigherPriorityWins(t *testing.T) {
	svc := newConsolidator(t)
	now := time.Now().UTC()

	// File upload arrives first; SAP outranks it despite arriving later.
	out, warnings := svc.Consolidate(context.Background(),
		[]entity.ContractRecord{record("Acme", "CRM", "File_Upload", 1000, now)},
		[]entity.ContractRecord{record("acme ", " crm", "SAP", 2000, now.Add(time.Minute))},
	)

	require.Len(t, out, 1)
	assert.Equal(t, "SAP", out[0].SourceSystem)
	assert.Equal(t, 2000.0, out[0].AnnualSpend)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "1 duplicate")
}

func TestConsolidateSamePriorityNewerFetchWins(t *testing.T) {
	svc := newConsolidator(t)
	now := time.Now().UTC()

	// Source B fetched later at the same priority level, so its row
	// (spend 2000) must win.
	a := record("Acme", "CRM", "Paycom", 1000, now)
	b := record("Acme", "CRM", "Postgres", 2000, now.Add(time.Hour))

	out, _ := svc.Consolidate(context.Background(),
		[]entity.ContractRecord{a},
		[]entity.ContractRecord{b},
	)

	require.Len(t, out, 1)
	assert.Equal(t, "Postgres", out[0].SourceSystem)
	assert.Equal(t, 2000.0, out[0].AnnualSpend)
}

func TestConsolidateFullTieKeepsFirstSeen(t *testing.T) {
	svc := newConsolidator(t)
	now := time.Now().UTC()

	a := record("Acme", "CRM", "Paycom", 1000, now)
	b := record("Acme", "CRM", "Postgres", 2000, now)

	out, _ := svc.Consolidate(context.Background(), []entity.ContractRecord{a, b})

	require.Len(t, out, 1)
	assert.Equal(t, "Paycom", out[0].SourceSystem)
}

func TestConsolidatePreservesDistinctRecords(t *testing.T) {
	svc := newConsolidator(t)
	now := time.Now().UTC()

	out, warnings := svc.Consolidate(context.Background(), []entity.ContractRecord{
		record("Acme", "CRM", "SAP", 1000, now),
		record("Acme", "ERP", "SAP", 2000, now),
		record("Globex", "CRM", "SAP", 3000, now),
	})

	assert.Len(t, out, 3)
	assert.Empty(t, warnings)
}

func TestConsolidateIsIdempotent(t *testing.T) {
	svc := newConsolidator(t)
	now := time.Now().UTC()

	first, _ := svc.Consolidate(context.Background(), []entity.ContractRecord{
		record("Acme", "CRM", "File_Upload", 1000, now),
		record("Acme", "CRM", "SAP", 2000, now),
		record("Globex", "ERP", "Paycom", 500, now),
	})

	second, warnings := svc.Consolidate(context.Background(), first)

	assert.Equal(t, first, second)
	assert.Empty(t, warnings)
}

func TestConsolidateStableOutputOrder(t *testing.T) {
	svc := newConsolidator(t)
	now := time.Now().UTC()

	out, _ := svc.Consolidate(context.Background(), []entity.ContractRecord{
		record("Zeta", "One", "SAP", 1, now),
		record("Alpha", "Two", "SAP", 2, now),
		record("Zeta", "One", "File_Upload", 3, now), // duplicate, loses
		record("Mid", "Three", "SAP", 4, now),
	})

	require.Len(t, out, 3)
	// First-seen order of keys is preserved.
	assert.Equal(t, "Zeta", out[0].Vendor)
	assert.Equal(t, "Alpha", out[1].Vendor)
	assert.Equal(t, "Mid", out[2].Vendor)
}

func TestConsolidateEmptyInput(t *testing.T) {
	svc := newConsolidator(t)

	out, warnings := svc.Consolidate(context.Background())
	assert.Empty(t, out)
	assert.Empty(t, warnings)
}

func TestConsolidateCustomPriority(t *testing.T) {
	svc := NewConsolidationService(logging.NewNopLogger(), nil, &ConsolidationConfig{
		SourcePriority: map[string]int{"Legacy": 5, "SAP": 1},
	})
	now := time.Now().UTC()

	out, _ := svc.Consolidate(context.Background(), []entity.ContractRecord{
		record("Acme", "CRM", "SAP", 1000, now.Add(time.Hour)),
		record("Acme", "CRM", "Legacy", 2000, now),
	})

	require.Len(t, out, 1)
	assert.Equal(t, "Legacy", out[0].SourceSystem)
}
