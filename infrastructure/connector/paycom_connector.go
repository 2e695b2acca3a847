package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/issaops/contract-pipeline/config"
	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/pkg/logging"
)

// SourcePaycom is the registry name of the Paycom HR connector.
const SourcePaycom = "Paycom"

// paycomConnector pulls HR vendor contracts from the Paycom REST API
// using static API-key authentication.
type paycomConnector struct {
	config *config.PaycomSourceConfig
	logger *logging.Logger
	client *http.Client
}

// NewPaycomConnector creates a connector for the Paycom HR API.
func NewPaycomConnector(cfg *config.PaycomSourceConfig, logger *logging.Logger, client *http.Client) service.Connector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &paycomConnector{
		config: cfg,
		logger: logger.WithComponent("paycom_connector"),
		client: client,
	}
}

// Name returns the registry name of this connector.
func (c *paycomConnector) Name() string {
	return SourcePaycom
}

// TestConnection verifies the credentials against the company endpoint
// without pulling any contract data.
func (c *paycomConnector) TestConnection(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/companies/%s", strings.TrimRight(c.config.BaseURL, "/"), c.config.CompanyID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build connection test request")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(entity.ErrSourceUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(entity.ErrSourceAuth, "connection test returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return errors.Wrapf(entity.ErrSourceUnavailable, "connection test returned %d", resp.StatusCode)
	}
	return nil
}

// Fetch pulls the vendor contract listing for the configured company.
func (c *paycomConnector) Fetch(ctx context.Context) ([]entity.ContractRecord, error) {
	endpoint := fmt.Sprintf("%s/companies/%s/vendor-contracts",
		strings.TrimRight(c.config.BaseURL, "/"), c.config.CompanyID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build vendor contract request")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(entity.ErrSourceUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Wrapf(entity.ErrSourceAuth, "vendor listing returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Wrapf(entity.ErrSourceUnavailable, "vendor listing returned %d", resp.StatusCode)
	}

	var payload struct {
		Vendors []paycomVendorContract `json:"vendors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "failed to decode vendor listing")
	}

	now := time.Now().UTC()
	records := make([]entity.ContractRecord, 0, len(payload.Vendors))
	for _, raw := range payload.Vendors {
		records = append(records, raw.toRecord(now))
	}

	c.logger.Info("Fetched Paycom vendor contracts", logging.Int("rows", len(records)))
	return records, nil
}

// paycomVendorContract mirrors one entry of the vendor listing response.
type paycomVendorContract struct {
	VendorName    string  `json:"vendor_name"`
	ServiceType   string  `json:"service_type"`
	ContractStart string  `json:"contract_start"`
	ContractEnd   string  `json:"contract_end"`
	AnnualCost    float64 `json:"annual_cost"`
	Currency      string  `json:"currency"`
	ContractID    string  `json:"contract_id"`
	Department    string  `json:"department"`
	AutoRenew     bool    `json:"auto_renew"`
}

func (p paycomVendorContract) toRecord(fetchedAt time.Time) entity.ContractRecord {
	record := entity.ContractRecord{
		Vendor:         p.VendorName,
		Product:        p.ServiceType,
		AnnualSpend:    p.AnnualCost,
		Currency:       p.Currency,
		ContractNumber: p.ContractID,
		Department:     p.Department,
		RenewalOption:  entity.RenewalNo,
		SourceSystem:   SourcePaycom,
		FetchedAt:      fetchedAt,
	}
	if p.AutoRenew {
		record.RenewalOption = entity.RenewalAuto
	}

	record.ContractStart = parseISODate(p.ContractStart)
	record.ContractEnd = parseISODate(p.ContractEnd)
	record.ComputeDerivedFields(fetchedAt)

	return record
}

// parseISODate parses a plain ISO date, tolerating an empty value.
func parseISODate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}
