package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/issaops/contract-pipeline/config"
	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/pkg/logging"
)

// SourceSAP is the registry name of the SAP procurement connector.
const SourceSAP = "SAP"

// sapConnector pulls purchasing contracts from the SAP procurement OData
// API using the OAuth2 client-credentials flow.
type sapConnector struct {
	config *config.SAPSourceConfig
	logger *logging.Logger
	client *http.Client

	token       string
	tokenExpiry time.Time
}

// NewSAPConnector creates a connector for the SAP procurement API.
func NewSAPConnector(cfg *config.SAPSourceConfig, logger *logging.Logger, client *http.Client) service.Connector {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &sapConnector{
		config: cfg,
		logger: logger.WithComponent("sap_connector"),
		client: client,
	}
}

// Name returns the registry name of this connector.
func (c *sapConnector) Name() string {
	return SourceSAP
}

// Fetch authenticates if needed and pulls the full active contract list.
func (c *sapConnector) Fetch(ctx context.Context) ([]entity.ContractRecord, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/sap/opu/odata/sap/MM_PUR_CONTRACT_SRV/ContractSet"
	query := url.Values{}
	query.Set("$format", "json")
	query.Set("$filter", "Status eq 'ACTIVE'")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build contract request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(entity.ErrSourceUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.token = ""
		return nil, errors.Wrapf(entity.ErrSourceAuth, "contract listing returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Wrapf(entity.ErrSourceUnavailable, "contract listing returned %d", resp.StatusCode)
	}

	var payload struct {
		D struct {
			Results []sapContract `json:"results"`
		} `json:"d"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "failed to decode contract listing")
	}

	now := time.Now().UTC()
	records := make([]entity.ContractRecord, 0, len(payload.D.Results))
	for _, raw := range payload.D.Results {
		records = append(records, raw.toRecord(now))
	}

	c.logger.Info("Fetched SAP contracts", logging.Int("rows", len(records)))
	return records, nil
}

// ensureToken acquires or refreshes the OAuth2 access token.
func (c *sapConnector) ensureToken(ctx context.Context) error {
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(entity.ErrSourceUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(entity.ErrSourceAuth, "token endpoint returned %d", resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return errors.Wrap(err, "failed to decode token response")
	}
	if token.AccessToken == "" {
		return errors.Wrap(entity.ErrSourceAuth, "token endpoint returned an empty token")
	}

	c.token = token.AccessToken
	// Refresh one minute early so in-flight requests never carry a stale token.
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)

	c.logger.Debug("Acquired SAP access token")
	return nil
}

// sapContract mirrors one entry of the OData ContractSet response.
type sapContract struct {
	VendorName     string `json:"VendorName"`
	MaterialDesc   string `json:"MaterialDescription"`
	ValidityStart  string `json:"ValidityStart"`
	ValidityEnd    string `json:"ValidityEnd"`
	TargetValue    string `json:"TargetValue"`
	Currency       string `json:"Currency"`
	ContractNumber string `json:"ContractNumber"`
	PurchasingOrg  string `json:"PurchasingOrganization"`
}

func (s sapContract) toRecord(fetchedAt time.Time) entity.ContractRecord {
	record := entity.ContractRecord{
		Vendor:         s.VendorName,
		Product:        s.MaterialDesc,
		Currency:       s.Currency,
		ContractNumber: s.ContractNumber,
		Department:     s.PurchasingOrg,
		RenewalOption:  entity.RenewalUnknown,
		SourceSystem:   SourceSAP,
		FetchedAt:      fetchedAt,
	}

	if spend, err := strconv.ParseFloat(strings.TrimSpace(s.TargetValue), 64); err == nil {
		record.AnnualSpend = spend
	}

	record.ContractStart = parseSAPDate(s.ValidityStart)
	record.ContractEnd = parseSAPDate(s.ValidityEnd)
	record.ComputeDerivedFields(fetchedAt)

	return record
}

// parseSAPDate decodes the legacy OData "/Date(milliseconds)/" encoding.
// Unparseable values yield nil rather than an error; the quality stage
// accounts for missing dates.
func parseSAPDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if strings.HasPrefix(value, "/Date(") && strings.HasSuffix(value, ")/") {
		inner := strings.TrimSuffix(strings.TrimPrefix(value, "/Date("), ")/")
		// Some gateways append a timezone offset, e.g. /Date(1700000000000+0000)/.
		if i := strings.IndexAny(inner, "+-"); i > 0 {
			inner = inner[:i]
		}
		ms, err := strconv.ParseInt(inner, 10, 64)
		if err != nil {
			return nil
		}
		t := time.UnixMilli(ms).UTC()
		return &t
	}

	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t
	}
	return nil
}
