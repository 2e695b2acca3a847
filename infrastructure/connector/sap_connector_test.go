package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issaops/contract-pipeline/config"
	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/pkg/logging"
)

func sapTestServer(t *testing.T, contracts string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		if r.Form.Get("client_secret") != "good-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","expires_in":3600}`))
	})

	mux.HandleFunc("/sap/opu/odata/sap/MM_PUR_CONTRACT_SRV/ContractSet", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(contracts))
	})

	return httptest.NewServer(mux)
}

func TestSAPConnectorFetch(t *testing.T) {
	srv := sapTestServer(t, `{"d":{"results":[{
		"VendorName":"SAP Vendor GmbH",
		"MaterialDescription":"Cloud ERP",
		"ValidityStart":"/Date(1735689600000)/",
		"ValidityEnd":"/Date(1767225600000)/",
		"TargetValue":"250000.00",
		"Currency":"EUR",
		"ContractNumber":"4600001234",
		"PurchasingOrganization":"IT"
	}]}}`)
	defer srv.Close()

	c := NewSAPConnector(&config.SAPSourceConfig{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "good-secret",
	}, logging.NewNopLogger(), srv.Client())

	records, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "SAP Vendor GmbH", r.Vendor)
	assert.Equal(t, "Cloud ERP", r.Product)
	assert.Equal(t, 250000.0, r.AnnualSpend)
	assert.Equal(t, SourceSAP, r.SourceSystem)
	require.NotNil(t, r.ContractStart)
	assert.Equal(t, "2025-01-01", r.ContractStart.Format("2006-01-02"))
	require.NotNil(t, r.ContractEnd)
	assert.Equal(t, "2026-01-01", r.ContractEnd.Format("2006-01-02"))
}

func TestSAPConnectorBadCredentials(t *testing.T) {
	srv := sapTestServer(t, `{"d":{"results":[]}}`)
	defer srv.Close()

	c := NewSAPConnector(&config.SAPSourceConfig{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "wrong-secret",
	}, logging.NewNopLogger(), srv.Client())

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrSourceAuth)
}

func TestSAPConnectorServerDown(t *testing.T) {
	srv := sapTestServer(t, "")
	srv.Close() // refuse all connections

	c := NewSAPConnector(&config.SAPSourceConfig{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "good-secret",
	}, logging.NewNopLogger(), &http.Client{Timeout: time.Second})

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrSourceUnavailable)
}

func TestParseSAPDate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string // empty means nil
	}{
		{"odata millis", "/Date(1735689600000)/", "2025-01-01"},
		{"odata with offset", "/Date(1735689600000+0000)/", "2025-01-01"},
		{"plain iso", "2025-06-15", "2025-06-15"},
		{"empty", "", ""},
		{"garbage", "/Date(abc)/", ""},
		{"free text", "sometime next year", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSAPDate(tt.value)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}
