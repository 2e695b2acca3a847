package entity

import (
	"strconv"
	"strings"
	"time"
)

// Canonical column names for the consolidated contract table.
const (
	ColumnVendor         = "vendor"
	ColumnProduct        = "product"
	ColumnContractStart  = "contract_start"
	ColumnContractEnd    = "contract_end"
	ColumnAnnualSpend    = "annual_spend"
	ColumnCurrency       = "currency"
	ColumnContractNumber = "contract_number"
	ColumnDepartment     = "department"
	ColumnRenewalOption  = "renewal_option"
)

// MaxAnnualSpend is the upper bound for a plausible annual spend value.
// Records outside [0, MaxAnnualSpend] are removed by the quality hard filter.
const MaxAnnualSpend = 50_000_000

// ContractRecord represents one vendor contract in the canonical schema.
type ContractRecord struct {
	// Core contract data
	Vendor         string        `json:"vendor"`
	Product        string        `json:"product"`
	ContractStart  *time.Time    `json:"contract_start,omitempty"`
	ContractEnd    *time.Time    `json:"contract_end,omitempty"`
	AnnualSpend    float64       `json:"annual_spend"`
	Currency       string        `json:"currency,omitempty"`
	ContractNumber string        `json:"contract_number,omitempty"`
	Department     string        `json:"department,omitempty"`
	RenewalOption  RenewalOption `json:"renewal_option"`

	// Provenance
	SourceSystem string    `json:"source_system"`
	FetchedAt    time.Time `json:"fetched_at"`

	// Derived fields
	DaysUntilExpiry *int        `json:"days_until_expiry,omitempty"`
	AlertStatus     AlertStatus `json:"alert_status"`
	DurationDays    *int        `json:"duration_days,omitempty"`

	// Extra holds source columns with no canonical mapping and raw values
	// that failed to parse (keyed "<column>_raw").
	Extra map[string]string `json:"extra,omitempty"`

	// Encrypted holds ciphertext per secured column. While a column is
	// present here, its plain field carries the zero value.
	Encrypted map[string]string `json:"encrypted,omitempty"`
}

// RenewalOption represents the canonical renewal option of a contract.
type RenewalOption string

const (
	RenewalYes      RenewalOption = "Yes"
	RenewalNo       RenewalOption = "No"
	RenewalAuto     RenewalOption = "Auto-Renew"
	RenewalManual   RenewalOption = "Manual"
	RenewalOptional RenewalOption = "Optional"
	RenewalUnknown  RenewalOption = "Unknown"
)

// AlertStatus classifies a contract by how close it is to expiry.
type AlertStatus string

const (
	AlertCritical AlertStatus = "Critical" // fewer than 30 days left
	AlertWarning  AlertStatus = "Warning"  // fewer than 90 days left
	AlertOK       AlertStatus = "OK"
	AlertUnknown  AlertStatus = "Unknown" // no end date
)

// ConsolidationKey is the transient identity used to detect duplicate
// records across sources. It is never persisted.
func (r *ContractRecord) ConsolidationKey() string {
	return strings.ToUpper(strings.TrimSpace(r.Vendor)) + "|" +
		strings.ToUpper(strings.TrimSpace(r.Product))
}

// ComputeDerivedFields recomputes days-until-expiry, alert status and
// contract duration from the date fields, relative to now.
func (r *ContractRecord) ComputeDerivedFields(now time.Time) {
	if r.ContractEnd != nil {
		days := int(r.ContractEnd.Sub(now).Hours() / 24)
		r.DaysUntilExpiry = &days

		switch {
		case days < 30:
			r.AlertStatus = AlertCritical
		case days < 90:
			r.AlertStatus = AlertWarning
		default:
			r.AlertStatus = AlertOK
		}
	} else {
		r.DaysUntilExpiry = nil
		r.AlertStatus = AlertUnknown
	}

	if r.ContractStart != nil && r.ContractEnd != nil {
		duration := int(r.ContractEnd.Sub(*r.ContractStart).Hours() / 24)
		r.DurationDays = &duration
	} else {
		r.DurationDays = nil
	}
}

// HasVendor returns true if the record carries a non-empty vendor.
func (r *ContractRecord) HasVendor() bool {
	return strings.TrimSpace(r.Vendor) != ""
}

// SpendInRange returns true if the annual spend is within plausible bounds.
func (r *ContractRecord) SpendInRange() bool {
	return r.AnnualSpend >= 0 && r.AnnualSpend <= MaxAnnualSpend
}

// FieldString returns the string representation of a canonical column, as
// used by the secure field gate and the CSV store.
func (r *ContractRecord) FieldString(column string) string {
	switch column {
	case ColumnVendor:
		return r.Vendor
	case ColumnProduct:
		return r.Product
	case ColumnContractStart:
		return formatDate(r.ContractStart)
	case ColumnContractEnd:
		return formatDate(r.ContractEnd)
	case ColumnAnnualSpend:
		return strconv.FormatFloat(r.AnnualSpend, 'f', -1, 64)
	case ColumnCurrency:
		return r.Currency
	case ColumnContractNumber:
		return r.ContractNumber
	case ColumnDepartment:
		return r.Department
	case ColumnRenewalOption:
		return string(r.RenewalOption)
	default:
		return r.Extra[column]
	}
}

// SetFieldString assigns a canonical column from its string representation.
// Returns ErrMalformedRecord if the value cannot be coerced.
func (r *ContractRecord) SetFieldString(column, value string) error {
	switch column {
	case ColumnVendor:
		r.Vendor = value
	case ColumnProduct:
		r.Product = value
	case ColumnContractStart:
		t, err := parseDate(value)
		if err != nil {
			return ErrMalformedRecord
		}
		r.ContractStart = t
	case ColumnContractEnd:
		t, err := parseDate(value)
		if err != nil {
			return ErrMalformedRecord
		}
		r.ContractEnd = t
	case ColumnAnnualSpend:
		if value == "" {
			r.AnnualSpend = 0
			return nil
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return ErrMalformedRecord
		}
		r.AnnualSpend = f
	case ColumnCurrency:
		r.Currency = value
	case ColumnContractNumber:
		r.ContractNumber = value
	case ColumnDepartment:
		r.Department = value
	case ColumnRenewalOption:
		r.RenewalOption = RenewalOption(value)
	default:
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		r.Extra[column] = value
	}
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func parseDate(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Domain errors
var (
	ErrMalformedRecord    = NewDomainError("MALFORMED_RECORD", "record value cannot be coerced to the canonical schema")
	ErrSourceUnavailable  = NewDomainError("SOURCE_UNAVAILABLE", "data source is unreachable")
	ErrSourceAuth         = NewDomainError("SOURCE_AUTH", "data source rejected the configured credentials")
	ErrSecurityFailure    = NewDomainError("SECURITY_FAILURE", "value could not be encrypted or decrypted")
	ErrDuplicateConnector = NewDomainError("DUPLICATE_CONNECTOR", "a connector with this name is already registered")
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}
