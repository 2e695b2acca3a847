package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/issaops/contract-pipeline/config"
	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/pkg/logging"
)

// SourcePostgres is the registry name of the internal contract registry.
const SourcePostgres = "Postgres"

// postgresConnector reads the internal contract registry table. The
// registry is an in-house Postgres database, so rows are already close
// to the canonical schema.
type postgresConnector struct {
	config *config.PostgresSourceConfig
	logger *logging.Logger
	db     *sqlx.DB
}

// NewPostgresConnector creates a connector for the internal contract
// registry. The connection is established lazily on first fetch.
func NewPostgresConnector(cfg *config.PostgresSourceConfig, logger *logging.Logger) service.Connector {
	return &postgresConnector{
		config: cfg,
		logger: logger.WithComponent("postgres_connector"),
	}
}

// Name returns the registry name of this connector.
func (c *postgresConnector) Name() string {
	return SourcePostgres
}

// Fetch reads all contract rows from the configured table.
func (c *postgresConnector) Fetch(ctx context.Context) ([]entity.ContractRecord, error) {
	db, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT vendor, product, contract_start, contract_end,
		       annual_spend, currency, contract_number, department, renewal_option
		FROM %s`, c.config.Table)

	var rows []postgresContractRow
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(entity.ErrSourceUnavailable, err.Error())
	}

	now := time.Now().UTC()
	records := make([]entity.ContractRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord(now))
	}

	c.logger.Info("Fetched contract registry rows", logging.Int("rows", len(records)))
	return records, nil
}

func (c *postgresConnector) connect(ctx context.Context) (*sqlx.DB, error) {
	if c.db != nil {
		return c.db, nil
	}

	db, err := sqlx.Open("postgres", c.config.DSN)
	if err != nil {
		return nil, errors.Wrap(entity.ErrSourceUnavailable, err.Error())
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(entity.ErrSourceUnavailable, err.Error())
	}

	c.db = db
	return db, nil
}

// Close releases the database connection pool.
func (c *postgresConnector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// postgresContractRow mirrors one row of the contract registry table.
type postgresContractRow struct {
	Vendor         string          `db:"vendor"`
	Product        string          `db:"product"`
	ContractStart  sql.NullTime    `db:"contract_start"`
	ContractEnd    sql.NullTime    `db:"contract_end"`
	AnnualSpend    sql.NullFloat64 `db:"annual_spend"`
	Currency       sql.NullString  `db:"currency"`
	ContractNumber sql.NullString  `db:"contract_number"`
	Department     sql.NullString  `db:"department"`
	RenewalOption  sql.NullString  `db:"renewal_option"`
}

func (r postgresContractRow) toRecord(fetchedAt time.Time) entity.ContractRecord {
	record := entity.ContractRecord{
		Vendor:         r.Vendor,
		Product:        r.Product,
		AnnualSpend:    r.AnnualSpend.Float64,
		Currency:       r.Currency.String,
		ContractNumber: r.ContractNumber.String,
		Department:     r.Department.String,
		RenewalOption:  entity.RenewalUnknown,
		SourceSystem:   SourcePostgres,
		FetchedAt:      fetchedAt,
	}
	if r.RenewalOption.Valid && r.RenewalOption.String != "" {
		record.RenewalOption = entity.RenewalOption(r.RenewalOption.String)
	}
	if r.ContractStart.Valid {
		t := r.ContractStart.Time.UTC()
		record.ContractStart = &t
	}
	if r.ContractEnd.Valid {
		t := r.ContractEnd.Time.UTC()
		record.ContractEnd = &t
	}

	record.ComputeDerivedFields(fetchedAt)
	return record
}
