package secure

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"

	"github.com/issaops/contract-pipeline/domain/entity"
	"github.com/issaops/contract-pipeline/domain/service"
	"github.com/issaops/contract-pipeline/pkg/logging"
	"github.com/issaops/contract-pipeline/pkg/metrics"
)

const (
	keySize          = 32
	pbkdf2Iterations = 100_000
)

// keyDerivationSalt is fixed so the same passphrase always derives the
// same key across restarts, keeping persisted ciphertext reversible.
var keyDerivationSalt = []byte("contract-pipeline-field-gate")

// sensitiveKeywords drives auto-identification of columns to protect.
// Each category lists header fragments; a column whose name matches
// enough of a category's fragments crosses the confidence threshold.
var sensitiveKeywords = map[string][]string{
	"financial":  {"spend", "cost", "amount", "value", "price", "salary", "budget"},
	"identity":   {"ssn", "social", "tax_id", "taxid", "passport", "license"},
	"contact":    {"email", "phone", "address", "contact"},
	"contractua": {"contract_number", "agreement_number", "account"},
}

// Config contains secure field gate settings.
type Config struct {
	// EncryptionKey is a passphrase; the AES key is derived from it.
	// Empty generates an ephemeral random key, losing reversibility
	// across restarts.
	EncryptionKey string

	// SensitiveColumns forces the protected set; empty means auto-identify.
	SensitiveColumns []string

	// ConfidenceThreshold gates auto-identification, within [0, 1].
	ConfidenceThreshold float64
}

// fieldGate implements service.SecureGate with AES-256-GCM. Every cell is
// sealed independently under a fresh nonce and stored as
// base64(nonce || ciphertext).
type fieldGate struct {
	aead    cipher.AEAD
	config  *Config
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewFieldGate creates a secure field gate. The key is derived from the
// configured passphrase with PBKDF2-SHA256.
func NewFieldGate(cfg *Config, logger *logging.Logger, collector *metrics.Collector) (service.SecureGate, error) {
	if cfg == nil {
		cfg = &Config{ConfidenceThreshold: 0.7}
	}

	key, generated, err := deriveKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn("No encryption key configured, generated an ephemeral key; " +
			"persisted ciphertext will not be reversible after restart")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize GCM")
	}

	return &fieldGate{
		aead:    aead,
		config:  cfg,
		logger:  logger.WithComponent("field_gate"),
		metrics: collector,
	}, nil
}

// deriveKey resolves the AES key: a base64-encoded 32-byte key is used
// directly, any other non-empty value is treated as a passphrase, and an
// empty value generates an ephemeral key.
func deriveKey(configured string) (key []byte, generated bool, err error) {
	if configured == "" {
		key = make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return nil, false, errors.Wrap(err, "failed to generate ephemeral key")
		}
		return key, true, nil
	}

	if decoded, err := base64.StdEncoding.DecodeString(configured); err == nil && len(decoded) == keySize {
		return decoded, false, nil
	}

	return pbkdf2.Key([]byte(configured), keyDerivationSalt, pbkdf2Iterations, keySize, sha256.New), false, nil
}

// Apply encrypts the given columns in place across all records. Empty
// cells are skipped. A cell that fails to encrypt keeps its original
// value; the failure is logged and counted but never drops the row.
func (g *fieldGate) Apply(ctx context.Context, records []entity.ContractRecord, columns []string) []entity.ContractRecord {
	start := time.Now()
	defer func() {
		if g.metrics != nil {
			g.metrics.ObserveStage("secure", time.Since(start))
		}
	}()

	if len(columns) == 0 {
		columns = g.identifyColumns(records)
	}
	if len(columns) == 0 {
		return records
	}

	encrypted := 0
	failed := 0
	for i := range records {
		for _, column := range columns {
			plain := records[i].FieldString(column)
			if plain == "" {
				continue
			}

			ciphertext, err := g.seal(plain)
			if err != nil {
				failed++
				g.logger.LogSecurityEvent("cell_encrypt_failed", "Cell could not be encrypted",
					logging.String("column", column),
					logging.String("error", err.Error()),
				)
				continue
			}

			if records[i].Encrypted == nil {
				records[i].Encrypted = make(map[string]string)
			}
			records[i].Encrypted[column] = ciphertext
			// The plain field is zeroed while its ciphertext is held.
			_ = records[i].SetFieldString(column, "")
			encrypted++
		}
	}

	if g.metrics != nil {
		g.metrics.CellsEncrypted.Add(float64(encrypted))
		g.metrics.SecurityFailures.Add(float64(failed))
	}

	g.logger.Info("Applied field encryption",
		logging.Int("columns", len(columns)),
		logging.Int("cells", encrypted),
		logging.Int("failures", failed),
	)

	return records
}

// Reverse decrypts every held ciphertext back into its plain field. A
// cell that fails to decrypt keeps its ciphertext in Encrypted; the row
// always survives.
func (g *fieldGate) Reverse(ctx context.Context, records []entity.ContractRecord) []entity.ContractRecord {
	decrypted := 0
	failed := 0

	for i := range records {
		if len(records[i].Encrypted) == 0 {
			continue
		}
		for column, ciphertext := range records[i].Encrypted {
			plain, err := g.open(ciphertext)
			if err != nil {
				failed++
				g.logger.LogSecurityEvent("cell_decrypt_failed", "Cell could not be decrypted",
					logging.String("column", column),
					logging.String("error", err.Error()),
				)
				continue
			}
			if err := records[i].SetFieldString(column, plain); err != nil {
				failed++
				continue
			}
			delete(records[i].Encrypted, column)
			decrypted++
		}
		if len(records[i].Encrypted) == 0 {
			records[i].Encrypted = nil
		}
	}

	if g.metrics != nil {
		g.metrics.CellsDecrypted.Add(float64(decrypted))
		g.metrics.SecurityFailures.Add(float64(failed))
	}

	return records
}

// seal encrypts one value under a fresh nonce.
func (g *fieldGate) seal(plain string) (string, error) {
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(entity.ErrSecurityFailure, err.Error())
	}
	sealed := g.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts one base64(nonce || ciphertext) value.
func (g *fieldGate) open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrap(entity.ErrSecurityFailure, err.Error())
	}
	if len(raw) < g.aead.NonceSize() {
		return "", errors.Wrap(entity.ErrSecurityFailure, "ciphertext too short")
	}
	nonce, ciphertext := raw[:g.aead.NonceSize()], raw[g.aead.NonceSize():]
	plain, err := g.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(entity.ErrSecurityFailure, err.Error())
	}
	return string(plain), nil
}

// identifyColumns returns the columns to protect. A forced set from
// configuration wins; otherwise column names present in the data are
// scored against the keyword categories.
func (g *fieldGate) identifyColumns(records []entity.ContractRecord) []string {
	if len(g.config.SensitiveColumns) > 0 {
		return g.config.SensitiveColumns
	}
	if len(records) == 0 {
		return nil
	}

	names := presentColumns(records)

	var sensitive []string
	for _, name := range names {
		if g.columnConfidence(name) >= g.config.ConfidenceThreshold {
			sensitive = append(sensitive, name)
		}
	}
	return sensitive
}

// columnConfidence scores a column name against the keyword categories;
// the best category wins.
func (g *fieldGate) columnConfidence(name string) float64 {
	lower := strings.ToLower(name)
	best := 0.0
	for _, keywords := range sensitiveKeywords {
		for _, kw := range keywords {
			if lower == kw {
				return 1.0
			}
			if strings.Contains(lower, kw) {
				score := float64(len(kw)) / float64(len(lower))
				if score > best {
					best = score
				}
			}
		}
	}
	return best
}

// presentColumns lists the canonical columns plus any Extra keys seen in
// the batch, name-sorted for deterministic identification.
func presentColumns(records []entity.ContractRecord) []string {
	seen := map[string]bool{
		entity.ColumnVendor:         true,
		entity.ColumnProduct:        true,
		entity.ColumnContractStart:  true,
		entity.ColumnContractEnd:    true,
		entity.ColumnAnnualSpend:    true,
		entity.ColumnCurrency:       true,
		entity.ColumnContractNumber: true,
		entity.ColumnDepartment:     true,
		entity.ColumnRenewalOption:  true,
	}
	for i := range records {
		for key := range records[i].Extra {
			if !strings.HasSuffix(key, "_raw") {
				seen[key] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
