package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the configuration for the contract pipeline service
type Config struct {
	// Service configuration
	Service ServiceConfig `mapstructure:"service"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Data source configuration
	DataSources DataSourcesConfig `mapstructure:"data_sources"`

	// Pipeline behavior
	PipelineSettings PipelineSettingsConfig `mapstructure:"pipeline_settings"`

	// Output artifact locations
	OutputSettings OutputSettingsConfig `mapstructure:"output_settings"`

	// Consolidation configuration
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`

	// Security configuration
	Security SecurityConfig `mapstructure:"security"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServiceConfig contains service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DataSourcesConfig contains configuration for all external feeds
type DataSourcesConfig struct {
	SAP        SAPSourceConfig      `mapstructure:"sap"`
	Paycom     PaycomSourceConfig   `mapstructure:"paycom"`
	Postgres   PostgresSourceConfig `mapstructure:"postgres"`
	FileUpload FileUploadConfig     `mapstructure:"file_upload"`

	// FetchTimeout bounds every single connector call
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	// FetchRatePerSecond limits calls per connector; zero disables limiting
	FetchRatePerSecond float64 `mapstructure:"fetch_rate_per_second"`

	// MaxConcurrentFetches bounds the fan-out; 1 keeps fetches sequential
	MaxConcurrentFetches int `mapstructure:"max_concurrent_fetches"`
}

// SAPSourceConfig contains SAP procurement API credentials
type SAPSourceConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// PaycomSourceConfig contains Paycom HR API credentials
type PaycomSourceConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	CompanyID string `mapstructure:"company_id"`
}

// PostgresSourceConfig contains the internal contract registry connection
type PostgresSourceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// FileUploadConfig contains the manual upload ingestion settings
type FileUploadConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	WatchDirectory     string `mapstructure:"watch_directory"`
	ProcessedDirectory string `mapstructure:"processed_directory"`
}

// PipelineSettingsConfig contains pipeline behavior settings
type PipelineSettingsConfig struct {
	ScheduleFrequency string `mapstructure:"schedule_frequency"` // "daily", "hourly", "weekly"
	ScheduleTime      string `mapstructure:"schedule_time"`      // "HH:MM"
	ScheduleWeekday   string `mapstructure:"schedule_weekday"`   // for weekly frequency
	DataRetentionDays int    `mapstructure:"data_retention_days"`
	EnableEncryption  bool   `mapstructure:"enable_encryption"`
	BackupEnabled     bool   `mapstructure:"backup_enabled"`
	QualityChecks     bool   `mapstructure:"quality_checks"`
}

// OutputSettingsConfig contains persisted artifact locations
type OutputSettingsConfig struct {
	ConsolidatedOutputPath string `mapstructure:"consolidated_output_path"`
	ProcessedDirectory     string `mapstructure:"processed_directory"`
	BackupDirectory        string `mapstructure:"backup_directory"`
	ReportsDirectory       string `mapstructure:"reports_directory"`
	MetricsArtifactPath    string `mapstructure:"metrics_artifact_path"`
	StatsPath              string `mapstructure:"stats_path"`
}

// ConsolidationConfig contains deduplication settings
type ConsolidationConfig struct {
	// SourcePriority maps source name to rank; higher rank wins a duplicate
	SourcePriority map[string]int `mapstructure:"source_priority"`
}

// SecurityConfig contains the secure field gate settings
type SecurityConfig struct {
	// EncryptionKey is a base64-encoded 32-byte key, or a passphrase to
	// derive one from. Empty generates an ephemeral key.
	EncryptionKey string `mapstructure:"encryption_key"`

	// SensitiveColumns forces the column set; empty means auto-identify
	SensitiveColumns []string `mapstructure:"sensitive_columns"`

	// ConfidenceThreshold gates auto-identification of sensitive columns
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from the given directory, applying
// defaults for anything absent. A missing config file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// setDefaults sets default values mirroring a standalone deployment
func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.name", "contract-pipeline")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "production")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.idle_timeout", 2*time.Minute)

	// Data source defaults
	v.SetDefault("data_sources.sap.enabled", false)
	v.SetDefault("data_sources.paycom.enabled", false)
	v.SetDefault("data_sources.paycom.base_url", "https://api.paycom.com/v4")
	v.SetDefault("data_sources.postgres.enabled", false)
	v.SetDefault("data_sources.postgres.table", "contracts")
	v.SetDefault("data_sources.file_upload.enabled", true)
	v.SetDefault("data_sources.file_upload.watch_directory", "data/uploads")
	v.SetDefault("data_sources.file_upload.processed_directory", "data/processed_uploads")
	v.SetDefault("data_sources.fetch_timeout", 30*time.Second)
	v.SetDefault("data_sources.fetch_rate_per_second", 0.0)
	v.SetDefault("data_sources.max_concurrent_fetches", 1)

	// Pipeline defaults
	v.SetDefault("pipeline_settings.schedule_frequency", "daily")
	v.SetDefault("pipeline_settings.schedule_time", "06:00")
	v.SetDefault("pipeline_settings.schedule_weekday", "Monday")
	v.SetDefault("pipeline_settings.data_retention_days", 30)
	v.SetDefault("pipeline_settings.enable_encryption", true)
	v.SetDefault("pipeline_settings.backup_enabled", true)
	v.SetDefault("pipeline_settings.quality_checks", true)

	// Output defaults
	v.SetDefault("output_settings.consolidated_output_path", "data/processed/latest_contracts.csv")
	v.SetDefault("output_settings.processed_directory", "data/processed")
	v.SetDefault("output_settings.backup_directory", "data/backups")
	v.SetDefault("output_settings.reports_directory", "data/reports")
	v.SetDefault("output_settings.metrics_artifact_path", "data/metrics/contract_expiration_alerts.csv")
	v.SetDefault("output_settings.stats_path", "data/pipeline_stats.json")

	// Consolidation defaults: higher rank wins a duplicate
	v.SetDefault("consolidation.source_priority", map[string]int{
		"SAP":         3,
		"Paycom":      2,
		"Postgres":    2,
		"File_Upload": 1,
	})

	// Security defaults
	v.SetDefault("security.confidence_threshold", 0.7)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.Port)
	}

	switch c.PipelineSettings.ScheduleFrequency {
	case "daily", "hourly", "weekly":
	default:
		return fmt.Errorf("invalid schedule frequency: %q", c.PipelineSettings.ScheduleFrequency)
	}

	if _, err := time.Parse("15:04", c.PipelineSettings.ScheduleTime); err != nil {
		return fmt.Errorf("invalid schedule time %q: must be HH:MM", c.PipelineSettings.ScheduleTime)
	}

	if c.PipelineSettings.DataRetentionDays <= 0 {
		return fmt.Errorf("data retention days must be positive")
	}

	if c.DataSources.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}

	if c.DataSources.SAP.Enabled && c.DataSources.SAP.BaseURL == "" {
		return fmt.Errorf("sap source enabled but base_url is empty")
	}

	if c.DataSources.Paycom.Enabled && c.DataSources.Paycom.APIKey == "" {
		return fmt.Errorf("paycom source enabled but api_key is empty")
	}

	if c.DataSources.Postgres.Enabled && c.DataSources.Postgres.DSN == "" {
		return fmt.Errorf("postgres source enabled but dsn is empty")
	}

	if c.Security.ConfidenceThreshold < 0 || c.Security.ConfidenceThreshold > 1 {
		return fmt.Errorf("security confidence threshold must be within [0, 1]")
	}

	return nil
}
