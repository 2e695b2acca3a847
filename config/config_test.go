package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "contract-pipeline", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "daily", cfg.PipelineSettings.ScheduleFrequency)
	assert.Equal(t, "06:00", cfg.PipelineSettings.ScheduleTime)
	assert.Equal(t, 30, cfg.PipelineSettings.DataRetentionDays)
	assert.True(t, cfg.PipelineSettings.EnableEncryption)
	assert.Equal(t, 30*time.Second, cfg.DataSources.FetchTimeout)
	assert.Equal(t, "data/processed/latest_contracts.csv", cfg.OutputSettings.ConsolidatedOutputPath)
	assert.Equal(t, 0.7, cfg.Security.ConfidenceThreshold)

	// The default priority map ranks the authoritative feed highest.
	assert.Equal(t, 3, cfg.Consolidation.SourcePriority["SAP"])
	assert.Equal(t, 1, cfg.Consolidation.SourcePriority["File_Upload"])

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
service:
  name: custom-pipeline
pipeline_settings:
  schedule_frequency: hourly
  data_retention_days: 7
data_sources:
  sap:
    enabled: true
    base_url: https://sap.example.com
    client_id: cid
    client_secret: secret
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "custom-pipeline", cfg.Service.Name)
	assert.Equal(t, "hourly", cfg.PipelineSettings.ScheduleFrequency)
	assert.Equal(t, 7, cfg.PipelineSettings.DataRetentionDays)
	assert.True(t, cfg.DataSources.SAP.Enabled)
	assert.Equal(t, "https://sap.example.com", cfg.DataSources.SAP.BaseURL)

	// Unset keys keep their defaults.
	assert.Equal(t, 8080, cfg.Server.Port)

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.Service.Name = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad frequency", func(c *Config) { c.PipelineSettings.ScheduleFrequency = "fortnightly" }},
		{"bad schedule time", func(c *Config) { c.PipelineSettings.ScheduleTime = "6am" }},
		{"zero retention", func(c *Config) { c.PipelineSettings.DataRetentionDays = 0 }},
		{"zero fetch timeout", func(c *Config) { c.DataSources.FetchTimeout = 0 }},
		{"sap enabled without url", func(c *Config) { c.DataSources.SAP.Enabled = true }},
		{"paycom enabled without key", func(c *Config) { c.DataSources.Paycom.Enabled = true }},
		{"postgres enabled without dsn", func(c *Config) { c.DataSources.Postgres.Enabled = true }},
		{"threshold out of range", func(c *Config) { c.Security.ConfidenceThreshold = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
