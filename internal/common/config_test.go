package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig_Valid(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, "2010-01-01", config.Listing.DateFrom)
	assert.Equal(t, "badger", config.Storage.Type)
	assert.Equal(t, 9, config.Listing.MinColumns)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	base := writeConfig(t, "base.toml", `
[portal]
base_url = "https://portal.example.com/listing"

[storage]
type = "filesystem"

[listing]
min_columns = 7
`)
	override := writeConfig(t, "override.toml", `
[storage]
type = "badger"

[harvest]
max_age = "6h"
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example.com/listing", config.Portal.BaseURL)
	assert.Equal(t, "badger", config.Storage.Type)
	assert.Equal(t, 7, config.Listing.MinColumns)
	assert.Equal(t, "6h", config.Harvest.MaxAge)
	// Untouched sections keep defaults
	assert.Equal(t, "table.history", config.History.TableSelector)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_PORTAL_URL", "https://env.example.com/")
	t.Setenv("HARVESTER_STORAGE_TYPE", "filesystem")
	t.Setenv("HARVESTER_LOG_OUTPUT", "stdout, file ,")
	t.Setenv("HARVESTER_SCHEDULE", "0 6 * * *")

	path := writeConfig(t, "file.toml", `
[portal]
base_url = "https://file.example.com/"
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com/", config.Portal.BaseURL)
	assert.Equal(t, "filesystem", config.Storage.Type)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.True(t, config.Schedule.Enabled)
	assert.Equal(t, "0 6 * * *", config.Schedule.Cron)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, FlagOverrides{
		PortalURL:  "https://flag.example.com/",
		ReportPath: "out.yaml",
		Force:      true,
		Limit:      3,
	})

	assert.Equal(t, "https://flag.example.com/", config.Portal.BaseURL)
	assert.Equal(t, "out.yaml", config.Report.Path)
	assert.True(t, config.Harvest.Force)
	assert.Equal(t, 3, config.Harvest.Limit)
	assert.False(t, config.Schedule.Enabled)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing portal", func(c *Config) { c.Portal.BaseURL = "" }},
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }},
		{"bad jitter", func(c *Config) { c.Timing.ActionJitter = 3 }},
		{"bad duration", func(c *Config) { c.Harvest.MaxAge = "a day" }},
		{"bad date", func(c *Config) { c.Listing.DateFrom = "01/01/2010" }},
		{"bad cron", func(c *Config) { c.Schedule.Enabled = true; c.Schedule.Cron = "every day" }},
		{"zero max pages", func(c *Config) { c.History.MaxPages = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}
