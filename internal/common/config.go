package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/harvester/internal/models"
)

// Config represents the application configuration
type Config struct {
	Portal   PortalConfig   `toml:"portal"`
	Browser  BrowserConfig  `toml:"browser"`
	Timing   TimingConfig   `toml:"timing"`
	Listing  ListingConfig  `toml:"listing"`
	History  HistoryConfig  `toml:"history"`
	Storage  StorageConfig  `toml:"storage"`
	Harvest  HarvestConfig  `toml:"harvest"`
	Report   ReportConfig   `toml:"report"`
	Schedule ScheduleConfig `toml:"schedule"`
	Logging  LoggingConfig  `toml:"logging"`
}

// PortalConfig identifies the portal to harvest
type PortalConfig struct {
	BaseURL string `toml:"base_url" validate:"required,url"` // Listing view URL
}

// BrowserConfig controls the headless browser
type BrowserConfig struct {
	Headless          bool   `toml:"headless"`
	UserAgent         string `toml:"user_agent"`
	UserDataDir       string `toml:"user_data_dir"`      // Authenticated browser profile supplied by the operator
	StartupTimeout    string `toml:"startup_timeout"`    // e.g. "30s"
	NavigationTimeout string `toml:"navigation_timeout"` // Page load limit
	ActionTimeout     string `toml:"action_timeout"`     // Limit for one extract or action
	CaptureConsole    bool   `toml:"capture_console"`    // Log page console errors at debug

	// 0 disables the navigation ceiling
	MaxNavigationsPerMinute int `toml:"max_navigations_per_minute" validate:"gte=0"`
}

// TimingConfig controls human-like pacing
type TimingConfig struct {
	ActionDelay  string  `toml:"action_delay"`                         // Base pause after each browser primitive
	ActionJitter float64 `toml:"action_jitter" validate:"gte=0,lte=2"` // Jitter fraction applied to action_delay
	SettleDelay  string  `toml:"settle_delay"`                         // Wait for async results after a submit
	SettleJitter float64 `toml:"settle_jitter" validate:"gte=0,lte=2"`
	Floor        string  `toml:"floor"` // Minimum delay ever produced
	Seed         int64   `toml:"seed"`  // Fixed seed for reproducible pacing (0 = time seeded)
}

// ColumnLayout maps listing fields to zero-based cell indexes. A negative
// index means the portal does not show that field.
type ColumnLayout struct {
	Kind          int `toml:"kind"`
	Name          int `toml:"name"`
	GrantDate     int `toml:"grant_date"`
	ExercisePrice int `toml:"exercise_price"`
	Currency      int `toml:"currency"`
	LastPrice     int `toml:"last_price"`
	LastUpdate    int `toml:"last_update"`
	Underlying    int `toml:"underlying"`
	Link          int `toml:"link"`
}

// ListingConfig describes the listing view and its date filter form
type ListingConfig struct {
	DateFrom       string       `toml:"date_from" validate:"required"` // YYYY-MM-DD lower bound of the filter
	DateField      string       `toml:"date_field" validate:"required"`
	SubmitSelector string       `toml:"submit_selector" validate:"required"`
	TableSelector  string       `toml:"table_selector" validate:"required"`
	MinColumns     int          `toml:"min_columns" validate:"gte=1"` // Shorter rows are skipped
	IdentityParam  string       `toml:"identity_param"`               // Detail link query parameter holding a stable instrument id
	Columns        ColumnLayout `toml:"columns"`
}

// HistoryConfig describes the detail view
type HistoryConfig struct {
	TableSelector    string `toml:"table_selector" validate:"required"`
	LoadMoreSelector string `toml:"load_more_selector"` // Empty disables pagination
	MaxPages         int    `toml:"max_pages" validate:"gte=1"`
	DateColumn       int    `toml:"date_column" validate:"gte=0"`
	PriceColumn      int    `toml:"price_column" validate:"gte=0"`
}

type StorageConfig struct {
	Type       string           `toml:"type" validate:"oneof=badger filesystem"`
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete cache on startup
}

type FilesystemConfig struct {
	Dir string `toml:"dir"` // One JSON file per instrument
}

// HarvestConfig controls a single run
type HarvestConfig struct {
	MaxAge            string  `toml:"max_age"`            // Cache entries younger than this are reused
	BetweenItemDelay  string  `toml:"between_item_delay"` // Pause after each network fetch
	BetweenItemJitter float64 `toml:"between_item_jitter" validate:"gte=0,lte=2"`
	Limit             int     `toml:"limit" validate:"gte=0"` // 0 = all instruments
	Force             bool    `toml:"force"`                  // Ignore freshness and refetch everything
	MergeStale        bool    `toml:"merge_stale"`            // Keep points from a stale entry missing from the refetch
}

type ReportConfig struct {
	Path      string `toml:"path"`       // .json or .yaml; empty disables the file
	SeriesDir string `toml:"series_dir"` // Per-instrument chronological export; empty disables
}

type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"` // Standard 5-field cron expression
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output     []string `toml:"output"` // "stdout", "file"
	Dir        string   `toml:"dir"`    // Log and crash file directory; empty = <exe dir>/logs
	TimeFormat string   `toml:"time_format"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			BaseURL: "http://localhost:8085/",
		},
		Browser: BrowserConfig{
			Headless:                true,
			UserAgent:               "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			StartupTimeout:          "30s",
			NavigationTimeout:       "45s",
			ActionTimeout:           "20s",
			MaxNavigationsPerMinute: 20,
			CaptureConsole:          true,
		},
		Timing: TimingConfig{
			ActionDelay:  "1200ms",
			ActionJitter: 0.5,
			SettleDelay:  "2500ms",
			SettleJitter: 0.3,
			Floor:        "50ms",
		},
		Listing: ListingConfig{
			DateFrom:       "2010-01-01",
			DateField:      "#date_from",
			SubmitSelector: "#submit",
			TableSelector:  "table.results",
			MinColumns:     9,
			Columns: ColumnLayout{
				Kind:          0,
				Name:          1,
				GrantDate:     2,
				ExercisePrice: 3,
				Currency:      4,
				LastPrice:     5,
				LastUpdate:    6,
				Underlying:    7,
				Link:          8,
			},
		},
		History: HistoryConfig{
			TableSelector:    "table.history",
			LoadMoreSelector: "#load_more",
			MaxPages:         200,
			DateColumn:       0,
			PriceColumn:      1,
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data/cache",
			},
			Filesystem: FilesystemConfig{
				Dir: "./data/series",
			},
		},
		Harvest: HarvestConfig{
			MaxAge:            "24h",
			BetweenItemDelay:  "3s",
			BetweenItemJitter: 0.6,
			MergeStale:        true,
		},
		Report: ReportConfig{
			Path: "./data/report.json",
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "30 18 * * 1-5", // Weekday evenings
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies HARVESTER_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if baseURL := os.Getenv("HARVESTER_PORTAL_URL"); baseURL != "" {
		config.Portal.BaseURL = baseURL
	}

	if headless := os.Getenv("HARVESTER_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if userDataDir := os.Getenv("HARVESTER_BROWSER_USER_DATA_DIR"); userDataDir != "" {
		config.Browser.UserDataDir = userDataDir
	}
	if userAgent := os.Getenv("HARVESTER_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}

	if seed := os.Getenv("HARVESTER_TIMING_SEED"); seed != "" {
		if s, err := strconv.ParseInt(seed, 10, 64); err == nil {
			config.Timing.Seed = s
		}
	}

	if dateFrom := os.Getenv("HARVESTER_LISTING_DATE_FROM"); dateFrom != "" {
		config.Listing.DateFrom = dateFrom
	}

	if storageType := os.Getenv("HARVESTER_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("HARVESTER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if cacheDir := os.Getenv("HARVESTER_CACHE_DIR"); cacheDir != "" {
		config.Storage.Filesystem.Dir = cacheDir
	}

	if maxAge := os.Getenv("HARVESTER_MAX_AGE"); maxAge != "" {
		config.Harvest.MaxAge = maxAge
	}
	if limit := os.Getenv("HARVESTER_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Harvest.Limit = l
		}
	}

	if reportPath := os.Getenv("HARVESTER_REPORT_PATH"); reportPath != "" {
		config.Report.Path = reportPath
	}

	if schedule := os.Getenv("HARVESTER_SCHEDULE"); schedule != "" {
		config.Schedule.Cron = schedule
		config.Schedule.Enabled = true
	}

	if level := os.Getenv("HARVESTER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("HARVESTER_LOG_OUTPUT"); output != "" {
		var outputs []string
		for _, o := range strings.Split(output, ",") {
			if o = strings.TrimSpace(o); o != "" {
				outputs = append(outputs, o)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// FlagOverrides carries command-line values. Zero values leave config untouched.
type FlagOverrides struct {
	PortalURL  string
	ReportPath string
	Force      bool
	Limit      int
	Schedule   string
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	// Command-line flags have highest priority
	if flags.PortalURL != "" {
		config.Portal.BaseURL = flags.PortalURL
	}
	if flags.ReportPath != "" {
		config.Report.Path = flags.ReportPath
	}
	if flags.Force {
		config.Harvest.Force = true
	}
	if flags.Limit > 0 {
		config.Harvest.Limit = flags.Limit
	}
	if flags.Schedule != "" {
		config.Schedule.Cron = flags.Schedule
		config.Schedule.Enabled = true
	}
}

// Validate checks struct tags, duration strings, the filter date and the cron expression
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"browser.startup_timeout":    c.Browser.StartupTimeout,
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"browser.action_timeout":     c.Browser.ActionTimeout,
		"timing.action_delay":        c.Timing.ActionDelay,
		"timing.settle_delay":        c.Timing.SettleDelay,
		"timing.floor":               c.Timing.Floor,
		"harvest.max_age":            c.Harvest.MaxAge,
		"harvest.between_item_delay": c.Harvest.BetweenItemDelay,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	if _, err := models.ParseDate(c.Listing.DateFrom); err != nil {
		return fmt.Errorf("invalid listing.date_from: %w", err)
	}

	if c.Schedule.Enabled {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// ParseDurationOr parses s, returning fallback when s is empty or invalid
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
