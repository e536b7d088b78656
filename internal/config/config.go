package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncConfig selects which events the engine cares about.
type SyncConfig struct {
	// Currencies is the target set of currency codes (e.g. USD, JPY).
	Currencies []string `yaml:"currencies"`

	// MinImportance is the lowest importance level to sync: "low",
	// "medium" or "high".
	MinImportance string `yaml:"min_importance"`

	// WindowWeeks is how many weeks ahead the sync window extends.
	WindowWeeks int `yaml:"window_weeks"`
}

// ForexFactoryConfig configures the forexfactory source.
type ForexFactoryConfig struct {
	// FeedURL is the free this-week JSON feed.
	FeedURL string `yaml:"feed_url"`

	// BrowserScrape enables the headless-Chrome fallback for weeks the
	// feed does not cover. Requires a Chromium binary on the host.
	BrowserScrape bool `yaml:"browser_scrape"`

	Timeout time.Duration `yaml:"timeout"`
}

// FMPConfig configures the Financial Modeling Prep source.
type FMPConfig struct {
	BaseURL string `yaml:"base_url"`

	// APIKey may be left empty and supplied via FMP_API_KEY instead.
	APIKey string `yaml:"api_key"`

	Timeout time.Duration `yaml:"timeout"`
}

// ICSFeedConfig configures the generic iCalendar-feed source.
type ICSFeedConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SourceConfig selects and configures one data source.
type SourceConfig struct {
	// Type is the adapter name: "forexfactory", "fmp" or "ics".
	Type string `yaml:"type"`

	ForexFactory ForexFactoryConfig `yaml:"forexfactory"`
	FMP          FMPConfig          `yaml:"fmp"`
	ICS          ICSFeedConfig      `yaml:"ics"`
}

// CalendarConfig configures Google Calendar access and how managed entries
// are presented.
type CalendarConfig struct {
	// CalendarID may be left empty and supplied via GOOGLE_CALENDAR_ID.
	CalendarID string `yaml:"calendar_id"`

	// CredentialsFile points at a service-account JSON key. If empty, the
	// client falls back to inline JSON in GOOGLE_SA_JSON.
	CredentialsFile string `yaml:"credentials_file"`

	// Timezone is the IANA zone timed entries are displayed in.
	Timezone string `yaml:"timezone"`

	// EventDurationMinutes is the display length of a timed entry.
	EventDurationMinutes int `yaml:"event_duration_minutes"`

	// ReminderMinutes lists popup reminder offsets before the event.
	ReminderMinutes []int `yaml:"reminder_minutes"`

	// CountryFlags maps currency codes to flag emoji used in entry titles.
	CountryFlags map[string]string `yaml:"country_flags"`

	// API rate limiting & retries.
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       time.Duration `yaml:"backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
}

// MetricsConfig configures the Prometheus listener used in schedule mode.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the top-level application configuration.
type Config struct {
	Sync     SyncConfig     `yaml:"sync"`
	Source   SourceConfig   `yaml:"source"`
	Calendar CalendarConfig `yaml:"calendar"`

	// Schedule is a cron-style expression (5 fields) for recurring runs.
	Schedule string `yaml:"schedule"`

	Metrics MetricsConfig `yaml:"metrics"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Currencies:    []string{"USD", "JPY"},
			MinImportance: "medium",
			WindowWeeks:   4,
		},
		Source: SourceConfig{
			Type: "forexfactory",
			ForexFactory: ForexFactoryConfig{
				FeedURL: "https://nfs.faireconomy.media/ff_calendar_thisweek.json",
				Timeout: 30 * time.Second,
			},
			FMP: FMPConfig{
				BaseURL: "https://financialmodelingprep.com/api/v3",
				Timeout: 30 * time.Second,
			},
			ICS: ICSFeedConfig{
				Timeout: 30 * time.Second,
			},
		},
		Calendar: CalendarConfig{
			Timezone:             "Asia/Tokyo",
			EventDurationMinutes: 30,
			ReminderMinutes:      []int{40, 10},
			CountryFlags: map[string]string{
				"USD": "\U0001F1FA\U0001F1F8",
				"JPY": "\U0001F1EF\U0001F1F5",
			},
			RatePerSecond: 5,
			Burst:         2,
			MaxRetries:    3,
			Backoff:       500 * time.Millisecond,
			MaxBackoff:    8 * time.Second,
		},
		Schedule: "0 */6 * * *",
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9185",
		},
		LogLevel: "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults and layers
// in the environment fallbacks, so partially-filled configs (or pure
// env-driven deployments) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if len(c.Sync.Currencies) == 0 {
		c.Sync.Currencies = def.Sync.Currencies
	}
	for i, ccy := range c.Sync.Currencies {
		c.Sync.Currencies[i] = strings.ToUpper(strings.TrimSpace(ccy))
	}
	switch strings.ToLower(c.Sync.MinImportance) {
	case "low", "medium", "high":
		c.Sync.MinImportance = strings.ToLower(c.Sync.MinImportance)
	default:
		c.Sync.MinImportance = def.Sync.MinImportance
	}
	if c.Sync.WindowWeeks <= 0 {
		c.Sync.WindowWeeks = def.Sync.WindowWeeks
	}

	if c.Source.Type == "" {
		c.Source.Type = envOr("EVENT_SOURCE", def.Source.Type)
	}
	if c.Source.ForexFactory.FeedURL == "" {
		c.Source.ForexFactory.FeedURL = def.Source.ForexFactory.FeedURL
	}
	if c.Source.ForexFactory.Timeout <= 0 {
		c.Source.ForexFactory.Timeout = def.Source.ForexFactory.Timeout
	}
	if c.Source.FMP.BaseURL == "" {
		c.Source.FMP.BaseURL = def.Source.FMP.BaseURL
	}
	if c.Source.FMP.APIKey == "" {
		c.Source.FMP.APIKey = os.Getenv("FMP_API_KEY")
	}
	if c.Source.FMP.Timeout <= 0 {
		c.Source.FMP.Timeout = def.Source.FMP.Timeout
	}
	if c.Source.ICS.Timeout <= 0 {
		c.Source.ICS.Timeout = def.Source.ICS.Timeout
	}

	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = os.Getenv("GOOGLE_CALENDAR_ID")
	}
	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = def.Calendar.Timezone
	}
	if c.Calendar.EventDurationMinutes <= 0 {
		c.Calendar.EventDurationMinutes = def.Calendar.EventDurationMinutes
	}
	if c.Calendar.ReminderMinutes == nil {
		c.Calendar.ReminderMinutes = def.Calendar.ReminderMinutes
	}
	if c.Calendar.CountryFlags == nil {
		c.Calendar.CountryFlags = def.Calendar.CountryFlags
	}
	if c.Calendar.RatePerSecond <= 0 {
		c.Calendar.RatePerSecond = def.Calendar.RatePerSecond
	}
	if c.Calendar.Burst <= 0 {
		c.Calendar.Burst = def.Calendar.Burst
	}
	if c.Calendar.MaxRetries <= 0 {
		c.Calendar.MaxRetries = def.Calendar.MaxRetries
	}
	if c.Calendar.Backoff <= 0 {
		c.Calendar.Backoff = def.Calendar.Backoff
	}
	if c.Calendar.MaxBackoff <= 0 {
		c.Calendar.MaxBackoff = def.Calendar.MaxBackoff
	}

	if c.Schedule == "" {
		c.Schedule = def.Schedule
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = def.Metrics.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there (0600,
//     parent directory created) and returned.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			cfg.Normalize()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions. The service-account key can
// end up referenced from here, so the file is kept private.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".econcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
