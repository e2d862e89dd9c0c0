package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"reserva/internal/model"
)

// DefaultPath is used when RESERVA_CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Database struct {
		Path                 string `yaml:"path"`
		JournalRetentionDays int    `yaml:"journal_retention_days"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address    string `yaml:"address"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		KeyPrefix  string `yaml:"key_prefix"`
		SessionTTL int    `yaml:"session_ttl_hours"`
	} `yaml:"redis"`

	Webhook struct {
		BaseURL         string `yaml:"base_url"`
		APIKey          string `yaml:"api_key"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
		ConfigPath      string `yaml:"config_path"`
		PanelPath       string `yaml:"panel_path"`
		SubmitPath      string `yaml:"submit_path"`
		HealthPath      string `yaml:"health_path"`
		HealthInterval  int    `yaml:"health_interval_seconds"`
		ReplayPerSecond int    `yaml:"replay_per_second"`
	} `yaml:"webhook"`

	Availability struct {
		// File, when set, replaces the remote config and is watched for changes.
		File                 string `yaml:"file"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"availability"`

	Booking struct {
		Timezone              string   `yaml:"timezone"`
		CutoffHour            int      `yaml:"cutoff_hour"`
		PanelLocations        []string `yaml:"panel_locations"`
		PanelMinPartySize     int      `yaml:"panel_min_party_size"`
		PanelDebounceMillis   int      `yaml:"panel_debounce_ms"`
		ResetDelaySeconds     int      `yaml:"reset_delay_seconds"`
		SessionTimeoutMinutes int      `yaml:"session_timeout_minutes"`
	} `yaml:"booking"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Managers []int64 `yaml:"managers"`
}

// PathFromEnv returns RESERVA_CONFIG_PATH or the default path.
func PathFromEnv() string {
	if p := os.Getenv("RESERVA_CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/reserva.db"
	}
	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	for _, l := range c.Booking.PanelLocations {
		if !model.Location(l).Valid() {
			errs = append(errs, fmt.Errorf("booking.panel_locations: unknown location %q", l))
		}
	}
	if c.Booking.CutoffHour < 0 || c.Booking.CutoffHour > 24 {
		errs = append(errs, fmt.Errorf("booking.cutoff_hour %d out of range", c.Booking.CutoffHour))
	}
	if c.Booking.Timezone != "" {
		if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("booking.timezone: %w", err))
		}
	}
	if c.Availability.File == "" && c.Webhook.BaseURL == "" {
		errs = append(errs, errors.New("either availability.file or webhook.base_url is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) Location() *time.Location {
	if c.Booking.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) CutoffHour() int {
	if c.Booking.CutoffHour <= 0 {
		return 12
	}
	return c.Booking.CutoffHour
}

func (c *Config) PanelLocations() []model.Location {
	out := make([]model.Location, 0, len(c.Booking.PanelLocations))
	for _, l := range c.Booking.PanelLocations {
		out = append(out, model.Location(l))
	}
	return out
}

func (c *Config) PanelDebounce() time.Duration {
	if c.Booking.PanelDebounceMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Booking.PanelDebounceMillis) * time.Millisecond
}

func (c *Config) ResetDelay() time.Duration {
	if c.Booking.ResetDelaySeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Booking.ResetDelaySeconds) * time.Second
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Booking.SessionTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) SessionTTL() time.Duration {
	if c.Redis.SessionTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.Redis.SessionTTL) * time.Hour
}

func (c *Config) WebhookTimeout() time.Duration {
	if c.Webhook.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

func (c *Config) HealthInterval() time.Duration {
	if c.Webhook.HealthInterval <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Webhook.HealthInterval) * time.Second
}

func (c *Config) ReplayRate() float64 {
	if c.Webhook.ReplayPerSecond <= 0 {
		return 2
	}
	return float64(c.Webhook.ReplayPerSecond)
}

func (c *Config) WatchInterval() time.Duration {
	if c.Availability.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Availability.WatchIntervalSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

// JournalRetention is how long journal entries are kept. Zero keeps them forever.
func (c *Config) JournalRetention() time.Duration {
	if c.Database.JournalRetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.Database.JournalRetentionDays) * 24 * time.Hour
}

// IsManager reports whether the Telegram user may run manager commands.
func (c *Config) IsManager(userID int64) bool {
	for _, id := range c.Managers {
		if id == userID {
			return true
		}
	}
	return false
}
