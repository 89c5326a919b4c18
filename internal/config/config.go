// Package config loads the powerwatch runtime configuration: built-in
// defaults, then an optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/analytics/domain/statistic"
	masterdata "powerwatch/internal/masterdata/domain"
)

// EnvConfigPath names the YAML file when no path is given explicitly.
const EnvConfigPath = "POWERWATCH_CONFIG"

const (
	ChannelTelegram = "telegram"
	ChannelWebhook  = "webhook"
)

// Config is the static process configuration.
type Config struct {
	NominalVoltage          float64 `yaml:"nominal_voltage"`
	VoltageTolerance        float64 `yaml:"voltage_tolerance"`
	PhaseVoltageTolerance   float64 `yaml:"phase_voltage_tolerance"`
	PhaseCurrentTolerance   float64 `yaml:"phase_current_tolerance"`
	CurrentImbalanceEnabled bool    `yaml:"current_imbalance_enabled"`
	OutageFloor             float64 `yaml:"outage_floor"`
	CurrentSensitivityFloor float64 `yaml:"current_sensitivity_floor"`

	BufferCapacity      int           `yaml:"buffer_capacity"`
	MeasurementInterval time.Duration `yaml:"measurement_interval"`
	HourlyInterval      time.Duration `yaml:"hourly_interval"`
	DailyInterval       time.Duration `yaml:"daily_interval"`
	NotifyInterval      time.Duration `yaml:"notify_interval"`
	NotifyCooldown      time.Duration `yaml:"notify_cooldown"`
	NotifyTimeout       time.Duration `yaml:"notify_timeout"`

	AdminRecipient       string   `yaml:"admin_recipient"`
	Recipients           []string `yaml:"recipients"`
	SuppressedEventTypes []string `yaml:"suppressed_event_types"`

	Device            DeviceConfig    `yaml:"device"`
	Storage           StorageConfig   `yaml:"storage"`
	StoreMeasurements bool            `yaml:"store_measurements"`
	Channel           ChannelConfig   `yaml:"channel"`
	Templates         TemplatesConfig `yaml:"templates"`
	MetricsAddr       string          `yaml:"metrics_addr"`
	Log               LogConfig       `yaml:"log"`
}

// DeviceConfig identifies the monitored meter.
type DeviceConfig struct {
	Address  string        `yaml:"address"`
	Name     string        `yaml:"name"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	Location string        `yaml:"location"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ChannelConfig selects the delivery channel.
type ChannelConfig struct {
	Kind    string `yaml:"kind"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// TemplatesConfig overrides message templates; empty keeps the built-in one.
type TemplatesConfig struct {
	Event  string `yaml:"event"`
	Hourly string `yaml:"hourly"`
	Daily  string `yaml:"daily"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Console    bool   `yaml:"console"`
}

// Default returns the built-in configuration.
func Default() Config {
	tol := alarms.DefaultTolerances()
	return Config{
		NominalVoltage:          tol.NominalVoltage,
		VoltageTolerance:        tol.VoltageTolerance,
		PhaseVoltageTolerance:   tol.PhaseVoltageTolerance,
		PhaseCurrentTolerance:   tol.PhaseCurrentTolerance,
		CurrentImbalanceEnabled: tol.CurrentImbalanceEnabled,
		OutageFloor:             tol.OutageFloor,
		CurrentSensitivityFloor: tol.CurrentSensitivityFloor,

		BufferCapacity:      statistic.DefaultBufferCapacity,
		MeasurementInterval: time.Second,
		HourlyInterval:      time.Hour,
		DailyInterval:       24 * time.Hour,
		NotifyInterval:      30 * time.Second,
		NotifyTimeout:       10 * time.Second,

		SuppressedEventTypes: []string{string(alarms.EventCurrentImbalance)},

		Device: DeviceConfig{
			Name:    masterdata.DefaultDeviceName,
			Model:   masterdata.DefaultDeviceModel,
			Timeout: 5 * time.Second,
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "powerwatch.db"},
		Channel: ChannelConfig{Kind: ChannelTelegram},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxAgeDays: 30,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// POWERWATCH_CONFIG is consulted; a missing path means defaults plus env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.NominalVoltage = getenvFloatDefault("POWERWATCH_NOMINAL_VOLTAGE", c.NominalVoltage)
	c.VoltageTolerance = getenvFloatDefault("POWERWATCH_VOLTAGE_TOLERANCE", c.VoltageTolerance)
	c.PhaseVoltageTolerance = getenvFloatDefault("POWERWATCH_PHASE_VOLTAGE_TOLERANCE", c.PhaseVoltageTolerance)
	c.PhaseCurrentTolerance = getenvFloatDefault("POWERWATCH_PHASE_CURRENT_TOLERANCE", c.PhaseCurrentTolerance)
	c.CurrentImbalanceEnabled = getenvBoolDefault("POWERWATCH_CURRENT_IMBALANCE_ENABLED", c.CurrentImbalanceEnabled)
	c.OutageFloor = getenvFloatDefault("POWERWATCH_OUTAGE_FLOOR", c.OutageFloor)

	c.BufferCapacity = getenvIntDefault("POWERWATCH_BUFFER_CAPACITY", c.BufferCapacity)
	c.MeasurementInterval = getenvDuration("POWERWATCH_MEASUREMENT_INTERVAL", c.MeasurementInterval)
	c.HourlyInterval = getenvDuration("POWERWATCH_HOURLY_INTERVAL", c.HourlyInterval)
	c.DailyInterval = getenvDuration("POWERWATCH_DAILY_INTERVAL", c.DailyInterval)
	c.NotifyInterval = getenvDuration("POWERWATCH_NOTIFY_INTERVAL", c.NotifyInterval)
	c.NotifyCooldown = getenvDuration("POWERWATCH_NOTIFY_COOLDOWN", c.NotifyCooldown)

	c.AdminRecipient = getenvDefault("POWERWATCH_ADMIN_RECIPIENT", c.AdminRecipient)
	if recipients := splitCSV(os.Getenv("POWERWATCH_RECIPIENTS")); len(recipients) > 0 {
		c.Recipients = recipients
	}

	c.Device.Address = getenvDefault("POWERWATCH_DEVICE_ADDRESS", c.Device.Address)
	c.Device.Location = getenvDefault("POWERWATCH_DEVICE_LOCATION", c.Device.Location)
	c.Storage.Driver = getenvDefault("POWERWATCH_STORAGE_DRIVER", c.Storage.Driver)
	if c.Storage.Driver == "pgx" {
		c.Storage.DSN = getenvDefault("PG_DSN", c.Storage.DSN)
	}
	c.Storage.DSN = getenvDefault("POWERWATCH_STORAGE_DSN", c.Storage.DSN)
	c.StoreMeasurements = getenvBoolDefault("POWERWATCH_STORE_MEASUREMENTS", c.StoreMeasurements)
	c.Channel.Kind = getenvDefault("POWERWATCH_CHANNEL", c.Channel.Kind)
	c.Channel.Token = getenvDefault("POWERWATCH_BOT_TOKEN", c.Channel.Token)
	c.Channel.BaseURL = getenvDefault("POWERWATCH_CHANNEL_BASE_URL", c.Channel.BaseURL)
	c.MetricsAddr = getenvDefault("POWERWATCH_METRICS_ADDR", c.MetricsAddr)
	c.Log.Level = getenvDefault("POWERWATCH_LOG_LEVEL", c.Log.Level)
	c.Log.File = getenvDefault("POWERWATCH_LOG_FILE", c.Log.File)
}

// Validate rejects configurations the monitor cannot run with. Delivery
// settings are checked separately by ValidateDelivery so that offline
// commands work without them.
func (c Config) Validate() error {
	if err := c.Tolerances().Validate(); err != nil {
		return err
	}
	if c.BufferCapacity <= 0 {
		return errors.New("config: buffer_capacity must be positive")
	}
	for name, d := range map[string]time.Duration{
		"measurement_interval": c.MeasurementInterval,
		"hourly_interval":      c.HourlyInterval,
		"daily_interval":       c.DailyInterval,
		"notify_interval":      c.NotifyInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.NotifyCooldown < 0 {
		return errors.New("config: notify_cooldown must not be negative")
	}
	if _, err := c.SuppressedTypes(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("config: unsupported storage driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		return errors.New("config: storage dsn required")
	}
	return nil
}

// ValidateDelivery checks the settings needed by the run command.
func (c Config) ValidateDelivery() error {
	if strings.TrimSpace(c.Device.Address) == "" {
		return errors.New("config: device.address required")
	}
	if strings.TrimSpace(c.AdminRecipient) == "" {
		return errors.New("config: admin_recipient required")
	}
	switch c.Channel.Kind {
	case ChannelTelegram:
		if strings.TrimSpace(c.Channel.Token) == "" {
			return errors.New("config: channel.token required for telegram")
		}
	case ChannelWebhook:
	default:
		return fmt.Errorf("config: unsupported channel %q", c.Channel.Kind)
	}
	return nil
}

// Tolerances returns the evaluator settings.
func (c Config) Tolerances() alarms.Tolerances {
	return alarms.Tolerances{
		NominalVoltage:          c.NominalVoltage,
		VoltageTolerance:        c.VoltageTolerance,
		PhaseVoltageTolerance:   c.PhaseVoltageTolerance,
		PhaseCurrentTolerance:   c.PhaseCurrentTolerance,
		OutageFloor:             c.OutageFloor,
		CurrentSensitivityFloor: c.CurrentSensitivityFloor,
		CurrentImbalanceEnabled: c.CurrentImbalanceEnabled,
	}
}

// SuppressedTypes parses the suppressed event type names.
func (c Config) SuppressedTypes() ([]alarms.EventType, error) {
	out := make([]alarms.EventType, 0, len(c.SuppressedEventTypes))
	for _, name := range c.SuppressedEventTypes {
		t, err := alarms.ParseEventType(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("config: suppressed_event_types: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Location resolves the device time zone, defaulting to the local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Device.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Device.Location)
	if err != nil {
		return nil, fmt.Errorf("config: device.location: %w", err)
	}
	return loc, nil
}

// DeviceRecord returns the device to look up or create at startup.
func (c Config) DeviceRecord() masterdata.Device {
	return masterdata.Device{
		Name:    c.Device.Name,
		Address: c.Device.Address,
		Model:   c.Device.Model,
	}.WithDefaults()
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
