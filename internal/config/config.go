package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so yaml values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MQTT configures the optional MQTT snapshot source.
type MQTT struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       byte   `yaml:"qos"`
}

// Config is the full service configuration. Every telemetry threshold is
// policy, configurable via yaml file or environment.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	JWTSecret   string `yaml:"jwt_secret"`
	DatabaseURL string `yaml:"database_url"`

	HistoryCapacity  int `yaml:"history_capacity"`
	MaxChannels      int `yaml:"max_channels"`
	MaxAux           int `yaml:"max_aux"`
	MaxCAN           int `yaml:"max_can"`
	MaxLIN           int `yaml:"max_lin"`
	MaxAlarms        int `yaml:"max_alarms"`
	MaxDevices       int `yaml:"max_devices"`
	HistoryHighWater int `yaml:"history_high_water"`

	HeartbeatTimeout    Duration `yaml:"heartbeat_timeout"`
	InactivityWindow    Duration `yaml:"inactivity_window"`
	SweepInterval       Duration `yaml:"sweep_interval"`
	SummaryInterval     Duration `yaml:"summary_interval"`
	MaintenanceInterval Duration `yaml:"maintenance_interval"`
	DeliveryTimeout     Duration `yaml:"delivery_timeout"`

	MQTT MQTT `yaml:"mqtt"`
}

// Load builds the configuration from defaults, the optional yaml file named
// by CYCLERHUB_CONFIG, and environment overrides for anything left unset.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:            ":8080",
		HistoryCapacity:     1000,
		MaxChannels:         128,
		MaxAux:              256,
		MaxCAN:              256,
		MaxLIN:              256,
		MaxAlarms:           64,
		HeartbeatTimeout:    Duration(30 * time.Second),
		InactivityWindow:    Duration(5 * time.Minute),
		SweepInterval:       Duration(10 * time.Second),
		SummaryInterval:     Duration(30 * time.Second),
		MaintenanceInterval: Duration(5 * time.Minute),
		DeliveryTimeout:     Duration(5 * time.Second),
	}

	if path := os.Getenv("CYCLERHUB_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("AUTH_JWT_SECRET")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = getenvDefault("DATABASE_URL", os.Getenv("PG_DSN"))
	}

	cfg.HistoryCapacity = getenvIntDefault("HISTORY_CAPACITY", cfg.HistoryCapacity)
	cfg.MaxChannels = getenvIntDefault("MAX_CHANNELS", cfg.MaxChannels)
	cfg.MaxAux = getenvIntDefault("MAX_AUX", cfg.MaxAux)
	cfg.MaxCAN = getenvIntDefault("MAX_CAN", cfg.MaxCAN)
	cfg.MaxLIN = getenvIntDefault("MAX_LIN", cfg.MaxLIN)
	cfg.MaxAlarms = getenvIntDefault("MAX_ALARMS", cfg.MaxAlarms)
	cfg.MaxDevices = getenvIntDefault("MAX_DEVICES", cfg.MaxDevices)
	cfg.HistoryHighWater = getenvIntDefault("HISTORY_HIGH_WATER", cfg.HistoryHighWater)

	cfg.HeartbeatTimeout = getenvDuration("HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.InactivityWindow = getenvDuration("INACTIVITY_WINDOW", cfg.InactivityWindow)
	cfg.SweepInterval = getenvDuration("SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.SummaryInterval = getenvDuration("SUMMARY_INTERVAL", cfg.SummaryInterval)
	cfg.MaintenanceInterval = getenvDuration("MAINTENANCE_INTERVAL", cfg.MaintenanceInterval)
	cfg.DeliveryTimeout = getenvDuration("DELIVERY_TIMEOUT", cfg.DeliveryTimeout)

	if cfg.MQTT.BrokerURL == "" {
		cfg.MQTT.BrokerURL = os.Getenv("MQTT_BROKER_URL")
	}
	if cfg.MQTT.BrokerURL != "" {
		cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", defaultString(cfg.MQTT.ClientID, "cyclerhub"))
		cfg.MQTT.Topic = getenvDefault("MQTT_TOPIC", defaultString(cfg.MQTT.Topic, "cyclerhub/snapshots"))
		cfg.MQTT.Username = getenvDefault("MQTT_USERNAME", cfg.MQTT.Username)
		cfg.MQTT.Password = getenvDefault("MQTT_PASSWORD", cfg.MQTT.Password)
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants between settings.
func (c Config) Validate() error {
	if c.HistoryCapacity < 1 {
		return errors.New("config: history_capacity must be at least 1")
	}
	if c.HeartbeatTimeout.Std() <= 0 {
		return errors.New("config: heartbeat_timeout must be positive")
	}
	if c.InactivityWindow.Std() <= c.HeartbeatTimeout.Std() {
		return errors.New("config: inactivity_window must exceed heartbeat_timeout")
	}
	if c.SweepInterval.Std() <= 0 {
		return errors.New("config: sweep_interval must be positive")
	}
	if c.MaxDevices < 0 {
		return errors.New("config: max_devices must not be negative")
	}
	return nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
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

func getenvDuration(key string, fallback Duration) Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return Duration(parsed)
}
