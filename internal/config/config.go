package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Device          DeviceConfig      `yaml:"device"`
	Sensor          SensorConfig      `yaml:"sensor"`
	Relay           RelayConfig       `yaml:"relay"`
	Button          ButtonConfig      `yaml:"button"`
	Clock           ClockConfig       `yaml:"clock"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Web             WebConfig         `yaml:"web"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig contains the control loop settings
type DeviceConfig struct {
	PollInterval Duration `yaml:"poll_interval"` // Sensor polling period (default: 60s)
}

// SensorConfig selects where samples come from and how raw readings are converted
type SensorConfig struct {
	Source    string   `yaml:"source"`    // "iio" or "mqtt"
	Path      string   `yaml:"path"`      // IIO sysfs file for source=iio
	Topic     string   `yaml:"topic"`     // MQTT topic for source=mqtt
	MaxAge    Duration `yaml:"max_age"`   // Reject MQTT samples older than this (0 = never stale)
	Transform string   `yaml:"transform"` // "raw", "ldr" or "lua"
	Script    string   `yaml:"script"`    // Lua chunk for transform=lua, `raw` is the input
}

// RelayConfig contains actuator output settings
type RelayConfig struct {
	Driver     string `yaml:"driver"`      // "gpio" or "memory"
	Pin        string `yaml:"pin"`         // periph pin name, e.g. GPIO17
	ActiveHigh *bool  `yaml:"active_high"` // Drive high for ON (default: true)
}

// IsActiveHigh returns the output polarity with default
func (c *RelayConfig) IsActiveHigh() bool {
	return c.ActiveHigh == nil || *c.ActiveHigh
}

// ButtonConfig contains the factory reset button settings
type ButtonConfig struct {
	Pin      string   `yaml:"pin"`      // Empty disables the button
	Debounce Duration `yaml:"debounce"` // Ignore repeated edges within this period (default: 1s)
}

// ClockConfig contains time-of-day and time sync settings
type ClockConfig struct {
	Timezone        string   `yaml:"timezone"`
	Source          string   `yaml:"source"`           // "system" or "ntp"
	Servers         []string `yaml:"servers"`          // NTP servers, tried in order
	Timeout         Duration `yaml:"timeout"`          // Per-server query timeout
	RefreshInterval Duration `yaml:"refresh_interval"` // How often to re-sync
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns the retention period as a duration
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// WebConfig contains configuration web UI settings
type WebConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"` // Limit for state-changing requests
	AccessLog    bool    `yaml:"access_log"`
}

// MQTTConfig contains broker settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"` // Topic prefix for state, sensor and set topics
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 64)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./relayd.sqlite"
	}

	// Device defaults
	if cfg.Device.PollInterval == 0 {
		cfg.Device.PollInterval = Duration(60 * time.Second)
	}

	// Sensor defaults
	if cfg.Sensor.Source == "" {
		cfg.Sensor.Source = "iio"
	}
	if cfg.Sensor.Path == "" {
		cfg.Sensor.Path = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"
	}
	if cfg.Sensor.Transform == "" {
		cfg.Sensor.Transform = "ldr"
	}

	// Relay defaults
	if cfg.Relay.Driver == "" {
		cfg.Relay.Driver = "memory"
	}

	if cfg.Button.Debounce == 0 {
		cfg.Button.Debounce = Duration(time.Second)
	}

	// Clock defaults
	if cfg.Clock.Timezone == "" {
		cfg.Clock.Timezone = "Local"
	}
	if cfg.Clock.Source == "" {
		cfg.Clock.Source = "system"
	}
	if len(cfg.Clock.Servers) == 0 {
		cfg.Clock.Servers = []string{"pool.ntp.org", "time.google.com"}
	}
	if cfg.Clock.Timeout == 0 {
		cfg.Clock.Timeout = Duration(5 * time.Second)
	}
	if cfg.Clock.RefreshInterval == 0 {
		cfg.Clock.RefreshInterval = Duration(time.Hour)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Web defaults
	if cfg.Web.Host == "" {
		cfg.Web.Host = "0.0.0.0"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.RateLimitRPS == 0 {
		cfg.Web.RateLimitRPS = 2.0
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "relayd"
	}
	if cfg.MQTT.Prefix == "" {
		cfg.MQTT.Prefix = "relayd"
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// EventBus defaults
	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 2
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 64
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks enumerated settings and cross-field requirements
func (cfg *Config) Validate() error {
	switch cfg.Sensor.Source {
	case "iio":
	case "mqtt":
		if !cfg.MQTT.Enabled {
			return fmt.Errorf("sensor.source=mqtt requires mqtt.enabled")
		}
		if cfg.Sensor.Topic == "" {
			return fmt.Errorf("sensor.source=mqtt requires sensor.topic")
		}
	default:
		return fmt.Errorf("unknown sensor.source: %q", cfg.Sensor.Source)
	}

	switch cfg.Sensor.Transform {
	case "raw", "ldr":
	case "lua":
		if strings.TrimSpace(cfg.Sensor.Script) == "" {
			return fmt.Errorf("sensor.transform=lua requires sensor.script")
		}
	default:
		return fmt.Errorf("unknown sensor.transform: %q", cfg.Sensor.Transform)
	}

	switch cfg.Relay.Driver {
	case "memory":
	case "gpio":
		if cfg.Relay.Pin == "" {
			return fmt.Errorf("relay.driver=gpio requires relay.pin")
		}
	default:
		return fmt.Errorf("unknown relay.driver: %q", cfg.Relay.Driver)
	}

	switch cfg.Clock.Source {
	case "system", "ntp":
	default:
		return fmt.Errorf("unknown clock.source: %q", cfg.Clock.Source)
	}

	if cfg.Device.PollInterval.Duration() < time.Second {
		return fmt.Errorf("device.poll_interval must be at least 1s")
	}
	return nil
}

// GetShutdownTimeout returns the shutdown timeout as a time.Duration
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return cfg.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
