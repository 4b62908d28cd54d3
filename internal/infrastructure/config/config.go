package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for hublink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Compiler  CompilerConfig  `yaml:"compiler"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HubConfig selects the transport and identifies the hub on it.
type HubConfig struct {
	// Transport is the connection type: "ble", "usb", or "ev3".
	Transport string `yaml:"transport"`

	BLE BLEConfig `yaml:"ble"`
	USB USBConfig `yaml:"usb"`
	EV3 EV3Config `yaml:"ev3"`
}

// BLEConfig contains wireless connection settings.
type BLEConfig struct {
	// Adapter is the local controller, e.g. "hci0".
	Adapter string `yaml:"adapter"`

	// Name is the hub's advertised name. Takes effect when Address is
	// empty.
	Name string `yaml:"name"`

	// Address is the hub's MAC address, e.g. "AA:BB:CC:DD:EE:FF".
	// With both Name and Address empty, the first hub advertising the
	// protocol service is used.
	Address string `yaml:"address"`

	// ScanTimeout bounds device discovery in seconds.
	ScanTimeout int `yaml:"scan_timeout"`
}

// USBConfig contains wired connection settings.
type USBConfig struct {
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
}

// EV3Config contains legacy brick connection settings.
type EV3Config struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// CompilerConfig contains cross compiler settings.
type CompilerConfig struct {
	// MpyCross is the executable for current-firmware bytecode.
	// Default: "mpy-cross" on PATH.
	MpyCross string `yaml:"mpy_cross"`

	// MpyCrossV5 is the executable for legacy-firmware bytecode.
	// Default: "mpy-cross-v5" on PATH.
	MpyCrossV5 string `yaml:"mpy_cross_v5"`
}

// TelemetryConfig contains hub status publishing settings.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`

	// TopicPrefix is prepended to every published topic.
	// Default: "hublink".
	TopicPrefix string `yaml:"topic_prefix"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HUBLINK_SECTION_KEY
// For example: HUBLINK_BLE_ADDRESS, HUBLINK_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			Transport: "ble",
			BLE: BLEConfig{
				Adapter:     "hci0",
				ScanTimeout: 30,
			},
			EV3: EV3Config{
				User: "robot",
			},
		},
		Compiler: CompilerConfig{
			MpyCross:   "mpy-cross",
			MpyCrossV5: "mpy-cross-v5",
		},
		Telemetry: TelemetryConfig{
			TopicPrefix: "hublink",
			MQTT: MQTTConfig{
				Broker: MQTTBrokerConfig{
					Host:     "localhost",
					Port:     1883,
					ClientID: "hublink",
				},
				QoS: 1,
				Reconnect: MQTTReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
					MaxAttempts:  0,
				},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HUBLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("HUBLINK_TRANSPORT"); v != "" {
		cfg.Hub.Transport = v
	}
	if v := os.Getenv("HUBLINK_BLE_ADAPTER"); v != "" {
		cfg.Hub.BLE.Adapter = v
	}
	if v := os.Getenv("HUBLINK_BLE_NAME"); v != "" {
		cfg.Hub.BLE.Name = v
	}
	if v := os.Getenv("HUBLINK_BLE_ADDRESS"); v != "" {
		cfg.Hub.BLE.Address = v
	}
	if v := os.Getenv("HUBLINK_EV3_HOST"); v != "" {
		cfg.Hub.EV3.Host = v
	}
	if v := os.Getenv("HUBLINK_EV3_PASSWORD"); v != "" {
		cfg.Hub.EV3.Password = v
	}

	// Compiler
	if v := os.Getenv("HUBLINK_MPY_CROSS"); v != "" {
		cfg.Compiler.MpyCross = v
	}

	// Telemetry
	if v := os.Getenv("HUBLINK_MQTT_HOST"); v != "" {
		cfg.Telemetry.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HUBLINK_MQTT_USERNAME"); v != "" {
		cfg.Telemetry.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HUBLINK_MQTT_PASSWORD"); v != "" {
		cfg.Telemetry.MQTT.Auth.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Hub.Transport {
	case "ble":
		if c.Hub.BLE.Adapter == "" {
			errs = append(errs, "hub.ble.adapter is required")
		}
		if c.Hub.BLE.ScanTimeout < 1 {
			errs = append(errs, "hub.ble.scan_timeout must be at least 1 second")
		}
	case "usb":
		if c.Hub.USB.VendorID == 0 {
			errs = append(errs, "hub.usb.vendor_id is required")
		}
		if c.Hub.USB.ProductID == 0 {
			errs = append(errs, "hub.usb.product_id is required")
		}
	case "ev3":
		if c.Hub.EV3.Host == "" {
			errs = append(errs, "hub.ev3.host is required")
		}
		if c.Hub.EV3.Password == "" {
			errs = append(errs, "hub.ev3.password is required (set HUBLINK_EV3_PASSWORD environment variable)")
		}
	default:
		errs = append(errs, "hub.transport must be ble, usb, or ev3")
	}

	if c.Compiler.MpyCross == "" {
		errs = append(errs, "compiler.mpy_cross is required")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.MQTT.Broker.Host == "" {
			errs = append(errs, "telemetry.mqtt.broker.host is required when telemetry is enabled")
		}
		if c.Telemetry.MQTT.QoS < 0 || c.Telemetry.MQTT.QoS > 2 {
			errs = append(errs, "telemetry.mqtt.qos must be 0, 1, or 2")
		}
		if c.Telemetry.TopicPrefix == "" {
			errs = append(errs, "telemetry.topic_prefix is required when telemetry is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetScanTimeout returns the BLE scan timeout as a Duration.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.Hub.BLE.ScanTimeout) * time.Second
}
