package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by TransportConfig.Kind.
const (
	TransportSerial = "serial"
	TransportMQTT   = "mqtt"
)

// Config is the root configuration structure for mirrorctl.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Transport string         `yaml:"transport"`
	Serial    SerialConfig   `yaml:"serial"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig `yaml:"influxdb"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// SerialConfig contains serial link settings.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`

	// Timeout is the base per-command response window. Hard deadlines and
	// streaming extensions are derived from it.
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is how often STATUS is requested while the link is idle.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// Node is the device id commands are published to. When empty the
	// only device seen on the status topic is used.
	Node string `yaml:"node"`
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

// MQTTReconnectConfig contains reconnect backoff settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
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
// Environment variables follow the pattern: MIRRORCTL_SECTION_KEY
// For example: MIRRORCTL_SERIAL_PORT, MIRRORCTL_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied. It does
// not validate; callers adjust the result and call Validate.
func FromEnv() *Config {
	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg
}

// Default returns a Config with working defaults for a bench setup:
// serial transport at 115200 baud and the broker values from DefaultBroker.
func Default() *Config {
	broker := DefaultBroker()
	return &Config{
		Transport: TransportSerial,
		Serial: SerialConfig{
			Port:         "/dev/ttyUSB0",
			Baud:         115200,
			Timeout:      time.Second,
			PollInterval: 500 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     broker.Host,
				Port:     broker.Port,
				ClientID: fmt.Sprintf("mirrorctl-%d", os.Getpid()),
			},
			Auth: MQTTAuthConfig{
				Username: broker.User,
				Password: broker.Password,
			},
			QoS:       1,
			KeepAlive: 30,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// ApplyBroker overwrites the broker address and credentials with values
// resolved from a firmware secrets header.
func (c *Config) ApplyBroker(b Broker) {
	if b.Host != "" {
		c.MQTT.Broker.Host = b.Host
	}
	if b.Port != 0 {
		c.MQTT.Broker.Port = b.Port
	}
	c.MQTT.Auth.Username = b.User
	c.MQTT.Auth.Password = b.Password
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRRORCTL_TRANSPORT"); v != "" {
		cfg.Transport = strings.ToLower(v)
	}

	// Serial
	if v := os.Getenv("MIRRORCTL_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("MIRRORCTL_SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serial.Baud = n
		}
	}

	// MQTT
	if v := os.Getenv("MIRRORCTL_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MIRRORCTL_MQTT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = n
		}
	}
	if v := os.Getenv("MIRRORCTL_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MIRRORCTL_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MIRRORCTL_MQTT_NODE"); v != "" {
		cfg.MQTT.Node = v
	}

	// InfluxDB
	if v := os.Getenv("MIRRORCTL_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("MIRRORCTL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	switch c.Transport {
	case TransportSerial:
		if c.Serial.Port == "" {
			errs = append(errs, "serial.port is required")
		}
		if c.Serial.Baud <= 0 {
			errs = append(errs, "serial.baud must be positive")
		}
	case TransportMQTT:
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport must be %q or %q", TransportSerial, TransportMQTT))
	}

	if c.Serial.Timeout <= 0 {
		errs = append(errs, "serial.timeout must be positive")
	}
	if c.Serial.PollInterval <= 0 {
		errs = append(errs, "serial.poll_interval must be positive")
	}

	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.InitialDelay <= 0 || c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect delays must be positive with max_delay >= initial_delay")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectInitial returns the first reconnect delay as a Duration.
func (c *Config) ReconnectInitial() time.Duration {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second
}

// ReconnectMax returns the reconnect delay cap as a Duration.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.MQTT.Reconnect.MaxDelay) * time.Second
}
