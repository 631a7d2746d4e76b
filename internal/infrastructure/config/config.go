package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSocketPath is where the listener binds unless configured otherwise.
const DefaultSocketPath = "/run/sunneed/sunneed.sock"

// Device source types accepted in devices.source.
const (
	DeviceSourceFile   = "file"
	DeviceSourceSQLite = "sqlite"
)

// Config is the root configuration structure for sunneed.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Devices  DevicesConfig  `yaml:"devices"`
	Database DatabaseConfig `yaml:"database"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Listener ListenerConfig `yaml:"listener"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	GeoIP    GeoIPConfig    `yaml:"geoip"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DevicesConfig selects where the device registry is loaded from.
type DevicesConfig struct {
	// Source is "file" (YAML device list) or "sqlite" (devices table).
	Source string `yaml:"source"`

	// File is the path to the YAML device list when Source is "file".
	File string `yaml:"file"`
}

// DatabaseConfig contains SQLite database settings.
// Only used when devices.source is "sqlite".
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MonitorConfig contains settings for the device monitor worker.
type MonitorConfig struct {
	// PollInterval is the sleep between two device polls.
	// Default: 5s
	PollInterval time.Duration `yaml:"poll_interval"`

	// ProbeTimeout bounds a single device probe.
	// Default: 2s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// MinQuality is the lowest reading quality still treated as active.
	// Readings below it mark the device degraded. Default: 0 (disabled)
	MinQuality float64 `yaml:"min_quality"`
}

// ListenerConfig contains settings for the local client socket.
type ListenerConfig struct {
	SocketPath      string        `yaml:"socket_path"`
	SocketMode      string        `yaml:"socket_mode"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxRequestBytes int           `yaml:"max_request_bytes"`

	// MaxConnRate limits accepted connections per second. 0 disables it.
	MaxConnRate float64 `yaml:"max_conn_rate"`
	ConnBurst   int     `yaml:"conn_burst"`
}

// APIConfig contains settings for the local HTTP status API.
type APIConfig struct {
	Enabled    bool             `yaml:"enabled"`
	SocketPath string           `yaml:"socket_path"`
	Timeouts   APITimeoutConfig `yaml:"timeouts"`

	// StreamInterval is how often the position stream checks for a new snapshot.
	StreamInterval time.Duration `yaml:"stream_interval"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// GeoIPConfig contains the default MaxMind database used by netgeo devices.
// A device may override it with its own "database" parameter.
type GeoIPConfig struct {
	Database string `yaml:"database"`
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
// Environment variables follow the pattern: SUNNEED_SECTION_KEY
// For example: SUNNEED_LISTENER_SOCKET_PATH, SUNNEED_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Devices: DevicesConfig{
			Source: DeviceSourceFile,
			File:   "/etc/sunneed/devices.yaml",
		},
		Database: DatabaseConfig{
			Path:        "/var/lib/sunneed/sunneed.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Monitor: MonitorConfig{
			PollInterval: 5 * time.Second,
			ProbeTimeout: 2 * time.Second,
		},
		Listener: ListenerConfig{
			SocketPath:      DefaultSocketPath,
			SocketMode:      "0660",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxRequestBytes: 256,
		},
		API: APIConfig{
			SocketPath: "/run/sunneed/api.sock",
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			StreamInterval: time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sunneed",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SUNNEED_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Devices
	if v := os.Getenv("SUNNEED_DEVICES_SOURCE"); v != "" {
		cfg.Devices.Source = v
	}
	if v := os.Getenv("SUNNEED_DEVICES_FILE"); v != "" {
		cfg.Devices.File = v
	}

	// Database
	if v := os.Getenv("SUNNEED_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Monitor
	if v := os.Getenv("SUNNEED_MONITOR_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.PollInterval = d
		}
	}

	// Listener
	if v := os.Getenv("SUNNEED_LISTENER_SOCKET_PATH"); v != "" {
		cfg.Listener.SocketPath = v
	}

	// API
	if v := os.Getenv("SUNNEED_API_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.API.Enabled = b
		}
	}
	if v := os.Getenv("SUNNEED_API_SOCKET_PATH"); v != "" {
		cfg.API.SocketPath = v
	}

	// MQTT
	if v := os.Getenv("SUNNEED_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SUNNEED_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SUNNEED_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SUNNEED_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// GeoIP
	if v := os.Getenv("SUNNEED_GEOIP_DATABASE"); v != "" {
		cfg.GeoIP.Database = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Devices.Source {
	case DeviceSourceFile:
		if c.Devices.File == "" {
			errs = append(errs, "devices.file is required when devices.source is \"file\"")
		}
	case DeviceSourceSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when devices.source is \"sqlite\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("devices.source must be %q or %q", DeviceSourceFile, DeviceSourceSQLite))
	}

	if c.Monitor.PollInterval <= 0 {
		errs = append(errs, "monitor.poll_interval must be positive")
	}
	if c.Monitor.ProbeTimeout <= 0 {
		errs = append(errs, "monitor.probe_timeout must be positive")
	}
	if c.Monitor.MinQuality < 0 || c.Monitor.MinQuality > 1 {
		errs = append(errs, "monitor.min_quality must be between 0 and 1")
	}

	if c.Listener.SocketPath == "" {
		errs = append(errs, "listener.socket_path is required")
	}
	if _, err := c.Listener.Mode(); err != nil {
		errs = append(errs, "listener.socket_mode must be an octal file mode (e.g. \"0660\")")
	}
	if c.Listener.MaxRequestBytes < 16 {
		errs = append(errs, "listener.max_request_bytes must be at least 16")
	}
	if c.Listener.MaxConnRate < 0 || c.Listener.ConnBurst < 0 {
		errs = append(errs, "listener.max_conn_rate and listener.conn_burst must not be negative")
	}

	if c.API.Enabled {
		if c.API.SocketPath == "" {
			errs = append(errs, "api.socket_path is required when the API is enabled")
		} else if c.API.SocketPath == c.Listener.SocketPath {
			errs = append(errs, "api.socket_path must differ from listener.socket_path")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when InfluxDB is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Mode parses the configured socket permission bits.
func (l ListenerConfig) Mode() (os.FileMode, error) {
	m, err := strconv.ParseUint(l.SocketMode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing socket mode %q: %w", l.SocketMode, err)
	}
	return os.FileMode(m), nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
