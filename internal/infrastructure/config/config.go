package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Polling modes.
const (
	// PollingModeIndependent drives each entity from its own timer.
	PollingModeIndependent = "independent"

	// PollingModeRotational drives all entities from a single round-robin loop.
	PollingModeRotational = "rotational"
)

// Gateway connection modes.
const (
	// ConnectionShared reuses the bridge's own MQTT connection for the gateway.
	ConnectionShared = "shared"

	// ConnectionDirect opens a private connection to the gateway's broker.
	ConnectionDirect = "direct"
)

// Polling bounds (seconds).
const (
	minPollInterval = 5
	maxPollInterval = 300
	minPollTimeout  = 1
	maxPollTimeout  = 30
)

// Config is the root configuration structure for the mesh bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Polling   PollingConfig   `yaml:"polling"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// GatewayConfig describes how to reach the mesh lighting gateway.
type GatewayConfig struct {
	// TopicPrefix is the root of every gateway topic (e.g. "hafele").
	TopicPrefix string `yaml:"topic_prefix"`

	// Connection selects "shared" (reuse mqtt section) or "direct".
	Connection string `yaml:"connection"`

	// Broker is only used when Connection is "direct".
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
}

// PollingConfig controls the status poll scheduler.
type PollingConfig struct {
	Mode        string `yaml:"mode"`
	Interval    int    `yaml:"interval"`     // seconds
	Timeout     int    `yaml:"timeout"`      // seconds
	SettleDelay int    `yaml:"settle_delay"` // seconds
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the bridge's own MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicRoot is the root for topics the bridge itself owns
	// (status, health, retained entity state).
	TopicRoot string `yaml:"topic_root"`

	// PublishRateLimit caps outbound publishes per second. 0 disables limiting.
	PublishRateLimit float64 `yaml:"publish_rate_limit"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables API authentication.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
// For example: MESHBRIDGE_GATEWAY_PREFIX, MESHBRIDGE_POLLING_MODE
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
		Gateway: GatewayConfig{
			TopicPrefix: "hafele",
			Connection:  ConnectionShared,
			Broker: MQTTBrokerConfig{
				Port:     1883,
				ClientID: "meshbridge-gateway",
			},
		},
		Polling: PollingConfig{
			Mode:        PollingModeIndependent,
			Interval:    30,
			Timeout:     5,
			SettleDelay: 5,
		},
		Database: DatabaseConfig{
			Path:        "./data/meshbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicRoot:        "meshbridge",
			PublishRateLimit: 20,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MESHBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("MESHBRIDGE_GATEWAY_PREFIX"); v != "" {
		cfg.Gateway.TopicPrefix = v
	}
	if v := os.Getenv("MESHBRIDGE_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Broker.Host = v
	}
	if v := os.Getenv("MESHBRIDGE_GATEWAY_USERNAME"); v != "" {
		cfg.Gateway.Auth.Username = v
	}
	if v := os.Getenv("MESHBRIDGE_GATEWAY_PASSWORD"); v != "" {
		cfg.Gateway.Auth.Password = v
	}

	// Polling
	if v := os.Getenv("MESHBRIDGE_POLLING_MODE"); v != "" {
		cfg.Polling.Mode = v
	}
	if v := os.Getenv("MESHBRIDGE_POLLING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Polling.Interval = n
		}
	}

	// Database
	if v := os.Getenv("MESHBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MESHBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("MESHBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("MESHBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.TopicPrefix == "" {
		errs = append(errs, "gateway.topic_prefix is required")
	} else if strings.ContainsAny(c.Gateway.TopicPrefix, "+#") {
		errs = append(errs, "gateway.topic_prefix must not contain MQTT wildcards")
	}
	switch c.Gateway.Connection {
	case ConnectionShared:
	case ConnectionDirect:
		if c.Gateway.Broker.Host == "" {
			errs = append(errs, "gateway.broker.host is required for a direct connection")
		}
		if c.Gateway.Broker.Port < 1 || c.Gateway.Broker.Port > 65535 {
			errs = append(errs, "gateway.broker.port must be between 1 and 65535")
		}
	default:
		errs = append(errs, fmt.Sprintf("gateway.connection must be %q or %q", ConnectionShared, ConnectionDirect))
	}

	// Polling validation
	switch c.Polling.Mode {
	case PollingModeIndependent, PollingModeRotational:
	default:
		errs = append(errs, fmt.Sprintf("polling.mode must be %q or %q", PollingModeIndependent, PollingModeRotational))
	}
	if c.Polling.Interval < minPollInterval || c.Polling.Interval > maxPollInterval {
		errs = append(errs, fmt.Sprintf("polling.interval must be between %d and %d seconds", minPollInterval, maxPollInterval))
	}
	if c.Polling.Timeout < minPollTimeout || c.Polling.Timeout > maxPollTimeout {
		errs = append(errs, fmt.Sprintf("polling.timeout must be between %d and %d seconds", minPollTimeout, maxPollTimeout))
	}
	if c.Polling.SettleDelay < 0 {
		errs = append(errs, "polling.settle_delay must not be negative")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicRoot == "" {
		errs = append(errs, "mqtt.topic_root is required")
	}
	if c.MQTT.PublishRateLimit < 0 {
		errs = append(errs, "mqtt.publish_rate_limit must not be negative")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - a secret is optional, but a short one is rejected
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GatewayBroker returns the MQTT settings used to reach the gateway.
// For a shared connection this is the bridge's own broker. A direct
// connection gets an empty topic root so it never announces status.
func (c *Config) GatewayBroker() MQTTConfig {
	if c.Gateway.Connection != ConnectionDirect {
		return c.MQTT
	}
	gw := c.MQTT
	gw.Broker = c.Gateway.Broker
	gw.Auth = c.Gateway.Auth
	gw.TopicRoot = ""
	return gw
}

// PollInterval returns the poll interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// PollTimeout returns the poll timeout as a Duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Polling.Timeout) * time.Second
}

// SettleDelay returns the post-command settle delay as a Duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Polling.SettleDelay) * time.Second
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
