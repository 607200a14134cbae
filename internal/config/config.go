// Package config loads and validates a mesh node's configuration from
// YAML, with environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a mesh node.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Link      LinkConfig      `yaml:"link"`
	Peers     []PeerConfig    `yaml:"peers"`
	REST      RESTConfig      `yaml:"rest"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// NodeConfig controls this node's own identity and authority behaviour.
type NodeConfig struct {
	ID            string `yaml:"id"`
	DefaultDomain string `yaml:"default_domain"`
	ClaimUnowned  bool   `yaml:"claim_unowned"`
}

// LinkConfig contains the settings for this node's inbound link listener.
type LinkConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// PeerConfig describes an outbound link to another node, installed as the
// gateway for Domain.
type PeerConfig struct {
	Domain string `yaml:"domain"`
	URL    string `yaml:"url"`
}

// RESTConfig contains the HTTP REST adapter's server settings.
type RESTConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// AuditConfig contains the session-lifecycle audit log's settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TelemetryConfig contains the InfluxDB PUT-notification sink's settings.
type TelemetryConfig struct {
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

// JWTConfig contains the installable auth middleware's JWT settings.
type JWTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// MQTTConfig contains the settings for devices bridged onto the node over
// MQTT (internal/bridge/mqttdevice).
type MQTTConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Broker   string   `yaml:"broker"`
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	QoS      int      `yaml:"qos"`
	Devices  []string `yaml:"devices"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHNODE_SECTION_KEY, for
// example MESHNODE_SECURITY_JWT_SECRET.
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

func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:            "node-001",
			DefaultDomain: ".",
			ClaimUnowned:  true,
		},
		Link: LinkConfig{
			ListenAddr:     "0.0.0.0:7790",
			Path:           "/link",
			MaxMessageSize: 1 << 20,
			PingInterval:   30,
			PongTimeout:    40,
		},
		REST: RESTConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "./data/audit.db",
		},
		Telemetry: TelemetryConfig{
			BatchSize:     50,
			FlushInterval: 10,
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
		MQTT: MQTTConfig{
			ClientID: "meshnode",
			QoS:      1,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Only secrets and deployment-specific endpoints are
// overridable; structural settings belong in the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESHNODE_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("MESHNODE_LINK_LISTEN_ADDR"); v != "" {
		cfg.Link.ListenAddr = v
	}
	if v := os.Getenv("MESHNODE_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
	if v := os.Getenv("MESHNODE_SECURITY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("MESHNODE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}
	if c.Node.DefaultDomain == "" {
		errs = append(errs, "node.default_domain is required")
	}

	for i, peer := range c.Peers {
		if peer.Domain == "" {
			errs = append(errs, fmt.Sprintf("peers[%d].domain is required", i))
		}
		if peer.URL == "" {
			errs = append(errs, fmt.Sprintf("peers[%d].url is required", i))
		}
	}

	if c.REST.Enabled && (c.REST.Port < 1 || c.REST.Port > 65535) {
		errs = append(errs, "rest.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when security.jwt.enabled is true (set MESHNODE_SECURITY_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.URL == "" {
		errs = append(errs, "telemetry.url is required when telemetry.enabled is true")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the REST adapter's read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.REST.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the REST adapter's write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.REST.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the REST adapter's idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.REST.Timeouts.Idle) * time.Second
}
