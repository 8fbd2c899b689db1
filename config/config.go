package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Drop policies for sensors whose announcements cannot be decoded.
const (
	DropPolicyPermanent = "permanent" // never probe the sensor again
	DropPolicyRetry     = "retry"     // re-probe on the next announcement
)

// Config represents the complete gateway configuration
type Config struct {
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	NATS      NATSConfig      `json:"nats" yaml:"nats"`
	Broker    BrokerConfig    `json:"broker" yaml:"broker"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	Discovery DiscoveryConfig `json:"discovery" yaml:"discovery"`
}

// GatewayConfig defines gateway identity and state handling
type GatewayConfig struct {
	ID             string `json:"id" yaml:"id"`                                                 // Gateway identifier (e.g., "mower-1")
	Environment    string `json:"environment,omitempty" yaml:"environment,omitempty"`           // "prod", "dev", "test"
	StateQueueSize int    `json:"state_queue_size,omitempty" yaml:"state_queue_size,omitempty"` // Pending state update buffer capacity
}

// NATSConfig defines robot bus connection settings
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// BrokerConfig defines the upstream MQTT broker connection
type BrokerConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	URL               string   `json:"url,omitempty" yaml:"url,omitempty"`
	ClientID          string   `json:"client_id,omitempty" yaml:"client_id,omitempty"` // Random suffix appended when empty
	Username          string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password          string   `json:"password,omitempty" yaml:"password,omitempty"`
	TopicPrefix       string   `json:"topic_prefix,omitempty" yaml:"topic_prefix,omitempty"`
	KeepAlive         Duration `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`
	ConnectRetryDelay Duration `json:"connect_retry_delay,omitempty" yaml:"connect_retry_delay,omitempty"`
	ConnectTimeout    Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	QueueSize         int      `json:"queue_size,omitempty" yaml:"queue_size,omitempty"` // Pending publish buffer capacity
}

// HTTPConfig defines the local HTTP API server
type HTTPConfig struct {
	Addr            string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	ReadTimeout     Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout    Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// DiscoveryConfig controls sensor discovery behavior
type DiscoveryConfig struct {
	PollInterval Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	ProbeTimeout Duration `json:"probe_timeout,omitempty" yaml:"probe_timeout,omitempty"`
	DropPolicy   string   `json:"drop_policy,omitempty" yaml:"drop_policy,omitempty"`
}

// Duration wraps time.Duration so config files can use strings like "2s"
// in both JSON and YAML. Bare numbers are interpreted as nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value: %v", v)
	}
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q at line %d: %w", s, value.Line, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value at line %d: %s", value.Line, value.Value)
	}
	*d = Duration(time.Duration(n))
	return nil
}

// Default returns the default gateway configuration
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:             "xbot",
			StateQueueSize: 256,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Broker: BrokerConfig{
			Enabled:           true,
			URL:               "tcp://localhost:1883",
			TopicPrefix:       "xbot",
			KeepAlive:         Duration(20 * time.Second),
			ConnectRetryDelay: Duration(2 * time.Second),
			ConnectTimeout:    Duration(10 * time.Second),
			QueueSize:         512,
		},
		HTTP: HTTPConfig{
			Addr:            ":8090",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Discovery: DiscoveryConfig{
			PollInterval: Duration(100 * time.Millisecond),
			ProbeTimeout: Duration(5 * time.Second),
			DropPolicy:   DropPolicyPermanent,
		},
	}
}

// Load reads configuration from path, layered over defaults, and applies
// environment overrides. An empty path loads defaults plus environment
// overrides only. The format is chosen by file extension: .yaml/.yml for
// YAML, anything else for JSON.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		default:
			if err := checkJSONDepth(data); err != nil {
				return nil, fmt.Errorf("invalid JSON structure in %s: %w", path, err)
			}
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Gateway.ID == "" {
		return errors.New("gateway.id is required")
	}
	if !isValidSubjectPart(c.Gateway.ID) {
		return fmt.Errorf(
			"gateway.id %q is not valid for bus subjects (must be alphanumeric with dots, dashes, underscores)",
			c.Gateway.ID,
		)
	}
	if c.Gateway.StateQueueSize <= 0 {
		return errors.New("gateway.state_queue_size must be positive")
	}

	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}

	if c.Broker.Enabled {
		if err := validateBrokerURL(c.Broker.URL); err != nil {
			return fmt.Errorf("broker.url: %w", err)
		}
		if err := validateTopicPrefix(c.Broker.TopicPrefix); err != nil {
			return fmt.Errorf("broker.topic_prefix: %w", err)
		}
		if c.Broker.QueueSize <= 0 {
			return errors.New("broker.queue_size must be positive")
		}
		if c.Broker.KeepAlive.Std() < time.Second {
			return errors.New("broker.keep_alive must be at least 1s")
		}
	}

	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		return fmt.Errorf("http.addr %q is not a valid host:port: %w", c.HTTP.Addr, err)
	}

	if c.Discovery.PollInterval.Std() <= 0 {
		return errors.New("discovery.poll_interval must be positive")
	}
	if c.Discovery.ProbeTimeout.Std() <= 0 {
		return errors.New("discovery.probe_timeout must be positive")
	}
	switch c.Discovery.DropPolicy {
	case DropPolicyPermanent, DropPolicyRetry:
	default:
		return fmt.Errorf("discovery.drop_policy %q is invalid (must be %q or %q)",
			c.Discovery.DropPolicy, DropPolicyPermanent, DropPolicyRetry)
	}

	return nil
}

// validateBrokerURL checks that the broker URL parses and uses a supported scheme
func validateBrokerURL(raw string) error {
	if raw == "" {
		return errors.New("required when broker is enabled")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return err
	}

	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "mqtts", "tls", "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("missing host")
	}

	return nil
}

// validateTopicPrefix rejects MQTT wildcards and leading/trailing separators
func validateTopicPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if strings.ContainsAny(prefix, "+#") {
		return fmt.Errorf("%q must not contain MQTT wildcards", prefix)
	}
	if strings.HasPrefix(prefix, "/") || strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("%q must not start or end with a separator", prefix)
	}
	return nil
}

// isValidSubjectPart checks if a string is valid for use in bus subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// applyEnvOverrides applies XBOT_* environment variable overrides
func (c *Config) applyEnvOverrides() error {
	overrides := []struct {
		key   string
		apply func(string)
	}{
		{"XBOT_GATEWAY_ID", func(v string) { c.Gateway.ID = v }},
		{"XBOT_NATS_URLS", func(v string) { c.NATS.URLs = strings.Split(v, ",") }},
		{"XBOT_NATS_USERNAME", func(v string) { c.NATS.Username = v }},
		{"XBOT_NATS_PASSWORD", func(v string) { c.NATS.Password = v }},
		{"XBOT_NATS_TOKEN", func(v string) { c.NATS.Token = v }},
		{"XBOT_BROKER_URL", func(v string) { c.Broker.URL = v }},
		{"XBOT_BROKER_CLIENT_ID", func(v string) { c.Broker.ClientID = v }},
		{"XBOT_BROKER_USERNAME", func(v string) { c.Broker.Username = v }},
		{"XBOT_BROKER_PASSWORD", func(v string) { c.Broker.Password = v }},
		{"XBOT_BROKER_TOPIC_PREFIX", func(v string) { c.Broker.TopicPrefix = v }},
		{"XBOT_HTTP_ADDR", func(v string) { c.HTTP.Addr = v }},
	}

	for _, o := range overrides {
		val := os.Getenv(o.key)
		if val == "" {
			continue
		}
		if err := checkEnvValue(o.key, val); err != nil {
			return err
		}
		o.apply(val)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// Redacted returns a copy with credential fields masked, safe for logging
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[REDACTED]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[REDACTED]"
	}
	if clone.Broker.Password != "" {
		clone.Broker.Password = "[REDACTED]"
	}
	return clone
}

// SaveToFile saves the configuration to a file, format chosen by extension
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return writeConfigFile(path, data)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
