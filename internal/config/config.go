package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultHost keeps the relay off non-loopback interfaces unless asked.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the relay port the extension dials by default.
	DefaultPort = 19988

	// DefaultPingInterval is how often the extension channel is pinged.
	DefaultPingInterval = 30 * time.Second
)

// Config is the relay configuration. It is read once at startup and never
// mutated while the relay runs.
type Config struct {
	// Host is the listen address.
	Host string `yaml:"host" envconfig:"SSPA_MCP_HOST"`

	// Port is the listen port for HTTP discovery and both WebSocket endpoints.
	Port int `yaml:"port" envconfig:"SSPA_MCP_PORT"`

	// Token, when set, must be passed as ?token= by every CDP client.
	Token string `yaml:"token" envconfig:"SSPA_MCP_TOKEN"`

	// ExtensionIDs is the allow-list of chrome-extension IDs. Empty means any
	// extension origin is accepted (logged as open mode).
	ExtensionIDs []string `yaml:"extensionIds" envconfig:"SSPA_EXTENSION_IDS"`

	// PingInterval is the extension keepalive period.
	PingInterval time.Duration `yaml:"pingInterval" envconfig:"SSPA_MCP_PING_INTERVAL"`

	LogLevel  string `yaml:"logLevel" envconfig:"SSPA_MCP_LOG_LEVEL"`
	LogFormat string `yaml:"logFormat" envconfig:"SSPA_MCP_LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		PingInterval: DefaultPingInterval,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// LoadFromBytes overlays YAML bytes on the defaults, expanding environment
// variables in the document first.
func LoadFromBytes(data []byte) (Config, error) {
	return overlay(Default(), data)
}

func overlay(c Config, data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Load builds the final configuration: base, then the optional YAML file at
// path, then environment variables resolved through lookup (os.LookupEnv
// when nil). Only variables that are present override earlier layers.
func Load(base Config, path string, lookup func(string) (string, bool)) (Config, error) {
	c := base
	c.ExtensionIDs = append([]string(nil), base.ExtensionIDs...)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
		if c, err = overlay(c, data); err != nil {
			return c, err
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := envconfig.Process("", &c, lookup); err != nil {
		return c, fmt.Errorf("environment: %w", err)
	}

	c.Normalize()
	return c, c.Validate()
}

// Normalize trims list entries and drops empty ones.
func (c *Config) Normalize() {
	ids := c.ExtensionIDs[:0]
	for _, id := range c.ExtensionIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.ExtensionIDs = ids
	c.Host = strings.TrimSpace(c.Host)
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive, got %s", c.PingInterval)
	}
	return nil
}

// Addr is the host:port the relay listens on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// OpenMode reports whether any extension origin is accepted.
func (c Config) OpenMode() bool {
	return len(c.ExtensionIDs) == 0
}
