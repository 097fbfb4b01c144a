package config

import (
	"fmt"
	"net/url"
	"time"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `koanf:"server" yaml:"server"`
	Worker WorkerConfig `koanf:"worker" yaml:"worker"`
	Cache  CacheConfig  `koanf:"cache" yaml:"cache"`
	Log    LogConfig    `koanf:"log" yaml:"log"`
}

// ServerConfig contains proxy listener configuration
type ServerConfig struct {
	Port        int         `koanf:"port" yaml:"port"`
	MetricsAddr string      `koanf:"metrics_addr" yaml:"metrics_addr"`
	HTTPS       HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig contains TLS interception configuration
type HTTPSConfig struct {
	Enabled         bool   `koanf:"enabled" yaml:"enabled"`
	CACertFile      string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile       string `koanf:"ca_key_file" yaml:"ca_key_file"`
	TransparentAddr string `koanf:"transparent_addr" yaml:"transparent_addr"`
}

// WorkerConfig describes the offline worker: what it caches and under which name
type WorkerConfig struct {
	// Origin the worker is registered for. Its hostname decides development mode.
	Origin    string   `koanf:"origin" yaml:"origin"`
	CacheName string   `koanf:"cache_name" yaml:"cache_name"`
	Resources []string `koanf:"resources" yaml:"resources"`
	// Empty means no timeout on network fetches.
	FetchTimeout string `koanf:"fetch_timeout" yaml:"fetch_timeout"`
}

// CacheConfig contains cache store configuration
type CacheConfig struct {
	Backend string `koanf:"backend" yaml:"backend"` // "disk" or "memory"
	Folder  string `koanf:"folder" yaml:"folder"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
}

// Default returns the configuration used when no file overrides a value
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Worker: WorkerConfig{
			Origin:    "https://jannah.app",
			CacheName: "jannah-v1",
			Resources: []string{"/", "/index.html", "/manifest.json"},
		},
		Cache: CacheConfig{Backend: "disk", Folder: "./cache"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file on top of the defaults.
// An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &config, nil
}

// IsDevelopment reports whether the worker origin is a local development host
func (c *Config) IsDevelopment() bool {
	u, err := url.Parse(c.Worker.Origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1":
		return true
	}
	return false
}

// GetFetchTimeout parses the network fetch timeout. Zero means no timeout.
func (c *Config) GetFetchTimeout() (time.Duration, error) {
	if c.Worker.FetchTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Worker.FetchTimeout)
}

// GetLogLevel parses the configured log level
func (c *Config) GetLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.Log.Level)
}

// Dump renders the effective configuration as YAML
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	origin, err := url.Parse(c.Worker.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if (origin.Scheme != "http" && origin.Scheme != "https") || origin.Host == "" {
		return fmt.Errorf("origin must be an absolute http(s) URL, got: %s", c.Worker.Origin)
	}

	if c.Worker.CacheName == "" {
		return fmt.Errorf("cache name is required")
	}

	if len(c.Worker.Resources) == 0 {
		return fmt.Errorf("at least one resource to cache is required")
	}

	if _, err := c.GetFetchTimeout(); err != nil {
		return fmt.Errorf("invalid fetch timeout format: %w", err)
	}

	switch c.Cache.Backend {
	case "disk":
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required for the disk backend")
		}
	case "memory":
	default:
		return fmt.Errorf("cache backend must be 'disk' or 'memory', got: %s", c.Cache.Backend)
	}

	if _, err := c.GetLogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}
