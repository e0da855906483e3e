// Package config holds the service configuration model: the YAML config
// file, environment bootstrap, and the shared database pool.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration, loaded from YAML.
type Config struct {
	Server        ServerConfig        `yaml:"server,omitempty" json:"server,omitempty"`
	Database      DatabaseConfig      `yaml:"database,omitempty" json:"database,omitempty"`
	Uploads       UploadsConfig       `yaml:"uploads,omitempty" json:"uploads,omitempty"`
	Logging       LoggingConfig       `yaml:"logging,omitempty" json:"logging,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// Validate checks the configuration for errors.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// UploadsConfig configures document upload handling.
type UploadsConfig struct {
	// Dir is where uploaded files are stored.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Watch enables the fsnotify watcher on Dir: files dropped there
	// are ingested automatically.
	Watch bool `yaml:"watch,omitempty" json:"watch,omitempty"`

	// MaxFileSize is the per-file upload cap in bytes.
	MaxFileSize int64 `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`

	// MaxFiles is the per-request upload cap.
	MaxFiles int `yaml:"max_files,omitempty" json:"max_files,omitempty"`
}

// SetDefaults applies default values.
func (c *UploadsConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "./data/uploads"
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 50 << 20
	}
	if c.MaxFiles == 0 {
		c.MaxFiles = 10
	}
}

// LoggingConfig configures slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
}

// SetDefaults applies default values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// ObservabilityConfig switches metrics and tracing on.
type ObservabilityConfig struct {
	MetricsEnabled bool    `yaml:"metrics_enabled,omitempty" json:"metrics_enabled,omitempty"`
	TracingEnabled bool    `yaml:"tracing_enabled,omitempty" json:"tracing_enabled,omitempty"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	SamplingRate   float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty"`
	ServiceName    string  `yaml:"service_name,omitempty" json:"service_name,omitempty"`
}

// SetDefaults applies default values.
func (c *ObservabilityConfig) SetDefaults() {
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4317"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = "granth"
	}
}

// SetDefaults applies defaults recursively.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Uploads.SetDefaults()
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// Load reads a YAML config file, expands ${VAR} references, applies
// defaults and validates. An empty path yields the default config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		expanded := ExpandEnvVarsInData(raw)

		out, err := yaml.Marshal(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode config: %w", err)
		}
		if err := yaml.Unmarshal(out, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvInt reads an integer environment variable with a fallback.
func EnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// EnvFloat reads a float environment variable with a fallback.
func EnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// EnvString reads a string environment variable with a fallback.
func EnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
