package config

import "fmt"

// DatabaseConfig configures the SQL store used for the document registry,
// configurations, and chat sessions.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "mysql", "postgres".
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`

	// Path is the database file path (sqlite only).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Host, Port, User, Password, Name apply to mysql/postgres.
	Host     string `yaml:"host,omitempty" json:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	User     string `yaml:"user,omitempty" json:"user,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`

	// SSLMode applies to postgres (default "disable").
	SSLMode string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`
	MaxIdle  int `yaml:"max_idle,omitempty" json:"max_idle,omitempty"`
}

// SetDefaults applies default values.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.Path == "" {
		c.Path = "./data/granth.db"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
}

// Validate checks the configuration for errors.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "", "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Driver)
	}
	if c.Driver == "mysql" || c.Driver == "postgres" {
		if c.Host == "" {
			return fmt.Errorf("%s requires a host", c.Driver)
		}
		if c.Name == "" {
			return fmt.Errorf("%s requires a database name", c.Driver)
		}
	}
	return nil
}

// DriverName maps the configured driver to the registered sql driver name.
func (c *DatabaseConfig) DriverName() string {
	switch c.Driver {
	case "mysql":
		return "mysql"
	case "postgres":
		return "postgres"
	default:
		return "sqlite3"
	}
}

// DSN builds the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "mysql":
		port := c.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, port, c.Name)
	case "postgres":
		port := c.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, port, c.User, c.Password, c.Name, c.SSLMode)
	default:
		return c.Path + "?_busy_timeout=10000"
	}
}
