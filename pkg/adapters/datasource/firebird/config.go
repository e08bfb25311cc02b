package firebird

import (
	"fmt"
)

// Config contains Firebird connection options.
type Config struct {
	Host     string
	Port     int
	Database string // alias or server-side path to the .FDB file

	Username string
	Password string
}

// DefaultPort returns the default Firebird port.
func DefaultPort() int {
	return 3050
}

// FromMap creates a Config from the generic connection map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:     DefaultPort(),
		Username: "SYSDBA",
	}

	host, ok := config["host"].(string)
	if !ok || host == "" {
		return nil, fmt.Errorf("host is required")
	}
	cfg.Host = host

	switch port := config["port"].(type) {
	case int:
		if port > 0 {
			cfg.Port = port
		}
	case float64: // JSON numbers
		if port > 0 {
			cfg.Port = int(port)
		}
	}

	database, ok := config["database"].(string)
	if !ok || database == "" {
		return nil, fmt.Errorf("database is required")
	}
	cfg.Database = database

	if user, ok := config["user"].(string); ok && user != "" {
		cfg.Username = user
	}
	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	return cfg, cfg.Validate()
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}
