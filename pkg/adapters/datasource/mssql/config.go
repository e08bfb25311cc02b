package mssql

import (
	"fmt"
)

// Config contains SQL Server connection options. Only SQL authentication is
// supported.
type Config struct {
	Host     string
	Port     int
	Database string
	Schema   string // restricts discovery to one schema; empty = all user schemas

	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int // seconds
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// FromMap creates a Config from the generic connection map.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:                   DefaultPort(),
		TrustServerCertificate: true,
		ConnectionTimeout:      30,
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

	if schema, ok := config["schema"].(string); ok {
		cfg.Schema = schema
	}

	if user, ok := config["user"].(string); ok {
		cfg.Username = user
	}
	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}

	switch config["ssl_mode"] {
	case "require", "verify-full", "strict":
		cfg.Encrypt = true
		cfg.TrustServerCertificate = config["ssl_mode"] == "require"
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
		return fmt.Errorf("username is required for SQL authentication")
	}
	return nil
}
