package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
)

// Dialect is the SQL dialect name reported to prompt builders.
const Dialect = "sqlserver"

// Adapter provides SQL Server catalog discovery and bounded query execution.
type Adapter struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewAdapter opens a SQL Server connection pool and verifies it with a ping.
func NewAdapter(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open("sqlserver", connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open SQL auth connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return NewAdapterWithDB(db, cfg, logger), nil
}

// NewAdapterWithDB wraps an already opened pool. The adapter owns db and
// closes it on Close.
func NewAdapterWithDB(db *sql.DB, cfg *Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{}
	}
	return &Adapter{
		config: cfg,
		db:     db,
		logger: logger.Named("mssql"),
	}
}

// connectionString builds the sqlserver:// URL understood by go-mssqldb.
func connectionString(cfg *Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)

	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}

	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}

	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	// app name shows up in sys.dm_exec_sessions
	query.Add("app name", "iacandy")

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		query.Encode(),
	)
}

// Dialect returns "sqlserver".
func (a *Adapter) Dialect() string {
	return Dialect
}

// Ping verifies the database is reachable with valid credentials.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// DB returns the underlying pool.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

var _ datasource.Adapter = (*Adapter)(nil)
