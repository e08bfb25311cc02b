package firebird

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/nakagami/firebirdsql" // Firebird driver
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
)

// Dialect is the SQL dialect name reported to prompt builders.
const Dialect = "firebird"

// Adapter provides Firebird catalog discovery and bounded query execution.
// MicroSIP stores each company in its own Firebird database.
type Adapter struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewAdapter opens a Firebird connection pool and verifies it with a ping.
func NewAdapter(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open("firebirdsql", connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open firebird connection: %w", err)
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
		logger: logger.Named("firebird"),
	}
}

// connectionString builds the user:password@host:port/database DSN understood
// by firebirdsql. Windows paths keep their drive letter; absolute Unix paths
// keep their leading slash.
func connectionString(cfg *Config) string {
	database := strings.ReplaceAll(cfg.Database, "\\", "/")
	return fmt.Sprintf("%s@%s:%d/%s",
		url.UserPassword(cfg.Username, cfg.Password).String(),
		cfg.Host,
		cfg.Port,
		database,
	)
}

// Dialect returns "firebird".
func (a *Adapter) Dialect() string {
	return Dialect
}

// Ping verifies the database is reachable with valid credentials.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1 FROM RDB$DATABASE").Scan(&result); err != nil {
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

var _ datasource.Adapter = (*Adapter)(nil)
