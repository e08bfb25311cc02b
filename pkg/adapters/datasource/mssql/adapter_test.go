package mssql

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
)

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host":     "db.local",
		"port":     float64(14330),
		"database": "microsip",
		"user":     "reader",
		"password": "p@ss word",
		"schema":   "dbo",
	})
	require.NoError(t, err)

	assert.Equal(t, "db.local", cfg.Host)
	assert.Equal(t, 14330, cfg.Port)
	assert.Equal(t, "microsip", cfg.Database)
	assert.Equal(t, "reader", cfg.Username)
	assert.Equal(t, "dbo", cfg.Schema)
	assert.False(t, cfg.Encrypt)
	assert.True(t, cfg.TrustServerCertificate)
}

func TestFromMap_ZeroPortUsesDefault(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"host": "db.local", "port": 0, "database": "microsip", "user": "sa",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultPort(), cfg.Port)
}

func TestFromMap_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		want   string
	}{
		{"missing host", map[string]any{"database": "d", "user": "u"}, "host is required"},
		{"missing database", map[string]any{"host": "h", "user": "u"}, "database is required"},
		{"missing user", map[string]any{"host": "h", "database": "d"}, "username is required"},
		{"bad port", map[string]any{"host": "h", "database": "d", "user": "u", "port": 70000}, "invalid port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConnectionString(t *testing.T) {
	cfg := &Config{
		Host:                   "db.local",
		Port:                   1433,
		Database:               "microsip",
		Username:               "reader",
		Password:               "p@ss word",
		TrustServerCertificate: true,
		ConnectionTimeout:      15,
	}

	u, err := url.Parse(connectionString(cfg))
	require.NoError(t, err)

	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "db.local:1433", u.Host)
	assert.Equal(t, "reader", u.User.Username())
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss word", password)

	q := u.Query()
	assert.Equal(t, "microsip", q.Get("database"))
	assert.Equal(t, "false", q.Get("encrypt"))
	assert.Equal(t, "true", q.Get("TrustServerCertificate"))
	assert.Equal(t, "15", q.Get("connection timeout"))
}

func TestRegistered(t *testing.T) {
	assert.True(t, datasource.IsRegistered("sqlserver"))
}

// TestAdapter_Integration runs against a real server when MSSQL_* variables
// are set.
func TestAdapter_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	host := os.Getenv("MSSQL_HOST")
	user := os.Getenv("MSSQL_USER")
	password := os.Getenv("MSSQL_PASSWORD")
	database := os.Getenv("MSSQL_DATABASE")

	if host == "" || user == "" || password == "" || database == "" {
		t.Skip("skipping integration test: MSSQL_HOST, MSSQL_USER, MSSQL_PASSWORD, or MSSQL_DATABASE not set")
	}

	port := DefaultPort()
	if p := os.Getenv("MSSQL_PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		require.NoError(t, err, "invalid MSSQL_PORT")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	adapter, err := NewAdapter(ctx, &Config{
		Host:                   host,
		Port:                   port,
		Database:               database,
		Username:               user,
		Password:               password,
		TrustServerCertificate: true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer adapter.Close()

	require.NoError(t, adapter.Ping(ctx))

	tables, err := adapter.ListTables(ctx)
	require.NoError(t, err)
	t.Logf("discovered %d tables", len(tables))

	res, err := adapter.Query(ctx, "SELECT 1 AS N", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
}
