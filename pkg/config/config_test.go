package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("IACANDY_CONFIG", path)
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("IACANDY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "firebird", cfg.Datasource.Type)
	assert.Equal(t, "SYSDBA", cfg.Datasource.User)
	assert.Equal(t, 60*time.Second, cfg.Datasource.QueryTimeout)
	assert.Equal(t, 8, cfg.RAG.TopKTables)
	assert.InDelta(t, 0.25, cfg.RAG.MinSimilarity, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Generation.MaxRetries)
	assert.Equal(t, 3, cfg.Generation.ComplexityThreshold)
	assert.False(t, cfg.Generation.ForceAdvanced)
	assert.Equal(t, []int{25, 55, 80}, []int{cfg.Generation.ModerateAt, cfg.Generation.ComplexAt, cfg.Generation.VeryComplexAt})
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Contains(t, cfg.EdgeCase.ExcludedPatterns, "VENTA GLOBAL")
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
port: "9000"
datasource:
  type: postgres
  host: db.example.com
rag:
  top_k_tables: 5
generation:
  max_retries: 2
`)
	t.Setenv("RAG_TOP_K_TABLES", "6")
	t.Setenv("DATASOURCE_PASSWORD", "s3cret")

	cfg, err := Load("v1")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "postgres", cfg.Datasource.Type)
	assert.Equal(t, "db.example.com", cfg.Datasource.Host)
	assert.Equal(t, "s3cret", cfg.Datasource.Password)
	assert.Equal(t, 6, cfg.RAG.TopKTables, "env must override yaml")
	assert.Equal(t, 2, cfg.Generation.MaxRetries)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	writeConfig(t, `
datasource:
  type: oracle
generation:
  moderate_at: 60
  complex_at: 50
`)

	_, err := Load("v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "datasource.type")
	assert.Contains(t, err.Error(), "breakpoints")
}

func TestLoad_AcceptsEveryDatasourceType(t *testing.T) {
	for _, typ := range []string{"firebird", "sqlserver", "postgres"} {
		t.Run(typ, func(t *testing.T) {
			writeConfig(t, "datasource:\n  type: "+typ+"\n")

			cfg, err := Load("v1")
			require.NoError(t, err)
			assert.Equal(t, typ, cfg.Datasource.Type)
		})
	}
}

func TestDatasourceConfig_ConnectionMap(t *testing.T) {
	d := DatasourceConfig{Host: "sql.example.com", Port: 1433, User: "sa", Password: "pw", Database: "microsip"}

	m := d.ConnectionMap()

	assert.Equal(t, "sql.example.com", m["host"])
	assert.Equal(t, 1433, m["port"])
	assert.Equal(t, "microsip", m["database"])
	_, hasSchema := m["schema"]
	assert.False(t, hasSchema)
}
