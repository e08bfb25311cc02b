package datasource

import "context"

// SchemaSource reads catalog metadata from the backing store.
type SchemaSource interface {
	// ListTables returns all user tables with their columns, primary key,
	// foreign keys and approximate row count.
	ListTables(ctx context.Context) ([]TableMetadata, error)

	// SampleRows returns up to limit rows from a table, used to describe
	// value shapes. Implementations never lock the table.
	SampleRows(ctx context.Context, table TableMetadata, limit int) ([]map[string]any, error)

	// ListProcedures returns the user routines a SELECT can call as a table
	// source, with their parameters.
	ListProcedures(ctx context.Context) ([]ProcedureMetadata, error)
}

// MaxQueryLimit is the hard cap on rows returned by Query.
const MaxQueryLimit = 1000

// QueryExecutor runs bounded read queries.
type QueryExecutor interface {
	// Query runs a SELECT statement and returns bounded results.
	// The query is ALWAYS wrapped with a dialect-specific limit:
	//   - PostgreSQL: SELECT * FROM (query) AS _limited LIMIT n
	//   - SQL Server: SELECT TOP (n) * FROM (query) AS _limited
	//   - Firebird: SELECT FIRST n * FROM (query) LIMITED_Q
	//
	// limit <= 0 or limit > MaxQueryLimit uses MaxQueryLimit.
	Query(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error)
}

// Adapter is a connected backing store.
type Adapter interface {
	SchemaSource
	QueryExecutor

	// Dialect names the SQL dialect ("sqlserver", "postgres", "firebird") for prompt hints.
	Dialect() string

	// Ping verifies the database is reachable with valid credentials.
	Ping(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// ColumnInfo describes a result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "TEXT", "INT4", "VARCHAR")
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ColumnNames returns the result column names in order.
func (r *QueryExecutionResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// EffectiveLimit applies the MaxQueryLimit cap.
func EffectiveLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
