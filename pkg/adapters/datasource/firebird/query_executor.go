package firebird

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/logging"
)

// Query runs a SELECT statement and returns bounded results.
// See datasource.QueryExecutor.Query for limit behavior.
func (a *Adapter) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	queryToRun := fmt.Sprintf("SELECT FIRST %d * FROM (%s) LIMITED_Q", datasource.EffectiveLimit(limit), sqlQuery)

	rows, err := a.db.QueryContext(ctx, queryToRun)
	if err != nil {
		a.logger.Debug("query failed",
			zap.String("sql", logging.SanitizeQuery(sqlQuery)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// collectRows drains rows into a QueryExecutionResult with plain Go values.
func collectRows(rows *sql.Rows) (*datasource.QueryExecutionResult, error) {
	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		columns[i] = datasource.ColumnInfo{
			Name: colName,
			Type: mapDriverType(columnTypes[i].DatabaseTypeName()),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			rowMap[col] = convertValue(values[i])
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// decimalValue is implemented by the decimal type the driver returns for
// NUMERIC and DECIMAL columns.
type decimalValue interface {
	Float64() (float64, bool)
}

// convertValue trims CHAR padding, decodes text blobs and turns decimals
// into float64.
func convertValue(val any) any {
	switch v := val.(type) {
	case string:
		return strings.TrimRight(v, " ")
	case []byte:
		return strings.TrimRight(string(v), " ")
	case decimalValue:
		f, _ := v.Float64()
		return f
	}
	return val
}
