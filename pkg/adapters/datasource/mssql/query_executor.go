package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/logging"
)

// Query runs a SELECT statement and returns bounded results.
// See datasource.QueryExecutor.Query for limit behavior.
func (a *Adapter) Query(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	queryToRun := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", datasource.EffectiveLimit(limit), sqlQuery)

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

// collectRows drains rows into a QueryExecutionResult, converting driver
// representations into plain Go values.
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
	dbTypes := make([]string, len(columnNames))
	for i, colName := range columnNames {
		dbTypes[i] = columnTypes[i].DatabaseTypeName()
		columns[i] = datasource.ColumnInfo{
			Name: colName,
			Type: mapSQLServerType(dbTypes[i]),
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
			rowMap[col] = convertValue(values[i], dbTypes[i])
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

// convertValue turns []byte text and decimals into string and float64.
func convertValue(val any, dbType string) any {
	b, ok := val.([]byte)
	if !ok {
		return val
	}
	switch {
	case isStringType(dbType):
		return string(b)
	case isDecimalType(dbType):
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
		return string(b)
	}
	return val
}
