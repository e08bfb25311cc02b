package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// An empty @schema matches every user schema.
const tablesQuery = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    SUM(p.rows) AS row_count
	FROM sys.tables t
	INNER JOIN sys.partitions p ON t.object_id = p.object_id
	WHERE p.index_id IN (0, 1)  -- Heap or clustered index
	  AND t.is_ms_shipped = 0
	  AND (@schema = N'' OR SCHEMA_NAME(t.schema_id) = @schema)
	GROUP BY t.schema_id, t.name
	ORDER BY table_schema, table_name
	`

const columnsQuery = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    c.name AS column_name,
	    tp.name AS data_type,
	    CASE WHEN c.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    c.column_id AS ordinal_position,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key
	FROM sys.columns c
	INNER JOIN sys.tables t ON c.object_id = t.object_id
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	WHERE t.is_ms_shipped = 0
	  AND (@schema = N'' OR SCHEMA_NAME(t.schema_id) = @schema)
	ORDER BY table_schema, table_name, c.column_id
	`

const foreignKeysQuery = `
	SET NOCOUNT ON;
	SELECT
	    fk.name AS constraint_name,
	    SCHEMA_NAME(fk.schema_id) AS source_schema,
	    OBJECT_NAME(fk.parent_object_id) AS source_table,
	    COL_NAME(fkc.parent_object_id, fkc.parent_column_id) AS source_column,
	    SCHEMA_NAME(rt.schema_id) AS target_schema,
	    OBJECT_NAME(fk.referenced_object_id) AS target_table,
	    COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS target_column
	FROM sys.foreign_keys fk
	INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
	INNER JOIN sys.tables rt ON fk.referenced_object_id = rt.object_id
	WHERE fk.is_ms_shipped = 0
	ORDER BY source_schema, source_table, fk.name, fkc.constraint_column_id
	`

// Stored procedures cannot appear in a FROM clause; only inline and
// multi-statement table-valued functions ('IF', 'TF') are listed.
const proceduresQuery = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(o.schema_id) AS function_schema,
	    o.name AS function_name,
	    CAST(ISNULL(ep.value, N'') AS NVARCHAR(4000)) AS description
	FROM sys.objects o
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = o.object_id AND ep.minor_id = 0 AND ep.name = N'MS_Description'
	WHERE o.type IN ('IF', 'TF')
	  AND o.is_ms_shipped = 0
	  AND (@schema = N'' OR SCHEMA_NAME(o.schema_id) = @schema)
	ORDER BY function_schema, function_name
	`

// parameter_id 0 is the return value of scalar functions.
const procedureParamsQuery = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(o.schema_id) AS function_schema,
	    o.name AS function_name,
	    prm.name AS parameter_name,
	    TYPE_NAME(prm.user_type_id) AS data_type,
	    CASE WHEN prm.is_output = 1 THEN 1 ELSE 0 END AS is_output
	FROM sys.objects o
	INNER JOIN sys.parameters prm ON prm.object_id = o.object_id
	WHERE o.type IN ('IF', 'TF')
	  AND o.is_ms_shipped = 0
	  AND prm.parameter_id > 0
	  AND (@schema = N'' OR SCHEMA_NAME(o.schema_id) = @schema)
	ORDER BY function_schema, function_name, prm.parameter_id
	`

// ListTables returns all user tables with columns, primary keys and foreign
// keys. System schemas are excluded.
func (a *Adapter) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	tables, err := a.discoverTables(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.attachColumns(ctx, tables); err != nil {
		return nil, err
	}

	fks, err := a.discoverForeignKeys(ctx)
	if err != nil {
		return nil, err
	}
	datasource.AttachForeignKeys(tables, fks)

	a.logger.Debug("discovered tables",
		zap.Int("tables", len(tables)),
		zap.Int("foreign_keys", len(fks)))

	return tables, nil
}

func (a *Adapter) discoverTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	rows, err := a.db.QueryContext(ctx, tablesQuery, sql.Named("schema", a.config.Schema))
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var table datasource.TableMetadata
		if err := rows.Scan(&table.SchemaName, &table.TableName, &table.RowCount); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, table)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}

	return tables, nil
}

// attachColumns loads the columns of every table in one round trip.
func (a *Adapter) attachColumns(ctx context.Context, tables []datasource.TableMetadata) error {
	index := make(map[[2]string]int, len(tables))
	for i, t := range tables {
		index[[2]string{t.SchemaName, t.TableName}] = i
	}

	rows, err := a.db.QueryContext(ctx, columnsQuery, sql.Named("schema", a.config.Schema))
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schemaName, tableName string
			col                   datasource.ColumnMetadata
			isNullable, isPrimary int
		)
		if err := rows.Scan(
			&schemaName,
			&tableName,
			&col.ColumnName,
			&col.DataType,
			&isNullable,
			&col.OrdinalPosition,
			&isPrimary,
		); err != nil {
			return fmt.Errorf("scan column row: %w", err)
		}

		i, ok := index[[2]string{schemaName, tableName}]
		if !ok {
			continue
		}
		col.IsNullable = isNullable == 1
		col.IsPrimaryKey = isPrimary == 1
		col.DataType = mapSQLServerType(col.DataType)
		tables[i].Columns = append(tables[i].Columns, col)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate column rows: %w", err)
	}
	return nil
}

func (a *Adapter) discoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	rows, err := a.db.QueryContext(ctx, foreignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(
			&fk.ConstraintName,
			&fk.SourceSchema,
			&fk.SourceTable,
			&fk.SourceColumn,
			&fk.TargetSchema,
			&fk.TargetTable,
			&fk.TargetColumn,
		); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		fks = append(fks, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}

	return fks, nil
}

// SampleRows reads up to limit rows without taking shared locks.
func (a *Adapter) SampleRows(ctx context.Context, table datasource.TableMetadata, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SET NOCOUNT ON; SELECT TOP (%d) * FROM %s WITH (NOLOCK)",
		limit, buildFullyQualifiedName(table.SchemaName, table.TableName))

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table.TableName, err)
	}
	defer rows.Close()

	result, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table.TableName, err)
	}
	return result.Rows, nil
}

// ListProcedures returns user table-valued functions with their parameters in
// declaration order.
func (a *Adapter) ListProcedures(ctx context.Context) ([]datasource.ProcedureMetadata, error) {
	rows, err := a.db.QueryContext(ctx, proceduresQuery, sql.Named("schema", a.config.Schema))
	if err != nil {
		return nil, fmt.Errorf("query procedures: %w", err)
	}
	defer rows.Close()

	var procs []datasource.ProcedureMetadata
	index := make(map[[2]string]int)
	for rows.Next() {
		var p datasource.ProcedureMetadata
		if err := rows.Scan(&p.SchemaName, &p.Name, &p.Description); err != nil {
			return nil, fmt.Errorf("scan procedure row: %w", err)
		}
		index[[2]string{p.SchemaName, p.Name}] = len(procs)
		procs = append(procs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedure rows: %w", err)
	}
	if len(procs) == 0 {
		return nil, nil
	}

	paramRows, err := a.db.QueryContext(ctx, procedureParamsQuery, sql.Named("schema", a.config.Schema))
	if err != nil {
		return nil, fmt.Errorf("query procedure parameters: %w", err)
	}
	defer paramRows.Close()

	for paramRows.Next() {
		var (
			schemaName, procName, paramName, dataType string
			isOutput                                  int
		)
		if err := paramRows.Scan(&schemaName, &procName, &paramName, &dataType, &isOutput); err != nil {
			return nil, fmt.Errorf("scan procedure parameter row: %w", err)
		}
		i, ok := index[[2]string{schemaName, procName}]
		if !ok {
			continue
		}
		direction := "INPUT"
		if isOutput == 1 {
			direction = "OUTPUT"
		}
		procs[i].Parameters = append(procs[i].Parameters, models.ProcedureParameter{
			Name:      strings.TrimPrefix(paramName, "@"),
			DataType:  mapSQLServerType(dataType),
			Direction: direction,
		})
	}
	if err := paramRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedure parameter rows: %w", err)
	}

	return procs, nil
}
