package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// qualifiedTableName returns a properly quoted table reference.
// If schemaName is empty, returns just the quoted table name.
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + quotedTable
}

// $1 = '' matches every user schema.
const tablesQuery = `
		SELECT
			t.table_schema,
			t.table_name,
			COALESCE(c.reltuples::bigint, 0) AS row_count
		FROM information_schema.tables t
		LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND ($1 = '' OR t.table_schema = $1)
		ORDER BY t.table_schema, t.table_name
	`

// Uses pg_index.indisprimary so composite primary keys are reported on
// every member column.
const columnsQuery = `
		SELECT
			c.table_schema,
			c.table_name,
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			c.ordinal_position
		FROM information_schema.columns c
		JOIN information_schema.tables t
			ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		LEFT JOIN (
			SELECT n.nspname, t.relname, a.attname, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
		) pk ON pk.nspname = c.table_schema AND pk.relname = c.table_name AND pk.attname = c.column_name
		WHERE t.table_type = 'BASE TABLE'
		  AND c.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND ($1 = '' OR c.table_schema = $1)
		ORDER BY c.table_schema, c.table_name, c.ordinal_position
	`

const foreignKeysQuery = `
		SELECT
			tc.constraint_name,
			kcu.table_schema AS source_schema,
			kcu.table_name AS source_table,
			kcu.column_name AS source_column,
			ccu.table_schema AS target_schema,
			ccu.table_name AS target_table,
			ccu.column_name AS target_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY source_schema, source_table, tc.constraint_name
	`

// Only set-returning functions can be selected from; procedures and scalar
// functions are skipped.
const proceduresQuery = `
		SELECT
			n.nspname,
			p.proname,
			COALESCE(obj_description(p.oid, 'pg_proc'), ''),
			pg_get_function_arguments(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND p.prokind = 'f'
		  AND p.proretset
		  AND ($1 = '' OR n.nspname = $1)
		ORDER BY n.nspname, p.proname
	`

func (a *Adapter) schemaFilter() string {
	if a.config == nil {
		return ""
	}
	return a.config.Schema
}

// ListTables returns all user tables (excludes system schemas) with columns
// and foreign keys attached.
func (a *Adapter) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	rows, err := a.pool.Query(ctx, tablesQuery, a.schemaFilter())
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (datasource.TableMetadata, error) {
		var t datasource.TableMetadata
		err := row.Scan(&t.SchemaName, &t.TableName, &t.RowCount)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan tables: %w", err)
	}

	index := make(map[[2]string]int, len(tables))
	for i, t := range tables {
		index[[2]string{t.SchemaName, t.TableName}] = i
	}

	colRows, err := a.pool.Query(ctx, columnsQuery, a.schemaFilter())
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer colRows.Close()

	for colRows.Next() {
		var (
			schemaName, tableName string
			c                     datasource.ColumnMetadata
		)
		if err := colRows.Scan(&schemaName, &tableName, &c.ColumnName, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if i, ok := index[[2]string{schemaName, tableName}]; ok {
			tables[i].Columns = append(tables[i].Columns, c)
		}
	}
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
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

func (a *Adapter) discoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	rows, err := a.pool.Query(ctx, foreignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ConstraintName, &fk.SourceSchema, &fk.SourceTable, &fk.SourceColumn,
			&fk.TargetSchema, &fk.TargetTable, &fk.TargetColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return fks, nil
}

// SampleRows returns up to limit rows of a table.
func (a *Adapter) SampleRows(ctx context.Context, table datasource.TableMetadata, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualifiedTableName(table.SchemaName, table.TableName), limit)
	rows, err := a.pool.Query(ctx, query)
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

// ListProcedures returns user functions and procedures with their
// parameters parsed from pg_get_function_arguments.
func (a *Adapter) ListProcedures(ctx context.Context) ([]datasource.ProcedureMetadata, error) {
	rows, err := a.pool.Query(ctx, proceduresQuery, a.schemaFilter())
	if err != nil {
		return nil, fmt.Errorf("query procedures: %w", err)
	}
	defer rows.Close()

	var procs []datasource.ProcedureMetadata
	for rows.Next() {
		var (
			p    datasource.ProcedureMetadata
			args string
		)
		if err := rows.Scan(&p.SchemaName, &p.Name, &p.Description, &args); err != nil {
			return nil, fmt.Errorf("scan procedure: %w", err)
		}
		p.Parameters = parseFunctionArguments(args)
		procs = append(procs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedures: %w", err)
	}
	return procs, nil
}

// parseFunctionArguments parses the text form produced by
// pg_get_function_arguments, e.g. "fecha_ini date, OUT total numeric DEFAULT 0".
// Unnamed arguments get positional names (P1, P2, ...).
func parseFunctionArguments(args string) []models.ProcedureParameter {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil
	}

	var params []models.ProcedureParameter
	for i, raw := range strings.Split(args, ",") {
		raw = strings.TrimSpace(raw)
		if idx := strings.Index(strings.ToUpper(raw), " DEFAULT "); idx >= 0 {
			raw = raw[:idx]
		}
		if idx := strings.Index(raw, "="); idx >= 0 {
			raw = strings.TrimSpace(raw[:idx])
		}

		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}

		direction := "INPUT"
		switch strings.ToUpper(fields[0]) {
		case "OUT", "INOUT":
			direction = "OUTPUT"
			fields = fields[1:]
		case "IN", "VARIADIC":
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}

		p := models.ProcedureParameter{Direction: direction}
		if len(fields) == 1 {
			p.Name = fmt.Sprintf("P%d", i+1)
			p.DataType = strings.ToUpper(fields[0])
		} else {
			p.Name = fields[0]
			p.DataType = strings.ToUpper(strings.Join(fields[1:], " "))
		}
		params = append(params, p)
	}
	return params
}
