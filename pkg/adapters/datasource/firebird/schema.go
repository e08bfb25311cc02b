package firebird

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// Firebird keeps no row statistics; tables are reported with RowCount -1
// (unknown) rather than counted.
const unknownRowCount = -1

const tablesQuery = `
	SELECT TRIM(r.RDB$RELATION_NAME)
	FROM RDB$RELATIONS r
	WHERE COALESCE(r.RDB$SYSTEM_FLAG, 0) = 0
	  AND r.RDB$VIEW_BLR IS NULL
	ORDER BY 1
	`

const columnsQuery = `
	SELECT
	    TRIM(rf.RDB$RELATION_NAME),
	    TRIM(rf.RDB$FIELD_NAME),
	    f.RDB$FIELD_TYPE,
	    COALESCE(f.RDB$FIELD_SUB_TYPE, 0),
	    COALESCE(f.RDB$FIELD_SCALE, 0),
	    COALESCE(rf.RDB$NULL_FLAG, f.RDB$NULL_FLAG, 0),
	    rf.RDB$FIELD_POSITION
	FROM RDB$RELATION_FIELDS rf
	JOIN RDB$FIELDS f ON f.RDB$FIELD_NAME = rf.RDB$FIELD_SOURCE
	JOIN RDB$RELATIONS r ON r.RDB$RELATION_NAME = rf.RDB$RELATION_NAME
	WHERE COALESCE(r.RDB$SYSTEM_FLAG, 0) = 0
	  AND r.RDB$VIEW_BLR IS NULL
	ORDER BY 1, rf.RDB$FIELD_POSITION
	`

const primaryKeysQuery = `
	SELECT TRIM(rc.RDB$RELATION_NAME), TRIM(s.RDB$FIELD_NAME)
	FROM RDB$RELATION_CONSTRAINTS rc
	JOIN RDB$INDEX_SEGMENTS s ON s.RDB$INDEX_NAME = rc.RDB$INDEX_NAME
	WHERE rc.RDB$CONSTRAINT_TYPE = 'PRIMARY KEY'
	ORDER BY 1, s.RDB$FIELD_POSITION
	`

const foreignKeysQuery = `
	SELECT
	    TRIM(rc.RDB$CONSTRAINT_NAME),
	    TRIM(rc.RDB$RELATION_NAME),
	    TRIM(s.RDB$FIELD_NAME),
	    TRIM(rc2.RDB$RELATION_NAME),
	    TRIM(s2.RDB$FIELD_NAME)
	FROM RDB$RELATION_CONSTRAINTS rc
	JOIN RDB$REF_CONSTRAINTS ref ON ref.RDB$CONSTRAINT_NAME = rc.RDB$CONSTRAINT_NAME
	JOIN RDB$RELATION_CONSTRAINTS rc2 ON rc2.RDB$CONSTRAINT_NAME = ref.RDB$CONST_NAME_UQ
	JOIN RDB$INDEX_SEGMENTS s ON s.RDB$INDEX_NAME = rc.RDB$INDEX_NAME
	JOIN RDB$INDEX_SEGMENTS s2 ON s2.RDB$INDEX_NAME = rc2.RDB$INDEX_NAME
	    AND s2.RDB$FIELD_POSITION = s.RDB$FIELD_POSITION
	WHERE rc.RDB$CONSTRAINT_TYPE = 'FOREIGN KEY'
	ORDER BY 2, 1, s.RDB$FIELD_POSITION
	`

// Only selectable procedures (type 1, with outputs) can be used in a SELECT.
const proceduresQuery = `
	SELECT
	    TRIM(p.RDB$PROCEDURE_NAME),
	    COALESCE(CAST(p.RDB$DESCRIPTION AS VARCHAR(4000)), '')
	FROM RDB$PROCEDURES p
	WHERE COALESCE(p.RDB$SYSTEM_FLAG, 0) = 0
	  AND COALESCE(p.RDB$PROCEDURE_TYPE, 1) = 1
	  AND p.RDB$PROCEDURE_OUTPUTS > 0
	ORDER BY 1
	`

const procedureParamsQuery = `
	SELECT
	    TRIM(pp.RDB$PROCEDURE_NAME),
	    TRIM(pp.RDB$PARAMETER_NAME),
	    pp.RDB$PARAMETER_TYPE,
	    f.RDB$FIELD_TYPE,
	    COALESCE(f.RDB$FIELD_SUB_TYPE, 0),
	    COALESCE(f.RDB$FIELD_SCALE, 0)
	FROM RDB$PROCEDURE_PARAMETERS pp
	JOIN RDB$FIELDS f ON f.RDB$FIELD_NAME = pp.RDB$FIELD_SOURCE
	JOIN RDB$PROCEDURES p ON p.RDB$PROCEDURE_NAME = pp.RDB$PROCEDURE_NAME
	WHERE COALESCE(p.RDB$SYSTEM_FLAG, 0) = 0
	ORDER BY 1, pp.RDB$PARAMETER_TYPE, pp.RDB$PARAMETER_NUMBER
	`

// ListTables returns all user tables with columns, primary keys and foreign
// keys. Views and system relations are excluded.
func (a *Adapter) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	rows, err := a.db.QueryContext(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	index := make(map[string]int)
	for rows.Next() {
		table := datasource.TableMetadata{RowCount: unknownRowCount}
		if err := rows.Scan(&table.TableName); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		index[table.TableName] = len(tables)
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}

	if err := a.attachColumns(ctx, tables, index); err != nil {
		return nil, err
	}
	if err := a.markPrimaryKeys(ctx, tables, index); err != nil {
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

func (a *Adapter) attachColumns(ctx context.Context, tables []datasource.TableMetadata, index map[string]int) error {
	rows, err := a.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tableName                         string
			col                               datasource.ColumnMetadata
			fieldType, subType, scale, notNil int
			position                          int
		)
		if err := rows.Scan(&tableName, &col.ColumnName, &fieldType, &subType, &scale, &notNil, &position); err != nil {
			return fmt.Errorf("scan column row: %w", err)
		}
		i, ok := index[tableName]
		if !ok {
			continue
		}
		col.DataType = fieldTypeName(fieldType, subType, scale)
		col.IsNullable = notNil == 0
		col.OrdinalPosition = position + 1
		tables[i].Columns = append(tables[i].Columns, col)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate column rows: %w", err)
	}
	return nil
}

func (a *Adapter) markPrimaryKeys(ctx context.Context, tables []datasource.TableMetadata, index map[string]int) error {
	rows, err := a.db.QueryContext(ctx, primaryKeysQuery)
	if err != nil {
		return fmt.Errorf("query primary keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("scan primary key row: %w", err)
		}
		i, ok := index[tableName]
		if !ok {
			continue
		}
		for j := range tables[i].Columns {
			if tables[i].Columns[j].ColumnName == columnName {
				tables[i].Columns[j].IsPrimaryKey = true
			}
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate primary key rows: %w", err)
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
			&fk.SourceTable,
			&fk.SourceColumn,
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

// SampleRows reads up to limit rows.
func (a *Adapter) SampleRows(ctx context.Context, table datasource.TableMetadata, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT FIRST %d * FROM %s", limit, quoteName(table.TableName))

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

// ListProcedures returns the selectable stored procedures with their input
// and output parameters in declaration order.
func (a *Adapter) ListProcedures(ctx context.Context) ([]datasource.ProcedureMetadata, error) {
	rows, err := a.db.QueryContext(ctx, proceduresQuery)
	if err != nil {
		return nil, fmt.Errorf("query procedures: %w", err)
	}
	defer rows.Close()

	var procs []datasource.ProcedureMetadata
	index := make(map[string]int)
	for rows.Next() {
		var p datasource.ProcedureMetadata
		if err := rows.Scan(&p.Name, &p.Description); err != nil {
			return nil, fmt.Errorf("scan procedure row: %w", err)
		}
		index[p.Name] = len(procs)
		procs = append(procs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedure rows: %w", err)
	}
	if len(procs) == 0 {
		return nil, nil
	}

	paramRows, err := a.db.QueryContext(ctx, procedureParamsQuery)
	if err != nil {
		return nil, fmt.Errorf("query procedure parameters: %w", err)
	}
	defer paramRows.Close()

	for paramRows.Next() {
		var (
			procName, paramName                  string
			paramType, fieldType, subType, scale int
		)
		if err := paramRows.Scan(&procName, &paramName, &paramType, &fieldType, &subType, &scale); err != nil {
			return nil, fmt.Errorf("scan procedure parameter row: %w", err)
		}
		i, ok := index[procName]
		if !ok {
			continue
		}
		direction := "INPUT"
		if paramType == 1 {
			direction = "OUTPUT"
		}
		procs[i].Parameters = append(procs[i].Parameters, models.ProcedureParameter{
			Name:      paramName,
			DataType:  fieldTypeName(fieldType, subType, scale),
			Direction: direction,
		})
	}
	if err := paramRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedure parameter rows: %w", err)
	}

	return procs, nil
}
