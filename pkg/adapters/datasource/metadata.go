package datasource

import "github.com/rotosaurio/iacandy/pkg/models"

// TableMetadata represents a discovered database table.
type TableMetadata struct {
	SchemaName  string
	TableName   string
	RowCount    int64
	Columns     []ColumnMetadata
	ForeignKeys []ForeignKeyMetadata
}

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	OrdinalPosition int
}

// ForeignKeyMetadata represents a discovered foreign key constraint.
type ForeignKeyMetadata struct {
	ConstraintName string
	SourceSchema   string
	SourceTable    string
	SourceColumn   string
	TargetSchema   string
	TargetTable    string
	TargetColumn   string
}

// ProcedureMetadata represents a discovered stored procedure.
type ProcedureMetadata struct {
	SchemaName  string
	Name        string
	Description string
	Parameters  []models.ProcedureParameter
}

// PrimaryKey returns the primary key columns in ordinal order.
func (t *TableMetadata) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			pk = append(pk, c.ColumnName)
		}
	}
	return pk
}

// AttachForeignKeys distributes a flat foreign key list onto the tables that
// own them, matching on schema and table name.
func AttachForeignKeys(tables []TableMetadata, fks []ForeignKeyMetadata) {
	index := make(map[[2]string]int, len(tables))
	for i, t := range tables {
		index[[2]string{t.SchemaName, t.TableName}] = i
	}
	for _, fk := range fks {
		if i, ok := index[[2]string{fk.SourceSchema, fk.SourceTable}]; ok {
			tables[i].ForeignKeys = append(tables[i].ForeignKeys, fk)
		}
	}
}
