package firebird

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	adapter := NewAdapterWithDB(db, &Config{}, zap.NewNop())
	t.Cleanup(func() { _ = db.Close() })
	return adapter, mock
}

func TestListTables(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(`FROM RDB\$RELATIONS r\s+WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("CLIENTES").
			AddRow("DOCTOS_PV"))

	mock.ExpectQuery(`FROM RDB\$RELATION_FIELDS rf`).
		WillReturnRows(sqlmock.NewRows([]string{"table", "column", "type", "sub_type", "scale", "not_null", "position"}).
			AddRow("CLIENTES", "CLIENTE_ID", 8, 0, 0, 1, 0).
			AddRow("CLIENTES", "NOMBRE", 37, 0, 0, 0, 1).
			AddRow("DOCTOS_PV", "DOCTO_PV_ID", 8, 0, 0, 1, 0).
			AddRow("DOCTOS_PV", "CLIENTE_ID", 8, 0, 0, 1, 1).
			AddRow("DOCTOS_PV", "IMPORTE_NETO", 16, 1, -2, 0, 2).
			AddRow("DOCTOS_PV", "FECHA", 12, 0, 0, 0, 3).
			AddRow("OTRA", "X", 8, 0, 0, 0, 0))

	mock.ExpectQuery(`CONSTRAINT_TYPE = 'PRIMARY KEY'`).
		WillReturnRows(sqlmock.NewRows([]string{"table", "column"}).
			AddRow("CLIENTES", "CLIENTE_ID").
			AddRow("DOCTOS_PV", "DOCTO_PV_ID"))

	mock.ExpectQuery(`JOIN RDB\$REF_CONSTRAINTS ref`).
		WillReturnRows(sqlmock.NewRows([]string{"constraint", "source_table", "source_column", "target_table", "target_column"}).
			AddRow("FK_DOCTOS_PV_CLIENTE", "DOCTOS_PV", "CLIENTE_ID", "CLIENTES", "CLIENTE_ID"))

	tables, err := adapter.ListTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)

	clientes := tables[0]
	assert.Equal(t, "CLIENTES", clientes.TableName)
	assert.Equal(t, int64(-1), clientes.RowCount)
	require.Len(t, clientes.Columns, 2)
	assert.Equal(t, "INTEGER", clientes.Columns[0].DataType)
	assert.False(t, clientes.Columns[0].IsNullable)
	assert.Equal(t, 1, clientes.Columns[0].OrdinalPosition)
	assert.Equal(t, "VARCHAR", clientes.Columns[1].DataType)
	assert.True(t, clientes.Columns[1].IsNullable)
	assert.Equal(t, []string{"CLIENTE_ID"}, clientes.PrimaryKey())

	doctos := tables[1]
	require.Len(t, doctos.Columns, 4)
	assert.Equal(t, "NUMERIC", doctos.Columns[2].DataType)
	assert.Equal(t, "DATE", doctos.Columns[3].DataType)
	assert.Equal(t, []string{"DOCTO_PV_ID"}, doctos.PrimaryKey())
	require.Len(t, doctos.ForeignKeys, 1)
	assert.Equal(t, "CLIENTES", doctos.ForeignKeys[0].TargetTable)
	assert.Equal(t, "CLIENTE_ID", doctos.ForeignKeys[0].TargetColumn)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTables_QueryError(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectQuery(`FROM RDB\$RELATIONS r`).WillReturnError(errors.New("Your user name and password are not defined"))

	_, err := adapter.ListTables(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "query tables")
}

func TestSampleRows(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("NOMBRE").OfType("VARYING", ""),
		sqlmock.NewColumn("ESTATUS").OfType("TEXT", ""),
	).AddRow("JUAN PEREZ", "A  ")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT FIRST 5 * FROM "CLIENTES"`)).
		WillReturnRows(rows)

	samples, err := adapter.SampleRows(context.Background(), datasource.TableMetadata{TableName: "CLIENTES"}, 5)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "JUAN PEREZ", samples[0]["NOMBRE"])
	assert.Equal(t, "A", samples[0]["ESTATUS"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProcedures(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(`FROM RDB\$PROCEDURES p\s+WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "description"}).
			AddRow("SP_VENTAS_PERIODO", "Ventas por periodo").
			AddRow("SP_ARTICULOS_ACTIVOS", ""))

	mock.ExpectQuery(`FROM RDB\$PROCEDURE_PARAMETERS pp`).
		WillReturnRows(sqlmock.NewRows([]string{"procedure", "parameter", "parameter_type", "type", "sub_type", "scale"}).
			AddRow("SP_VENTAS_PERIODO", "FECHA_INI", 0, 12, 0, 0).
			AddRow("SP_VENTAS_PERIODO", "FECHA_FIN", 0, 12, 0, 0).
			AddRow("SP_VENTAS_PERIODO", "TOTAL", 1, 16, 1, -2).
			AddRow("SP_EJECUTABLE", "X", 0, 8, 0, 0))

	procs, err := adapter.ListProcedures(context.Background())
	require.NoError(t, err)
	require.Len(t, procs, 2)

	ventas := procs[0]
	assert.Equal(t, "SP_VENTAS_PERIODO", ventas.Name)
	assert.Equal(t, "Ventas por periodo", ventas.Description)
	require.Len(t, ventas.Parameters, 3)
	assert.Equal(t, "FECHA_INI", ventas.Parameters[0].Name)
	assert.Equal(t, "DATE", ventas.Parameters[0].DataType)
	assert.Equal(t, "INPUT", ventas.Parameters[0].Direction)
	assert.Equal(t, "OUTPUT", ventas.Parameters[2].Direction)
	assert.Equal(t, "NUMERIC", ventas.Parameters[2].DataType)
	assert.Empty(t, procs[1].Parameters)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProcedures_NoneSkipsParameters(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	mock.ExpectQuery(`FROM RDB\$PROCEDURES p`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "description"}))

	procs, err := adapter.ListProcedures(context.Background())

	require.NoError(t, err)
	assert.Empty(t, procs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_WrapsWithFirst(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("NOMBRE").OfType("VARYING", ""),
		sqlmock.NewColumn("N").OfType("LONG", int64(0)),
	).
		AddRow("ABARROTES", int64(3)).
		AddRow("LACTEOS", nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT FIRST 50 * FROM (SELECT NOMBRE, N FROM V) LIMITED_Q")).
		WillReturnRows(rows)

	res, err := adapter.Query(context.Background(), "SELECT NOMBRE, N FROM V", 50)
	require.NoError(t, err)

	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, []string{"NOMBRE", "N"}, res.ColumnNames())
	assert.Equal(t, "VARCHAR", res.Columns[0].Type)
	assert.Equal(t, "INTEGER", res.Columns[1].Type)
	assert.Equal(t, int64(3), res.Rows[0]["N"])
	assert.Nil(t, res.Rows[1]["N"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_CapsLimit(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT FIRST 1000 * FROM (SELECT 1 AS N FROM RDB$DATABASE) LIMITED_Q")).
		WillReturnRows(sqlmock.NewRows([]string{"N"}).AddRow(int64(1)))

	_, err := adapter.Query(context.Background(), "SELECT 1 AS N FROM RDB$DATABASE", 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true), sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	adapter := NewAdapterWithDB(db, nil, nil)

	mock.ExpectPing()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM RDB$DATABASE")).WillReturnRows(sqlmock.NewRows([]string{"N"}).AddRow(int64(1)))
	mock.ExpectClose()

	require.NoError(t, adapter.Ping(context.Background()))
	assert.Equal(t, "firebird", adapter.Dialect())
	require.NoError(t, adapter.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeDecimal float64

func (d fakeDecimal) Float64() (float64, bool) { return float64(d), true }

func TestConvertValue(t *testing.T) {
	assert.Equal(t, "ABC", convertValue("ABC   "))
	assert.Equal(t, "nota", convertValue([]byte("nota")))
	assert.Equal(t, 1500.25, convertValue(fakeDecimal(1500.25)))
	assert.Equal(t, int64(7), convertValue(int64(7)))
	assert.Nil(t, convertValue(nil))
}

func TestFieldTypeName(t *testing.T) {
	tests := []struct {
		fieldType, subType, scale int
		want                      string
	}{
		{fieldSmallint, 0, 0, "SMALLINT"},
		{fieldInteger, 0, 0, "INTEGER"},
		{fieldBigint, 0, 0, "BIGINT"},
		{fieldBigint, 1, -4, "NUMERIC"},
		{fieldInteger, 0, -2, "NUMERIC"},
		{fieldDouble, 0, 0, "DOUBLE PRECISION"},
		{fieldTimestamp, 0, 0, "TIMESTAMP"},
		{fieldChar, 0, 0, "CHAR"},
		{fieldBlob, 1, 0, "TEXT"},
		{fieldBlob, 0, 0, "BLOB"},
		{999, 0, 0, "UNKNOWN(999)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fieldTypeName(tt.fieldType, tt.subType, tt.scale))
	}
	assert.Equal(t, `"A""B"`, quoteName(`A"B`))
}
