package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/models"
)

type fakeSchemaSource struct {
	tables     []datasource.TableMetadata
	listErr    error
	samples    map[string][]map[string]any
	sampleErr  map[string]error
	panicOn    string
	procedures []datasource.ProcedureMetadata
	procErr    error
	listCalls  atomic.Int32
}

func (f *fakeSchemaSource) ListTables(ctx context.Context) ([]datasource.TableMetadata, error) {
	f.listCalls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]datasource.TableMetadata, len(f.tables))
	copy(out, f.tables)
	for i := range out {
		out[i].ForeignKeys = append([]datasource.ForeignKeyMetadata(nil), f.tables[i].ForeignKeys...)
	}
	return out, nil
}

func (f *fakeSchemaSource) SampleRows(ctx context.Context, table datasource.TableMetadata, limit int) ([]map[string]any, error) {
	if table.TableName == f.panicOn {
		panic("driver exploded")
	}
	if err := f.sampleErr[table.TableName]; err != nil {
		return nil, err
	}
	return f.samples[table.TableName], nil
}

func (f *fakeSchemaSource) ListProcedures(ctx context.Context) ([]datasource.ProcedureMetadata, error) {
	return f.procedures, f.procErr
}

func articulosTable() datasource.TableMetadata {
	return datasource.TableMetadata{
		SchemaName: "dbo",
		TableName:  "ARTICULOS",
		RowCount:   1500,
		Columns: []datasource.ColumnMetadata{
			{ColumnName: "ARTICULO_ID", DataType: "int", IsPrimaryKey: true, OrdinalPosition: 1},
			{ColumnName: "NOMBRE", DataType: "varchar", OrdinalPosition: 2},
			{ColumnName: "ESTATUS", DataType: "char", OrdinalPosition: 3},
			{ColumnName: "PRECIO_LISTA", DataType: "decimal", OrdinalPosition: 4},
			{ColumnName: "LINEA_ARTICULO_ID", DataType: "int", OrdinalPosition: 5},
		},
		ForeignKeys: []datasource.ForeignKeyMetadata{
			{SourceTable: "ARTICULOS", SourceColumn: "LINEA_ARTICULO_ID", TargetSchema: "dbo", TargetTable: "LINEAS_ARTICULOS", TargetColumn: "LINEA_ARTICULO_ID"},
		},
	}
}

func articulosSamples() []map[string]any {
	return []map[string]any{
		{"ARTICULO_ID": int64(1), "NOMBRE": "Tornillo", "ESTATUS": "A", "PRECIO_LISTA": 2.5, "LINEA_ARTICULO_ID": int64(10)},
		{"ARTICULO_ID": int64(2), "NOMBRE": "Taladro", "ESTATUS": "I", "PRECIO_LISTA": 899.0, "LINEA_ARTICULO_ID": int64(11)},
		{"ARTICULO_ID": int64(3), "NOMBRE": "Clavo", "ESTATUS": "A", "PRECIO_LISTA": nil, "LINEA_ARTICULO_ID": int64(10)},
	}
}

func newTestWorkerPool() *llm.WorkerPool {
	return llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())
}

func TestDescribeTable_StatusColumnYieldsActiveFilter(t *testing.T) {
	d := DescribeTable(articulosTable(), articulosSamples())

	assert.Equal(t, "ARTICULOS", d.Name)
	assert.Contains(t, d.Description, "Active filter: WHERE ESTATUS = 'A'")
	assert.Contains(t, d.Description, "ESTATUS: {A, I}")
	assert.Contains(t, d.Description, "PRECIO_LISTA: range 2.50 to 899")
	assert.Contains(t, d.Description, "Aggregate: SUM(PRECIO_LISTA)")
	assert.Contains(t, d.Description, "Text search: WHERE NOMBRE LIKE '%texto%'")
	assert.True(t, strings.HasPrefix(d.Description, "Catálogo de productos y artículos comercializados."))
	assert.False(t, d.Placeholder)
}

func TestDescribeTable_StructuralLines(t *testing.T) {
	d := DescribeTable(articulosTable(), nil)

	assert.Contains(t, d.Description, "PK: ARTICULO_ID (INT)")
	assert.Contains(t, d.Description, "FK: LINEA_ARTICULO_ID -> LINEAS_ARTICULOS.LINEA_ARTICULO_ID")
	assert.Contains(t, d.Description, "Join: JOIN LINEAS_ARTICULOS ON LINEAS_ARTICULOS.LINEA_ARTICULO_ID = ARTICULOS.LINEA_ARTICULO_ID")
	assert.Contains(t, d.Description, "Volume: moderate volume (1,500 rows)")
	assert.NotContains(t, d.Description, "Sample values")

	assert.Equal(t, []string{"ARTICULO_ID"}, d.PrimaryKey)
	require.Len(t, d.ForeignKeys, 1)
	assert.Equal(t, []string{"LINEAS_ARTICULOS"}, d.ReferencedTables())
}

func TestDescribeTable_StatusWithoutActiveCode(t *testing.T) {
	meta := datasource.TableMetadata{
		TableName: "PEDIDOS",
		Columns: []datasource.ColumnMetadata{
			{ColumnName: "PEDIDO_ID", DataType: "int", IsPrimaryKey: true},
			{ColumnName: "ESTATUS", DataType: "char"},
		},
	}
	samples := []map[string]any{{"ESTATUS": "P"}, {"ESTATUS": "C"}}

	d := DescribeTable(meta, samples)

	assert.Contains(t, d.Description, "Status filter: WHERE ESTATUS IN ('C', 'P')")
}

func TestDescribeTable_CancelledFlagAndDates(t *testing.T) {
	from := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	meta := datasource.TableMetadata{
		TableName: "DOCTOS_PV",
		RowCount:  250000,
		Columns: []datasource.ColumnMetadata{
			{ColumnName: "DOCTO_PV_ID", DataType: "int", IsPrimaryKey: true},
			{ColumnName: "FECHA", DataType: "date"},
			{ColumnName: "CANCELADO", DataType: "char"},
			{ColumnName: "IMPORTE_NETO", DataType: "numeric"},
		},
	}
	samples := []map[string]any{{"FECHA": from}, {"FECHA": to}}

	d := DescribeTable(meta, samples)

	assert.Contains(t, d.Purpose, "Registra transacciones de venta")
	assert.Contains(t, d.Description, "Exclude cancelled: WHERE CANCELADO = 'N'")
	assert.Contains(t, d.Description, "Date range: WHERE FECHA >= :desde AND FECHA < :hasta")
	assert.Contains(t, d.Description, "FECHA: 2024-01-03 to 2024-06-30")
	assert.Contains(t, d.Description, "very high volume (250,000 rows)")
	assert.Contains(t, d.SearchTerms, "doctos")
	assert.Contains(t, d.SearchTerms, "periodo")
}

func TestDescribeTable_Deterministic(t *testing.T) {
	a := DescribeTable(articulosTable(), articulosSamples())
	b := DescribeTable(articulosTable(), articulosSamples())
	assert.Equal(t, a, b)
}

func TestDescribeTable_SearchTermsIncludeSynonyms(t *testing.T) {
	d := DescribeTable(datasource.TableMetadata{TableName: "CLIENTES"}, nil)

	assert.Contains(t, d.SearchTerms, "clientes")
	assert.Contains(t, d.SearchTerms, "cliente")
	assert.Contains(t, d.SearchTerms, "comprador")
	assert.LessOrEqual(t, len(d.SearchTerms), maxSearchTerms)
}

func TestDescribeTable_CountFallback(t *testing.T) {
	d := DescribeTable(datasource.TableMetadata{
		TableName: "PARAMETROS",
		Columns:   []datasource.ColumnMetadata{{ColumnName: "PARAM_ID", DataType: "int", IsPrimaryKey: true}},
	}, nil)

	assert.Contains(t, d.Description, "Count: COUNT(PARAM_ID)")
	assert.Contains(t, d.Purpose, "Configuración")
}

func TestDescriptorBuilder_Build(t *testing.T) {
	source := &fakeSchemaSource{
		tables: []datasource.TableMetadata{
			articulosTable(),
			{SchemaName: "dbo", TableName: "CLIENTES", RowCount: 20, Columns: []datasource.ColumnMetadata{
				{ColumnName: "CLIENTE_ID", DataType: "int", IsPrimaryKey: true},
				{ColumnName: "NOMBRE", DataType: "varchar"},
			}},
		},
		samples: map[string][]map[string]any{"ARTICULOS": articulosSamples()},
	}
	builder := NewDescriptorBuilder(source, newTestWorkerPool(), 5, zap.NewNop())

	descriptors, err := builder.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, "ARTICULOS", descriptors[0].Name)
	assert.Equal(t, "CLIENTES", descriptors[1].Name)
	assert.Contains(t, descriptors[0].Description, "Active filter: WHERE ESTATUS = 'A'")
}

func TestIsInactiveTable(t *testing.T) {
	inactive := []string{"ARTICULOS_OLD", "TMP_X", "BAK_Y", "backup_clientes", "COPY_DOCTOS_PV", "VENTAS_TEST", "LOG_ACCESOS", "CLIENTES_DEL", "TEMP_CARGA"}
	for _, name := range inactive {
		assert.True(t, IsInactiveTable(name), name)
	}

	active := []string{"ARTICULOS", "DOCTOS_PV", "LOGISTICA", "TEMPORADAS", "OLDENBURG", "CATALOG", "DOCTOS_PV_DET"}
	for _, name := range active {
		assert.False(t, IsInactiveTable(name), name)
	}
}

func TestDescriptorBuilder_SkipsInactiveTables(t *testing.T) {
	source := &fakeSchemaSource{
		tables: []datasource.TableMetadata{
			articulosTable(),
			{TableName: "ARTICULOS_OLD", Columns: []datasource.ColumnMetadata{{ColumnName: "ARTICULO_ID", DataType: "int"}}},
			{TableName: "TMP_X"},
			{TableName: "BAK_Y"},
			{TableName: "DOCTOS_PV", ForeignKeys: []datasource.ForeignKeyMetadata{
				{SourceColumn: "ARTICULO_ID", TargetTable: "ARTICULOS", TargetColumn: "ARTICULO_ID"},
				{SourceColumn: "ARTICULO_ID", TargetTable: "ARTICULOS_OLD", TargetColumn: "ARTICULO_ID"},
			}},
		},
	}
	core, logs := observer.New(zap.InfoLevel)
	builder := NewDescriptorBuilder(source, newTestWorkerPool(), 0, zap.New(core))

	descriptors, err := builder.Build(context.Background())
	require.NoError(t, err)

	names := make([]string, len(descriptors))
	for i, d := range descriptors {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"ARTICULOS", "DOCTOS_PV"}, names)
	assert.Equal(t, []string{"ARTICULOS"}, descriptors[1].ReferencedTables())
	assert.Len(t, source.tables[4].ForeignKeys, 2, "catalog metadata must not be modified")

	skipped := logs.FilterMessage("Skipping inactive tables").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, int64(3), skipped[0].ContextMap()["skipped"])
}

func TestDescriptorBuilder_SamplingFailureFailsOpen(t *testing.T) {
	source := &fakeSchemaSource{
		tables:    []datasource.TableMetadata{articulosTable()},
		sampleErr: map[string]error{"ARTICULOS": errors.New("permission denied")},
	}
	builder := NewDescriptorBuilder(source, newTestWorkerPool(), 5, zap.NewNop())

	descriptors, err := builder.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 1)

	assert.False(t, descriptors[0].Placeholder)
	assert.NotContains(t, descriptors[0].Description, "Sample values")
}

func TestDescriptorBuilder_PanicYieldsPlaceholder(t *testing.T) {
	source := &fakeSchemaSource{
		tables: []datasource.TableMetadata{
			articulosTable(),
			{TableName: "CLIENTES", RowCount: 3, Columns: []datasource.ColumnMetadata{{ColumnName: "CLIENTE_ID", DataType: "int", IsPrimaryKey: true}}},
		},
		panicOn: "ARTICULOS",
	}
	builder := NewDescriptorBuilder(source, newTestWorkerPool(), 5, zap.NewNop())

	descriptors, err := builder.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	byName := map[string]*models.TableDescriptor{}
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	require.Contains(t, byName, "ARTICULOS")
	assert.True(t, byName["ARTICULOS"].Placeholder)
	assert.Contains(t, byName["ARTICULOS"].Description, "PK: ARTICULO_ID (INT)")
	assert.False(t, byName["CLIENTES"].Placeholder)
}

func TestDescriptorBuilder_ListFailureAborts(t *testing.T) {
	source := &fakeSchemaSource{listErr: errors.New("connection refused")}
	builder := NewDescriptorBuilder(source, newTestWorkerPool(), 5, zap.NewNop())

	_, err := builder.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list tables")
}

func TestDescriptorBuilder_QualifiesDuplicateNames(t *testing.T) {
	source := &fakeSchemaSource{
		tables: []datasource.TableMetadata{
			{SchemaName: "ventas", TableName: "clientes"},
			{SchemaName: "crm", TableName: "clientes"},
			{SchemaName: "ventas", TableName: "pedidos", ForeignKeys: []datasource.ForeignKeyMetadata{
				{SourceColumn: "cliente_id", TargetSchema: "ventas", TargetTable: "clientes", TargetColumn: "cliente_id"},
			}},
		},
	}
	builder := NewDescriptorBuilder(source, newTestWorkerPool(), 0, zap.NewNop())

	descriptors, err := builder.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 3)

	assert.Equal(t, "crm.clientes", descriptors[0].Name)
	assert.Equal(t, "pedidos", descriptors[1].Name)
	assert.Equal(t, "ventas.clientes", descriptors[2].Name)
	assert.Equal(t, []string{"ventas.clientes"}, descriptors[1].ReferencedTables())
}
