package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// DescriptorBuilder turns catalog metadata into table descriptors. It never
// touches the cache or the index; callers decide what to do with the result.
type DescriptorBuilder struct {
	source     datasource.SchemaSource
	workerPool *llm.WorkerPool
	sampleRows int
	logger     *zap.Logger
}

// inactiveTableMarkers name backup, scratch and log copies of real tables. A
// table whose name starts with MARKER_ or ends with _MARKER is not described.
var inactiveTableMarkers = []string{"OLD", "BAK", "BACKUP", "TMP", "TEMP", "TEST", "DEL", "LOG", "COPY"}

// IsInactiveTable reports whether name looks like a backup, temporary or log
// copy rather than a live business table.
func IsInactiveTable(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range inactiveTableMarkers {
		if strings.HasPrefix(upper, marker+"_") || strings.HasSuffix(upper, "_"+marker) {
			return true
		}
	}
	return false
}

// activeTables drops inactive tables and foreign keys that point at them.
func activeTables(tables []datasource.TableMetadata) (active []datasource.TableMetadata, skipped int) {
	active = make([]datasource.TableMetadata, 0, len(tables))
	for _, t := range tables {
		if IsInactiveTable(t.TableName) {
			skipped++
			continue
		}
		var fks []datasource.ForeignKeyMetadata
		for _, fk := range t.ForeignKeys {
			if !IsInactiveTable(fk.TargetTable) {
				fks = append(fks, fk)
			}
		}
		t.ForeignKeys = fks
		active = append(active, t)
	}
	return active, skipped
}

// NewDescriptorBuilder creates a builder. sampleRows <= 0 disables sampling.
func NewDescriptorBuilder(source datasource.SchemaSource, workerPool *llm.WorkerPool, sampleRows int, logger *zap.Logger) *DescriptorBuilder {
	return &DescriptorBuilder{
		source:     source,
		workerPool: workerPool,
		sampleRows: sampleRows,
		logger:     logger.Named("descriptor-builder"),
	}
}

// Build lists the catalog and describes every active table. A failure to
// list tables aborts the build; a failure on a single table yields a
// placeholder descriptor for that table only.
func (b *DescriptorBuilder) Build(ctx context.Context) ([]*models.TableDescriptor, error) {
	startTime := time.Now()

	tables, err := b.source.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables, skipped := activeTables(tables)
	if skipped > 0 {
		b.logger.Info("Skipping inactive tables", zap.Int("skipped", skipped))
	}

	names := descriptorNames(tables)
	for i := range tables {
		for j, fk := range tables[i].ForeignKeys {
			if n, ok := names[[2]string{fk.TargetSchema, fk.TargetTable}]; ok {
				tables[i].ForeignKeys[j].TargetTable = n
			}
		}
	}

	workItems := make([]llm.WorkItem[*models.TableDescriptor], 0, len(tables))
	for _, t := range tables {
		table := t
		name := names[[2]string{table.SchemaName, table.TableName}]
		workItems = append(workItems, llm.WorkItem[*models.TableDescriptor]{
			ID: name,
			Execute: func(ctx context.Context) (*models.TableDescriptor, error) {
				samples := b.sample(ctx, table)
				d := DescribeTable(table, samples)
				d.Name = name
				return d, nil
			},
		})
	}

	results := llm.Process(ctx, b.workerPool, workItems, nil)

	descriptors := make([]*models.TableDescriptor, 0, len(results))
	placeholders := 0
	for i, r := range results {
		if r.Err != nil || r.Result == nil {
			b.logger.Warn("Failed to describe table, using placeholder",
				zap.String("table", r.ID),
				zap.Error(r.Err))
			descriptors = append(descriptors, PlaceholderDescriptor(r.ID, tables[i]))
			placeholders++
			continue
		}
		descriptors = append(descriptors, r.Result)
	}

	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })

	b.logger.Info("Described tables",
		zap.Int("tables", len(descriptors)),
		zap.Int("placeholders", placeholders),
		zap.Int("skipped_inactive", skipped),
		zap.Duration("elapsed", time.Since(startTime)))

	return descriptors, nil
}

// sample fails open: any error means "no samples".
func (b *DescriptorBuilder) sample(ctx context.Context, table datasource.TableMetadata) []map[string]any {
	if b.sampleRows <= 0 || table.RowCount == 0 {
		return nil
	}
	rows, err := b.source.SampleRows(ctx, table, b.sampleRows)
	if err != nil {
		b.logger.Debug("Sampling failed, describing without samples",
			zap.String("table", table.TableName),
			zap.Error(err))
		return nil
	}
	return rows
}

// descriptorNames assigns one name per table. Plain table names are used
// unless two schemas share a name, in which case both are schema-qualified.
func descriptorNames(tables []datasource.TableMetadata) map[[2]string]string {
	counts := make(map[string]int, len(tables))
	for _, t := range tables {
		counts[t.TableName]++
	}
	names := make(map[[2]string]string, len(tables))
	for _, t := range tables {
		name := t.TableName
		if counts[name] > 1 && t.SchemaName != "" {
			name = t.SchemaName + "." + t.TableName
		}
		names[[2]string{t.SchemaName, t.TableName}] = name
	}
	return names
}

// PlaceholderDescriptor is the minimal descriptor used when a table could not
// be described.
func PlaceholderDescriptor(name string, meta datasource.TableMetadata) *models.TableDescriptor {
	d := &models.TableDescriptor{
		Name:        name,
		Columns:     columnDescriptors(meta.Columns),
		PrimaryKey:  meta.PrimaryKey(),
		RowCount:    max(meta.RowCount, 0),
		Purpose:     "Tabla " + name,
		Placeholder: true,
	}
	d.Description = fmt.Sprintf("Tabla %s (description unavailable).\n%s", name, structuralLines(d))
	return d
}

func columnDescriptors(cols []datasource.ColumnMetadata) []models.ColumnDescriptor {
	out := make([]models.ColumnDescriptor, len(cols))
	for i, c := range cols {
		out[i] = models.ColumnDescriptor{Name: c.ColumnName, DataType: strings.ToUpper(c.DataType), IsNullable: c.IsNullable}
	}
	return out
}

// DescribeTable builds the descriptor of one table from its metadata and an
// optional set of sample rows. It is a pure function of its inputs.
func DescribeTable(meta datasource.TableMetadata, samples []map[string]any) *models.TableDescriptor {
	d := &models.TableDescriptor{
		Name:       meta.TableName,
		Columns:    columnDescriptors(meta.Columns),
		PrimaryKey: meta.PrimaryKey(),
		RowCount:   max(meta.RowCount, 0),
	}
	for _, fk := range meta.ForeignKeys {
		d.ForeignKeys = append(d.ForeignKeys, models.ForeignKeyEdge{
			Column:    fk.SourceColumn,
			RefTable:  fk.TargetTable,
			RefColumn: fk.TargetColumn,
		})
	}

	groups := groupColumns(d.Columns)
	shapes := sampleShapes(d.Columns, samples)

	d.Purpose = inferPurpose(d.Name, groups)
	d.SearchTerms = searchTerms(d.Name, groups)

	var b strings.Builder
	b.WriteString(d.Purpose)
	b.WriteString(".\n")
	if line := groups.summary(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(shapes) > 0 {
		b.WriteString("Sample values: ")
		b.WriteString(strings.Join(shapeStrings(shapes), "; "))
		b.WriteString("\n")
	}
	if s := structuralLines(d); s != "" {
		b.WriteString(s)
	}
	if patterns := queryPatterns(d, groups, shapes); len(patterns) > 0 {
		b.WriteString("Query patterns:\n")
		for _, p := range patterns {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
	}
	if d.RowCount > 0 {
		b.WriteString("Volume: ")
		b.WriteString(describeVolume(d.RowCount))
		b.WriteString("\n")
	}
	if len(d.SearchTerms) > 0 {
		b.WriteString("Search terms: ")
		b.WriteString(strings.Join(d.SearchTerms, ", "))
		b.WriteString("\n")
	}

	d.Description = strings.TrimRight(b.String(), "\n")
	return d
}

// structuralLines renders the fixed PK/FK sub-format:
//
//	PK: COL (TYPE)
//	FK: COL -> TABLE.COL
func structuralLines(d *models.TableDescriptor) string {
	var b strings.Builder
	for _, pk := range d.PrimaryKey {
		dataType := "UNKNOWN"
		for _, c := range d.Columns {
			if c.Name == pk {
				dataType = c.DataType
				break
			}
		}
		fmt.Fprintf(&b, "PK: %s (%s)\n", pk, dataType)
	}
	for _, fk := range d.ForeignKeys {
		fmt.Fprintf(&b, "FK: %s -> %s.%s\n", fk.Column, fk.RefTable, fk.RefColumn)
	}
	return b.String()
}

// Column semantic groups, matched on lower-cased column names.
const (
	groupIdentifiers  = "Identifiers"
	groupMonetary     = "Monetary"
	groupQuantities   = "Quantities"
	groupDates        = "Dates"
	groupPeople       = "People"
	groupDescriptions = "Descriptions"
	groupStatus       = "Status"
)

var columnGroupRules = []struct {
	group    string
	keywords []string
}{
	{groupStatus, []string{"estatus", "status", "estado", "cancelado", "activo"}},
	{groupMonetary, []string{"precio", "importe", "costo", "monto", "total", "subtotal", "saldo", "impuesto", "descuento"}},
	{groupQuantities, []string{"cantidad", "unidades", "qty", "existencia", "stock", "minimo", "maximo"}},
	{groupDates, []string{"fecha", "date", "timestamp", "hora"}},
	{groupPeople, []string{"cliente", "proveedor", "empleado", "vendedor", "usuario", "cajero"}},
	{groupDescriptions, []string{"nombre", "descripcion", "name", "desc", "razon_social"}},
	{groupIdentifiers, []string{"_id", "codigo", "cve_", "clave", "folio"}},
}

var groupOrder = []string{groupIdentifiers, groupMonetary, groupQuantities, groupDates, groupPeople, groupDescriptions, groupStatus}

type columnGroups map[string][]string

// groupColumns assigns each column to the first matching group. Date-typed
// columns without a recognizable name still land in Dates.
func groupColumns(cols []models.ColumnDescriptor) columnGroups {
	groups := make(columnGroups)
	for _, c := range cols {
		lower := strings.ToLower(c.Name)
		matched := false
		for _, rule := range columnGroupRules {
			if containsAny(lower, rule.keywords) {
				groups[rule.group] = append(groups[rule.group], c.Name)
				matched = true
				break
			}
		}
		if !matched && isDateType(c.DataType) {
			groups[groupDates] = append(groups[groupDates], c.Name)
		}
	}
	return groups
}

func (g columnGroups) first(group string) string {
	if cols := g[group]; len(cols) > 0 {
		return cols[0]
	}
	return ""
}

func (g columnGroups) has(group string) bool {
	return len(g[group]) > 0
}

func (g columnGroups) summary() string {
	var parts []string
	for _, name := range groupOrder {
		cols := g[name]
		if len(cols) == 0 {
			continue
		}
		if len(cols) > 5 {
			cols = cols[:5]
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(cols, ", ")))
	}
	return strings.Join(parts, "; ")
}

var purposeRules = []struct {
	keywords []string
	purpose  string
}{
	{[]string{"venta", "factura", "ticket", "doctos_pv", "doctos_ve"}, "Registra transacciones de venta"},
	{[]string{"linea", "categoria", "grupo", "familia", "marca", "catalogo"}, "Catálogo de clasificación y agrupación"},
	{[]string{"cliente", "customer"}, "Información de clientes y compradores"},
	{[]string{"existencia", "inventario", "almacen", "stock"}, "Control de inventario y cantidades disponibles por almacén"},
	{[]string{"articulo", "producto", "item"}, "Catálogo de productos y artículos comercializados"},
	{[]string{"compra", "orden_compra"}, "Gestión de compras y adquisiciones"},
	{[]string{"proveedor", "supplier"}, "Información de proveedores"},
	{[]string{"empleado", "vendedor", "cajero"}, "Datos de empleados y vendedores"},
	{[]string{"pago", "cobro", "cobranza", "abono"}, "Gestión de pagos y cobranza"},
	{[]string{"config", "parametro"}, "Configuración y parámetros del sistema"},
}

// inferPurpose names the business role of a table from its name and, failing
// that, from the shape of its columns.
func inferPurpose(name string, groups columnGroups) string {
	lower := strings.ToLower(name)

	var parts []string
	for _, rule := range purposeRules {
		if containsAny(lower, rule.keywords) {
			parts = append(parts, rule.purpose)
			break
		}
	}
	switch {
	case strings.Contains(lower, "_det") || strings.Contains(lower, "detalle"):
		parts = append(parts, "detalle de partidas por documento")
	case strings.Contains(lower, "docto"):
		parts = append(parts, "encabezado de documentos con fecha y totales")
	}
	if len(parts) > 0 {
		return strings.Join(parts, "; ")
	}

	if groups.has(groupMonetary) && groups.has(groupDates) {
		return "Registros transaccionales con fechas y valores monetarios"
	}
	return "Catálogo o datos de referencia"
}

// valueShape summarizes the sampled values of one column.
type valueShape struct {
	column   string
	distinct []string // small text enumerations
	example  string
	minNum   float64
	maxNum   float64
	numeric  bool
	minTime  time.Time
	maxTime  time.Time
	temporal bool
}

func (s valueShape) String() string {
	switch {
	case s.numeric && s.minNum == s.maxNum:
		return fmt.Sprintf("%s: %s", s.column, formatNumber(s.minNum))
	case s.numeric:
		return fmt.Sprintf("%s: range %s to %s", s.column, formatNumber(s.minNum), formatNumber(s.maxNum))
	case s.temporal && s.minTime.Equal(s.maxTime):
		return fmt.Sprintf("%s: %s", s.column, s.minTime.Format("2006-01-02"))
	case s.temporal:
		return fmt.Sprintf("%s: %s to %s", s.column, s.minTime.Format("2006-01-02"), s.maxTime.Format("2006-01-02"))
	case len(s.distinct) > 0:
		return fmt.Sprintf("%s: {%s}", s.column, strings.Join(s.distinct, ", "))
	default:
		return fmt.Sprintf("%s e.g. %q", s.column, s.example)
	}
}

func shapeStrings(shapes []valueShape) []string {
	out := make([]string, len(shapes))
	for i, s := range shapes {
		out[i] = s.String()
	}
	return out
}

const (
	maxShapeColumns   = 12
	maxEnumValues     = 5
	maxEnumValueLen   = 40
	maxExampleLen     = 40
	maxQueryPatterns  = 6
	maxJoinExemplars  = 3
	maxSearchTerms    = 25
	minNameTokenChars = 3
)

// sampleShapes derives value shapes from sample rows. Shapes follow column
// order and are computed from Go value types, so they are independent of the
// dialect's type names.
func sampleShapes(cols []models.ColumnDescriptor, samples []map[string]any) []valueShape {
	if len(samples) == 0 {
		return nil
	}

	var shapes []valueShape
	for _, c := range cols {
		if len(shapes) >= maxShapeColumns {
			break
		}

		shape := valueShape{column: c.Name}
		texts := make(map[string]bool)
		seen := false
		for _, row := range samples {
			v, ok := row[c.Name]
			if !ok || v == nil {
				continue
			}
			switch x := v.(type) {
			case time.Time:
				if !shape.temporal || x.Before(shape.minTime) {
					shape.minTime = x
				}
				if !shape.temporal || x.After(shape.maxTime) {
					shape.maxTime = x
				}
				shape.temporal = true
			case string:
				x = strings.TrimSpace(x)
				if x != "" {
					texts[x] = true
				}
			case bool:
				texts[fmt.Sprintf("%t", x)] = true
			default:
				f, ok := toFloat(x)
				if !ok {
					continue
				}
				if !shape.numeric || f < shape.minNum {
					shape.minNum = f
				}
				if !shape.numeric || f > shape.maxNum {
					shape.maxNum = f
				}
				shape.numeric = true
			}
			seen = true
		}
		if !seen {
			continue
		}

		if !shape.numeric && !shape.temporal {
			if len(texts) == 0 {
				continue
			}
			values := make([]string, 0, len(texts))
			short := true
			for v := range texts {
				values = append(values, v)
				if len(v) > maxEnumValueLen {
					short = false
				}
			}
			sort.Strings(values)
			if len(values) <= maxEnumValues && short {
				shape.distinct = values
			} else {
				shape.example = truncate(values[0], maxExampleLen)
			}
		}
		shapes = append(shapes, shape)
	}
	return shapes
}

func shapeFor(shapes []valueShape, column string) *valueShape {
	for i := range shapes {
		if shapes[i].column == column {
			return &shapes[i]
		}
	}
	return nil
}

// queryPatterns returns exemplar snippets for recognized structural shapes.
func queryPatterns(d *models.TableDescriptor, groups columnGroups, shapes []valueShape) []string {
	var patterns []string

	for _, col := range groups[groupStatus] {
		lower := strings.ToLower(col)
		switch {
		case strings.Contains(lower, "cancelad"):
			patterns = append(patterns, fmt.Sprintf("Exclude cancelled: WHERE %s = 'N'", col))
		case strings.Contains(lower, "estatus") || strings.Contains(lower, "status") || strings.Contains(lower, "estado"):
			patterns = append(patterns, statusPattern(col, shapeFor(shapes, col)))
		}
	}

	if col := groups.first(groupDates); col != "" {
		patterns = append(patterns, fmt.Sprintf("Date range: WHERE %s >= :desde AND %s < :hasta", col, col))
	}
	if col := groups.first(groupDescriptions); col != "" {
		patterns = append(patterns, fmt.Sprintf("Text search: WHERE %s LIKE '%%texto%%'", col))
	}
	if col := groups.first(groupMonetary); col != "" {
		patterns = append(patterns, fmt.Sprintf("Aggregate: SUM(%s)", col))
	}
	for i, fk := range d.ForeignKeys {
		if i >= maxJoinExemplars {
			break
		}
		patterns = append(patterns, fmt.Sprintf("Join: JOIN %s ON %s.%s = %s.%s",
			fk.RefTable, fk.RefTable, fk.RefColumn, d.Name, fk.Column))
	}
	if len(patterns) == 0 && len(d.PrimaryKey) > 0 {
		patterns = append(patterns, fmt.Sprintf("Count: COUNT(%s)", d.PrimaryKey[0]))
	}

	if len(patterns) > maxQueryPatterns {
		patterns = patterns[:maxQueryPatterns]
	}
	return patterns
}

// statusPattern prefers the conventional 'A' (active) code. When samples show
// a different enumeration, the observed codes are offered as an IN filter.
func statusPattern(col string, shape *valueShape) string {
	if shape == nil || len(shape.distinct) == 0 {
		return fmt.Sprintf("Active filter: WHERE %s = 'A'", col)
	}
	for _, v := range shape.distinct {
		if v == "A" {
			return fmt.Sprintf("Active filter: WHERE %s = 'A'", col)
		}
	}
	quoted := make([]string, len(shape.distinct))
	for i, v := range shape.distinct {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return fmt.Sprintf("Status filter: WHERE %s IN (%s)", col, strings.Join(quoted, ", "))
}

func describeVolume(rows int64) string {
	n := humanize.Comma(rows)
	switch {
	case rows < 100:
		return fmt.Sprintf("small catalog (%s rows)", n)
	case rows < 1000:
		return fmt.Sprintf("medium catalog (%s rows)", n)
	case rows < 10000:
		return fmt.Sprintf("moderate volume (%s rows)", n)
	case rows < 100000:
		return fmt.Sprintf("high volume (%s rows)", n)
	default:
		return fmt.Sprintf("very high volume (%s rows)", n)
	}
}

var synonymTable = []struct {
	stem     string
	synonyms []string
}{
	{"venta", []string{"vender", "vendido", "ingreso", "ticket", "factura", "cobro"}},
	{"cliente", []string{"comprador", "consumidor", "socio comercial"}},
	{"articulo", []string{"producto", "mercancía", "sku", "item"}},
	{"proveedor", []string{"supplier", "abastecedor", "distribuidor"}},
	{"existencia", []string{"inventario", "stock", "almacén", "disponible"}},
	{"inventario", []string{"existencia", "stock", "almacén", "bodega"}},
	{"compra", []string{"adquisición", "orden de compra", "abastecimiento"}},
	{"precio", []string{"costo", "importe", "valor", "tarifa"}},
	{"pago", []string{"abono", "cobranza", "liquidación"}},
	{"empleado", []string{"trabajador", "personal", "colaborador"}},
	{"vendedor", []string{"agente", "ejecutivo de ventas"}},
	{"factura", []string{"comprobante", "documento fiscal"}},
}

// searchTerms collects name tokens, their singular and plural forms, table
// synonyms and column-driven vocabulary, in a stable order.
func searchTerms(name string, groups columnGroups) []string {
	var terms []string
	seen := make(map[string]bool)
	add := func(ts ...string) {
		for _, t := range ts {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			terms = append(terms, t)
		}
	}

	lower := strings.ToLower(name)
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool { return r == '_' || r == '.' || r == ' ' }) {
		if len(tok) < minNameTokenChars || tok == "det" {
			continue
		}
		add(tok, inflection.Singular(tok), inflection.Plural(tok))
	}
	for _, entry := range synonymTable {
		if strings.Contains(lower, entry.stem) {
			add(entry.synonyms...)
		}
	}

	if groups.has(groupStatus) {
		add("activo", "activos", "vigente", "inactivo")
	}
	if groups.has(groupDates) {
		add("fecha", "periodo", "histórico")
	}
	if groups.has(groupMonetary) {
		add("monto", "importe", "dinero")
	}
	if groups.has(groupQuantities) {
		add("cantidad", "unidades", "piezas")
	}
	if strings.Contains(lower, "_det") || strings.Contains(lower, "detalle") {
		add("partida", "renglón", "línea de documento")
	}

	if len(terms) > maxSearchTerms {
		terms = terms[:maxSearchTerms]
	}
	return terms
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func isDateType(dataType string) bool {
	upper := strings.ToUpper(dataType)
	return strings.HasPrefix(upper, "DATE") || strings.HasPrefix(upper, "TIMESTAMP") ||
		upper == "SMALLDATETIME" || upper == "TIME"
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
