package services

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/models"
)

//go:embed catalog/default_procedures.yaml
var defaultProceduresYAML []byte

const (
	procedureBaseScore     = 5
	procedureParamScore    = 2
	procedureAnalyticScore = 10
	procedureMaxScore      = 50
)

var procedureUseCases = []struct {
	keyword string
	useCase string
}{
	{"venta", "Análisis de ventas"},
	{"cliente", "Gestión de clientes"},
	{"inventario", "Control de inventario"},
	{"existencia", "Consulta de existencias"},
	{"costo", "Cálculo de costos"},
	{"precio", "Gestión de precios"},
	{"reporte", "Generación de reportes"},
	{"estadistica", "Análisis estadístico"},
	{"movimiento", "Movimientos de almacén"},
	{"factura", "Facturación"},
	{"compra", "Compras"},
	{"proveedor", "Proveedores"},
}

var analyticProcedureNames = []string{"calculo", "analisis", "estadistica", "reporte", "consolidado", "promedio"}

// defaultCatalogDialect is the dialect of the embedded default catalog.
const defaultCatalogDialect = "firebird"

// ProcedureMatcher describes the selectable procedures of the backing store
// and finds the ones relevant to a question. Matches are hints for the
// prompt; they never replace retrieved tables.
type ProcedureMatcher struct {
	source  datasource.SchemaSource
	dialect string
	logger  *zap.Logger
}

// NewProcedureMatcher creates a matcher over the catalog of source. Example
// calls are rendered in dialect.
func NewProcedureMatcher(source datasource.SchemaSource, dialect string, logger *zap.Logger) *ProcedureMatcher {
	return &ProcedureMatcher{
		source:  source,
		dialect: dialect,
		logger:  logger.Named("procedure-matcher"),
	}
}

// Build describes the catalog procedures. When a Firebird catalog cannot be
// read or lists nothing, the default MicroSIP catalog is used instead; other
// dialects get no procedures.
func (m *ProcedureMatcher) Build(ctx context.Context) ([]*models.ProcedureDescriptor, error) {
	procs, err := m.source.ListProcedures(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("list procedures: %w", err)
		}
		m.logger.Warn("Failed to list procedures", zap.Error(err))
		return m.fallback()
	}
	if len(procs) == 0 {
		m.logger.Info("Catalog lists no selectable procedures")
		return m.fallback()
	}

	out := make([]*models.ProcedureDescriptor, 0, len(procs))
	seen := make(map[string]bool, len(procs))
	for _, p := range procs {
		if p.Name == "" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, DescribeProcedure(p, m.dialect))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	m.logger.Info("Described procedures", zap.Int("procedures", len(out)))
	return out, nil
}

func (m *ProcedureMatcher) fallback() ([]*models.ProcedureDescriptor, error) {
	if m.dialect != defaultCatalogDialect {
		return nil, nil
	}
	m.logger.Info("Using default procedure catalog")
	return DefaultProcedures()
}

// Query returns up to k procedures relevant to text from the snapshot's
// procedure index.
func (m *ProcedureMatcher) Query(ctx context.Context, snapshot *SchemaSnapshot, text string, k int, minSimilarity float64) []models.ScoredMatch {
	if snapshot == nil || k <= 0 || len(snapshot.Procedures) == 0 {
		return nil
	}

	res := snapshot.ProcedureIndex.Retrieve(ctx, text, k, minSimilarity)
	if res.Err != nil {
		m.logger.Debug("Procedure retrieval degraded", zap.Error(res.Err))
	}

	matches := make([]models.ScoredMatch, 0, len(res.Matches))
	for _, match := range res.Matches {
		if _, ok := snapshot.Procedure(match.Key); ok {
			matches = append(matches, match)
		}
	}
	return matches
}

type procedureCatalog struct {
	Procedures []struct {
		Name            string                      `yaml:"name"`
		Description     string                      `yaml:"description"`
		Parameters      []models.ProcedureParameter `yaml:"parameters"`
		UseCases        []string                    `yaml:"use_cases"`
		ComplexityScore int                         `yaml:"complexity_score"`
	} `yaml:"procedures"`
}

// DefaultProcedures returns the embedded default procedure catalog.
func DefaultProcedures() ([]*models.ProcedureDescriptor, error) {
	var catalog procedureCatalog
	if err := yaml.Unmarshal(defaultProceduresYAML, &catalog); err != nil {
		return nil, fmt.Errorf("parse default procedures: %w", err)
	}

	out := make([]*models.ProcedureDescriptor, 0, len(catalog.Procedures))
	for _, p := range catalog.Procedures {
		d := DescribeProcedure(datasource.ProcedureMetadata{
			Name:        p.Name,
			Description: p.Description,
			Parameters:  p.Parameters,
		}, defaultCatalogDialect)
		if len(p.UseCases) > 0 {
			d.UseCases = p.UseCases
			d.Purpose = p.UseCases[0]
		}
		if p.ComplexityScore > 0 {
			d.ComplexityScore = p.ComplexityScore
		}
		d.SearchTerms = procedureSearchTerms(d.Name, d.UseCases)
		out = append(out, d)
	}
	return out, nil
}

// DescribeProcedure builds the descriptor of one catalog procedure, with an
// example call valid in dialect.
func DescribeProcedure(meta datasource.ProcedureMetadata, dialect string) *models.ProcedureDescriptor {
	d := &models.ProcedureDescriptor{
		Name:        meta.Name,
		Description: strings.TrimSpace(meta.Description),
		Parameters:  meta.Parameters,
	}
	if d.Description == "" {
		d.Description = "Procedimiento " + meta.Name
	}
	d.UseCases = inferUseCases(meta.Name, d.Description)
	d.Purpose = d.UseCases[0]
	d.ExampleCall = exampleCall(d, meta.SchemaName, dialect)
	d.ComplexityScore = procedureComplexity(meta.Name, len(meta.Parameters))
	d.SearchTerms = procedureSearchTerms(meta.Name, d.UseCases)
	return d
}

func inferUseCases(name, description string) []string {
	text := strings.ToLower(name + " " + description)
	var out []string
	for _, uc := range procedureUseCases {
		if strings.Contains(text, uc.keyword) {
			out = append(out, uc.useCase)
		}
	}
	if len(out) == 0 {
		return []string{"Operación general"}
	}
	return out
}

// exampleCall renders a SELECT over the procedure with one <NAME> placeholder
// per input parameter. SQL Server table-valued functions need a schema and
// parentheses; Firebird procedures without inputs take neither.
func exampleCall(d *models.ProcedureDescriptor, schema, dialect string) string {
	in := d.InputParameters()
	args := make([]string, len(in))
	for i, p := range in {
		args[i] = "<" + p.Name + ">"
	}

	name := d.Name
	switch dialect {
	case "sqlserver":
		if schema == "" {
			schema = "dbo"
		}
		name = schema + "." + name
	case "postgres":
		if schema != "" && schema != "public" {
			name = schema + "." + name
		}
	default:
		if len(args) == 0 {
			return "SELECT * FROM " + name
		}
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", name, strings.Join(args, ", "))
}

func procedureComplexity(name string, params int) int {
	score := procedureBaseScore + params*procedureParamScore
	if containsAny(strings.ToLower(name), analyticProcedureNames) {
		score += procedureAnalyticScore
	}
	return min(score, procedureMaxScore)
}

func procedureSearchTerms(name string, useCases []string) []string {
	var terms []string
	seen := make(map[string]bool)
	add := func(t string) {
		t = strings.ToLower(t)
		if len(t) < minNameTokenChars || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}
	for _, tok := range strings.Split(name, "_") {
		if strings.EqualFold(tok, "sp") {
			continue
		}
		add(tok)
	}
	for _, uc := range useCases {
		for _, w := range strings.Fields(uc) {
			add(w)
		}
	}
	return terms
}

// ProcedureDocuments renders procedures as index documents.
func ProcedureDocuments(procs []*models.ProcedureDescriptor) []IndexDocument {
	docs := make([]IndexDocument, len(procs))
	for i, p := range procs {
		var b strings.Builder
		fmt.Fprintf(&b, "%s. %s.\n", p.Name, p.Description)
		if len(p.UseCases) > 0 {
			fmt.Fprintf(&b, "Use cases: %s.\n", strings.Join(p.UseCases, ", "))
		}
		if in := p.InputParameters(); len(in) > 0 {
			params := make([]string, len(in))
			for j, param := range in {
				params[j] = fmt.Sprintf("%s %s", param.Name, param.DataType)
			}
			fmt.Fprintf(&b, "Parameters: %s.\n", strings.Join(params, ", "))
		}
		b.WriteString("Call: " + p.ExampleCall)
		docs[i] = IndexDocument{Key: p.Name, Text: b.String(), Terms: p.SearchTerms}
	}
	return docs
}
