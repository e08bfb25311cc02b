package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotosaurio/iacandy/pkg/models"
)

// Complexity factor names.
const (
	FactorHighComplexity   = "high_complexity"
	FactorMediumComplexity = "medium_complexity"
	FactorAggregation      = "aggregation"
	FactorMultiTable       = "multi_table"
	FactorTemporal         = "temporal"
	FactorFinancial        = "financial"
	FactorMultiAnalysis    = "multi_analysis"
	FactorCrossAnalysis    = "cross_analysis"
	FactorTableCount       = "table_count"
	FactorComplexTables    = "complex_tables"
	FactorLength           = "length"
)

const (
	maxComplexityScore   = 100
	complexTableWeight   = 8
	crossAnalysisWeight  = 10
	longQuestionWords    = 20
	longQuestionWeight   = 15
	mediumQuestionWords  = 10
	mediumQuestionWeight = 8
)

// complexityRule adds Weight for every distinct keyword found in the question.
type complexityRule struct {
	Factor   string
	Weight   int
	Keywords []string
	patterns []*regexp.Regexp
}

var complexityRules = compileRules([]complexityRule{
	{Factor: FactorHighComplexity, Weight: 25, Keywords: []string{
		"subconsulta", "subquery", "cte", "window", "partition", "over", "row_number", "rank", "ranking",
		"lag", "lead", "union", "intersect", "except", "recursive", "recursivo", "pivot", "acumulado",
	}},
	{Factor: FactorMediumComplexity, Weight: 10, Keywords: []string{
		"join", "group by", "having", "distinct", "case when", "coalesce", "agrupado", "agrupados", "por cada",
	}},
	{Factor: FactorAggregation, Weight: 8, Keywords: []string{
		"sum", "count", "avg", "max", "min", "total", "promedio", "suma", "conteo", "cantidad",
		"maximo", "máximo", "minimo", "mínimo",
	}},
	{Factor: FactorMultiTable, Weight: 5, Keywords: []string{
		"y", "con", "de", "desde", "relacionado", "combinado", "cruzado", "junto", "vinculado", "asociado", "entre",
	}},
	{Factor: FactorTemporal, Weight: 7, Keywords: []string{
		"mes", "año", "trimestre", "periodo", "período", "fecha", "tiempo", "día", "semana",
		"histórico", "historico", "tendencia", "crecimiento", "evolución", "evolucion",
	}},
	{Factor: FactorFinancial, Weight: 12, Keywords: []string{
		"margen", "utilidad", "ganancia", "rentabilidad", "ratio", "porcentaje", "proporción",
		"comparativo", "diferencia", "variación", "variacion",
	}},
	{Factor: FactorMultiAnalysis, Weight: 10, Keywords: []string{
		"y también", "además", "igualmente", "comparar con", "diferencia entre", "relación entre", "versus",
	}},
})

// crossAnalysisFactors are the rules that, when two or more fire together,
// indicate an analysis spanning several dimensions.
var crossAnalysisFactors = []string{FactorAggregation, FactorTemporal, FactorFinancial}

// domainNoun maps business vocabulary to the table it usually lives in.
type domainNoun struct {
	Table    string
	Keywords []string
	patterns []*regexp.Regexp
}

var domainNouns = compileNouns([]domainNoun{
	{Table: "DOCTOS_PV", Keywords: []string{"venta", "ventas", "vendido", "vendidos", "vendió", "ticket", "tickets"}},
	{Table: "DOCTOS_PV_DET", Keywords: []string{"partida", "partidas", "detalle", "renglones"}},
	{Table: "ARTICULOS", Keywords: []string{"artículo", "artículos", "articulo", "articulos", "producto", "productos"}},
	{Table: "CLIENTES", Keywords: []string{"cliente", "clientes"}},
	{Table: "EXISTENCIAS", Keywords: []string{"existencia", "existencias", "inventario", "inventarios", "stock"}},
	{Table: "ALMACENES", Keywords: []string{"almacén", "almacen", "almacenes", "bodega", "bodegas"}},
	{Table: "MOVIMIENTOS_ALMACEN", Keywords: []string{"movimiento", "movimientos", "entradas", "salidas", "traspasos"}},
	{Table: "PRECIOS_ARTICULOS", Keywords: []string{"precio", "precios", "lista de precios"}},
	{Table: "CLAVES_ARTICULOS", Keywords: []string{"clave", "claves", "código de barras", "codigo de barras", "sku"}},
	{Table: "MOVIMIENTOS_CAJA", Keywords: []string{"caja", "cajas", "corte", "cortes"}},
	{Table: "DOCTOS_CC_DET", Keywords: []string{"cobro", "cobros", "cobranza", "abono", "abonos", "cuentas por cobrar"}},
	{Table: "PROVEEDORES", Keywords: []string{"proveedor", "proveedores"}},
	{Table: "DOCTOS_CM", Keywords: []string{"compra", "compras", "comprado", "comprados"}},
	{Table: "VENDEDORES", Keywords: []string{"vendedor", "vendedores", "cajero", "cajeros", "empleado", "empleados"}},
	{Table: "LINEAS_ARTICULOS", Keywords: []string{"línea", "líneas", "linea", "lineas", "categoría", "categorías", "categoria", "categorias"}},
	{Table: "DOCTOS_VE", Keywords: []string{"factura", "facturas", "facturado", "facturación"}},
})

// complexTables join through detail rows or carry very high volume.
var complexTables = map[string]bool{
	"DOCTOS_PV_DET":       true,
	"DOCTOS_CC_DET":       true,
	"MOVIMIENTOS_ALMACEN": true,
	"EXISTENCIAS":         true,
	"PRECIOS_ARTICULOS":   true,
	"CLAVES_ARTICULOS":    true,
	"MOVIMIENTOS_CAJA":    true,
}

var tableCountBonuses = []struct {
	min   int
	bonus int
}{
	{8, 40},
	{5, 30},
	{3, 15},
	{2, 5},
}

// wordPattern matches keyword as a whole word or phrase. Go's \b is
// ASCII-only, so letter boundaries are spelled out for accented text.
func wordPattern(keyword string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(keyword) + `(?:[^\p{L}\p{N}_]|$)`)
}

func compileRules(rules []complexityRule) []complexityRule {
	for i := range rules {
		for _, kw := range rules[i].Keywords {
			rules[i].patterns = append(rules[i].patterns, wordPattern(kw))
		}
	}
	return rules
}

func compileNouns(nouns []domainNoun) []domainNoun {
	for i := range nouns {
		for _, kw := range nouns[i].Keywords {
			nouns[i].patterns = append(nouns[i].patterns, wordPattern(kw))
		}
	}
	return nouns
}

// ComplexityClassifier scores questions by their wording alone. It holds no
// mutable state and is safe for concurrent use.
type ComplexityClassifier struct {
	moderateAt    int
	complexAt     int
	veryComplexAt int
}

// NewComplexityClassifier creates a classifier with the given level
// breakpoints. Out-of-order or non-positive breakpoints fall back to 25/55/80.
func NewComplexityClassifier(moderateAt, complexAt, veryComplexAt int) *ComplexityClassifier {
	if !(0 < moderateAt && moderateAt < complexAt && complexAt < veryComplexAt && veryComplexAt <= maxComplexityScore) {
		moderateAt, complexAt, veryComplexAt = 25, 55, 80
	}
	return &ComplexityClassifier{moderateAt: moderateAt, complexAt: complexAt, veryComplexAt: veryComplexAt}
}

// Classify derives the complexity profile of a question.
func (c *ComplexityClassifier) Classify(question string) models.ComplexityProfile {
	text := strings.ToLower(strings.TrimSpace(question))

	var (
		profile models.ComplexityProfile
		score   int
		fired   = make(map[string]bool)
	)

	for _, rule := range complexityRules {
		var matched []string
		for i, p := range rule.patterns {
			if p.MatchString(text) {
				matched = append(matched, rule.Keywords[i])
			}
		}
		if len(matched) == 0 {
			continue
		}
		weight := len(matched) * rule.Weight
		score += weight
		fired[rule.Factor] = true
		profile.Factors = append(profile.Factors, models.ComplexityFactor{
			Name:   rule.Factor,
			Match:  strings.Join(matched, ", "),
			Weight: weight,
		})
	}

	crossed := 0
	for _, f := range crossAnalysisFactors {
		if fired[f] {
			crossed++
		}
	}
	if crossed >= 2 {
		score += crossAnalysisWeight
		profile.Factors = append(profile.Factors, models.ComplexityFactor{Name: FactorCrossAnalysis, Weight: crossAnalysisWeight})
	}

	profile.Entities = estimateTables(text)
	profile.EstimatedTables = max(len(profile.Entities), 1)
	for _, b := range tableCountBonuses {
		if profile.EstimatedTables >= b.min {
			score += b.bonus
			profile.Factors = append(profile.Factors, models.ComplexityFactor{Name: FactorTableCount, Weight: b.bonus})
			break
		}
	}

	var heavy []string
	for _, t := range profile.Entities {
		if complexTables[t] {
			heavy = append(heavy, t)
		}
	}
	if len(heavy) > 0 {
		weight := len(heavy) * complexTableWeight
		score += weight
		profile.Factors = append(profile.Factors, models.ComplexityFactor{
			Name:   FactorComplexTables,
			Match:  strings.Join(heavy, ", "),
			Weight: weight,
		})
	}

	switch words := len(strings.Fields(text)); {
	case words > longQuestionWords:
		score += longQuestionWeight
		profile.Factors = append(profile.Factors, models.ComplexityFactor{Name: FactorLength, Match: "long", Weight: longQuestionWeight})
	case words > mediumQuestionWords:
		score += mediumQuestionWeight
		profile.Factors = append(profile.Factors, models.ComplexityFactor{Name: FactorLength, Match: "medium", Weight: mediumQuestionWeight})
	}

	profile.Score = min(score, maxComplexityScore)
	profile.Level = c.level(profile.Score)
	return profile
}

func (c *ComplexityClassifier) level(score int) models.ComplexityLevel {
	switch {
	case score >= c.veryComplexAt:
		return models.ComplexityVeryComplex
	case score >= c.complexAt:
		return models.ComplexityComplex
	case score >= c.moderateAt:
		return models.ComplexityModerate
	default:
		return models.ComplexitySimple
	}
}

// estimateTables returns the distinct tables named by the question's
// business vocabulary, sorted.
func estimateTables(text string) []string {
	var tables []string
	for _, noun := range domainNouns {
		for _, p := range noun.patterns {
			if p.MatchString(text) {
				tables = append(tables, noun.Table)
				break
			}
		}
	}
	sort.Strings(tables)
	return tables
}
