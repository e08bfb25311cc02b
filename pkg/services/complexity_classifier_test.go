package services

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/metrics"
	"github.com/rotosaurio/iacandy/pkg/models"
)

const longAnalyticalQuestion = "Compara el margen de utilidad y la rentabilidad por mes de las ventas de cada artículo " +
	"con sus existencias en almacén, los movimientos de inventario y los precios, además del porcentaje " +
	"de crecimiento versus el trimestre anterior"

func newDefaultClassifier() *ComplexityClassifier {
	return NewComplexityClassifier(25, 55, 80)
}

func factorNames(p models.ComplexityProfile) []string {
	names := make([]string, len(p.Factors))
	for i, f := range p.Factors {
		names[i] = f.Name
	}
	return names
}

func TestComplexityClassifier_Classify(t *testing.T) {
	tests := []struct {
		name     string
		question string
		level    models.ComplexityLevel
		score    int
		tables   int
	}{
		{"simple count", "¿Cuántos clientes hay?", models.ComplexitySimple, 0, 1},
		{"simple listing", "Lista de artículos", models.ComplexitySimple, 5, 1},
		{"aggregation over time", "Total de ventas por mes", models.ComplexityModerate, 30, 1},
		{"several entities", "Ventas por cliente y artículo con sus existencias", models.ComplexityModerate, 33, 4},
		{"financial analysis", "Promedio de ventas por mes y margen de utilidad por cliente", models.ComplexityComplex, 72, 2},
		{"long analytical question", longAnalyticalQuestion, models.ComplexityVeryComplex, 100, 6},
	}

	c := newDefaultClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := c.Classify(tt.question)
			assert.Equal(t, tt.level, p.Level)
			assert.Equal(t, tt.score, p.Score)
			assert.Equal(t, tt.tables, p.EstimatedTables)
		})
	}
}

func TestComplexityClassifier_LongQuestionIsVeryComplex(t *testing.T) {
	p := newDefaultClassifier().Classify(longAnalyticalQuestion)

	assert.GreaterOrEqual(t, p.Score, 80)
	assert.Equal(t, models.ComplexityVeryComplex, p.Level)
	assert.Contains(t, factorNames(p), FactorFinancial)
	assert.Contains(t, factorNames(p), FactorMultiAnalysis)
	assert.Contains(t, factorNames(p), FactorCrossAnalysis)
	assert.Contains(t, p.Entities, "EXISTENCIAS")
}

func TestComplexityClassifier_WholeWordsOnly(t *testing.T) {
	c := newDefaultClassifier()

	// "mesa" must not fire the temporal keyword "mes", nor "totales" the
	// aggregation keyword "total".
	p := c.Classify("mesas totales")
	assert.NotContains(t, factorNames(p), FactorTemporal)
	assert.NotContains(t, factorNames(p), FactorAggregation)

	p = c.Classify("ventas del año")
	assert.Contains(t, factorNames(p), FactorTemporal)
}

func TestComplexityClassifier_ComplexTablesAddWeight(t *testing.T) {
	p := newDefaultClassifier().Classify("existencias")

	require.Equal(t, []string{"EXISTENCIAS"}, p.Entities)
	assert.Equal(t, complexTableWeight, p.Score)
}

func TestComplexityClassifier_ScoreCapped(t *testing.T) {
	p := newDefaultClassifier().Classify(longAnalyticalQuestion + " y también la tendencia histórica con ranking acumulado por partition")
	assert.Equal(t, maxComplexityScore, p.Score)
}

func TestComplexityClassifier_CustomBreakpoints(t *testing.T) {
	strict := NewComplexityClassifier(5, 10, 40)
	assert.Equal(t, models.ComplexityComplex, strict.Classify("Total de ventas por mes").Level)

	invalid := NewComplexityClassifier(60, 20, 10)
	assert.Equal(t, models.ComplexityModerate, invalid.Classify("Total de ventas por mes").Level)
}

func TestComplexityClassifier_Deterministic(t *testing.T) {
	c := newDefaultClassifier()
	assert.Equal(t, c.Classify(longAnalyticalQuestion), c.Classify(longAnalyticalQuestion))
}

func TestModelRouter_Select(t *testing.T) {
	tests := []struct {
		name    string
		profile models.ComplexityProfile
		want    models.ModelTier
	}{
		{"simple", models.ComplexityProfile{Level: models.ComplexitySimple, EstimatedTables: 5}, models.TierStandard},
		{"moderate few tables", models.ComplexityProfile{Level: models.ComplexityModerate, EstimatedTables: 2}, models.TierStandard},
		{"moderate at threshold", models.ComplexityProfile{Level: models.ComplexityModerate, EstimatedTables: 3}, models.TierAdvanced},
		{"complex", models.ComplexityProfile{Level: models.ComplexityComplex, EstimatedTables: 1}, models.TierAdvanced},
		{"very complex", models.ComplexityProfile{Level: models.ComplexityVeryComplex}, models.TierAdvanced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewModelRouter(ModelRouterConfig{TableThreshold: 3}, nil, zap.NewNop())
			assert.Equal(t, tt.want, r.Select(tt.profile))
		})
	}
}

func TestModelRouter_VeryComplexQuestionRoutesToAdvanced(t *testing.T) {
	r := NewModelRouter(ModelRouterConfig{TableThreshold: 3}, nil, zap.NewNop())
	profile := newDefaultClassifier().Classify(longAnalyticalQuestion)

	assert.Equal(t, models.TierAdvanced, r.Select(profile))
}

func TestModelRouter_ForceAdvanced(t *testing.T) {
	r := NewModelRouter(ModelRouterConfig{TableThreshold: 3, ForceAdvanced: true}, nil, zap.NewNop())
	assert.Equal(t, models.TierAdvanced, r.Select(models.ComplexityProfile{Level: models.ComplexitySimple}))
}

func TestModelRouter_UsageStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := NewModelRouter(ModelRouterConfig{TableThreshold: 3}, m, zap.NewNop())

	stats := r.UsageStats()
	assert.Equal(t, int64(0), stats[models.TierStandard])
	assert.Equal(t, int64(0), stats[models.TierAdvanced])

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Select(models.ComplexityProfile{Level: models.ComplexitySimple})
		}()
		go func() {
			defer wg.Done()
			r.Select(models.ComplexityProfile{Level: models.ComplexityVeryComplex})
		}()
	}
	wg.Wait()
	r.Select(models.ComplexityProfile{Level: models.ComplexitySimple})

	stats = r.UsageStats()
	assert.Equal(t, int64(51), stats[models.TierStandard])
	assert.Equal(t, int64(50), stats[models.TierAdvanced])
	assert.Equal(t, 51.0, testutil.ToFloat64(m.TierSelections.WithLabelValues("standard")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.TierSelections.WithLabelValues("advanced")))
}
