package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/models"
)

// staticSnapshotBuilder returns the same snapshot on every build, or err.
type staticSnapshotBuilder struct {
	snapshot *SchemaSnapshot
	err      error
}

func (s *staticSnapshotBuilder) BuildSnapshot(ctx context.Context, previous *SchemaSnapshot) (*SchemaSnapshot, error) {
	return s.snapshot, s.err
}

func storeTables() []*models.TableDescriptor {
	return []*models.TableDescriptor{
		{Name: "CLIENTES", Description: "clientes nombre rfc compradores"},
		{
			Name:        "DOCTOS_PV",
			Description: "ventas ticket importe fecha",
			ForeignKeys: []models.ForeignKeyEdge{
				{Column: "CLIENTE_ID", RefTable: "CLIENTES", RefColumn: "CLIENTE_ID"},
				{Column: "ALMACEN_ID", RefTable: "ALMACENES", RefColumn: "ALMACEN_ID"},
			},
		},
		{Name: "ALMACENES", Description: "almacenes bodegas sucursales"},
	}
}

func buildStoreSnapshot(t *testing.T) *SchemaSnapshot {
	t.Helper()
	ctx := context.Background()
	indexes := newTestIndexBuilder(llm.NewMockEmbedder(256), nil)

	tables := storeTables()
	tableIndex, err := indexes.Build(ctx, NamespaceTables, TableDocuments(tables), nil)
	require.NoError(t, err)

	procs, err := DefaultProcedures()
	require.NoError(t, err)
	procIndex, err := indexes.Build(ctx, NamespaceProcedures, ProcedureDocuments(procs), nil)
	require.NoError(t, err)

	snap := NewSchemaSnapshot(tables, tableIndex, procs, procIndex)
	t.Cleanup(snap.close)
	return snap
}

type assistantFixture struct {
	assistant *Assistant
	standard  *llm.MockCompleter
	advanced  *llm.MockCompleter
	executor  *fakeExecutor
}

func newAssistantFixture(t *testing.T, builder SnapshotBuilder, executions ...fakeExecution) *assistantFixture {
	t.Helper()
	logger := zap.NewNop()

	standard := llm.NewMockCompleter("std", validReply)
	advanced := llm.NewMockCompleter("adv", validReply)
	gen, err := llm.NewTieredGenerator(standard, advanced)
	require.NoError(t, err)

	executor := &fakeExecutor{executions: executions}
	clock := clockwork.NewFakeClock()
	conversations := newTestConversationStore(t, ConversationStoreConfig{MaxTurns: 10, MaxTurnAge: time.Hour, Clock: clock})

	deps := AssistantDeps{
		Cache:         newTestSchemaCache(builder, clock),
		Procedures:    NewProcedureMatcher(nil, testDialect, logger),
		Classifier:    NewComplexityClassifier(25, 55, 80),
		Router:        NewModelRouter(ModelRouterConfig{TableThreshold: 3}, nil, logger),
		Loop:          NewRefinementLoop(gen, datasource.NewReadOnlyExecutor(executor), RefinementLoopConfig{MaxRetries: 2, MaxRows: 100, Dialect: testDialect}, nil, logger),
		Narrative:     NewNarrativeWriter(gen, false, 0, logger),
		Filter:        NewResultFilter(true, []string{"VENTA GLOBAL"}, logger),
		Conversations: conversations,
	}
	a := NewAssistant(AssistantConfig{
		Dialect:            testDialect,
		MaxRows:            100,
		TopKTables:         1,
		TopKProcedures:     2,
		MinSimilarity:      0.3,
		RelatedTables:      true,
		RelatedScoreFactor: 0.75,
		MaxRelatedTables:   1,
		ContextTurns:       5,
		Clock:              clock,
	}, deps, nil, logger)

	return &assistantFixture{assistant: a, standard: standard, advanced: advanced, executor: executor}
}

func TestAssistant_AnswerSuccess(t *testing.T) {
	fx := newAssistantFixture(t, &staticSnapshotBuilder{snapshot: buildStoreSnapshot(t)},
		fakeExecution{result: rowsResult(2)})

	res, err := fx.assistant.Answer(context.Background(), "", "ventas ticket importe", false)
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "SELECT COUNT(*) AS total FROM CLIENTES", res.QueryText)
	assert.Equal(t, 2, res.Result.RowCount)
	assert.Len(t, res.Attempts, 1)
	assert.Empty(t, res.Error)
	assert.Equal(t, "Se encontraron 2 registros con las columnas total.", res.Narrative)

	assert.Equal(t, models.RetrievalSemantic, res.Retrieval)
	assert.False(t, res.Degraded)
	require.Len(t, res.Tables, 2)
	assert.Equal(t, "DOCTOS_PV", res.Tables[0].Key)
	assert.Equal(t, "CLIENTES", res.Tables[1].Key)
	assert.Equal(t, "DOCTOS_PV", res.Tables[1].Via)
	assert.InDelta(t, res.Tables[0].Score*0.75, res.Tables[1].Score, 1e-9)

	assert.Equal(t, models.ComplexitySimple, res.Complexity.Level)
	assert.Equal(t, models.TierStandard, res.Tier)
	assert.Equal(t, "std", res.Model)
	assert.Equal(t, 0, fx.advanced.CallCount())

	require.Len(t, fx.standard.Prompts, 1)
	assert.Contains(t, fx.standard.Prompts[0], "### DOCTOS_PV")
	assert.Contains(t, fx.standard.Prompts[0], "### CLIENTES")
	assert.NotContains(t, fx.standard.Prompts[0], "### ALMACENES")
}

func TestAssistant_HistoryFeedsNextTurn(t *testing.T) {
	fx := newAssistantFixture(t, &staticSnapshotBuilder{snapshot: buildStoreSnapshot(t)},
		fakeExecution{result: rowsResult(1)})
	ctx := context.Background()

	session := fx.assistant.StartSession()
	_, err := fx.assistant.Answer(ctx, session, "ventas ticket importe", false)
	require.NoError(t, err)
	second, err := fx.assistant.Answer(ctx, session, "¿y de ayer?", false)
	require.NoError(t, err)
	assert.Equal(t, session, second.SessionID)

	require.Len(t, fx.standard.Prompts, 2)
	assert.Contains(t, fx.standard.Prompts[1], "## Conversation so far")
	assert.Contains(t, fx.standard.Prompts[1], "Q: ventas ticket importe")

	turns, err := fx.assistant.History(session)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "¿y de ayer?", turns[1].Question)
	assert.Equal(t, "SELECT COUNT(*) AS total FROM CLIENTES", turns[1].SQL)
}

func TestAssistant_FailedChainIsAResultNotAnError(t *testing.T) {
	fx := newAssistantFixture(t, &staticSnapshotBuilder{snapshot: buildStoreSnapshot(t)},
		fakeExecution{err: errors.New("Invalid object name 'VENTAS'")})

	res, err := fx.assistant.Answer(context.Background(), "", "ventas ticket importe", false)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.False(t, res.Succeeded())
	assert.Len(t, res.Attempts, 3)
	assert.Contains(t, res.Error, "Invalid object name 'VENTAS'")
	assert.Contains(t, res.Narrative, "No pude ejecutar la consulta")
	assert.Contains(t, res.Suggestions, "¿Quieres ampliar el rango de búsqueda?")

	turns, err := fx.assistant.History(res.SessionID)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

func TestAssistant_FiltersSystemRows(t *testing.T) {
	fx := newAssistantFixture(t, &staticSnapshotBuilder{snapshot: buildStoreSnapshot(t)},
		fakeExecution{result: &datasource.QueryExecutionResult{
			Columns: []datasource.ColumnInfo{{Name: "NOMBRE"}, {Name: "IMPORTE"}},
			Rows: []map[string]any{
				{"NOMBRE": "Ana", "IMPORTE": 10.0},
				{"NOMBRE": "VENTA GLOBAL", "IMPORTE": 9000.0},
			},
			RowCount: 2,
		}})

	res, err := fx.assistant.Answer(context.Background(), "", "ventas ticket importe", false)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Result.RowCount)
	assert.Equal(t, 1, res.Result.Excluded)
	assert.Contains(t, res.Narrative, "Se excluyeron 1 registros del sistema.")
}

func TestAssistant_ComplexQuestionUsesAdvancedTier(t *testing.T) {
	fx := newAssistantFixture(t, &staticSnapshotBuilder{snapshot: buildStoreSnapshot(t)},
		fakeExecution{result: rowsResult(1)})

	res, err := fx.assistant.Answer(context.Background(), "", longAnalyticalQuestion, false)
	require.NoError(t, err)

	assert.Equal(t, models.TierAdvanced, res.Tier)
	assert.Equal(t, "adv", res.Model)
	assert.Equal(t, 1, fx.advanced.CallCount())
	assert.Equal(t, map[string]int64{"standard": 0, "advanced": 1}, fx.assistant.GetModelUsageStats())
}

func TestAssistant_InvalidInput(t *testing.T) {
	fx := newAssistantFixture(t, &staticSnapshotBuilder{snapshot: buildStoreSnapshot(t)})

	_, err := fx.assistant.Answer(context.Background(), "", "   ", false)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 0, fx.standard.CallCount())
}

func TestAssistant_CacheBuildFailure(t *testing.T) {
	fx := newAssistantFixture(t, &staticSnapshotBuilder{err: errors.New("login failed for user")})

	_, err := fx.assistant.Answer(context.Background(), "", "ventas", false)
	require.Error(t, err)
	assert.True(t, apperrors.IsCacheBuildError(err))

	status := fx.assistant.GetCacheStatus()
	assert.Nil(t, status.BuiltAt)
	assert.False(t, status.Valid)
	assert.Contains(t, status.LastError, "login failed")
}

func TestAssistant_CacheStatusAndRefresh(t *testing.T) {
	fx := newAssistantFixture(t, &staticSnapshotBuilder{snapshot: buildStoreSnapshot(t)})

	require.NoError(t, fx.assistant.RefreshCache(context.Background()))

	status := fx.assistant.GetCacheStatus()
	require.NotNil(t, status.BuiltAt)
	assert.True(t, status.Valid)
	assert.Equal(t, 3, status.TableCount)
	assert.Equal(t, 3, status.ProcedureCount)
	assert.Equal(t, int64(1), status.Rebuilds)
}
