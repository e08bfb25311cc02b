package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/metrics"
	"github.com/rotosaurio/iacandy/pkg/models"
	"github.com/rotosaurio/iacandy/pkg/prompts"
)

// AssistantConfig holds retrieval and context settings for Answer.
type AssistantConfig struct {
	Dialect string
	MaxRows int

	TopKTables       int
	TopKProcedures   int
	MinSimilarity    float64
	RetrievalTimeout time.Duration

	// RelatedTables adds tables referenced by foreign keys of retrieved
	// tables, scored at RelatedScoreFactor of their parent.
	RelatedTables      bool
	RelatedScoreFactor float64
	MaxRelatedTables   int

	ContextTurns int
	Clock        clockwork.Clock
}

// AssistantDeps are the components Answer orchestrates.
type AssistantDeps struct {
	Cache         *SchemaCache
	Procedures    *ProcedureMatcher
	Classifier    *ComplexityClassifier
	Router        *ModelRouter
	Loop          *RefinementLoop
	Narrative     *NarrativeWriter
	Filter        *ResultFilter
	Conversations *ConversationStore
}

// Assistant answers natural-language questions against the datasource.
type Assistant struct {
	deps    AssistantDeps
	config  AssistantConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAssistant creates an assistant. m may be nil.
func NewAssistant(config AssistantConfig, deps AssistantDeps, m *metrics.Metrics, logger *zap.Logger) *Assistant {
	if config.TopKTables <= 0 {
		config.TopKTables = 8
	}
	if config.RetrievalTimeout <= 0 {
		config.RetrievalTimeout = 10 * time.Second
	}
	if config.RelatedScoreFactor <= 0 || config.RelatedScoreFactor > 1 {
		config.RelatedScoreFactor = 0.75
	}
	if config.ContextTurns < 0 {
		config.ContextTurns = 0
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Assistant{
		deps:    deps,
		config:  config,
		metrics: m,
		logger:  logger.Named("assistant"),
	}
}

// StartSession opens a conversation and returns its id.
func (a *Assistant) StartSession() string {
	return a.deps.Conversations.Start()
}

// History returns the stored turns of a session.
func (a *Assistant) History(sessionID string) ([]models.ConversationTurn, error) {
	return a.deps.Conversations.Turns(sessionID)
}

// Answer runs one question through retrieval, classification, routing and
// the generation-refinement loop.
//
// A question that could not be answered still yields a result with outcome
// failed, the attempt chain and an explanation. An error is returned only
// when the question is empty, the schema cache cannot be built, or ctx ends
// before generation starts.
func (a *Assistant) Answer(ctx context.Context, sessionID, question string, forceRefresh bool) (*models.AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty: %w", apperrors.ErrInvalidInput)
	}

	startTime := a.config.Clock.Now()
	sessionID = a.deps.Conversations.Ensure(sessionID)
	ctx = llm.WithLogFields(ctx, zap.String("session_id", sessionID))
	logger := a.logger.With(llm.LogFields(ctx)...)

	snapshot, err := a.deps.Cache.GetOrBuild(ctx, forceRefresh)
	if err != nil {
		return nil, fmt.Errorf("load schema snapshot: %w", err)
	}

	result := &models.AnswerResult{
		SessionID: sessionID,
		Question:  question,
	}

	tables := a.retrieveTables(ctx, snapshot, question, result)
	procs := a.retrieveProcedures(ctx, snapshot, question, result)

	result.Complexity = a.deps.Classifier.Classify(question)
	result.Tier = a.deps.Router.Select(result.Complexity)

	logger.Info("Answering question",
		zap.String("retrieval", string(result.Retrieval)),
		zap.Int("tables", len(tables)),
		zap.Int("procedures", len(procs)),
		zap.String("complexity", string(result.Complexity.Level)),
		zap.Int("score", result.Complexity.Score),
		zap.String("tier", string(result.Tier)),
		zap.Bool("degraded", result.Degraded))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gc := &prompts.GenerationContext{
		Dialect:    a.config.Dialect,
		Question:   question,
		Tables:     tables,
		Procedures: procs,
		History:    a.deps.Conversations.Recent(sessionID, a.config.ContextTurns),
		Complexity: result.Complexity,
		MaxRows:    a.config.MaxRows,
		Now:        a.config.Clock.Now(),
	}
	loop := a.deps.Loop.Run(ctx, GenerationRequest{Context: gc, Tier: result.Tier})
	if loop.Outcome == models.OutcomeSuccess {
		loop.Result = a.deps.Filter.Apply(loop.Result)
	}

	result.QueryText = loop.SQL
	result.Result = loop.Result
	result.Attempts = loop.Attempts
	result.Outcome = loop.Outcome
	result.Model = loop.Model
	if loop.Err != nil {
		result.Error = loop.Err.Error()
	}
	result.Narrative = a.deps.Narrative.Describe(ctx, question, loop)
	result.Suggestions = FollowUpSuggestions(question, loop.Result, tables)
	result.Duration = a.config.Clock.Since(startTime)

	if err := a.deps.Conversations.Append(sessionID, models.ConversationTurn{
		Question:  question,
		SQL:       loop.SQL,
		Narrative: result.Narrative,
	}); err != nil {
		logger.Warn("Failed to record conversation turn", zap.Error(err))
	}

	a.metrics.ObserveAnswer(string(result.Outcome), result.Duration.Seconds())
	logger.Info("Answered question",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", len(result.Attempts)),
		zap.String("model", result.Model),
		zap.Duration("elapsed", result.Duration))

	return result, nil
}

func (a *Assistant) retrieveTables(ctx context.Context, snapshot *SchemaSnapshot, question string, result *models.AnswerResult) []*models.TableDescriptor {
	rctx, cancel := context.WithTimeout(ctx, a.config.RetrievalTimeout)
	defer cancel()

	res := snapshot.TableIndex.Retrieve(rctx, question, a.config.TopKTables, a.config.MinSimilarity)
	result.Retrieval = res.Mode
	result.Degraded = res.Degraded || snapshot.Degraded()

	var tables []*models.TableDescriptor
	for _, m := range res.Matches {
		if t, ok := snapshot.Table(m.Key); ok {
			tables = append(tables, t)
			result.Tables = append(result.Tables, m)
		}
	}

	if a.config.RelatedTables {
		related, matches := a.relatedTables(snapshot, result.Tables)
		tables = append(tables, related...)
		result.Tables = append(result.Tables, matches...)
	}
	return tables
}

// relatedTables follows foreign keys out of the retrieved tables, in
// retrieval order, until MaxRelatedTables have been added.
func (a *Assistant) relatedTables(snapshot *SchemaSnapshot, retrieved []models.ScoredMatch) ([]*models.TableDescriptor, []models.ScoredMatch) {
	seen := make(map[string]bool, len(retrieved))
	for _, m := range retrieved {
		seen[strings.ToUpper(m.Key)] = true
	}

	var (
		tables  []*models.TableDescriptor
		matches []models.ScoredMatch
	)
	for _, parent := range retrieved {
		desc, ok := snapshot.Table(parent.Key)
		if !ok {
			continue
		}
		for _, ref := range desc.ReferencedTables() {
			if len(tables) >= a.config.MaxRelatedTables {
				return tables, matches
			}
			key := strings.ToUpper(ref)
			if seen[key] {
				continue
			}
			t, ok := snapshot.Table(ref)
			if !ok {
				continue
			}
			seen[key] = true
			tables = append(tables, t)
			matches = append(matches, models.ScoredMatch{
				Key:   t.Name,
				Score: parent.Score * a.config.RelatedScoreFactor,
				Via:   desc.Name,
			})
		}
	}
	return tables, matches
}

func (a *Assistant) retrieveProcedures(ctx context.Context, snapshot *SchemaSnapshot, question string, result *models.AnswerResult) []*models.ProcedureDescriptor {
	if a.config.TopKProcedures <= 0 {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, a.config.RetrievalTimeout)
	defer cancel()

	var procs []*models.ProcedureDescriptor
	for _, m := range a.deps.Procedures.Query(rctx, snapshot, question, a.config.TopKProcedures, a.config.MinSimilarity) {
		if p, ok := snapshot.Procedure(m.Key); ok {
			procs = append(procs, p)
			result.Procedures = append(result.Procedures, m)
		}
	}
	return procs
}

// GetCacheStatus reports the schema cache state.
func (a *Assistant) GetCacheStatus() models.CacheStatus {
	return a.deps.Cache.Status()
}

// RefreshCache rebuilds the schema cache and reports the build error, if any.
func (a *Assistant) RefreshCache(ctx context.Context) error {
	return a.deps.Cache.Refresh(ctx)
}

// GetModelUsageStats returns the number of questions routed to each tier.
func (a *Assistant) GetModelUsageStats() map[string]int64 {
	stats := a.deps.Router.UsageStats()
	out := make(map[string]int64, len(stats))
	for tier, n := range stats {
		out[string(tier)] = n
	}
	return out
}
