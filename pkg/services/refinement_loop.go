package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/adapters/datasource"
	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/logging"
	"github.com/rotosaurio/iacandy/pkg/metrics"
	"github.com/rotosaurio/iacandy/pkg/models"
	"github.com/rotosaurio/iacandy/pkg/prompts"
)

// SQLGenerator produces generator output for a tier. *llm.TieredGenerator
// implements it.
type SQLGenerator interface {
	Generate(ctx context.Context, tier models.ModelTier, systemMessage, prompt string) (text string, model string, err error)
}

var _ SQLGenerator = (*llm.TieredGenerator)(nil)

// RefinementLoopConfig configures the loop.
type RefinementLoopConfig struct {
	// MaxRetries bounds the refinements after the first draft; a chain has at
	// most MaxRetries+1 attempts.
	MaxRetries   int
	MaxRows      int
	QueryTimeout time.Duration
	Dialect      string
}

// GenerationRequest is one question ready for generation.
type GenerationRequest struct {
	Context *prompts.GenerationContext
	Tier    models.ModelTier
}

// LoopResult is the terminal state of one run.
type LoopResult struct {
	SQL         string
	Explanation string
	Result      *models.QueryResult
	Attempts    []models.GenerationAttempt
	Outcome     models.LoopOutcome
	Model       string

	// Err is an *apperrors.ExhaustedRetriesError when Outcome is failed.
	Err error
}

type loopState int

const (
	stateDraft loopState = iota
	stateExecute
	stateRefine
	stateDone
)

// RefinementLoop drafts a statement, executes it and feeds execution errors
// back to the generator until a statement runs or the retry budget is spent.
type RefinementLoop struct {
	generator SQLGenerator
	executor  datasource.QueryExecutor
	config    RefinementLoopConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewRefinementLoop creates a loop. executor should already enforce the
// read-only guard. m may be nil.
func NewRefinementLoop(generator SQLGenerator, executor datasource.QueryExecutor, config RefinementLoopConfig, m *metrics.Metrics, logger *zap.Logger) *RefinementLoop {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 60 * time.Second
	}
	return &RefinementLoop{
		generator: generator,
		executor:  executor,
		config:    config,
		metrics:   m,
		logger:    logger.Named("refinement-loop"),
	}
}

// loopRun is the mutable state of one Run.
type loopRun struct {
	req      GenerationRequest
	system   string
	result   *LoopResult
	pending  models.GenerationAttempt
	started  time.Time
	lastSQL  string
	lastErr  error
	logger   *zap.Logger
	attempts int
}

// Run executes the loop to completion. It never returns nil.
func (l *RefinementLoop) Run(ctx context.Context, req GenerationRequest) *LoopResult {
	run := &loopRun{
		req:    req,
		system: prompts.BuildSystemPrompt(l.config.Dialect, req.Context.Complexity.Level),
		result: &LoopResult{},
		logger: l.logger.With(llm.LogFields(ctx)...),
	}

	state := stateDraft
	for state != stateDone {
		switch state {
		case stateDraft, stateRefine:
			state = l.generate(ctx, run, state == stateRefine)
		case stateExecute:
			state = l.execute(ctx, run)
		}
	}

	if run.result.Outcome == models.OutcomeFailed {
		run.result.Err = &apperrors.ExhaustedRetriesError{
			Attempts: append([]models.GenerationAttempt(nil), run.result.Attempts...),
			Last:     run.lastErr,
		}
	}
	return run.result
}

func (l *RefinementLoop) generate(ctx context.Context, run *loopRun, refine bool) loopState {
	if err := ctx.Err(); err != nil {
		return l.fail(run, err)
	}

	var prompt string
	if refine {
		prompt = prompts.BuildRefinePrompt(run.req.Context, run.lastSQL, run.lastErr.Error(), run.attempts)
	} else {
		prompt = prompts.BuildGenerationPrompt(run.req.Context)
	}

	run.attempts++
	run.started = time.Now()
	run.pending = models.GenerationAttempt{
		Index: run.attempts,
		Tier:  run.req.Tier,
		Stage: models.StageGeneration,
	}

	text, model, err := l.generator.Generate(ctx, run.req.Tier, run.system, prompt)
	if model != "" {
		run.result.Model = model
	}
	if err != nil {
		classified := llm.ClassifyError(err)
		return l.attemptFailed(ctx, run, &apperrors.GenerationError{Tier: run.req.Tier, Cause: classified}, classified.Fatal())
	}

	resp, err := prompts.ParseSQLResponse(text)
	if err != nil {
		return l.attemptFailed(ctx, run, &apperrors.GenerationError{Tier: run.req.Tier, Cause: err}, false)
	}

	run.pending.SQL = resp.SQL
	run.pending.Explanation = resp.Explanation
	return stateExecute
}

func (l *RefinementLoop) execute(ctx context.Context, run *loopRun) loopState {
	run.pending.Stage = models.StageExecution
	if err := ctx.Err(); err != nil {
		return l.attemptFailed(ctx, run, err, true)
	}

	queryCtx, cancel := context.WithTimeout(ctx, l.config.QueryTimeout)
	execStart := time.Now()
	out, err := l.executor.Query(queryCtx, run.pending.SQL, l.config.MaxRows)
	cancel()
	if err != nil {
		return l.attemptFailed(ctx, run, &apperrors.ExecutionError{SQL: run.pending.SQL, Cause: err}, false)
	}

	rows := out.RowCount
	run.pending.RowCount = &rows
	run.pending.Duration = time.Since(run.started)

	run.result.SQL = run.pending.SQL
	run.result.Explanation = run.pending.Explanation
	run.result.Result = &models.QueryResult{
		Columns:  out.ColumnNames(),
		Rows:     out.Rows,
		RowCount: out.RowCount,
		Duration: time.Since(execStart),
	}

	if rows == 0 {
		run.pending.Status = models.AttemptEmpty
		run.result.Outcome = models.OutcomeEmpty
	} else {
		run.pending.Status = models.AttemptSucceeded
		run.result.Outcome = models.OutcomeSuccess
	}
	l.record(run)
	return stateDone
}

// attemptFailed records the pending attempt as failed and decides whether to
// refine. fatal ends the chain regardless of the remaining budget.
func (l *RefinementLoop) attemptFailed(ctx context.Context, run *loopRun, err error, fatal bool) loopState {
	run.pending.Status = models.AttemptFailed
	run.pending.Error = err.Error()
	run.pending.Duration = time.Since(run.started)
	// A generation failure has no statement; keep the last one that ran.
	if run.pending.SQL != "" {
		run.lastSQL = run.pending.SQL
	}
	run.lastErr = err
	l.record(run)

	if fatal || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return l.fail(run, err)
	}
	if run.attempts > l.config.MaxRetries {
		return l.fail(run, err)
	}
	return stateRefine
}

func (l *RefinementLoop) fail(run *loopRun, err error) loopState {
	if run.lastErr == nil {
		run.lastErr = err
	}
	run.result.Outcome = models.OutcomeFailed
	return stateDone
}

func (l *RefinementLoop) record(run *loopRun) {
	a := run.pending
	run.result.Attempts = append(run.result.Attempts, a)
	l.metrics.ObserveAttempt(string(a.Tier), string(a.Status))

	fields := []zap.Field{
		zap.Int("attempt", a.Index),
		zap.String("tier", string(a.Tier)),
		zap.String("stage", string(a.Stage)),
		zap.String("status", string(a.Status)),
		zap.String("sql", logging.SanitizeQuery(a.SQL)),
		zap.Duration("elapsed", a.Duration),
	}
	if a.RowCount != nil {
		fields = append(fields, zap.Int("rows", *a.RowCount))
	}
	if a.Status == models.AttemptFailed {
		fields = append(fields, zap.String("error", logging.SanitizeError(run.lastErr)))
		run.logger.Warn("Generation attempt failed", fields...)
		return
	}
	run.logger.Info("Generation attempt completed", fields...)
}
