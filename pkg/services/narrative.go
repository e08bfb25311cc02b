package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/llm"
	"github.com/rotosaurio/iacandy/pkg/logging"
	"github.com/rotosaurio/iacandy/pkg/models"
	"github.com/rotosaurio/iacandy/pkg/prompts"
)

const (
	defaultNarrativeTimeout = 30 * time.Second
	emptyResultNarrative    = "No se encontraron resultados para esta consulta."
	maxNarrativeColumns     = 6
)

// NarrativeWriter explains results in plain language using the standard tier.
// When the model is disabled or fails it falls back to a deterministic
// summary, so a narrative is always produced.
type NarrativeWriter struct {
	generator SQLGenerator
	enabled   bool
	timeout   time.Duration
	logger    *zap.Logger
}

// NewNarrativeWriter creates a writer. generator may be nil when enabled is
// false.
func NewNarrativeWriter(generator SQLGenerator, enabled bool, timeout time.Duration, logger *zap.Logger) *NarrativeWriter {
	if timeout <= 0 {
		timeout = defaultNarrativeTimeout
	}
	return &NarrativeWriter{
		generator: generator,
		enabled:   enabled && generator != nil,
		timeout:   timeout,
		logger:    logger.Named("narrative"),
	}
}

// Describe returns the narrative for a finished loop.
func (w *NarrativeWriter) Describe(ctx context.Context, question string, loop *LoopResult) string {
	switch loop.Outcome {
	case models.OutcomeFailed:
		return FailureNarrative(loop.Err)
	case models.OutcomeEmpty:
		return emptyResultNarrative
	}
	if loop.Result == nil || loop.Result.RowCount == 0 {
		// Every row was removed by the edge-case filter.
		return emptyResultNarrative
	}

	if w.enabled {
		text, err := w.generate(ctx, question, loop)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			w.logger.Warn("Narrative generation failed, using summary",
				zap.String("error", logging.SanitizeError(err)))
		}
	}
	return SummaryNarrative(loop.Result)
}

func (w *NarrativeWriter) generate(ctx context.Context, question string, loop *LoopResult) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	prompt := prompts.BuildNarrativePrompt(question, loop.SQL, loop.Result)
	text, _, err := w.generator.Generate(ctx, models.TierStandard, prompts.NarrativeSystemPrompt, prompt)
	if err != nil {
		return "", llm.ClassifyError(err)
	}
	return strings.TrimSpace(llm.StripReasoning(text)), nil
}

// SummaryNarrative is the deterministic description of a non-empty result.
func SummaryNarrative(result *models.QueryResult) string {
	var b strings.Builder
	if result.RowCount == 1 {
		b.WriteString("Se encontró 1 registro")
	} else {
		fmt.Fprintf(&b, "Se encontraron %s registros", humanize.Comma(int64(result.RowCount)))
	}
	if cols := result.Columns; len(cols) > 0 {
		shown := cols
		if len(shown) > maxNarrativeColumns {
			shown = shown[:maxNarrativeColumns]
		}
		fmt.Fprintf(&b, " con las columnas %s", strings.Join(shown, ", "))
		if len(cols) > len(shown) {
			fmt.Fprintf(&b, " y %d más", len(cols)-len(shown))
		}
	}
	b.WriteString(".")
	if result.Excluded > 0 {
		fmt.Fprintf(&b, " Se excluyeron %s registros del sistema.", humanize.Comma(int64(result.Excluded)))
	}
	return b.String()
}

// FailureNarrative explains a failed chain with its last error.
func FailureNarrative(err error) string {
	if err == nil {
		return "No pude ejecutar la consulta."
	}
	var exhausted *apperrors.ExhaustedRetriesError
	if errors.As(err, &exhausted) {
		return "No pude ejecutar la consulta. " + exhausted.Summary()
	}
	return "No pude ejecutar la consulta: " + err.Error()
}
