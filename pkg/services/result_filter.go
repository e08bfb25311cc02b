package services

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/models"
)

// textColumnMarkers select the columns that may carry system placeholder rows.
var textColumnMarkers = []string{"DESCRIPCION", "NOMBRE", "ARTICULO", "CLIENTE"}

// alwaysExcluded is appended to the configured patterns.
var alwaysExcluded = []string{"INTERNO", "AJUSTE"}

// ResultFilter removes bookkeeping rows (global sale placeholders, cash cuts,
// inventory adjustments) from executed results.
type ResultFilter struct {
	enabled  bool
	patterns []string
	logger   *zap.Logger
}

// NewResultFilter creates a filter. Patterns match case-insensitively as
// substrings; surrounding '%' wildcards are accepted and ignored.
func NewResultFilter(enabled bool, patterns []string, logger *zap.Logger) *ResultFilter {
	f := &ResultFilter{enabled: enabled, logger: logger.Named("result-filter")}
	seen := make(map[string]bool)
	for _, p := range append(append([]string(nil), patterns...), alwaysExcluded...) {
		p = strings.ToUpper(strings.Trim(strings.TrimSpace(p), "%"))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		f.patterns = append(f.patterns, p)
	}
	return f
}

// Apply returns result without the excluded rows. The input is not modified.
// Results without text columns are returned as is.
func (f *ResultFilter) Apply(result *models.QueryResult) *models.QueryResult {
	if f == nil || !f.enabled || result == nil || len(result.Rows) == 0 {
		return result
	}

	columns := f.textColumns(result)
	if len(columns) == 0 {
		return result
	}

	kept := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		if !f.excluded(row, columns) {
			kept = append(kept, row)
		}
	}

	removed := len(result.Rows) - len(kept)
	if removed == 0 {
		return result
	}
	f.logger.Info("Excluded system rows from result",
		zap.Int("excluded", removed),
		zap.Int("total", len(result.Rows)))

	filtered := *result
	filtered.Rows = kept
	filtered.RowCount = len(kept)
	filtered.Excluded = result.Excluded + removed
	return &filtered
}

func (f *ResultFilter) textColumns(result *models.QueryResult) []string {
	columns := result.Columns
	if len(columns) == 0 {
		for k := range result.Rows[0] {
			columns = append(columns, k)
		}
	}
	var out []string
	for _, c := range columns {
		upper := strings.ToUpper(c)
		for _, marker := range textColumnMarkers {
			if strings.Contains(upper, marker) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (f *ResultFilter) excluded(row map[string]any, columns []string) bool {
	for _, c := range columns {
		v, ok := row[c]
		if !ok || v == nil {
			continue
		}
		var text string
		switch x := v.(type) {
		case string:
			text = x
		case []byte:
			text = string(x)
		default:
			text = fmt.Sprint(x)
		}
		text = strings.ToUpper(text)
		for _, p := range f.patterns {
			if strings.Contains(text, p) {
				return true
			}
		}
	}
	return false
}
