package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotosaurio/iacandy/pkg/models"
)

// NarrativeSystemPrompt instructs the analyst model that explains results.
const NarrativeSystemPrompt = `You are a business data analyst. Explain query results to a store owner in Spanish.
Be concise: two to four sentences. Mention the key figures, notable extremes and anything that looks unusual.
Do not repeat the SQL and do not invent numbers that are not in the data.`

// narrativeSampleRows bounds how many rows are shown to the analyst model.
const narrativeSampleRows = 10

// BuildNarrativePrompt summarizes a result for the analyst model.
func BuildNarrativePrompt(question, sql string, result *models.QueryResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(question))
	fmt.Fprintf(&b, "SQL: %s\n", singleLine(sql))
	b.WriteString(SummarizeResult(result))

	return b.String()
}

// SummarizeResult renders row count, columns and the first rows as plain
// text.
func SummarizeResult(result *models.QueryResult) string {
	var b strings.Builder
	if result == nil {
		b.WriteString("No result.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Rows returned: %d\n", result.RowCount)
	if result.Excluded > 0 {
		fmt.Fprintf(&b, "System rows excluded: %d\n", result.Excluded)
	}
	columns := result.Columns
	if len(columns) == 0 && len(result.Rows) > 0 {
		for k := range result.Rows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(columns, ", "))

	for i, row := range result.Rows {
		if i >= narrativeSampleRows {
			fmt.Fprintf(&b, "... %d more rows\n", len(result.Rows)-narrativeSampleRows)
			break
		}
		parts := make([]string, 0, len(columns))
		for _, c := range columns {
			parts = append(parts, fmt.Sprintf("%s=%s", c, formatValue(row[c])))
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString("\n")
	}
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return fmt.Sprintf("%.2f", x)
	case float32:
		return fmt.Sprintf("%.2f", x)
	case string:
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}
