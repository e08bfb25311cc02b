package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotosaurio/iacandy/pkg/models"
)

// GenerationContext is everything the generator sees for one question.
type GenerationContext struct {
	Dialect    string
	Question   string
	Tables     []*models.TableDescriptor
	Procedures []*models.ProcedureDescriptor
	History    []models.ConversationTurn
	Complexity models.ComplexityProfile
	MaxRows    int

	// Now anchors relative dates ("este mes", "ayer") in the prompt.
	Now time.Time
}

// dialectHints holds syntax reminders per datasource dialect.
var dialectHints = map[string][]string{
	"sqlserver": {
		"Target database: Microsoft SQL Server (T-SQL).",
		"Limit rows with SELECT TOP (n); never use LIMIT or FETCH FIRST without ORDER BY.",
		"Current date is GETDATE() / CAST(GETDATE() AS date); shift dates with DATEADD(day, -30, GETDATE()).",
		"Quote unusual identifiers with [brackets].",
		"Use ISNULL or COALESCE for nullable amounts.",
	},
	"postgres": {
		"Target database: PostgreSQL.",
		"Limit rows with LIMIT n at the end of the statement; never use TOP.",
		"Current date is CURRENT_DATE; shift dates with CURRENT_DATE - INTERVAL '30 days'.",
		"Quote unusual identifiers with \"double quotes\"; identifiers are case-sensitive when quoted.",
		"Use COALESCE for nullable amounts.",
	},
	"firebird": {
		"Target database: Firebird (MicroSIP).",
		"Limit rows with SELECT FIRST n right after SELECT; never use LIMIT or TOP.",
		"Current date is CURRENT_DATE; shift dates with DATEADD(-30 DAY TO CURRENT_DATE).",
		"Identifiers are upper case; quote unusual ones with \"double quotes\".",
		"Use COALESCE for nullable amounts.",
		"Selectable procedures are queried like tables: SELECT * FROM PROC(args).",
	},
}

// DialectHints returns the syntax reminders for dialect, or generic ANSI
// guidance when the dialect is unknown.
func DialectHints(dialect string) []string {
	if hints, ok := dialectHints[dialect]; ok {
		return hints
	}
	return []string{"Use portable ANSI SQL."}
}

// BuildSystemPrompt returns the system message for query generation.
func BuildSystemPrompt(dialect string, level models.ComplexityLevel) string {
	var b strings.Builder

	b.WriteString("You are an expert SQL analyst for a point-of-sale and ERP database.\n")
	b.WriteString("You translate questions (usually in Spanish) into a single read-only SQL query.\n\n")

	b.WriteString("## Rules\n")
	b.WriteString("- Produce exactly one SELECT (or WITH ... SELECT) statement. Never modify data.\n")
	b.WriteString("- Use only the tables and columns listed in the schema context. Do not invent columns.\n")
	b.WriteString("- Prefer the simplest query that answers the question; avoid unnecessary JOINs.\n")
	b.WriteString("- Filter large transactional tables by date or id before aggregating.\n")
	b.WriteString("- Apply the suggested filters (active records, excluded cancelled documents) when they fit the question.\n")
	b.WriteString("- Give result columns short, readable aliases.\n")

	b.WriteString("\n## Dialect\n")
	for _, h := range DialectHints(dialect) {
		b.WriteString("- ")
		b.WriteString(h)
		b.WriteString("\n")
	}

	switch level {
	case models.ComplexityVeryComplex:
		b.WriteString("\n## Complexity\n")
		b.WriteString("This is a very complex analytical question. CTEs and window functions are allowed, ")
		b.WriteString("but every CTE must read from a real table; do not build CTEs of constants.\n")
	case models.ComplexityComplex:
		b.WriteString("\n## Complexity\n")
		b.WriteString("This question needs several joins or calculations. Join on the listed foreign keys only.\n")
	}

	b.WriteString("\n## Response format\n")
	b.WriteString("Respond with a JSON object and nothing else:\n")
	b.WriteString("{\"sql\": \"<the query>\", \"explanation\": \"<one sentence in Spanish>\"}\n")

	return b.String()
}

// BuildGenerationPrompt renders the user message for the first attempt.
func BuildGenerationPrompt(gc *GenerationContext) string {
	var b strings.Builder

	writeSchema(&b, gc.Tables)
	writeProcedures(&b, gc.Procedures)
	writeHistory(&b, gc.History)

	if !gc.Now.IsZero() {
		fmt.Fprintf(&b, "Today is %s.\n", gc.Now.Format("2006-01-02"))
	}
	if gc.MaxRows > 0 {
		fmt.Fprintf(&b, "At most %d rows will be returned.\n", gc.MaxRows)
	}

	b.WriteString("\n## Question\n")
	b.WriteString(strings.TrimSpace(gc.Question))
	b.WriteString("\n")

	return b.String()
}

// BuildRefinePrompt renders the user message for a corrective attempt. The
// failed statement and its error are appended to the original context.
func BuildRefinePrompt(gc *GenerationContext, previousSQL, errorMessage string, attempt int) string {
	var b strings.Builder

	b.WriteString(BuildGenerationPrompt(gc))

	fmt.Fprintf(&b, "\n## Previous attempt %d failed\n", attempt)
	if strings.TrimSpace(previousSQL) != "" {
		b.WriteString("```sql\n")
		b.WriteString(strings.TrimSpace(previousSQL))
		b.WriteString("\n```\n")
	} else {
		b.WriteString("No usable SQL was produced.\n")
	}
	b.WriteString("Error:\n")
	b.WriteString(strings.TrimSpace(errorMessage))
	b.WriteString("\n\nFix the query so it runs. Check column names against the schema context ")
	b.WriteString("and the dialect rules. Respond in the same JSON format.\n")

	return b.String()
}

func writeSchema(b *strings.Builder, tables []*models.TableDescriptor) {
	b.WriteString("## Schema context\n\n")
	if len(tables) == 0 {
		b.WriteString("(no relevant tables were found)\n\n")
		return
	}
	for _, t := range tables {
		fmt.Fprintf(b, "### %s\n", t.Name)
		b.WriteString(strings.TrimSpace(t.Description))
		b.WriteString("\nColumns: ")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteString(" ")
			b.WriteString(c.DataType)
		}
		b.WriteString("\n\n")
	}
}

func writeProcedures(b *strings.Builder, procs []*models.ProcedureDescriptor) {
	if len(procs) == 0 {
		return
	}
	b.WriteString("## Procedures that may help\n")
	b.WriteString("Replace each <PARAM> placeholder with a literal value.\n")
	for _, p := range procs {
		fmt.Fprintf(b, "- %s: %s Example: %s\n", p.Name, p.Purpose, p.ExampleCall)
	}
	b.WriteString("\n")
}

func writeHistory(b *strings.Builder, turns []models.ConversationTurn) {
	if len(turns) == 0 {
		return
	}
	b.WriteString("## Conversation so far\n")
	for _, t := range turns {
		fmt.Fprintf(b, "Q: %s\n", t.Question)
		if t.SQL != "" {
			fmt.Fprintf(b, "SQL: %s\n", singleLine(t.SQL))
		}
	}
	b.WriteString("\n")
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
