package sql

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
)

// forbiddenKeywords may not appear outside string literals in a generated query.
// INTO is included because SELECT ... INTO creates a table on SQL Server.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true, "RENAME": true,
	"EXEC": true, "EXECUTE": true, "CALL": true,
	"GRANT": true, "REVOKE": true, "DENY": true,
	"BACKUP": true, "RESTORE": true, "SHUTDOWN": true, "DBCC": true,
	"INTO": true, "COMMIT": true, "ROLLBACK": true,
}

var (
	// ErrEmptyQuery is returned for blank input.
	ErrEmptyQuery = errors.New("empty query")

	// ErrMultipleStatements indicates the query contains more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed")
)

// Normalize trims whitespace and trailing semicolons.
func Normalize(query string) string {
	query = strings.TrimSpace(query)
	for strings.HasSuffix(query, ";") {
		query = strings.TrimSpace(strings.TrimSuffix(query, ";"))
	}
	return query
}

// scanned holds a query split into code (literals blanked out, comments
// removed) and the contents of its single-quoted string literals.
type scanned struct {
	code     string
	literals []string
}

// scan walks the query once, tracking single-quoted literals (with ''
// escapes), double-quoted and bracketed identifiers, and comments.
func scan(query string) scanned {
	var (
		code     strings.Builder
		literal  strings.Builder
		literals []string
	)
	runes := []rune(query)

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case c == '-' && next == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			code.WriteRune(' ')
		case c == '/' && next == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			code.WriteRune(' ')
		case c == '\'':
			literal.Reset()
			i++
			for ; i < len(runes); i++ {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						literal.WriteRune('\'')
						i++
						continue
					}
					break
				}
				literal.WriteRune(runes[i])
			}
			literals = append(literals, literal.String())
			code.WriteString("''")
		case c == '"' || c == '[':
			closer := '"'
			if c == '[' {
				closer = ']'
			}
			code.WriteRune(c)
			i++
			for ; i < len(runes) && runes[i] != closer; i++ {
				code.WriteRune(runes[i])
			}
			code.WriteRune(closer)
		default:
			code.WriteRune(c)
		}
	}

	return scanned{code: code.String(), literals: literals}
}

// keywords returns the bare words of code that are not quoted identifiers.
func keywords(code string) []string {
	var (
		words   []string
		current strings.Builder
		quoted  rune
	)
	flush := func() {
		if current.Len() > 0 {
			words = append(words, strings.ToUpper(current.String()))
			current.Reset()
		}
	}

	for _, c := range code {
		switch {
		case quoted != 0:
			if c == quoted {
				quoted = 0
			}
		case c == '"':
			flush()
			quoted = '"'
		case c == '[':
			flush()
			quoted = ']'
		case unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_':
			current.WriteRune(c)
		default:
			flush()
		}
	}
	flush()
	return words
}

// ValidateReadOnly checks that query is a single SELECT (or WITH ... SELECT)
// statement with no write, DDL or procedure-execution keywords and no
// injection pattern inside its string literals. It returns the normalized
// query.
//
// Violations wrap apperrors.ErrNotReadOnly.
func ValidateReadOnly(query string) (string, error) {
	normalized := Normalize(query)
	if normalized == "" {
		return "", ErrEmptyQuery
	}

	s := scan(normalized)
	if strings.ContainsRune(s.code, ';') {
		return "", fmt.Errorf("%w: %w", apperrors.ErrNotReadOnly, ErrMultipleStatements)
	}
	words := keywords(s.code)
	if len(words) == 0 {
		return "", ErrEmptyQuery
	}
	if words[0] != "SELECT" && words[0] != "WITH" {
		return "", fmt.Errorf("%w: statement starts with %s", apperrors.ErrNotReadOnly, words[0])
	}
	for _, w := range words {
		if forbiddenKeywords[w] {
			return "", fmt.Errorf("%w: %s is not allowed", apperrors.ErrNotReadOnly, w)
		}
	}

	for i, lit := range s.literals {
		if !strings.ContainsAny(lit, "'\"") && !strings.Contains(lit, "--") && !strings.Contains(lit, "/*") {
			continue
		}
		if r := CheckLiteralForInjection(fmt.Sprintf("literal_%d", i+1), lit); r != nil {
			return "", fmt.Errorf("%w: suspicious string literal (fingerprint %s)", apperrors.ErrNotReadOnly, r.Fingerprint)
		}
	}

	return normalized, nil
}
