package prompts

import (
	"regexp"
	"strings"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/llm"
)

// SQLResponse is the structured reply expected from the generator.
type SQLResponse struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

var codeBlock = regexp.MustCompile("(?s)```(?:sql|SQL)?\\s*\\n?(.*?)```")

// ParseSQLResponse extracts the statement from a generator reply. JSON is
// preferred; fenced code blocks and bare SQL are accepted as fallbacks.
func ParseSQLResponse(text string) (*SQLResponse, error) {
	text = llm.StripReasoning(text)

	if resp, err := llm.ParseJSONResponse[SQLResponse](text); err == nil && looksLikeSQL(resp.SQL) {
		resp.SQL = cleanSQL(resp.SQL)
		resp.Explanation = strings.TrimSpace(resp.Explanation)
		return &resp, nil
	}

	for _, m := range codeBlock.FindAllStringSubmatch(text, -1) {
		if looksLikeSQL(m[1]) {
			return &SQLResponse{SQL: cleanSQL(m[1])}, nil
		}
	}

	if looksLikeSQL(text) {
		return &SQLResponse{SQL: cleanSQL(text)}, nil
	}

	return nil, apperrors.ErrNoSQLGenerated
}

func looksLikeSQL(s string) bool {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return true
	}
	return false
}

func cleanSQL(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}
