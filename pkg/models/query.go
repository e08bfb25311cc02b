package models

import "time"

// QueryResult is the outcome of executing a generated statement.
type QueryResult struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Duration time.Duration    `json:"duration_ns"`

	// Excluded counts rows removed by the edge-case filter.
	Excluded int `json:"excluded,omitempty"`
}

// AnswerResult is returned to callers of Answer.
type AnswerResult struct {
	SessionID   string              `json:"session_id"`
	Question    string              `json:"question"`
	QueryText   string              `json:"query_text"`
	Result      *QueryResult        `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
	Outcome     LoopOutcome         `json:"outcome"`
	Attempts    []GenerationAttempt `json:"attempts"`
	Narrative   string              `json:"narrative"`
	Tables      []ScoredMatch       `json:"tables"`
	Procedures  []ScoredMatch       `json:"procedures,omitempty"`
	Retrieval   RetrievalMode       `json:"retrieval"`
	Degraded    bool                `json:"degraded"`
	Complexity  ComplexityProfile   `json:"complexity"`
	Tier        ModelTier           `json:"tier"`
	Model       string              `json:"model"`
	Suggestions []string            `json:"suggestions,omitempty"`
	Duration    time.Duration       `json:"duration_ns"`
}

// Succeeded reports whether the turn produced an executed statement.
func (a *AnswerResult) Succeeded() bool {
	return a.Outcome == OutcomeSuccess || a.Outcome == OutcomeEmpty
}
