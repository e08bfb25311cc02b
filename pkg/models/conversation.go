package models

import "time"

// ConversationTurn is one question/answer exchange inside a session.
type ConversationTurn struct {
	Question  string    `json:"question"`
	SQL       string    `json:"sql,omitempty"`
	Narrative string    `json:"narrative,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSummary describes a session without its turns.
type ConversationSummary struct {
	SessionID    string     `json:"session_id"`
	TurnCount    int        `json:"turn_count"`
	StartedAt    time.Time  `json:"started_at"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}
