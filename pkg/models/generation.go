package models

import "time"

// AttemptStatus is the outcome of a single generation attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptEmpty     AttemptStatus = "empty"
	AttemptFailed    AttemptStatus = "failed"
)

// AttemptStage records where an attempt stopped.
type AttemptStage string

const (
	StageGeneration AttemptStage = "generation"
	StageExecution  AttemptStage = "execution"
)

// GenerationAttempt is one link of the attempt chain for a turn.
type GenerationAttempt struct {
	Index       int           `json:"index"`
	SQL         string        `json:"sql"`
	Explanation string        `json:"explanation,omitempty"`
	Error       string        `json:"error,omitempty"`
	RowCount    *int          `json:"row_count,omitempty"`
	Status      AttemptStatus `json:"status"`
	Stage       AttemptStage  `json:"stage"`
	Tier        ModelTier     `json:"tier"`
	Duration    time.Duration `json:"duration_ns"`
}

// LoopOutcome is the terminal state of the generation-refinement loop.
type LoopOutcome string

const (
	OutcomeSuccess LoopOutcome = "success"
	OutcomeEmpty   LoopOutcome = "empty"
	OutcomeFailed  LoopOutcome = "failed"
)
