package models

import "time"

// EmbeddingRecord is the vector stored for one indexed document (a table or a
// procedure). DescriptionHash identifies the text the vector was computed
// from; a record is reused as long as the hash is unchanged.
type EmbeddingRecord struct {
	Key             string    `json:"key"`
	Vector          []float32 `json:"vector,omitempty"`
	DescriptionHash string    `json:"description_hash"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasSignal reports whether the record carries a usable vector. Missing and
// all-zero vectors are treated as "no signal".
func (r EmbeddingRecord) HasSignal() bool {
	for _, v := range r.Vector {
		if v != 0 {
			return true
		}
	}
	return false
}

// ScoredMatch is one retrieval hit.
type ScoredMatch struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`

	// Via names the parent table for matches added through foreign-key
	// expansion.
	Via string `json:"via,omitempty"`
}

// RetrievalMode tells how a retrieval result was produced.
type RetrievalMode string

const (
	RetrievalSemantic RetrievalMode = "semantic"
	RetrievalLexical  RetrievalMode = "lexical"
	RetrievalNone     RetrievalMode = "none"
)
