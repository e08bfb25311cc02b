package models

// ComplexityLevel is the coarse difficulty class of a question.
type ComplexityLevel string

const (
	ComplexitySimple      ComplexityLevel = "SIMPLE"
	ComplexityModerate    ComplexityLevel = "MODERATE"
	ComplexityComplex     ComplexityLevel = "COMPLEX"
	ComplexityVeryComplex ComplexityLevel = "VERY_COMPLEX"
)

// ComplexityFactor is one contribution to a complexity score.
type ComplexityFactor struct {
	Name   string `json:"name"`
	Match  string `json:"match,omitempty"`
	Weight int    `json:"weight"`
}

// ComplexityProfile is derived per question and lives only for the current
// turn.
type ComplexityProfile struct {
	Level           ComplexityLevel    `json:"level"`
	Score           int                `json:"score"`
	EstimatedTables int                `json:"estimated_tables"`
	Entities        []string           `json:"entities,omitempty"`
	Factors         []ComplexityFactor `json:"factors,omitempty"`
}

// ModelTier is a capability class of generation backend.
type ModelTier string

const (
	TierStandard ModelTier = "standard"
	TierAdvanced ModelTier = "advanced"
)

// AllTiers lists every tier in reporting order.
var AllTiers = []ModelTier{TierStandard, TierAdvanced}
