package quality

import "time"

// Dimension enumerates the scored quality dimensions.
type Dimension string

const (
	// DimensionCompleteness counts null values in fields that are
	// mandatory downstream.
	DimensionCompleteness Dimension = "completeness"
	// DimensionUniqueness counts duplicated natural keys.
	DimensionUniqueness Dimension = "uniqueness"
	// DimensionReferential counts child rows whose parent is missing.
	DimensionReferential Dimension = "referential"
	// DimensionRange counts values outside their allowed range.
	DimensionRange Dimension = "range"
)

// Weights configures the contribution of each dimension to the composite
// score. Values are proportional; Validate normalises them.
type Weights struct {
	Completeness float64
	Uniqueness   float64
	Referential  float64
	Range        float64
}

// DefaultWeights mirror the configuration defaults.
func DefaultWeights() Weights {
	return Weights{Completeness: 0.30, Uniqueness: 0.20, Referential: 0.25, Range: 0.25}
}

// Violation records one failed check with its location and row count.
type Violation struct {
	Table string `json:"table"`
	Check string `json:"check"`
	Count int    `json:"count"`
}

// DimensionResult scores one dimension across the snapshot.
type DimensionResult struct {
	Dimension  Dimension   `json:"dimension"`
	Violations int         `json:"violations"`
	Score      float64     `json:"score"`
	Details    []Violation `json:"details,omitempty"`
}

// Report is the structured output of the validator. It is surfaced in the
// run report; the validator itself never blocks downstream stages.
type Report struct {
	CheckedAt  time.Time         `json:"checked_at"`
	TotalRows  int               `json:"total_rows"`
	Dimensions []DimensionResult `json:"dimensions"`

	// LineTotalMismatches is informational: the cleansing engine corrects
	// these rather than rejecting them, so they do not lower the score.
	LineTotalMismatches int `json:"line_total_mismatches"`

	Score     float64 `json:"score"`
	Grade     string  `json:"grade"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

// Grade assigns the letter grade band for a composite score.
func Grade(score float64) string {
	switch {
	case score >= 95:
		return "A"
	case score >= 85:
		return "B"
	case score >= 75:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
