package quality

import (
	"log/slog"
	"math"
	"time"

	"github.com/meridian-dw/meridian-dw/internal/staging"
)

// Service scores staged snapshots. It is read-only over staging: the report
// is its only output.
type Service struct {
	weights   Weights
	threshold float64
	logger    *slog.Logger
}

// NewService builds Service. Zero weights fall back to the defaults.
func NewService(weights Weights, threshold float64, logger *slog.Logger) *Service {
	if weights.Completeness+weights.Uniqueness+weights.Referential+weights.Range <= 0 {
		weights = DefaultWeights()
	}
	return &Service{weights: weights, threshold: threshold, logger: logger}
}

// Validate runs every check against the snapshot and computes the weighted
// composite score.
func (s *Service) Validate(snap staging.Snapshot) Report {
	dimensions := []DimensionResult{
		checkCompleteness(snap),
		checkUniqueness(snap),
		checkReferential(snap),
		checkRange(snap),
	}

	total := s.weights.Completeness + s.weights.Uniqueness + s.weights.Referential + s.weights.Range
	weightFor := map[Dimension]float64{
		DimensionCompleteness: s.weights.Completeness / total,
		DimensionUniqueness:   s.weights.Uniqueness / total,
		DimensionReferential:  s.weights.Referential / total,
		DimensionRange:        s.weights.Range / total,
	}

	score := 0.0
	for _, dim := range dimensions {
		score += dim.Score * weightFor[dim.Dimension]
	}
	score = math.Round(score*100) / 100

	report := Report{
		CheckedAt:           time.Now().UTC(),
		TotalRows:           snap.TotalRows(),
		Dimensions:          dimensions,
		LineTotalMismatches: countLineTotalMismatches(snap.Items),
		Score:               score,
		Grade:               Grade(score),
		Threshold:           s.threshold,
		Passed:              score >= s.threshold,
	}

	if s.logger != nil {
		s.logger.Info("quality checks complete",
			slog.Float64("score", report.Score),
			slog.String("grade", report.Grade),
			slog.Bool("passed", report.Passed),
			slog.Int("rows", report.TotalRows))
	}
	return report
}
