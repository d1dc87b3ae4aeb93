package confidence

import (
	"fmt"

	"github.com/m-mizutani/sensei/pkg/model"
)

// Policy selects how per-stage scores merge into a whole-session score
type Policy string

const (
	// PolicyMin lets the weakest stage dominate. It is the default for any
	// user-facing composite score so the pipeline never overstates its
	// certainty.
	PolicyMin Policy = "min"

	// PolicyMean is the arithmetic mean of stage scores
	PolicyMean Policy = "mean"

	// PolicyWeighted is the self-weighted mean: each stage's score weighs
	// its own contribution
	PolicyWeighted Policy = "weighted"
)

// Combine merges multiple stage scores into one composite score. Factors are
// namespaced as "source.factor"; escalation propagates if any input needed it.
func Combine(scores []model.ConfidenceScore, policy Policy) model.ConfidenceScore {
	if len(scores) == 0 {
		return model.ConfidenceScore{
			Score:     0.0,
			Level:     model.LevelOf(0.0),
			Source:    "combined",
			Factors:   map[string]float64{},
			NeedsHITL: true,
			Reason:    "no confidence factors provided",
		}
	}

	combined := model.ConfidenceScore{
		Source:  "combined",
		Factors: make(map[string]float64),
	}

	var minScore float64 = 1.0
	var minSource string
	var sum, selfWeightedSum, selfWeightTotal float64

	for _, s := range scores {
		for name, value := range s.Factors {
			combined.Factors[fmt.Sprintf("%s.%s", s.Source, name)] = value
		}
		if s.NeedsHITL {
			combined.NeedsHITL = true
			if combined.Reason == "" {
				combined.Reason = s.Reason
			}
		}

		if s.Score < minScore || minSource == "" {
			minScore = s.Score
			minSource = s.Source
		}
		sum += s.Score
		selfWeightedSum += s.Score * s.Score
		selfWeightTotal += s.Score
	}

	switch policy {
	case PolicyMean:
		combined.Score = clamp(sum / float64(len(scores)))
	case PolicyWeighted:
		if selfWeightTotal > 0 {
			combined.Score = clamp(selfWeightedSum / selfWeightTotal)
		}
	default:
		combined.Score = clamp(minScore)
		if combined.Reason == "" && combined.NeedsHITL {
			combined.Reason = fmt.Sprintf("Low confidence in %s", minSource)
		}
	}

	combined.Level = model.LevelOf(combined.Score)
	return combined
}
