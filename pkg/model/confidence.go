package model

// ConfidenceLevel is a discrete band derived from a confidence score
type ConfidenceLevel string

const (
	ConfidenceVeryLow  ConfidenceLevel = "very_low"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
)

// LevelOf maps a score into its confidence band
func LevelOf(score float64) ConfidenceLevel {
	switch {
	case score < 0.30:
		return ConfidenceVeryLow
	case score < 0.50:
		return ConfidenceLow
	case score < 0.70:
		return ConfidenceMedium
	case score < 0.85:
		return ConfidenceHigh
	default:
		return ConfidenceVeryHigh
	}
}

// ConfidenceScore is the calibrated confidence of one stage (or of a whole
// run, when combined across stages). Score is always the weighted mean of
// Factors clamped into [0,1]; Level is a pure function of Score; NeedsHITL
// holds iff Score fell below the stage's configured threshold.
type ConfidenceScore struct {
	Score     float64            `json:"score"`
	Level     ConfidenceLevel    `json:"level"`
	Source    string             `json:"source"`
	Factors   map[string]float64 `json:"factors"`
	NeedsHITL bool               `json:"needs_hitl"`
	Reason    string             `json:"reason,omitempty"`
}
