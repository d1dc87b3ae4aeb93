// Package confidence turns heterogeneous named signals into one calibrated
// score plus a binary escalation decision.
package confidence

import (
	"fmt"
	"sort"

	"github.com/m-mizutani/sensei/pkg/model"
)

// neutralDefault replaces malformed upstream confidence values. Generative
// output is untyped; this normalization is deliberate and testable rather
// than a silent exception swallow.
const neutralDefault = 0.7

type config struct {
	weights map[string]float64
}

// Option configures an Aggregate call
type Option func(*config)

// WithWeights supplies per-factor weights. Factors without an entry weigh 1.0.
func WithWeights(weights map[string]float64) Option {
	return func(c *config) {
		c.weights = weights
	}
}

// Aggregate computes the weighted mean of the factor values, clamps it into
// [0,1], derives the level band, and decides escalation against the given
// HITL threshold. Factor values must already be in [0,1]; use Coerce for
// untrusted upstream values.
//
// The escalation reason names the lowest-valued factor. Ties are broken by
// the lexicographically smallest factor name, which keeps the reason
// deterministic regardless of map iteration order.
func Aggregate(factors map[string]float64, source string, hitlThreshold float64, opts ...Option) model.ConfidenceScore {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(factors) == 0 {
		return model.ConfidenceScore{
			Score:     0.0,
			Level:     model.LevelOf(0.0),
			Source:    source,
			Factors:   map[string]float64{},
			NeedsHITL: true,
			Reason:    "no confidence factors provided",
		}
	}

	var sum, weightSum float64
	for name, value := range factors {
		w := 1.0
		if cfg.weights != nil {
			if custom, ok := cfg.weights[name]; ok {
				w = custom
			}
		}
		sum += value * w
		weightSum += w
	}

	score := 0.0
	if weightSum > 0 {
		score = clamp(sum / weightSum)
	}

	result := model.ConfidenceScore{
		Score:   score,
		Level:   model.LevelOf(score),
		Source:  source,
		Factors: copyFactors(factors),
	}

	if score < hitlThreshold {
		result.NeedsHITL = true
		name, value := weakestFactor(factors)
		result.Reason = fmt.Sprintf("Low confidence in %s: %.2f", name, value)
	}

	return result
}

// Coerce normalizes an untyped upstream confidence value into [0,1].
// Non-numeric values fall back to the neutral default; lists collapse to
// their first element.
func Coerce(v any) float64 {
	switch value := v.(type) {
	case float64:
		return clamp(value)
	case float32:
		return clamp(float64(value))
	case int:
		return clamp(float64(value))
	case int64:
		return clamp(float64(value))
	case []any:
		if len(value) > 0 {
			return Coerce(value[0])
		}
		return neutralDefault
	default:
		return neutralDefault
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func copyFactors(factors map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(factors))
	for k, v := range factors {
		out[k] = v
	}
	return out
}

// weakestFactor returns the lowest-valued factor, ties broken by name
func weakestFactor(factors map[string]float64) (string, float64) {
	names := make([]string, 0, len(factors))
	for name := range factors {
		names = append(names, name)
	}
	sort.Strings(names)

	minName := names[0]
	minValue := factors[minName]
	for _, name := range names[1:] {
		if factors[name] < minValue {
			minName = name
			minValue = factors[name]
		}
	}
	return minName, minValue
}
