// Package decay combines time-stamped scalar observations into a single
// confidence-weighted estimate using exponential recency weighting.
//
// Each observation's weight is e^(−λ·age)·confidence with λ = ln2/H for a
// half-life of H days: an observation's influence halves every H days.
// Aggregation is a pure function of its inputs: recomputation at the same
// instant over the same observations is bit-identical, and adding an
// observation moves the weighted average continuously toward it with no
// bucket effects.
package decay

import (
	"math"
	"time"

	"github.com/humanfirst-ai/attune/internal/model"
)

// DefaultHalfLifeDays is the half-life used when none is configured.
const DefaultHalfLifeDays = 30.0

const hoursPerDay = 24.0

// Sample is one observation's contribution: its value, the confidence the
// producer assigned, and its age in fractional days at aggregation time.
type Sample struct {
	Value      float64
	Confidence float64
	AgeDays    float64
}

// Estimate is the aggregation result. Weight is the total decayed weight
// behind Value and doubles as a confidence signal for consumers: a profile
// backed by many recent high-confidence observations carries more weight
// than one backed by a few stale ones.
type Estimate struct {
	Value  float64
	Weight float64
}

// Aggregate folds samples into a weighted estimate for one
// (entity, parameter) pair. ok is false when samples is empty or the total
// weight is zero (all confidences zero): an empty result, not an error.
func Aggregate(samples []Sample, halfLifeDays float64) (Estimate, bool) {
	if len(samples) == 0 {
		return Estimate{}, false
	}
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLifeDays
	}
	lambda := math.Ln2 / halfLifeDays

	var weighted, total float64
	for _, s := range samples {
		w := Weight(s.AgeDays, s.Confidence, lambda)
		weighted += s.Value * w
		total += w
	}
	if total == 0 {
		return Estimate{}, false
	}
	return Estimate{Value: weighted / total, Weight: total}, true
}

// Weight computes one sample's decayed weight for decay constant lambda.
// Negative ages (clock skew on just-recorded observations) are treated as
// zero so future-dated rows cannot outweigh the present.
func Weight(ageDays, confidence, lambda float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-lambda*ageDays) * confidence
}

// SamplesFromObservations converts an observation history into samples,
// measuring each age in fractional days from now.
func SamplesFromObservations(obs []model.Observation, now time.Time) []Sample {
	if len(obs) == 0 {
		return nil
	}
	samples := make([]Sample, len(obs))
	for i, o := range obs {
		samples[i] = Sample{
			Value:      o.Value,
			Confidence: o.Confidence,
			AgeDays:    now.Sub(o.ObservedAt).Hours() / hoursPerDay,
		}
	}
	return samples
}
