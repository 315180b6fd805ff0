// Package learning turns a behavior measurement, a resolved target, and an
// external call-outcome signal into a reward score and, when warranted, a
// new CALLER-scope behavior target.
//
// The four learning rules are keyed by (outcomeGood, hitTarget):
//
//	good  hit   REINFORCE      confidence up, value unchanged
//	good  miss  ADJUST_TOWARD  value moves toward what worked
//	bad   hit   REEVALUATE     confidence down, value unchanged
//	bad   miss  ADJUST_AWAY    value moves away from what failed
//
// An unknown outcome (call dropped mid-analysis) is a distinct third state:
// a reward record is still written, but no rule runs and no target mutates.
package learning

import (
	"math"

	"github.com/humanfirst-ai/attune/internal/model"
)

// BaselineTarget is the neutral target assumed when no scope has an active
// target for a parameter. Reward scores computed against it are flagged.
const BaselineTarget = 0.5

// Config holds the learning knobs. The source system hinted at but never
// fixed these values, so they are explicit configuration with the defaults
// below rather than constants.
type Config struct {
	// Tolerance is the maximum |measured − target| that counts as a hit.
	Tolerance float64
	// LearningRate is the fraction of the measured/target gap an
	// ADJUST_TOWARD or ADJUST_AWAY step moves the target by.
	LearningRate float64
	// ReinforceStep is added to confidence on REINFORCE, capped at 1.0.
	ReinforceStep float64
	// ReevaluateStep is subtracted from confidence on REEVALUATE, floored at 0.0.
	ReevaluateStep float64
	// OutcomeThreshold maps graded outcome scores to boolean: score >= threshold is good.
	OutcomeThreshold float64
}

// DefaultConfig returns the stock learning parameters.
func DefaultConfig() Config {
	return Config{
		Tolerance:        0.1,
		LearningRate:     0.2,
		ReinforceStep:    0.05,
		ReevaluateStep:   0.05,
		OutcomeThreshold: 0.5,
	}
}

// Validate checks the knobs are usable.
func (c Config) Validate() error {
	if c.Tolerance <= 0 || c.Tolerance > 1 {
		return &model.ValidationError{Field: "tolerance", Reason: "must be in (0, 1]"}
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return &model.ValidationError{Field: "learning_rate", Reason: "must be in (0, 1]"}
	}
	if c.ReinforceStep < 0 || c.ReinforceStep > 1 {
		return &model.ValidationError{Field: "reinforce_step", Reason: "must be in [0, 1]"}
	}
	if c.ReevaluateStep < 0 || c.ReevaluateStep > 1 {
		return &model.ValidationError{Field: "reevaluate_step", Reason: "must be in [0, 1]"}
	}
	if c.OutcomeThreshold < 0 || c.OutcomeThreshold > 1 {
		return &model.ValidationError{Field: "outcome_threshold", Reason: "must be in [0, 1]"}
	}
	return nil
}

// Decide maps the (outcomeGood, hitTarget) pair to a learning action.
func Decide(outcomeGood, hitTarget bool) model.LearningAction {
	switch {
	case outcomeGood && hitTarget:
		return model.ActionReinforce
	case outcomeGood && !hitTarget:
		return model.ActionAdjustToward
	case !outcomeGood && hitTarget:
		return model.ActionReevaluate
	default:
		return model.ActionAdjustAway
	}
}

// Hit reports whether measured is within tolerance of target.
func Hit(measured, target, tolerance float64) bool {
	return math.Abs(measured-target) <= tolerance
}

// RewardValue computes the signed reward scalar: closeness to target
// (1 − |measured − target|), positive for good outcomes and negative for
// bad ones. outcomeGood nil (unknown) yields zero.
func RewardValue(measured, target float64, outcomeGood *bool) float64 {
	if outcomeGood == nil {
		return 0
	}
	closeness := 1 - math.Abs(measured-target)
	if *outcomeGood {
		return closeness
	}
	return -closeness
}

// adjustToward moves value a learning-rate fraction toward measured.
func adjustToward(value, measured, rate float64) float64 {
	return model.ClampUnit(value + rate*(measured-value))
}

// adjustAway moves value a learning-rate fraction away from measured,
// reinforcing the original target direction away from what failed.
func adjustAway(value, measured, rate float64) float64 {
	return model.ClampUnit(value + rate*(value-measured))
}
