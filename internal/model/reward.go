package model

import (
	"time"

	"github.com/google/uuid"
)

// LearningAction is the rule applied for one (call, parameter) after
// comparing the measured behavior to the resolved target under the
// call's outcome signal.
type LearningAction string

const (
	// ActionReinforce: good outcome, target hit. Confidence goes up,
	// the target value stays.
	ActionReinforce LearningAction = "REINFORCE"
	// ActionAdjustToward: good outcome, target missed. The target moves
	// a learning-rate fraction toward what actually worked.
	ActionAdjustToward LearningAction = "ADJUST_TOWARD"
	// ActionReevaluate: bad outcome, target hit. The target's confidence
	// goes down; the value stays until evidence accumulates.
	ActionReevaluate LearningAction = "REEVALUATE"
	// ActionAdjustAway: bad outcome, target missed. The target moves
	// away from the measured value that failed.
	ActionAdjustAway LearningAction = "ADJUST_AWAY"
	// ActionSkip: outcome unknown. A reward record is still written for
	// audit, but no learning rule runs and no target is mutated.
	ActionSkip LearningAction = "SKIP"
)

// RewardScore is the immutable audit record of one learning step: which
// target was used, what was measured, how the call went, and what the
// engine did about it. Exactly one row exists per (call, parameter);
// the storage layer enforces this with a unique constraint.
type RewardScore struct {
	ID          uuid.UUID `json:"id"`
	CallID      uuid.UUID `json:"call_id"`
	ParameterID string    `json:"parameter_id"`

	TargetValue   float64 `json:"target_value"`
	MeasuredValue float64 `json:"measured_value"`

	// OutcomeGood is nil when the outcome signal was unknown.
	OutcomeGood *bool `json:"outcome_good,omitempty"`

	// Reward is a signed scalar: closeness to target, positive for good
	// outcomes and negative for bad ones. Zero when the outcome is unknown.
	Reward float64 `json:"reward"`

	Action    LearningAction `json:"action"`
	HitTarget bool           `json:"hit_target"`

	// BaselineAssumed is set when no target was defined at any scope and
	// the reward was computed against the neutral 0.5 baseline.
	BaselineAssumed bool `json:"baseline_assumed"`

	// TargetScope is the scope level that supplied the target, nil when
	// BaselineAssumed.
	TargetScope *ScopeLevel `json:"target_scope,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
