package model

import (
	"time"

	"github.com/google/uuid"
)

// TargetSource records how a behavior target came to exist.
type TargetSource string

const (
	SourceSeed    TargetSource = "SEED"
	SourceLearned TargetSource = "LEARNED"
	SourceManual  TargetSource = "MANUAL"
)

// BehaviorTarget is the desired value of a BEHAVIOR parameter at one
// layering scope. Targets are an append-only log: a new value supersedes
// the prior active row by setting EffectiveUntil, never by deleting it,
// so the full history remains available for audit.
//
// Invariant: at most one active (EffectiveUntil == nil) row exists per
// (ParameterID, Scope) tuple. The storage layer enforces this with a
// partial unique index; writes go through SupersedeTarget.
type BehaviorTarget struct {
	ID          uuid.UUID    `json:"id"`
	ParameterID string       `json:"parameter_id"`
	Scope       Scope        `json:"scope"`
	Value       float64      `json:"value"`
	Confidence  float64      `json:"confidence"`
	Source      TargetSource `json:"source"`

	EffectiveFrom  time.Time  `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`

	ObservationCount int        `json:"observation_count"`
	LastLearnedAt    *time.Time `json:"last_learned_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the target is the current row for its tuple.
func (t BehaviorTarget) Active() bool { return t.EffectiveUntil == nil }

// Validate checks identifiers, scope, and unit-interval fields.
func (t BehaviorTarget) Validate() error {
	if err := ValidateParameterID(t.ParameterID); err != nil {
		return err
	}
	if err := t.Scope.Validate(); err != nil {
		return err
	}
	if err := ValidateUnit("value", t.Value); err != nil {
		return err
	}
	if err := ValidateUnit("confidence", t.Confidence); err != nil {
		return err
	}
	switch t.Source {
	case SourceSeed, SourceLearned, SourceManual:
	default:
		return &ValidationError{Field: "source", Reason: "unknown target source " + string(t.Source)}
	}
	return nil
}
