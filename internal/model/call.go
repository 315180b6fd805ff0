package model

import (
	"time"

	"github.com/google/uuid"
)

// Call is the per-conversation context the learning loop keys on.
// It carries the caller identity and, when known, the caller's segment,
// which the target resolver uses for SEGMENT-level fallback.
type Call struct {
	ID         uuid.UUID `json:"id"`
	CallerID   string    `json:"caller_id"`
	SegmentID  *string   `json:"segment_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// BehaviorMeasurement is what the agent actually exhibited for one
// parameter during one call, as scored by the external measurement
// producer. Immutable; created once per (call, parameter).
type BehaviorMeasurement struct {
	ID          uuid.UUID `json:"id"`
	CallID      uuid.UUID `json:"call_id"`
	ParameterID string    `json:"parameter_id"`
	Value       float64   `json:"value"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks identifiers and unit-interval fields.
func (m BehaviorMeasurement) Validate() error {
	if err := ValidateParameterID(m.ParameterID); err != nil {
		return err
	}
	if m.CallID == uuid.Nil {
		return &ValidationError{Field: "call_id", Reason: "must not be nil"}
	}
	if err := ValidateUnit("value", m.Value); err != nil {
		return err
	}
	return ValidateUnit("confidence", m.Confidence)
}

// OutcomeSignal is the external call-outcome classification consumed by
// the learning engine. It is either boolean (Good set), graded (Score
// set, mapped to boolean via a configured threshold), or unknown (both
// nil, e.g. a call dropped mid-analysis). Unknown outcomes produce a
// reward record but skip the learning rules entirely.
type OutcomeSignal struct {
	Good  *bool    `json:"good,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// Known reports whether any outcome information is present.
func (o OutcomeSignal) Known() bool { return o.Good != nil || o.Score != nil }

// Resolve maps the signal to a boolean using threshold for graded scores.
// A boolean signal wins over a graded one when both are present.
// ok is false when the outcome is unknown.
func (o OutcomeSignal) Resolve(threshold float64) (good, ok bool) {
	if o.Good != nil {
		return *o.Good, true
	}
	if o.Score != nil {
		return *o.Score >= threshold, true
	}
	return false, false
}

// CallOutcome is the persisted form of an OutcomeSignal for one call.
type CallOutcome struct {
	CallID     uuid.UUID `json:"call_id"`
	Signal     OutcomeSignal
	RecordedAt time.Time `json:"recorded_at"`
}

// PendingMeasurement is a measurement whose call already has an outcome
// recorded but no reward score yet. The reconciliation sweep feeds these
// back through the learning engine.
type PendingMeasurement struct {
	Call        Call
	Measurement BehaviorMeasurement
	Outcome     OutcomeSignal
}
