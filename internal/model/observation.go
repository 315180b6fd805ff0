package model

import (
	"time"

	"github.com/google/uuid"
)

// ObservationSource records where a scalar measurement came from.
type ObservationSource string

const (
	ObservationFromCall   ObservationSource = "call"
	ObservationFromManual ObservationSource = "manual"
	ObservationFromSeed   ObservationSource = "seed"
)

// Observation is a single scalar measurement of a parameter for an entity
// (typically a caller) at a point in time. Observations form an
// append-only log: they are never mutated and are retained indefinitely.
// The decay aggregator folds an entity's observation history into a
// current estimate, weighting recent observations more heavily.
type Observation struct {
	ID          uuid.UUID         `json:"id"`
	ParameterID string            `json:"parameter_id"`
	EntityID    string            `json:"entity_id"`
	Value       float64           `json:"value"`
	Confidence  float64           `json:"confidence"`
	ObservedAt  time.Time         `json:"observed_at"`
	Source      ObservationSource `json:"source"`
	CallID      *uuid.UUID        `json:"call_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Validate checks identifiers and unit-interval fields.
func (o Observation) Validate() error {
	if err := ValidateParameterID(o.ParameterID); err != nil {
		return err
	}
	if o.EntityID == "" {
		return &ValidationError{Field: "entity_id", Reason: "must not be empty"}
	}
	if err := ValidateUnit("value", o.Value); err != nil {
		return err
	}
	return ValidateUnit("confidence", o.Confidence)
}

// EntityParameter is a distinct (entity, parameter) pair present in the
// observation log. The profile recomputer iterates these.
type EntityParameter struct {
	EntityID    string `json:"entity_id"`
	ParameterID string `json:"parameter_id"`
}

// CallerProfile is the materialized decay-weighted estimate for one
// (caller, parameter) pair, recomputed periodically from the observation
// log and read by the prompt composer as a baseline.
type CallerProfile struct {
	CallerID         string    `json:"caller_id"`
	ParameterID      string    `json:"parameter_id"`
	Value            float64   `json:"value"`
	Weight           float64   `json:"weight"`
	ObservationCount int       `json:"observation_count"`
	ComputedAt       time.Time `json:"computed_at"`
}
