package model

import "fmt"

// ValidationError reports out-of-range or malformed caller input. These
// are data-integrity problems on the caller's side: they are rejected
// immediately and must not be retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model: invalid %s: %s", e.Field, e.Reason)
}

// ValidateUnit checks that v lies on the unit interval [0, 1].
func ValidateUnit(field string, v float64) error {
	if v < 0 || v > 1 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%v is outside [0, 1]", v)}
	}
	return nil
}

// ClampUnit clamps v to [0, 1]. Used after learning adjustments so
// stored targets and confidences always stay on the unit interval.
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
