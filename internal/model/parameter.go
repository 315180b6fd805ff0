// Package model defines the core domain types for Attune.
//
// Types correspond directly to database tables and use strong typing
// (UUIDs, time.Time, enums) and avoid interface{} wherever possible.
// Numeric measurements, targets, and confidences all live on the unit
// interval [0, 1].
package model

import (
	"fmt"
	"time"
)

// ParameterType categorizes what a parameter measures.
type ParameterType string

const (
	ParameterPersonality ParameterType = "PERSONALITY"
	ParameterBehavior    ParameterType = "BEHAVIOR"
	ParameterQuality     ParameterType = "QUALITY"
	ParameterCustom      ParameterType = "CUSTOM"
)

// Directionality indicates how a parameter's value should be read.
type Directionality string

const (
	// DirectionPositive: higher measured values are better.
	DirectionPositive Directionality = "positive"
	// DirectionNegative: lower measured values are better.
	DirectionNegative Directionality = "negative"
	// DirectionNeutral: the value is a set point, not a score.
	DirectionNeutral Directionality = "neutral"
)

// Parameter is a named, typed dimension being measured, e.g. "Openness"
// or "BEH-WARMTH". Parameters are reference data created by configuration
// import and are immutable once referenced by observations.
type Parameter struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"display_name"`
	DomainGroup    string         `json:"domain_group"`
	Type           ParameterType  `json:"type"`
	Directionality Directionality `json:"directionality"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MaxParameterIDLength bounds parameter identifiers, which are used as
// stable keys in observations, targets, and reward scores.
const MaxParameterIDLength = 128

// ValidateParameterID checks that a parameter identifier is usable as a key.
func ValidateParameterID(id string) error {
	if id == "" {
		return fmt.Errorf("model: parameter id must not be empty")
	}
	if len(id) > MaxParameterIDLength {
		return fmt.Errorf("model: parameter id exceeds %d characters", MaxParameterIDLength)
	}
	return nil
}

// ValidParameterType reports whether t is a known parameter type.
func ValidParameterType(t ParameterType) bool {
	switch t {
	case ParameterPersonality, ParameterBehavior, ParameterQuality, ParameterCustom:
		return true
	}
	return false
}
