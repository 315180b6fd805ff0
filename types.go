package attune

import (
	"time"

	"github.com/google/uuid"
)

// ScopeLevel is the layering level of a behavior target.
// CALLER overrides SEGMENT overrides SYSTEM.
type ScopeLevel string

const (
	ScopeSystem  ScopeLevel = "system"
	ScopeSegment ScopeLevel = "segment"
	ScopeCaller  ScopeLevel = "caller"
)

// Scope identifies the layer a behavior target applies to. EntityID is
// empty at system level and required otherwise.
type Scope struct {
	Level    ScopeLevel
	EntityID string
}

// SystemScope is the shared, bottom-of-stack scope.
func SystemScope() Scope { return Scope{Level: ScopeSystem} }

// SegmentScope targets one caller segment.
func SegmentScope(segmentID string) Scope {
	return Scope{Level: ScopeSegment, EntityID: segmentID}
}

// CallerScope targets one individual caller.
func CallerScope(callerID string) Scope {
	return Scope{Level: ScopeCaller, EntityID: callerID}
}

// Parameter type names, matching internal/model.
const (
	ParameterPersonality = "PERSONALITY"
	ParameterBehavior    = "BEHAVIOR"
	ParameterQuality     = "QUALITY"
	ParameterCustom      = "CUSTOM"
)

// Target source names.
const (
	SourceSeed    = "SEED"
	SourceLearned = "LEARNED"
	SourceManual  = "MANUAL"
)

// Parameter is a named, typed dimension being measured.
type Parameter struct {
	ID             string
	DisplayName    string
	DomainGroup    string
	Type           string
	Directionality string
}

// Call is the per-conversation context the learning loop keys on.
type Call struct {
	ID         uuid.UUID
	CallerID   string
	SegmentID  *string
	OccurredAt time.Time
}

// Measurement is what the agent actually exhibited for one parameter
// during one call, as scored by the external measurement producer.
type Measurement struct {
	CallID      uuid.UUID
	ParameterID string
	Value       float64
	Confidence  float64
}

// Observation is a single scalar measurement of a parameter for an entity
// at a point in time. Observations feed decay-weighted profiles.
type Observation struct {
	ParameterID string
	EntityID    string
	Value       float64
	Confidence  float64
	ObservedAt  time.Time
	Source      string // "call", "manual", or "seed"; defaults to "call"
	CallID      *uuid.UUID
}

// Outcome is the external classification of how a call went. Boolean wins
// over graded when both are set; both nil means the outcome is unknown.
type Outcome struct {
	Good  *bool
	Score *float64
}

// Target is the public view of a behavior target row.
type Target struct {
	ID               uuid.UUID
	ParameterID      string
	Scope            Scope
	Value            float64
	Confidence       float64
	Source           string
	EffectiveFrom    time.Time
	EffectiveUntil   *time.Time
	ObservationCount int
}

// RewardScore is the immutable audit record of one learning step.
type RewardScore struct {
	ID              uuid.UUID
	CallID          uuid.UUID
	ParameterID     string
	TargetValue     float64
	MeasuredValue   float64
	OutcomeGood     *bool
	Reward          float64
	Action          string // REINFORCE | ADJUST_TOWARD | REEVALUATE | ADJUST_AWAY | SKIP
	HitTarget       bool
	BaselineAssumed bool
	TargetScope     *ScopeLevel
	CreatedAt       time.Time
}

// Profile is the materialized decay-weighted estimate for one
// (caller, parameter) pair.
type Profile struct {
	CallerID         string
	ParameterID      string
	Value            float64
	Weight           float64
	ObservationCount int
	ComputedAt       time.Time
}
