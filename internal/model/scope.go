package model

import "fmt"

// ScopeLevel is the layering level of a behavior target. Levels form a
// total order by specificity: CALLER > SEGMENT > SYSTEM. The numeric
// values encode that order so resolution can compare levels directly.
type ScopeLevel uint8

const (
	LevelSystem  ScopeLevel = 0
	LevelSegment ScopeLevel = 1
	LevelCaller  ScopeLevel = 2
)

// String returns the stable wire/storage name for the level.
func (l ScopeLevel) String() string {
	switch l {
	case LevelSystem:
		return "system"
	case LevelSegment:
		return "segment"
	case LevelCaller:
		return "caller"
	}
	return fmt.Sprintf("scope(%d)", uint8(l))
}

// ParseScopeLevel converts a storage name back to a ScopeLevel.
func ParseScopeLevel(s string) (ScopeLevel, error) {
	switch s {
	case "system":
		return LevelSystem, nil
	case "segment":
		return LevelSegment, nil
	case "caller":
		return LevelCaller, nil
	}
	return 0, fmt.Errorf("model: unknown scope level %q", s)
}

// Scope identifies the layer a behavior target applies to: the whole
// system, one segment, or one caller. EntityID is empty at system level
// and required otherwise.
type Scope struct {
	Level    ScopeLevel `json:"level"`
	EntityID string     `json:"entity_id,omitempty"`
}

// SystemScope is the shared, bottom-of-stack scope.
func SystemScope() Scope { return Scope{Level: LevelSystem} }

// SegmentScope targets one caller segment.
func SegmentScope(segmentID string) Scope {
	return Scope{Level: LevelSegment, EntityID: segmentID}
}

// CallerScope targets one individual caller.
func CallerScope(callerID string) Scope {
	return Scope{Level: LevelCaller, EntityID: callerID}
}

// Overrides reports whether s takes precedence over other when both have
// an active target for the same parameter.
func (s Scope) Overrides(other Scope) bool {
	return s.Level > other.Level
}

// Validate checks the level/entity pairing.
func (s Scope) Validate() error {
	switch s.Level {
	case LevelSystem:
		if s.EntityID != "" {
			return fmt.Errorf("model: system scope must not carry an entity id")
		}
	case LevelSegment, LevelCaller:
		if s.EntityID == "" {
			return fmt.Errorf("model: %s scope requires an entity id", s.Level)
		}
	default:
		return fmt.Errorf("model: unknown scope level %d", s.Level)
	}
	return nil
}

func (s Scope) String() string {
	if s.Level == LevelSystem {
		return "system"
	}
	return fmt.Sprintf("%s:%s", s.Level, s.EntityID)
}
