package model

import (
	"time"

	"github.com/google/uuid"
)

// MutationKind enumerates the conditional target write that accompanies a
// reward score. At most one mutation happens per learning step.
type MutationKind uint8

const (
	// MutationNone: reward only, no target write (SKIP, or a
	// confidence-only rule resolved against a shared default).
	MutationNone MutationKind = iota
	// MutationConfidence: in-place confidence/bookkeeping update on an
	// existing CALLER-scope row (REINFORCE, REEVALUATE above zero).
	MutationConfidence
	// MutationRetire: deactivate a learned caller row whose confidence
	// crossed zero. effective_until is set, nothing is deleted.
	MutationRetire
	// MutationSupersede: close the active caller row (if any) and insert
	// a new learned one (ADJUST_TOWARD, ADJUST_AWAY).
	MutationSupersede
)

// TargetMutation describes the target write for one learning step. The
// storage layer applies it and the reward insert in a single transaction
// keyed on the target tuple, so a lost supersession race rolls back the
// reward too and the caller can retry the whole step with a fresh read.
type TargetMutation struct {
	Kind MutationKind

	// TargetID identifies the row for MutationConfidence and MutationRetire.
	TargetID uuid.UUID

	// Scope is the mutated row's tuple scope, carried for MutationConfidence
	// and MutationRetire so change notifications name the full tuple
	// (MutationSupersede carries it on NewTarget).
	Scope Scope

	// Confidence and ObservationCount are the new bookkeeping values for
	// MutationConfidence.
	Confidence       float64
	ObservationCount int

	// At timestamps the mutation (last_learned_at / effective_until).
	At time.Time

	// NewTarget is the replacement row for MutationSupersede.
	NewTarget *BehaviorTarget
}
