// Package resolve computes the effective behavior target for a parameter
// and a caller context by walking the scope hierarchy: CALLER overrides
// SEGMENT overrides SYSTEM.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/humanfirst-ai/attune/internal/model"
)

// ErrNoTarget is returned when no scope has an active target for the
// parameter. This is a valid "no opinion" state, not a failure: not every
// parameter has a SYSTEM default, and callers (reward engine, prompt
// composer) are expected to handle it.
var ErrNoTarget = errors.New("resolve: no target defined")

// TargetReader is the read-side storage port. ActiveTargets returns every
// active (effective_until IS NULL) row for the exact (parameter, scope)
// tuple. Under the supersession invariant that is at most one row; the
// resolver tolerates more.
type TargetReader interface {
	ActiveTargets(ctx context.Context, parameterID string, scope model.Scope) ([]model.BehaviorTarget, error)
}

// Resolution is the resolver output. Target.Scope and Target.Source tell
// downstream consumers whether a learned caller-specific target was used
// or the lookup fell back to a shared default.
type Resolution struct {
	Target model.BehaviorTarget
}

// Scope is the scope level that actually matched.
func (r Resolution) Scope() model.Scope { return r.Target.Scope }

// Resolver performs pure reads over a TargetReader. It never mutates.
type Resolver struct {
	store  TargetReader
	logger *slog.Logger
}

// New creates a Resolver. A nil logger falls back to slog.Default().
func New(store TargetReader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve walks CALLER, then SEGMENT (when segmentID is set), then SYSTEM,
// returning the first active target found, or ErrNoTarget.
func (r *Resolver) Resolve(ctx context.Context, parameterID, callerID string, segmentID *string) (Resolution, error) {
	if err := model.ValidateParameterID(parameterID); err != nil {
		return Resolution{}, err
	}

	scopes := make([]model.Scope, 0, 3)
	if callerID != "" {
		scopes = append(scopes, model.CallerScope(callerID))
	}
	if segmentID != nil && *segmentID != "" {
		scopes = append(scopes, model.SegmentScope(*segmentID))
	}
	scopes = append(scopes, model.SystemScope())

	for _, scope := range scopes {
		target, found, err := r.lookup(ctx, parameterID, scope)
		if err != nil {
			return Resolution{}, err
		}
		if found {
			return Resolution{Target: target}, nil
		}
	}
	return Resolution{}, ErrNoTarget
}

// lookup fetches the active target for one tuple. Multiple active rows are
// an invariant violation elsewhere; the resolver recovers deterministically
// by picking the latest EffectiveFrom and logs a data-integrity warning
// rather than aborting the read.
func (r *Resolver) lookup(ctx context.Context, parameterID string, scope model.Scope) (model.BehaviorTarget, bool, error) {
	targets, err := r.store.ActiveTargets(ctx, parameterID, scope)
	if err != nil {
		return model.BehaviorTarget{}, false, fmt.Errorf("resolve: active targets for %s at %s: %w", parameterID, scope, err)
	}
	switch len(targets) {
	case 0:
		return model.BehaviorTarget{}, false, nil
	case 1:
		return targets[0], true, nil
	}

	latest := targets[0]
	for _, t := range targets[1:] {
		if t.EffectiveFrom.After(latest.EffectiveFrom) {
			latest = t
		}
	}
	r.logger.Warn("resolve: multiple active targets for one tuple, picking latest effective_from",
		"parameter_id", parameterID,
		"scope", scope.String(),
		"active_rows", len(targets),
		"picked", latest.ID,
	)
	return latest, true, nil
}
