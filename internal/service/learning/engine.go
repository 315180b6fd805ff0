package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/humanfirst-ai/attune/internal/model"
	"github.com/humanfirst-ai/attune/internal/service/resolve"
	"github.com/humanfirst-ai/attune/internal/telemetry"
)

// Store is the write-side storage port for the engine.
//
// ApplyLearning persists the reward score and the conditional target
// mutation in one transaction. Implementations must enforce uniqueness on
// (call_id, parameter_id) for reward scores (duplicate rewards would
// double-apply learning) and surface a lost supersession race as a
// conflict error, rolling back the reward insert with it, so the caller
// can retry the whole step once with a freshly-read target.
type Store interface {
	ApplyLearning(ctx context.Context, score model.RewardScore, mutation model.TargetMutation) error
}

// TargetResolver is the resolver port (satisfied by *resolve.Resolver).
type TargetResolver interface {
	Resolve(ctx context.Context, parameterID, callerID string, segmentID *string) (resolve.Resolution, error)
}

// Result is the outcome of one learning step.
type Result struct {
	Score model.RewardScore
	// NewTarget is set when the step superseded or bootstrapped a
	// CALLER-scope target (ADJUST_TOWARD / ADJUST_AWAY).
	NewTarget *model.BehaviorTarget
	// RetiredTargetID is set when REEVALUATE floored a learned caller
	// target's confidence to zero and deactivated it, so resolution falls
	// back to the shared default.
	RetiredTargetID *uuid.UUID
}

// Engine applies the learning rules. It is stateless between calls:
// everything it needs arrives as input or through the store, so steps for
// different (call, parameter) pairs can run concurrently. The single
// transactional guarantee it relies on is Store.ApplyLearning.
type Engine struct {
	store    Store
	resolver TargetResolver
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	actions  metric.Int64Counter
}

// New creates an Engine. A zero Config is replaced by DefaultConfig().
func New(store Store, resolver TargetResolver, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("learning: config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	actions, err := telemetry.Meter("attune/learning").Int64Counter("attune.learning.actions",
		metric.WithDescription("Learning actions taken, by rule"))
	if err != nil {
		return nil, fmt.Errorf("learning: create actions counter: %w", err)
	}

	return &Engine{
		store:    store,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		actions:  actions,
	}, nil
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Process runs one learning step for a single (call, parameter) pair.
//
// It always produces exactly one RewardScore, even when no target
// existed, in which case the reward is computed against the neutral 0.5
// baseline and flagged as such. Target writes happen only at CALLER
// scope: shared SYSTEM/SEGMENT rows are never mutated by learning; the
// first adjustment for a caller bootstraps a CALLER-scope target from the
// shared default.
//
// Idempotency is the caller's responsibility: processing the same
// (call, parameter) twice is rejected by the store's uniqueness constraint.
func (e *Engine) Process(ctx context.Context, call model.Call, m model.BehaviorMeasurement, outcome model.OutcomeSignal) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}
	if m.CallID != call.ID {
		return Result{}, &model.ValidationError{Field: "call_id", Reason: "measurement does not belong to this call"}
	}

	// Resolve the effective target. "No target" is a valid state.
	var (
		current         *model.BehaviorTarget
		targetValue     = BaselineTarget
		baselineAssumed = true
		targetScope     *model.ScopeLevel
	)
	res, err := e.resolver.Resolve(ctx, m.ParameterID, call.CallerID, call.SegmentID)
	switch {
	case err == nil:
		if verr := model.ValidateUnit("target value", res.Target.Value); verr != nil {
			return Result{}, verr
		}
		if verr := model.ValidateUnit("target confidence", res.Target.Confidence); verr != nil {
			return Result{}, verr
		}
		t := res.Target
		current = &t
		targetValue = t.Value
		baselineAssumed = false
		level := t.Scope.Level
		targetScope = &level
	case errors.Is(err, resolve.ErrNoTarget):
		// Fall through to the baseline.
	default:
		return Result{}, err
	}

	hit := Hit(m.Value, targetValue, e.cfg.Tolerance)
	good, known := outcome.Resolve(e.cfg.OutcomeThreshold)

	action := model.ActionSkip
	var outcomeGood *bool
	if known {
		g := good
		outcomeGood = &g
		action = Decide(good, hit)
	}

	now := e.now()
	score := model.RewardScore{
		ID:              uuid.New(),
		CallID:          call.ID,
		ParameterID:     m.ParameterID,
		TargetValue:     targetValue,
		MeasuredValue:   m.Value,
		OutcomeGood:     outcomeGood,
		Reward:          RewardValue(m.Value, targetValue, outcomeGood),
		Action:          action,
		HitTarget:       hit,
		BaselineAssumed: baselineAssumed,
		TargetScope:     targetScope,
		CreatedAt:       now,
	}

	mutation := e.planMutation(call, m, action, current, now)

	if err := e.store.ApplyLearning(ctx, score, mutation); err != nil {
		return Result{}, fmt.Errorf("learning: apply step for call %s parameter %s: %w", call.ID, m.ParameterID, err)
	}

	result := Result{Score: score}
	switch mutation.Kind {
	case model.MutationSupersede:
		result.NewTarget = mutation.NewTarget
	case model.MutationRetire:
		id := mutation.TargetID
		result.RetiredTargetID = &id
	}

	e.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.Bool("baseline_assumed", baselineAssumed),
	))
	e.logger.Debug("learning step applied",
		"call_id", call.ID,
		"parameter_id", m.ParameterID,
		"action", action,
		"reward", score.Reward,
		"hit_target", hit,
		"baseline_assumed", baselineAssumed,
	)
	return result, nil
}

// planMutation translates the learning rule into the conditional target
// write, per the table in the package doc.
func (e *Engine) planMutation(call model.Call, m model.BehaviorMeasurement, action model.LearningAction, current *model.BehaviorTarget, now time.Time) model.TargetMutation {
	switch action {
	case model.ActionReinforce, model.ActionReevaluate:
		// Confidence-only updates apply in place, and only to an existing
		// CALLER-scope row; shared defaults stay untouched.
		if current == nil || current.Scope.Level != model.LevelCaller {
			return model.TargetMutation{Kind: model.MutationNone}
		}
		delta := e.cfg.ReinforceStep
		if action == model.ActionReevaluate {
			delta = -e.cfg.ReevaluateStep
		}
		confidence := model.ClampUnit(current.Confidence + delta)

		if action == model.ActionReevaluate && confidence == 0 && current.Source == model.SourceLearned {
			// Confidence crossed zero: the learned personalization has been
			// fully discredited. Retire the row (effective_until set,
			// nothing deleted) so resolution falls back to the shared
			// default.
			return model.TargetMutation{Kind: model.MutationRetire, TargetID: current.ID, Scope: current.Scope, At: now}
		}

		return model.TargetMutation{
			Kind:             model.MutationConfidence,
			TargetID:         current.ID,
			Scope:            current.Scope,
			Confidence:       confidence,
			ObservationCount: current.ObservationCount + 1,
			At:               now,
		}

	case model.ActionAdjustToward, model.ActionAdjustAway:
		base := BaselineTarget
		confidence := BaselineTarget
		observations := 0
		if current != nil {
			base = current.Value
			confidence = current.Confidence
			if current.Scope.Level == model.LevelCaller {
				// Carry per-caller bookkeeping; a shared default's count
				// stays with the shared row.
				observations = current.ObservationCount
			}
		}

		value := adjustToward(base, m.Value, e.cfg.LearningRate)
		if action == model.ActionAdjustAway {
			value = adjustAway(base, m.Value, e.cfg.LearningRate)
		}

		learned := &model.BehaviorTarget{
			ID:               uuid.New(),
			ParameterID:      m.ParameterID,
			Scope:            model.CallerScope(call.CallerID),
			Value:            value,
			Confidence:       model.ClampUnit(confidence),
			Source:           model.SourceLearned,
			EffectiveFrom:    now,
			ObservationCount: observations + 1,
			LastLearnedAt:    &now,
			CreatedAt:        now,
		}
		return model.TargetMutation{Kind: model.MutationSupersede, At: now, NewTarget: learned}
	}

	return model.TargetMutation{Kind: model.MutationNone}
}
