package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/humanfirst-ai/attune/internal/model"
	"github.com/humanfirst-ai/attune/internal/storage"
)

const targetColumns = `id, parameter_id, scope_level, scope_entity, value, confidence, source,
	 effective_from, effective_until, observation_count, last_learned_at, created_at`

// scopeEntityArg maps a scope to the nullable scope_entity column.
func scopeEntityArg(s model.Scope) any {
	if s.Level == model.LevelSystem {
		return nil
	}
	return s.EntityID
}

func scanTarget(row rowScanner) (model.BehaviorTarget, error) {
	var t model.BehaviorTarget
	var id, level, source, from, created string
	var entity, until, learned sql.NullString
	err := row.Scan(&id, &t.ParameterID, &level, &entity, &t.Value, &t.Confidence, &source,
		&from, &until, &t.ObservationCount, &learned, &created)
	if err != nil {
		return model.BehaviorTarget{}, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return model.BehaviorTarget{}, err
	}
	lv, err := model.ParseScopeLevel(level)
	if err != nil {
		return model.BehaviorTarget{}, err
	}
	t.Scope = model.Scope{Level: lv}
	if entity.Valid {
		t.Scope.EntityID = entity.String
	}
	t.Source = model.TargetSource(source)
	if t.EffectiveFrom, err = parseTime(from); err != nil {
		return model.BehaviorTarget{}, err
	}
	if t.EffectiveUntil, err = parseNullableTime(until); err != nil {
		return model.BehaviorTarget{}, err
	}
	if t.LastLearnedAt, err = parseNullableTime(learned); err != nil {
		return model.BehaviorTarget{}, err
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return model.BehaviorTarget{}, err
	}
	return t, nil
}

// ActiveTargets returns the active targets for an exact (parameter, scope)
// tuple, newest effective_from first.
func (s *Store) ActiveTargets(ctx context.Context, parameterID string, scope model.Scope) ([]model.BehaviorTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+`
		 FROM behavior_targets
		 WHERE parameter_id = ? AND scope_level = ? AND scope_entity IS ?
		   AND effective_until IS NULL
		 ORDER BY effective_from DESC`,
		parameterID, scope.Level.String(), scopeEntityArg(scope),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: active targets: %w", err)
	}
	defer rows.Close()

	var out []model.BehaviorTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTarget retrieves a target row by ID, active or superseded.
func (s *Store) GetTarget(ctx context.Context, id uuid.UUID) (model.BehaviorTarget, error) {
	t, err := scanTarget(s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM behavior_targets WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BehaviorTarget{}, fmt.Errorf("sqlite: target %s: %w", id, storage.ErrNotFound)
		}
		return model.BehaviorTarget{}, fmt.Errorf("sqlite: get target: %w", err)
	}
	return t, nil
}

// ListTargetHistory returns every target row ever recorded for a
// (parameter, scope) tuple, newest first.
func (s *Store) ListTargetHistory(ctx context.Context, parameterID string, scope model.Scope) ([]model.BehaviorTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+`
		 FROM behavior_targets
		 WHERE parameter_id = ? AND scope_level = ? AND scope_entity IS ?
		 ORDER BY effective_from DESC`,
		parameterID, scope.Level.String(), scopeEntityArg(scope),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: target history: %w", err)
	}
	defer rows.Close()

	var out []model.BehaviorTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SupersedeTarget closes the active row for the new target's tuple (if one
// exists) and inserts the new row, in one transaction.
func (s *Store) SupersedeTarget(ctx context.Context, t model.BehaviorTarget) (model.BehaviorTarget, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.BehaviorTarget{}, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if t.EffectiveFrom.IsZero() {
		t.EffectiveFrom = time.Now().UTC()
	}
	t, err = supersedeTargetTx(ctx, tx, t, t.EffectiveFrom)
	if err != nil {
		return model.BehaviorTarget{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.BehaviorTarget{}, fmt.Errorf("sqlite: commit supersession: %w", err)
	}
	return t, nil
}

func supersedeTargetTx(ctx context.Context, tx *sql.Tx, t model.BehaviorTarget, at time.Time) (model.BehaviorTarget, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = at
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE behavior_targets SET effective_until = ?
		 WHERE parameter_id = ? AND scope_level = ? AND scope_entity IS ?
		   AND effective_until IS NULL`,
		formatTime(at), t.ParameterID, t.Scope.Level.String(), scopeEntityArg(t.Scope),
	)
	if err != nil {
		return model.BehaviorTarget{}, fmt.Errorf("sqlite: close active target: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO behavior_targets (`+targetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.ParameterID, t.Scope.Level.String(), scopeEntityArg(t.Scope), t.Value, t.Confidence,
		string(t.Source), formatTime(t.EffectiveFrom), nullableTimeArg(t.EffectiveUntil),
		t.ObservationCount, nullableTimeArg(t.LastLearnedAt), formatTime(t.CreatedAt),
	)
	if err != nil {
		if uniqueViolation(err, "behavior_targets") {
			return model.BehaviorTarget{}, fmt.Errorf("sqlite: insert target for %s/%s: %w",
				t.ParameterID, t.Scope, storage.ErrConflict)
		}
		return model.BehaviorTarget{}, fmt.Errorf("sqlite: insert target: %w", err)
	}
	return t, nil
}

// ApplyLearning writes one learning step (reward plus target mutation) in
// a single transaction, with the same conflict semantics as the Postgres
// store: a lost race rolls back the reward and returns ErrConflict.
func (s *Store) ApplyLearning(ctx context.Context, score model.RewardScore, mutation model.TargetMutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertRewardTx(ctx, tx, score); err != nil {
		return err
	}

	switch mutation.Kind {
	case model.MutationNone:

	case model.MutationConfidence:
		res, err := tx.ExecContext(ctx,
			`UPDATE behavior_targets
			 SET confidence = ?, observation_count = ?, last_learned_at = ?
			 WHERE id = ? AND effective_until IS NULL`,
			mutation.Confidence, mutation.ObservationCount, formatTime(mutation.At), mutation.TargetID.String(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: update target confidence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sqlite: target %s no longer active: %w", mutation.TargetID, storage.ErrConflict)
		}

	case model.MutationRetire:
		res, err := tx.ExecContext(ctx,
			`UPDATE behavior_targets
			 SET effective_until = ?, confidence = 0, observation_count = ?, last_learned_at = ?
			 WHERE id = ? AND effective_until IS NULL`,
			formatTime(mutation.At), mutation.ObservationCount, formatTime(mutation.At), mutation.TargetID.String(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: retire target: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sqlite: target %s no longer active: %w", mutation.TargetID, storage.ErrConflict)
		}

	case model.MutationSupersede:
		if mutation.NewTarget == nil {
			return fmt.Errorf("sqlite: supersede mutation without new target")
		}
		if _, err := supersedeTargetTx(ctx, tx, *mutation.NewTarget, mutation.At); err != nil {
			return err
		}

	default:
		return fmt.Errorf("sqlite: unknown mutation kind %d", mutation.Kind)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit learning step: %w", err)
	}
	return nil
}

func insertRewardTx(ctx context.Context, tx *sql.Tx, r model.RewardScore) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var scope any
	if r.TargetScope != nil {
		scope = r.TargetScope.String()
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO reward_scores (id, call_id, parameter_id, target_value, measured_value,
		 outcome_good, reward, action, hit_target, baseline_assumed, target_scope, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.CallID.String(), r.ParameterID, r.TargetValue, r.MeasuredValue,
		nullableBoolArg(r.OutcomeGood), r.Reward, string(r.Action),
		boolToInt(r.HitTarget), boolToInt(r.BaselineAssumed), scope, formatTime(r.CreatedAt),
	)
	if err != nil {
		if uniqueViolation(err, "reward_scores") {
			return fmt.Errorf("sqlite: reward for call %s parameter %s: %w",
				r.CallID, r.ParameterID, storage.ErrDuplicateReward)
		}
		return fmt.Errorf("sqlite: insert reward score: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanReward(row rowScanner) (model.RewardScore, error) {
	var r model.RewardScore
	var id, callID, action, created string
	var good sql.NullInt64
	var hit, baseline int
	var scope sql.NullString
	err := row.Scan(&id, &callID, &r.ParameterID, &r.TargetValue, &r.MeasuredValue,
		&good, &r.Reward, &action, &hit, &baseline, &scope, &created)
	if err != nil {
		return model.RewardScore{}, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return model.RewardScore{}, err
	}
	if r.CallID, err = uuid.Parse(callID); err != nil {
		return model.RewardScore{}, err
	}
	r.OutcomeGood = parseNullableBool(good)
	r.Action = model.LearningAction(action)
	r.HitTarget = hit != 0
	r.BaselineAssumed = baseline != 0
	if scope.Valid {
		lv, err := model.ParseScopeLevel(scope.String)
		if err != nil {
			return model.RewardScore{}, err
		}
		r.TargetScope = &lv
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return model.RewardScore{}, err
	}
	return r, nil
}

// GetRewardScore retrieves the reward for one (call, parameter) pair.
func (s *Store) GetRewardScore(ctx context.Context, callID uuid.UUID, parameterID string) (model.RewardScore, error) {
	r, err := scanReward(s.db.QueryRowContext(ctx,
		`SELECT id, call_id, parameter_id, target_value, measured_value, outcome_good,
		 reward, action, hit_target, baseline_assumed, target_scope, created_at
		 FROM reward_scores WHERE call_id = ? AND parameter_id = ?`,
		callID.String(), parameterID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RewardScore{}, fmt.Errorf("sqlite: reward for call %s parameter %s: %w",
				callID, parameterID, storage.ErrNotFound)
		}
		return model.RewardScore{}, fmt.Errorf("sqlite: get reward score: %w", err)
	}
	return r, nil
}

// ListRewardsByCall returns all rewards recorded for a call.
func (s *Store) ListRewardsByCall(ctx context.Context, callID uuid.UUID) ([]model.RewardScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, parameter_id, target_value, measured_value, outcome_good,
		 reward, action, hit_target, baseline_assumed, target_scope, created_at
		 FROM reward_scores WHERE call_id = ? ORDER BY parameter_id`,
		callID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list rewards: %w", err)
	}
	defer rows.Close()

	var out []model.RewardScore
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan reward: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
