package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/humanfirst-ai/attune/internal/model"
)

// ApplyLearning writes one learning step: the reward score plus the target
// mutation the engine decided on, in a single transaction. If the mutation
// loses a race with a concurrent update to the same target tuple, the whole
// step rolls back (including the reward) and ErrConflict is returned so the
// engine can re-read the target and retry. A reward that already exists for
// the (call, parameter) pair returns ErrDuplicateReward.
func (db *DB) ApplyLearning(ctx context.Context, score model.RewardScore, mutation model.TargetMutation) error {
	// Serialization failures and deadlocks re-run the whole step;
	// ErrConflict and ErrDuplicateReward pass through untouched because a
	// stale mutation plan must not be replayed.
	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		return db.applyLearningTx(ctx, score, mutation)
	})
	if err != nil {
		return err
	}

	if mutation.Kind != model.MutationNone {
		db.notifyTargetChange(ctx, score.ParameterID, mutationScope(mutation))
	}
	return nil
}

func (db *DB) applyLearningTx(ctx context.Context, score model.RewardScore, mutation model.TargetMutation) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertRewardTx(ctx, tx, score); err != nil {
		return err
	}

	switch mutation.Kind {
	case model.MutationNone:

	case model.MutationConfidence:
		tag, err := tx.Exec(ctx,
			`UPDATE behavior_targets
			 SET confidence = $1, observation_count = $2, last_learned_at = $3
			 WHERE id = $4 AND effective_until IS NULL`,
			mutation.Confidence, mutation.ObservationCount, mutation.At, mutation.TargetID,
		)
		if err != nil {
			return fmt.Errorf("storage: update target confidence: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// The row was superseded or retired between the engine's read
			// and this write.
			return fmt.Errorf("storage: target %s no longer active: %w", mutation.TargetID, ErrConflict)
		}

	case model.MutationRetire:
		tag, err := tx.Exec(ctx,
			`UPDATE behavior_targets
			 SET effective_until = $1, confidence = 0, observation_count = $2, last_learned_at = $1
			 WHERE id = $3 AND effective_until IS NULL`,
			mutation.At, mutation.ObservationCount, mutation.TargetID,
		)
		if err != nil {
			return fmt.Errorf("storage: retire target: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("storage: target %s no longer active: %w", mutation.TargetID, ErrConflict)
		}

	case model.MutationSupersede:
		if mutation.NewTarget == nil {
			return fmt.Errorf("storage: supersede mutation without new target")
		}
		if _, err := supersedeTargetTx(ctx, tx, *mutation.NewTarget, mutation.At); err != nil {
			return err
		}

	default:
		return fmt.Errorf("storage: unknown mutation kind %d", mutation.Kind)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit learning step: %w", err)
	}
	return nil
}

// mutationScope recovers the full tuple scope a mutation touched for
// notification. Supersessions carry it on the new row; in-place updates
// carry it on the mutation itself.
func mutationScope(mutation model.TargetMutation) model.Scope {
	if mutation.NewTarget != nil {
		return mutation.NewTarget.Scope
	}
	return mutation.Scope
}

func insertRewardTx(ctx context.Context, tx pgx.Tx, s model.RewardScore) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	var scope *string
	if s.TargetScope != nil {
		v := s.TargetScope.String()
		scope = &v
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO reward_scores (id, call_id, parameter_id, target_value, measured_value,
		 outcome_good, reward, action, hit_target, baseline_assumed, target_scope, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.CallID, s.ParameterID, s.TargetValue, s.MeasuredValue,
		s.OutcomeGood, s.Reward, string(s.Action), s.HitTarget, s.BaselineAssumed, scope, s.CreatedAt,
	)
	if err != nil {
		if uniqueViolation(err, "reward_scores_call_parameter_key") {
			return fmt.Errorf("storage: reward for call %s parameter %s: %w",
				s.CallID, s.ParameterID, ErrDuplicateReward)
		}
		return fmt.Errorf("storage: insert reward score: %w", err)
	}
	return nil
}

func scanReward(row rowScanner) (model.RewardScore, error) {
	var s model.RewardScore
	var action string
	var scope *string
	err := row.Scan(&s.ID, &s.CallID, &s.ParameterID, &s.TargetValue, &s.MeasuredValue,
		&s.OutcomeGood, &s.Reward, &action, &s.HitTarget, &s.BaselineAssumed, &scope, &s.CreatedAt)
	if err != nil {
		return model.RewardScore{}, err
	}
	s.Action = model.LearningAction(action)
	if scope != nil {
		lv, err := model.ParseScopeLevel(*scope)
		if err != nil {
			return model.RewardScore{}, err
		}
		s.TargetScope = &lv
	}
	return s, nil
}

// GetRewardScore retrieves the reward for one (call, parameter) pair.
func (db *DB) GetRewardScore(ctx context.Context, callID uuid.UUID, parameterID string) (model.RewardScore, error) {
	s, err := scanReward(db.pool.QueryRow(ctx,
		`SELECT id, call_id, parameter_id, target_value, measured_value, outcome_good,
		 reward, action, hit_target, baseline_assumed, target_scope, created_at
		 FROM reward_scores WHERE call_id = $1 AND parameter_id = $2`,
		callID, parameterID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RewardScore{}, fmt.Errorf("storage: reward for call %s parameter %s: %w",
				callID, parameterID, ErrNotFound)
		}
		return model.RewardScore{}, fmt.Errorf("storage: get reward score: %w", err)
	}
	return s, nil
}

// ListRewardsByCall returns all rewards recorded for a call.
func (db *DB) ListRewardsByCall(ctx context.Context, callID uuid.UUID) ([]model.RewardScore, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, call_id, parameter_id, target_value, measured_value, outcome_good,
		 reward, action, hit_target, baseline_assumed, target_scope, created_at
		 FROM reward_scores WHERE call_id = $1 ORDER BY parameter_id`,
		callID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list rewards: %w", err)
	}
	defer rows.Close()

	var out []model.RewardScore
	for rows.Next() {
		s, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan reward: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
