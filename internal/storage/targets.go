package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/humanfirst-ai/attune/internal/model"
)

const targetColumns = `id, parameter_id, scope_level, scope_entity, value, confidence, source,
	 effective_from, effective_until, observation_count, last_learned_at, created_at`

// uniqueViolation reports whether err is a Postgres unique violation on
// the named constraint or index.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// scopeEntityArg maps a scope to the nullable scope_entity column.
func scopeEntityArg(s model.Scope) any {
	if s.Level == model.LevelSystem {
		return nil
	}
	return s.EntityID
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTarget(row rowScanner) (model.BehaviorTarget, error) {
	var t model.BehaviorTarget
	var level, source string
	var entity *string
	err := row.Scan(&t.ID, &t.ParameterID, &level, &entity, &t.Value, &t.Confidence, &source,
		&t.EffectiveFrom, &t.EffectiveUntil, &t.ObservationCount, &t.LastLearnedAt, &t.CreatedAt)
	if err != nil {
		return model.BehaviorTarget{}, err
	}
	lv, err := model.ParseScopeLevel(level)
	if err != nil {
		return model.BehaviorTarget{}, err
	}
	t.Scope = model.Scope{Level: lv}
	if entity != nil {
		t.Scope.EntityID = *entity
	}
	t.Source = model.TargetSource(source)
	return t, nil
}

// ActiveTargets returns the active (effective_until IS NULL) targets for
// an exact (parameter, scope) tuple, newest effective_from first. The
// partial unique index keeps this at most one row; the resolver still
// handles duplicates defensively for stores that lack the index.
func (db *DB) ActiveTargets(ctx context.Context, parameterID string, scope model.Scope) ([]model.BehaviorTarget, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+targetColumns+`
		 FROM behavior_targets
		 WHERE parameter_id = $1 AND scope_level = $2 AND scope_entity IS NOT DISTINCT FROM $3
		   AND effective_until IS NULL
		 ORDER BY effective_from DESC`,
		parameterID, scope.Level.String(), scopeEntityArg(scope),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: active targets: %w", err)
	}
	defer rows.Close()

	var out []model.BehaviorTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTarget retrieves a target row by ID, active or superseded.
func (db *DB) GetTarget(ctx context.Context, id uuid.UUID) (model.BehaviorTarget, error) {
	t, err := scanTarget(db.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM behavior_targets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorTarget{}, fmt.Errorf("storage: target %s: %w", id, ErrNotFound)
		}
		return model.BehaviorTarget{}, fmt.Errorf("storage: get target: %w", err)
	}
	return t, nil
}

// ListTargetHistory returns every target row ever recorded for a
// (parameter, scope) tuple, newest first. Superseded rows are included;
// this is the audit view of the append-only log.
func (db *DB) ListTargetHistory(ctx context.Context, parameterID string, scope model.Scope) ([]model.BehaviorTarget, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+targetColumns+`
		 FROM behavior_targets
		 WHERE parameter_id = $1 AND scope_level = $2 AND scope_entity IS NOT DISTINCT FROM $3
		 ORDER BY effective_from DESC`,
		parameterID, scope.Level.String(), scopeEntityArg(scope),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: target history: %w", err)
	}
	defer rows.Close()

	var out []model.BehaviorTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SupersedeTarget closes the active row for the new target's tuple (if one
// exists) and inserts the new row, in one transaction. This is the write
// path for seed imports and manual target changes; learning writes go
// through ApplyLearning so the reward lands in the same transaction.
func (db *DB) SupersedeTarget(ctx context.Context, t model.BehaviorTarget) (model.BehaviorTarget, error) {
	if t.EffectiveFrom.IsZero() {
		t.EffectiveFrom = time.Now().UTC()
	}

	var created model.BehaviorTarget
	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		created, err = supersedeTargetTx(ctx, tx, t, t.EffectiveFrom)
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit supersession: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.BehaviorTarget{}, err
	}

	db.notifyTargetChange(ctx, created.ParameterID, created.Scope)
	return created, nil
}

// supersedeTargetTx closes the active tuple row and inserts t inside an
// existing transaction. Zero rows closed is fine: the tuple may have no
// prior target. Losing the insert race maps to ErrConflict.
func supersedeTargetTx(ctx context.Context, tx pgx.Tx, t model.BehaviorTarget, at time.Time) (model.BehaviorTarget, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = at
	}

	_, err := tx.Exec(ctx,
		`UPDATE behavior_targets SET effective_until = $1
		 WHERE parameter_id = $2 AND scope_level = $3 AND scope_entity IS NOT DISTINCT FROM $4
		   AND effective_until IS NULL`,
		at, t.ParameterID, t.Scope.Level.String(), scopeEntityArg(t.Scope),
	)
	if err != nil {
		return model.BehaviorTarget{}, fmt.Errorf("storage: close active target: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO behavior_targets (`+targetColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.ParameterID, t.Scope.Level.String(), scopeEntityArg(t.Scope), t.Value, t.Confidence,
		string(t.Source), t.EffectiveFrom, t.EffectiveUntil, t.ObservationCount, t.LastLearnedAt, t.CreatedAt,
	)
	if err != nil {
		if uniqueViolation(err, "behavior_targets_one_active") {
			return model.BehaviorTarget{}, fmt.Errorf("storage: insert target for %s/%s: %w",
				t.ParameterID, t.Scope, ErrConflict)
		}
		return model.BehaviorTarget{}, fmt.Errorf("storage: insert target: %w", err)
	}
	return t, nil
}
