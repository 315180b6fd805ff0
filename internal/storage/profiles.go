package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/humanfirst-ai/attune/internal/model"
)

// UpsertCallerProfile replaces the materialized profile row for a
// (caller, parameter) pair.
func (db *DB) UpsertCallerProfile(ctx context.Context, p model.CallerProfile) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO caller_profiles (caller_id, parameter_id, value, weight, observation_count, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (caller_id, parameter_id) DO UPDATE SET
		   value = EXCLUDED.value,
		   weight = EXCLUDED.weight,
		   observation_count = EXCLUDED.observation_count,
		   computed_at = EXCLUDED.computed_at`,
		p.CallerID, p.ParameterID, p.Value, p.Weight, p.ObservationCount, p.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert caller profile: %w", err)
	}
	return nil
}

// GetCallerProfile retrieves the materialized profile for one pair.
func (db *DB) GetCallerProfile(ctx context.Context, callerID, parameterID string) (model.CallerProfile, error) {
	var p model.CallerProfile
	err := db.pool.QueryRow(ctx,
		`SELECT caller_id, parameter_id, value, weight, observation_count, computed_at
		 FROM caller_profiles WHERE caller_id = $1 AND parameter_id = $2`,
		callerID, parameterID,
	).Scan(&p.CallerID, &p.ParameterID, &p.Value, &p.Weight, &p.ObservationCount, &p.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CallerProfile{}, fmt.Errorf("storage: profile %s/%s: %w", callerID, parameterID, ErrNotFound)
		}
		return model.CallerProfile{}, fmt.Errorf("storage: get caller profile: %w", err)
	}
	return p, nil
}

// ListCallerProfiles returns all materialized profiles for a caller.
func (db *DB) ListCallerProfiles(ctx context.Context, callerID string) ([]model.CallerProfile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT caller_id, parameter_id, value, weight, observation_count, computed_at
		 FROM caller_profiles WHERE caller_id = $1 ORDER BY parameter_id`,
		callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list caller profiles: %w", err)
	}
	defer rows.Close()

	var out []model.CallerProfile
	for rows.Next() {
		var p model.CallerProfile
		if err := rows.Scan(&p.CallerID, &p.ParameterID, &p.Value, &p.Weight, &p.ObservationCount, &p.ComputedAt); err != nil {
			return nil, fmt.Errorf("storage: scan caller profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
