package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/humanfirst-ai/attune/internal/model"
)

// CreateMeasurement inserts a behavior measurement. Measurements are
// immutable; a second insert for the same (call, parameter) fails on the
// unique constraint.
func (db *DB) CreateMeasurement(ctx context.Context, m model.BehaviorMeasurement) (model.BehaviorMeasurement, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO behavior_measurements (id, call_id, parameter_id, value, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.CallID, m.ParameterID, m.Value, m.Confidence, m.CreatedAt,
	)
	if err != nil {
		if uniqueViolation(err, "behavior_measurements_call_parameter_key") {
			return model.BehaviorMeasurement{}, fmt.Errorf("storage: measurement for call %s parameter %s: %w",
				m.CallID, m.ParameterID, ErrConflict)
		}
		return model.BehaviorMeasurement{}, fmt.Errorf("storage: create measurement: %w", err)
	}
	return m, nil
}

// ListMeasurementsByCall returns all measurements recorded for a call.
func (db *DB) ListMeasurementsByCall(ctx context.Context, callID uuid.UUID) ([]model.BehaviorMeasurement, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, call_id, parameter_id, value, confidence, created_at
		 FROM behavior_measurements WHERE call_id = $1 ORDER BY parameter_id`,
		callID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list measurements: %w", err)
	}
	defer rows.Close()

	var out []model.BehaviorMeasurement
	for rows.Next() {
		var m model.BehaviorMeasurement
		if err := rows.Scan(&m.ID, &m.CallID, &m.ParameterID, &m.Value, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListPendingMeasurements returns measurements whose call has an outcome
// recorded but no reward score yet, oldest first. The reconciliation sweep
// drains these through the learning engine, which makes the loop safe
// against crashes between outcome ingestion and learning.
func (db *DB) ListPendingMeasurements(ctx context.Context, limit int) ([]model.PendingMeasurement, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.caller_id, c.segment_id, c.occurred_at, c.created_at,
		        m.id, m.call_id, m.parameter_id, m.value, m.confidence, m.created_at,
		        o.good, o.score
		 FROM behavior_measurements m
		 JOIN calls c ON c.id = m.call_id
		 JOIN call_outcomes o ON o.call_id = m.call_id
		 LEFT JOIN reward_scores r ON r.call_id = m.call_id AND r.parameter_id = m.parameter_id
		 WHERE r.id IS NULL
		 ORDER BY m.created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending measurements: %w", err)
	}
	defer rows.Close()

	var out []model.PendingMeasurement
	for rows.Next() {
		var p model.PendingMeasurement
		if err := rows.Scan(
			&p.Call.ID, &p.Call.CallerID, &p.Call.SegmentID, &p.Call.OccurredAt, &p.Call.CreatedAt,
			&p.Measurement.ID, &p.Measurement.CallID, &p.Measurement.ParameterID,
			&p.Measurement.Value, &p.Measurement.Confidence, &p.Measurement.CreatedAt,
			&p.Outcome.Good, &p.Outcome.Score,
		); err != nil {
			return nil, fmt.Errorf("storage: scan pending measurement: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
