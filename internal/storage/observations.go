package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/humanfirst-ai/attune/internal/model"
)

// CreateObservation appends an observation to the log and returns it.
// Observations are never updated or deleted.
func (db *DB) CreateObservation(ctx context.Context, o model.Observation) (model.Observation, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC()
	if o.ObservedAt.IsZero() {
		o.ObservedAt = now
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO observations (id, parameter_id, entity_id, value, confidence, observed_at, source, call_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.ParameterID, o.EntityID, o.Value, o.Confidence, o.ObservedAt, string(o.Source), o.CallID, o.CreatedAt,
	)
	if err != nil {
		return model.Observation{}, fmt.Errorf("storage: create observation: %w", err)
	}
	return o, nil
}

// ListObservations returns the full observation history for one
// (entity, parameter) pair, newest first.
func (db *DB) ListObservations(ctx context.Context, entityID, parameterID string) ([]model.Observation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, parameter_id, entity_id, value, confidence, observed_at, source, call_id, created_at
		 FROM observations
		 WHERE entity_id = $1 AND parameter_id = $2
		 ORDER BY observed_at DESC`,
		entityID, parameterID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list observations: %w", err)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var source string
		if err := rows.Scan(&o.ID, &o.ParameterID, &o.EntityID, &o.Value, &o.Confidence,
			&o.ObservedAt, &source, &o.CallID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan observation: %w", err)
		}
		o.Source = model.ObservationSource(source)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListEntityParameters returns the distinct (entity, parameter) pairs
// present in the observation log. The profile recomputer sweeps these.
func (db *DB) ListEntityParameters(ctx context.Context) ([]model.EntityParameter, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT entity_id, parameter_id FROM observations ORDER BY entity_id, parameter_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list entity parameters: %w", err)
	}
	defer rows.Close()

	var out []model.EntityParameter
	for rows.Next() {
		var p model.EntityParameter
		if err := rows.Scan(&p.EntityID, &p.ParameterID); err != nil {
			return nil, fmt.Errorf("storage: scan entity parameter: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
