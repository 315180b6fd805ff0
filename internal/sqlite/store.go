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

// The SQLite store returns the storage package's sentinel errors so
// callers can errors.Is against one set regardless of driver.

// UpsertParameter inserts a parameter or updates its display metadata.
func (s *Store) UpsertParameter(ctx context.Context, p model.Parameter) (model.Parameter, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parameters (id, display_name, domain_group, parameter_type, directionality, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = excluded.display_name,
		   domain_group = excluded.domain_group,
		   parameter_type = excluded.parameter_type,
		   directionality = excluded.directionality`,
		p.ID, p.DisplayName, p.DomainGroup, string(p.Type), string(p.Directionality), formatTime(p.CreatedAt),
	)
	if err != nil {
		return model.Parameter{}, fmt.Errorf("sqlite: upsert parameter %s: %w", p.ID, err)
	}
	return p, nil
}

// GetParameter retrieves a parameter by ID.
func (s *Store) GetParameter(ctx context.Context, id string) (model.Parameter, error) {
	var p model.Parameter
	var ptype, dir, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, domain_group, parameter_type, directionality, created_at
		 FROM parameters WHERE id = ?`, id,
	).Scan(&p.ID, &p.DisplayName, &p.DomainGroup, &ptype, &dir, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Parameter{}, fmt.Errorf("sqlite: parameter %s: %w", id, storage.ErrNotFound)
		}
		return model.Parameter{}, fmt.Errorf("sqlite: get parameter %s: %w", id, err)
	}
	p.Type = model.ParameterType(ptype)
	p.Directionality = model.Directionality(dir)
	if p.CreatedAt, err = parseTime(created); err != nil {
		return model.Parameter{}, err
	}
	return p, nil
}

// ListParameters returns all parameters ordered by ID.
func (s *Store) ListParameters(ctx context.Context) ([]model.Parameter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, domain_group, parameter_type, directionality, created_at
		 FROM parameters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list parameters: %w", err)
	}
	defer rows.Close()

	var out []model.Parameter
	for rows.Next() {
		var p model.Parameter
		var ptype, dir, created string
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.DomainGroup, &ptype, &dir, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan parameter: %w", err)
		}
		p.Type = model.ParameterType(ptype)
		p.Directionality = model.Directionality(dir)
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateCall inserts a call and returns it.
func (s *Store) CreateCall(ctx context.Context, c model.Call) (model.Call, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.OccurredAt.IsZero() {
		c.OccurredAt = now
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (id, caller_id, segment_id, occurred_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID.String(), c.CallerID, c.SegmentID, formatTime(c.OccurredAt), formatTime(c.CreatedAt),
	)
	if err != nil {
		return model.Call{}, fmt.Errorf("sqlite: create call: %w", err)
	}
	return c, nil
}

// GetCall retrieves a call by ID.
func (s *Store) GetCall(ctx context.Context, id uuid.UUID) (model.Call, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, caller_id, segment_id, occurred_at, created_at FROM calls WHERE id = ?`, id.String())
	c, err := scanCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Call{}, fmt.Errorf("sqlite: call %s: %w", id, storage.ErrNotFound)
		}
		return model.Call{}, fmt.Errorf("sqlite: get call: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (model.Call, error) {
	var c model.Call
	var id, occurred, created string
	if err := row.Scan(&id, &c.CallerID, &c.SegmentID, &occurred, &created); err != nil {
		return model.Call{}, err
	}
	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return model.Call{}, err
	}
	if c.OccurredAt, err = parseTime(occurred); err != nil {
		return model.Call{}, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return model.Call{}, err
	}
	return c, nil
}

// CreateObservation appends an observation to the log and returns it.
func (s *Store) CreateObservation(ctx context.Context, o model.Observation) (model.Observation, error) {
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

	var callID any
	if o.CallID != nil {
		callID = o.CallID.String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (id, parameter_id, entity_id, value, confidence, observed_at, source, call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.ParameterID, o.EntityID, o.Value, o.Confidence,
		formatTime(o.ObservedAt), string(o.Source), callID, formatTime(o.CreatedAt),
	)
	if err != nil {
		return model.Observation{}, fmt.Errorf("sqlite: create observation: %w", err)
	}
	return o, nil
}

// ListObservations returns the observation history for one
// (entity, parameter) pair, newest first.
func (s *Store) ListObservations(ctx context.Context, entityID, parameterID string) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parameter_id, entity_id, value, confidence, observed_at, source, call_id, created_at
		 FROM observations
		 WHERE entity_id = ? AND parameter_id = ?
		 ORDER BY observed_at DESC`,
		entityID, parameterID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list observations: %w", err)
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var id, observed, source, created string
		var callID sql.NullString
		if err := rows.Scan(&id, &o.ParameterID, &o.EntityID, &o.Value, &o.Confidence,
			&observed, &source, &callID, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan observation: %w", err)
		}
		if o.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if o.ObservedAt, err = parseTime(observed); err != nil {
			return nil, err
		}
		if o.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		o.Source = model.ObservationSource(source)
		if callID.Valid {
			cid, err := uuid.Parse(callID.String)
			if err != nil {
				return nil, err
			}
			o.CallID = &cid
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListEntityParameters returns the distinct (entity, parameter) pairs
// present in the observation log.
func (s *Store) ListEntityParameters(ctx context.Context) ([]model.EntityParameter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity_id, parameter_id FROM observations ORDER BY entity_id, parameter_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entity parameters: %w", err)
	}
	defer rows.Close()

	var out []model.EntityParameter
	for rows.Next() {
		var p model.EntityParameter
		if err := rows.Scan(&p.EntityID, &p.ParameterID); err != nil {
			return nil, fmt.Errorf("sqlite: scan entity parameter: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateMeasurement inserts a behavior measurement. A second insert for
// the same (call, parameter) returns ErrConflict.
func (s *Store) CreateMeasurement(ctx context.Context, m model.BehaviorMeasurement) (model.BehaviorMeasurement, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO behavior_measurements (id, call_id, parameter_id, value, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.CallID.String(), m.ParameterID, m.Value, m.Confidence, formatTime(m.CreatedAt),
	)
	if err != nil {
		if uniqueViolation(err, "behavior_measurements") {
			return model.BehaviorMeasurement{}, fmt.Errorf("sqlite: measurement for call %s parameter %s: %w",
				m.CallID, m.ParameterID, storage.ErrConflict)
		}
		return model.BehaviorMeasurement{}, fmt.Errorf("sqlite: create measurement: %w", err)
	}
	return m, nil
}

// ListMeasurementsByCall returns all measurements recorded for a call.
func (s *Store) ListMeasurementsByCall(ctx context.Context, callID uuid.UUID) ([]model.BehaviorMeasurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, parameter_id, value, confidence, created_at
		 FROM behavior_measurements WHERE call_id = ? ORDER BY parameter_id`,
		callID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list measurements: %w", err)
	}
	defer rows.Close()

	var out []model.BehaviorMeasurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMeasurement(row rowScanner) (model.BehaviorMeasurement, error) {
	var m model.BehaviorMeasurement
	var id, callID, created string
	if err := row.Scan(&id, &callID, &m.ParameterID, &m.Value, &m.Confidence, &created); err != nil {
		return model.BehaviorMeasurement{}, err
	}
	var err error
	if m.ID, err = uuid.Parse(id); err != nil {
		return model.BehaviorMeasurement{}, err
	}
	if m.CallID, err = uuid.Parse(callID); err != nil {
		return model.BehaviorMeasurement{}, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return model.BehaviorMeasurement{}, err
	}
	return m, nil
}

// ListPendingMeasurements returns measurements whose call has an outcome
// but no reward score yet, oldest first.
func (s *Store) ListPendingMeasurements(ctx context.Context, limit int) ([]model.PendingMeasurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.caller_id, c.segment_id, c.occurred_at, c.created_at,
		        m.id, m.call_id, m.parameter_id, m.value, m.confidence, m.created_at,
		        o.good, o.score
		 FROM behavior_measurements m
		 JOIN calls c ON c.id = m.call_id
		 JOIN call_outcomes o ON o.call_id = m.call_id
		 LEFT JOIN reward_scores r ON r.call_id = m.call_id AND r.parameter_id = m.parameter_id
		 WHERE r.id IS NULL
		 ORDER BY m.created_at
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending measurements: %w", err)
	}
	defer rows.Close()

	var out []model.PendingMeasurement
	for rows.Next() {
		var p model.PendingMeasurement
		var callID, callOccurred, callCreated string
		var mID, mCallID, mCreated string
		var good sql.NullInt64
		if err := rows.Scan(
			&callID, &p.Call.CallerID, &p.Call.SegmentID, &callOccurred, &callCreated,
			&mID, &mCallID, &p.Measurement.ParameterID, &p.Measurement.Value, &p.Measurement.Confidence, &mCreated,
			&good, &p.Outcome.Score,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan pending measurement: %w", err)
		}
		if p.Call.ID, err = uuid.Parse(callID); err != nil {
			return nil, err
		}
		if p.Call.OccurredAt, err = parseTime(callOccurred); err != nil {
			return nil, err
		}
		if p.Call.CreatedAt, err = parseTime(callCreated); err != nil {
			return nil, err
		}
		if p.Measurement.ID, err = uuid.Parse(mID); err != nil {
			return nil, err
		}
		if p.Measurement.CallID, err = uuid.Parse(mCallID); err != nil {
			return nil, err
		}
		if p.Measurement.CreatedAt, err = parseTime(mCreated); err != nil {
			return nil, err
		}
		p.Outcome.Good = parseNullableBool(good)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordOutcome upserts the outcome classification for a call.
func (s *Store) RecordOutcome(ctx context.Context, o model.CallOutcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_outcomes (call_id, good, score, recorded_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (call_id) DO UPDATE SET
		   good = excluded.good,
		   score = excluded.score,
		   recorded_at = excluded.recorded_at`,
		o.CallID.String(), nullableBoolArg(o.Signal.Good), o.Signal.Score, formatTime(o.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record outcome for call %s: %w", o.CallID, err)
	}
	return nil
}

// GetOutcome retrieves the outcome for a call.
func (s *Store) GetOutcome(ctx context.Context, callID uuid.UUID) (model.CallOutcome, error) {
	var o model.CallOutcome
	var id, recorded string
	var good sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT call_id, good, score, recorded_at FROM call_outcomes WHERE call_id = ?`, callID.String(),
	).Scan(&id, &good, &o.Signal.Score, &recorded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CallOutcome{}, fmt.Errorf("sqlite: outcome for call %s: %w", callID, storage.ErrNotFound)
		}
		return model.CallOutcome{}, fmt.Errorf("sqlite: get outcome: %w", err)
	}
	if o.CallID, err = uuid.Parse(id); err != nil {
		return model.CallOutcome{}, err
	}
	if o.RecordedAt, err = parseTime(recorded); err != nil {
		return model.CallOutcome{}, err
	}
	o.Signal.Good = parseNullableBool(good)
	return o, nil
}

// UpsertCallerProfile replaces the materialized profile row for a pair.
func (s *Store) UpsertCallerProfile(ctx context.Context, p model.CallerProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caller_profiles (caller_id, parameter_id, value, weight, observation_count, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (caller_id, parameter_id) DO UPDATE SET
		   value = excluded.value,
		   weight = excluded.weight,
		   observation_count = excluded.observation_count,
		   computed_at = excluded.computed_at`,
		p.CallerID, p.ParameterID, p.Value, p.Weight, p.ObservationCount, formatTime(p.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert caller profile: %w", err)
	}
	return nil
}

// GetCallerProfile retrieves the materialized profile for one pair.
func (s *Store) GetCallerProfile(ctx context.Context, callerID, parameterID string) (model.CallerProfile, error) {
	var p model.CallerProfile
	var computed string
	err := s.db.QueryRowContext(ctx,
		`SELECT caller_id, parameter_id, value, weight, observation_count, computed_at
		 FROM caller_profiles WHERE caller_id = ? AND parameter_id = ?`,
		callerID, parameterID,
	).Scan(&p.CallerID, &p.ParameterID, &p.Value, &p.Weight, &p.ObservationCount, &computed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CallerProfile{}, fmt.Errorf("sqlite: profile %s/%s: %w", callerID, parameterID, storage.ErrNotFound)
		}
		return model.CallerProfile{}, fmt.Errorf("sqlite: get caller profile: %w", err)
	}
	if p.ComputedAt, err = parseTime(computed); err != nil {
		return model.CallerProfile{}, err
	}
	return p, nil
}

// ListCallerProfiles returns all materialized profiles for a caller.
func (s *Store) ListCallerProfiles(ctx context.Context, callerID string) ([]model.CallerProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT caller_id, parameter_id, value, weight, observation_count, computed_at
		 FROM caller_profiles WHERE caller_id = ? ORDER BY parameter_id`,
		callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list caller profiles: %w", err)
	}
	defer rows.Close()

	var out []model.CallerProfile
	for rows.Next() {
		var p model.CallerProfile
		var computed string
		if err := rows.Scan(&p.CallerID, &p.ParameterID, &p.Value, &p.Weight, &p.ObservationCount, &computed); err != nil {
			return nil, fmt.Errorf("sqlite: scan caller profile: %w", err)
		}
		if p.ComputedAt, err = parseTime(computed); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
