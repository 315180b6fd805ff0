package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/humanfirst-ai/attune/internal/model"
)

// UpsertParameter inserts a parameter or updates its display metadata.
// Type and directionality are reference data and follow the upsert: seed
// imports are the single writer, so last write wins.
func (db *DB) UpsertParameter(ctx context.Context, p model.Parameter) (model.Parameter, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO parameters (id, display_name, domain_group, parameter_type, directionality, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   domain_group = EXCLUDED.domain_group,
		   parameter_type = EXCLUDED.parameter_type,
		   directionality = EXCLUDED.directionality`,
		p.ID, p.DisplayName, p.DomainGroup, string(p.Type), string(p.Directionality), p.CreatedAt,
	)
	if err != nil {
		return model.Parameter{}, fmt.Errorf("storage: upsert parameter %s: %w", p.ID, err)
	}
	return p, nil
}

// GetParameter retrieves a parameter by ID.
func (db *DB) GetParameter(ctx context.Context, id string) (model.Parameter, error) {
	var p model.Parameter
	var ptype, dir string
	err := db.pool.QueryRow(ctx,
		`SELECT id, display_name, domain_group, parameter_type, directionality, created_at
		 FROM parameters WHERE id = $1`, id,
	).Scan(&p.ID, &p.DisplayName, &p.DomainGroup, &ptype, &dir, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Parameter{}, fmt.Errorf("storage: parameter %s: %w", id, ErrNotFound)
		}
		return model.Parameter{}, fmt.Errorf("storage: get parameter %s: %w", id, err)
	}
	p.Type = model.ParameterType(ptype)
	p.Directionality = model.Directionality(dir)
	return p, nil
}

// ListParameters returns all parameters ordered by ID.
func (db *DB) ListParameters(ctx context.Context) ([]model.Parameter, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, display_name, domain_group, parameter_type, directionality, created_at
		 FROM parameters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list parameters: %w", err)
	}
	defer rows.Close()

	var out []model.Parameter
	for rows.Next() {
		var p model.Parameter
		var ptype, dir string
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.DomainGroup, &ptype, &dir, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan parameter: %w", err)
		}
		p.Type = model.ParameterType(ptype)
		p.Directionality = model.Directionality(dir)
		out = append(out, p)
	}
	return out, rows.Err()
}
