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

// CreateCall inserts a call and returns it.
func (db *DB) CreateCall(ctx context.Context, c model.Call) (model.Call, error) {
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

	_, err := db.pool.Exec(ctx,
		`INSERT INTO calls (id, caller_id, segment_id, occurred_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.CallerID, c.SegmentID, c.OccurredAt, c.CreatedAt,
	)
	if err != nil {
		return model.Call{}, fmt.Errorf("storage: create call: %w", err)
	}
	return c, nil
}

// GetCall retrieves a call by ID.
func (db *DB) GetCall(ctx context.Context, id uuid.UUID) (model.Call, error) {
	var c model.Call
	err := db.pool.QueryRow(ctx,
		`SELECT id, caller_id, segment_id, occurred_at, created_at FROM calls WHERE id = $1`, id,
	).Scan(&c.ID, &c.CallerID, &c.SegmentID, &c.OccurredAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Call{}, fmt.Errorf("storage: call %s: %w", id, ErrNotFound)
		}
		return model.Call{}, fmt.Errorf("storage: get call: %w", err)
	}
	return c, nil
}
