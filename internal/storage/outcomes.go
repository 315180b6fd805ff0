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

// RecordOutcome upserts the outcome classification for a call. A later,
// better signal (e.g. a graded score arriving after a boolean) replaces
// the earlier one; reward scores already written are not revisited.
func (db *DB) RecordOutcome(ctx context.Context, o model.CallOutcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO call_outcomes (call_id, good, score, recorded_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (call_id) DO UPDATE SET
		   good = EXCLUDED.good,
		   score = EXCLUDED.score,
		   recorded_at = EXCLUDED.recorded_at`,
		o.CallID, o.Signal.Good, o.Signal.Score, o.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: record outcome for call %s: %w", o.CallID, err)
	}
	return nil
}

// GetOutcome retrieves the outcome for a call.
func (db *DB) GetOutcome(ctx context.Context, callID uuid.UUID) (model.CallOutcome, error) {
	var o model.CallOutcome
	err := db.pool.QueryRow(ctx,
		`SELECT call_id, good, score, recorded_at FROM call_outcomes WHERE call_id = $1`, callID,
	).Scan(&o.CallID, &o.Signal.Good, &o.Signal.Score, &o.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CallOutcome{}, fmt.Errorf("storage: outcome for call %s: %w", callID, ErrNotFound)
		}
		return model.CallOutcome{}, fmt.Errorf("storage: get outcome: %w", err)
	}
	return o, nil
}
