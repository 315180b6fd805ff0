// Package profile recomputes materialized caller profiles from the
// observation log using decay-weighted aggregation. Profiles give the
// prompt composer a current per-caller estimate for each parameter without
// rescanning history on every request.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/humanfirst-ai/attune/internal/model"
	"github.com/humanfirst-ai/attune/internal/service/decay"
)

// Store is the storage port for profile recomputation.
type Store interface {
	// ListEntityParameters returns the distinct (entity, parameter) pairs
	// present in the observation log.
	ListEntityParameters(ctx context.Context) ([]model.EntityParameter, error)
	// ListObservations returns the full observation history for one pair.
	ListObservations(ctx context.Context, entityID, parameterID string) ([]model.Observation, error)
	// UpsertCallerProfile replaces the materialized profile row for the pair.
	UpsertCallerProfile(ctx context.Context, p model.CallerProfile) error
}

// Recomputer recomputes caller profiles. Aggregation is read-only and
// independent per (entity, parameter) pair, so pairs run concurrently up
// to the configured limit.
type Recomputer struct {
	store        Store
	halfLifeDays float64
	concurrency  int
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a Recomputer. Non-positive halfLifeDays or concurrency fall
// back to decay.DefaultHalfLifeDays and 4 workers.
func New(store Store, halfLifeDays float64, concurrency int, logger *slog.Logger) *Recomputer {
	if halfLifeDays <= 0 {
		halfLifeDays = decay.DefaultHalfLifeDays
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recomputer{
		store:        store,
		halfLifeDays: halfLifeDays,
		concurrency:  concurrency,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the recomputer clock. Test hook.
func (r *Recomputer) WithClock(now func() time.Time) *Recomputer {
	r.now = now
	return r
}

// RecomputeAll refreshes every (entity, parameter) profile and returns the
// number of profiles written. Pairs whose observations carry zero total
// weight produce no profile row and are skipped, not failed.
func (r *Recomputer) RecomputeAll(ctx context.Context) (int, error) {
	pairs, err := r.store.ListEntityParameters(ctx)
	if err != nil {
		return 0, fmt.Errorf("profile: list entity parameters: %w", err)
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	// One shared "now" so the whole sweep is internally consistent.
	now := r.now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	written := make([]bool, len(pairs))
	for i, pair := range pairs {
		g.Go(func() error {
			ok, err := r.recomputePair(ctx, pair, now)
			if err != nil {
				return err
			}
			written[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, ok := range written {
		if ok {
			count++
		}
	}
	r.logger.Debug("profile recompute complete", "pairs", len(pairs), "written", count)
	return count, nil
}

// Recompute refreshes the profile for a single (entity, parameter) pair.
// Returns false when the pair has no aggregable observations.
func (r *Recomputer) Recompute(ctx context.Context, entityID, parameterID string) (bool, error) {
	return r.recomputePair(ctx, model.EntityParameter{EntityID: entityID, ParameterID: parameterID}, r.now())
}

func (r *Recomputer) recomputePair(ctx context.Context, pair model.EntityParameter, now time.Time) (bool, error) {
	obs, err := r.store.ListObservations(ctx, pair.EntityID, pair.ParameterID)
	if err != nil {
		return false, fmt.Errorf("profile: observations for %s/%s: %w", pair.EntityID, pair.ParameterID, err)
	}

	est, ok := decay.Aggregate(decay.SamplesFromObservations(obs, now), r.halfLifeDays)
	if !ok {
		return false, nil
	}

	p := model.CallerProfile{
		CallerID:         pair.EntityID,
		ParameterID:      pair.ParameterID,
		Value:            est.Value,
		Weight:           est.Weight,
		ObservationCount: len(obs),
		ComputedAt:       now,
	}
	if err := r.store.UpsertCallerProfile(ctx, p); err != nil {
		return false, fmt.Errorf("profile: upsert %s/%s: %w", pair.EntityID, pair.ParameterID, err)
	}
	return true, nil
}
