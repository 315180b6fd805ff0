package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanfirst-ai/attune/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	pairs    []model.EntityParameter
	obs      map[string][]model.Observation // keyed entity|parameter
	profiles map[string]model.CallerProfile
	listErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		obs:      map[string][]model.Observation{},
		profiles: map[string]model.CallerProfile{},
	}
}

func pkey(entityID, parameterID string) string { return entityID + "|" + parameterID }

func (f *fakeStore) ListEntityParameters(context.Context) ([]model.EntityParameter, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pairs, nil
}

func (f *fakeStore) ListObservations(_ context.Context, entityID, parameterID string) ([]model.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.obs[pkey(entityID, parameterID)], nil
}

func (f *fakeStore) UpsertCallerProfile(_ context.Context, p model.CallerProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[pkey(p.CallerID, p.ParameterID)] = p
	return nil
}

func (f *fakeStore) add(entityID, parameterID string, value, confidence float64, observedAt time.Time) {
	key := pkey(entityID, parameterID)
	f.obs[key] = append(f.obs[key], model.Observation{
		EntityID:    entityID,
		ParameterID: parameterID,
		Value:       value,
		Confidence:  confidence,
		ObservedAt:  observedAt,
	})
	for _, p := range f.pairs {
		if p.EntityID == entityID && p.ParameterID == parameterID {
			return
		}
	}
	f.pairs = append(f.pairs, model.EntityParameter{EntityID: entityID, ParameterID: parameterID})
}

func TestRecomputeAll(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	// Reference scenario: ages 0/10/20 days, values 0.8/0.7/0.6 → ≈0.709.
	store.add("c-1", "Openness", 0.8, 1.0, now)
	store.add("c-1", "Openness", 0.7, 1.0, now.AddDate(0, 0, -10))
	store.add("c-1", "Openness", 0.6, 1.0, now.AddDate(0, 0, -20))
	// Second caller, zero-confidence history: no profile.
	store.add("c-2", "Openness", 0.9, 0.0, now)

	r := New(store, 30, 2, nil).WithClock(func() time.Time { return now })
	written, err := r.RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	p, ok := store.profiles[pkey("c-1", "Openness")]
	require.True(t, ok)
	assert.InDelta(t, 0.709, p.Value, 0.001)
	assert.Equal(t, 3, p.ObservationCount)
	assert.Equal(t, now, p.ComputedAt)

	_, ok = store.profiles[pkey("c-2", "Openness")]
	assert.False(t, ok, "zero-weight pair must not materialize a profile")
}

func TestRecomputeAllEmpty(t *testing.T) {
	r := New(newFakeStore(), 30, 2, nil)
	written, err := r.RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestRecomputeAllListError(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db down")
	r := New(store, 30, 2, nil)
	_, err := r.RecomputeAll(context.Background())
	assert.ErrorIs(t, err, store.listErr)
}

func TestRecomputeSinglePair(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.add("c-1", "BEH-PACE", 0.4, 0.8, now.AddDate(0, 0, -3))

	r := New(store, 30, 1, nil).WithClock(func() time.Time { return now })

	ok, err := r.Recompute(context.Background(), "c-1", "BEH-PACE")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Recompute(context.Background(), "c-1", "BEH-UNSEEN")
	require.NoError(t, err)
	assert.False(t, ok, "no observations is an empty result, not an error")
}

func TestRecomputeAllManyCallersConcurrent(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	for i := 0; i < 50; i++ {
		store.add(string(rune('a'+i%26))+"-caller", "Openness", 0.5, 1.0, now.AddDate(0, 0, -i))
	}

	r := New(store, 30, 8, nil).WithClock(func() time.Time { return now })
	written, err := r.RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 26, written)
}
