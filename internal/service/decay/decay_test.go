package decay

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanfirst-ai/attune/internal/model"
)

func TestAggregateReferenceScenario(t *testing.T) {
	// Three observations at ages 0, 10, 20 days, values 0.8, 0.7, 0.6,
	// all confidence 1.0, half-life 30: weights 1.0, 0.794, 0.630,
	// aggregate ≈ 0.709.
	samples := []Sample{
		{Value: 0.8, Confidence: 1.0, AgeDays: 0},
		{Value: 0.7, Confidence: 1.0, AgeDays: 10},
		{Value: 0.6, Confidence: 1.0, AgeDays: 20},
	}
	est, ok := Aggregate(samples, 30)
	require.True(t, ok)
	assert.InDelta(t, 0.709, est.Value, 0.001)
	assert.InDelta(t, 1.0+0.794+0.630, est.Weight, 0.001)
}

func TestAggregateEmpty(t *testing.T) {
	_, ok := Aggregate(nil, 30)
	assert.False(t, ok)

	_, ok = Aggregate([]Sample{}, 30)
	assert.False(t, ok)
}

func TestAggregateZeroTotalWeight(t *testing.T) {
	// All-zero confidences produce zero total weight: empty result, not NaN.
	samples := []Sample{
		{Value: 0.9, Confidence: 0, AgeDays: 1},
		{Value: 0.1, Confidence: 0, AgeDays: 2},
	}
	_, ok := Aggregate(samples, 30)
	assert.False(t, ok)
}

func TestAggregateIdempotent(t *testing.T) {
	samples := []Sample{
		{Value: 0.42, Confidence: 0.7, AgeDays: 3.25},
		{Value: 0.91, Confidence: 0.2, AgeDays: 17.5},
		{Value: 0.13, Confidence: 1.0, AgeDays: 44.0},
	}
	a, okA := Aggregate(samples, 30)
	b, okB := Aggregate(samples, 30)
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, a, b, "same inputs at the same instant must be bit-identical")
}

func TestWeightMonotonicInAge(t *testing.T) {
	lambda := math.Ln2 / 30.0
	prev := Weight(0, 1.0, lambda)
	for age := 1.0; age <= 120; age++ {
		w := Weight(age, 1.0, lambda)
		require.Less(t, w, prev, "weight must strictly decrease with age (age=%v)", age)
		prev = w
	}
}

func TestWeightHalvesAtHalfLife(t *testing.T) {
	lambda := math.Ln2 / 30.0
	assert.InDelta(t, 0.5, Weight(30, 1.0, lambda), 1e-12)
	assert.InDelta(t, 0.25, Weight(60, 1.0, lambda), 1e-12)
}

func TestWeightNegativeAgeClamped(t *testing.T) {
	lambda := math.Ln2 / 30.0
	assert.Equal(t, Weight(0, 0.8, lambda), Weight(-2, 0.8, lambda))
}

func TestAggregateMovesTowardNewObservation(t *testing.T) {
	// Adding a fresh observation must pull the estimate toward it.
	base := []Sample{
		{Value: 0.3, Confidence: 1.0, AgeDays: 10},
		{Value: 0.35, Confidence: 1.0, AgeDays: 20},
	}
	before, ok := Aggregate(base, 30)
	require.True(t, ok)

	after, ok := Aggregate(append(base, Sample{Value: 0.9, Confidence: 1.0, AgeDays: 0}), 30)
	require.True(t, ok)

	assert.Greater(t, after.Value, before.Value)
	assert.Less(t, after.Value, 0.9)
	assert.Greater(t, after.Weight, before.Weight)
}

func TestAggregateUniformAgingPreservesValue(t *testing.T) {
	// Exponential decay is translation-invariant: aging every observation
	// by the same amount keeps relative weight shares (and the value)
	// fixed while total weight decays.
	samples := func(ageNew float64) []Sample {
		return []Sample{
			{Value: 0.9, Confidence: 1.0, AgeDays: ageNew},
			{Value: 0.1, Confidence: 1.0, AgeDays: ageNew + 30},
		}
	}
	prev, ok := Aggregate(samples(0), 30)
	require.True(t, ok)
	for age := 5.0; age <= 60; age += 5 {
		cur, ok := Aggregate(samples(age), 30)
		require.True(t, ok)
		// Relative share is fixed by the 30-day gap, so the value is stable.
		assert.InDelta(t, prev.Value, cur.Value, 1e-9)
		assert.Less(t, cur.Weight, prev.Weight)
		prev = cur
	}
}

func TestSamplesFromObservations(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	obs := []model.Observation{
		{Value: 0.5, Confidence: 0.9, ObservedAt: now.Add(-36 * time.Hour)},
		{Value: 0.7, Confidence: 1.0, ObservedAt: now},
	}
	samples := SamplesFromObservations(obs, now)
	require.Len(t, samples, 2)
	assert.InDelta(t, 1.5, samples[0].AgeDays, 1e-9)
	assert.Equal(t, 0.9, samples[0].Confidence)
	assert.InDelta(t, 0.0, samples[1].AgeDays, 1e-9)

	assert.Nil(t, SamplesFromObservations(nil, now))
}
