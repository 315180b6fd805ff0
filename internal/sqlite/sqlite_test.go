package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanfirst-ai/attune/internal/model"
	"github.com/humanfirst-ai/attune/internal/storage"
	"github.com/humanfirst-ai/attune/internal/testutil"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustParameter(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.UpsertParameter(context.Background(), model.Parameter{
		ID:             id,
		DisplayName:    id,
		Type:           model.ParameterBehavior,
		Directionality: model.DirectionNeutral,
	})
	require.NoError(t, err)
}

func mustCall(t *testing.T, s *Store, callerID string) model.Call {
	t.Helper()
	c, err := s.CreateCall(context.Background(), model.Call{CallerID: callerID})
	require.NoError(t, err)
	return c
}

func TestRoundTripParameterAndCall(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "BEH-WARMTH")

	p, err := s.GetParameter(ctx, "BEH-WARMTH")
	require.NoError(t, err)
	assert.Equal(t, model.ParameterBehavior, p.Type)

	_, err = s.GetParameter(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	seg := "seg-1"
	call, err := s.CreateCall(ctx, model.Call{CallerID: "caller-1", SegmentID: &seg})
	require.NoError(t, err)

	got, err := s.GetCall(ctx, call.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SegmentID)
	assert.Equal(t, "seg-1", *got.SegmentID)
	assert.Equal(t, call.OccurredAt, got.OccurredAt)
}

func TestObservationOrderingSurvivesFractionalSeconds(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "Openness")

	// Whole-second and sub-second timestamps must still sort
	// chronologically on the text column.
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(100 * time.Millisecond),
		base.Add(time.Second),
	}
	for i, ts := range times {
		_, err := s.CreateObservation(ctx, model.Observation{
			ParameterID: "Openness",
			EntityID:    "caller-1",
			Value:       float64(i) / 10,
			Confidence:  1.0,
			ObservedAt:  ts,
			Source:      model.ObservationFromCall,
		})
		require.NoError(t, err)
	}

	obs, err := s.ListObservations(ctx, "caller-1", "Openness")
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, times[2], obs[0].ObservedAt)
	assert.Equal(t, times[1], obs[1].ObservedAt)
	assert.Equal(t, times[0], obs[2].ObservedAt)

	pairs, err := s.ListEntityParameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.EntityParameter{{EntityID: "caller-1", ParameterID: "Openness"}}, pairs)
}

func TestMeasurementUniquePerCallParameter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "BEH-PACE")
	call := mustCall(t, s, "caller-m")

	m := model.BehaviorMeasurement{CallID: call.ID, ParameterID: "BEH-PACE", Value: 0.4, Confidence: 0.9}
	_, err := s.CreateMeasurement(ctx, m)
	require.NoError(t, err)

	_, err = s.CreateMeasurement(ctx, m)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestSupersessionInvariant(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "BEH-FORMALITY")
	scope := model.CallerScope("caller-t")

	first, err := s.SupersedeTarget(ctx, model.BehaviorTarget{
		ParameterID: "BEH-FORMALITY",
		Scope:       scope,
		Value:       0.5,
		Confidence:  0.6,
		Source:      model.SourceSeed,
	})
	require.NoError(t, err)

	second, err := s.SupersedeTarget(ctx, model.BehaviorTarget{
		ParameterID: "BEH-FORMALITY",
		Scope:       scope,
		Value:       0.7,
		Confidence:  0.5,
		Source:      model.SourceLearned,
	})
	require.NoError(t, err)

	active, err := s.ActiveTargets(ctx, "BEH-FORMALITY", scope)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	history, err := s.ListTargetHistory(ctx, "BEH-FORMALITY", scope)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	old, err := s.GetTarget(ctx, first.ID)
	require.NoError(t, err)
	assert.NotNil(t, old.EffectiveUntil)

	// System scope is a distinct tuple.
	active, err = s.ActiveTargets(ctx, "BEH-FORMALITY", model.SystemScope())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestApplyLearningDuplicateReward(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "BEH-EMPATHY")
	call := mustCall(t, s, "caller-r")

	good := true
	score := model.RewardScore{
		CallID:        call.ID,
		ParameterID:   "BEH-EMPATHY",
		TargetValue:   0.5,
		MeasuredValue: 0.55,
		OutcomeGood:   &good,
		Reward:        0.95,
		Action:        model.ActionReinforce,
		HitTarget:     true,
	}
	require.NoError(t, s.ApplyLearning(ctx, score, model.TargetMutation{Kind: model.MutationNone}))

	err := s.ApplyLearning(ctx, score, model.TargetMutation{Kind: model.MutationNone})
	assert.ErrorIs(t, err, storage.ErrDuplicateReward)

	got, err := s.GetRewardScore(ctx, call.ID, "BEH-EMPATHY")
	require.NoError(t, err)
	assert.Equal(t, model.ActionReinforce, got.Action)
	require.NotNil(t, got.OutcomeGood)
	assert.True(t, *got.OutcomeGood)
}

func TestApplyLearningConflictRollsBackReward(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "BEH-BREVITY")
	call := mustCall(t, s, "caller-c")
	scope := model.CallerScope("caller-c")

	stale, err := s.SupersedeTarget(ctx, model.BehaviorTarget{
		ParameterID: "BEH-BREVITY",
		Scope:       scope,
		Value:       0.5,
		Confidence:  0.5,
		Source:      model.SourceLearned,
	})
	require.NoError(t, err)

	_, err = s.SupersedeTarget(ctx, model.BehaviorTarget{
		ParameterID: "BEH-BREVITY",
		Scope:       scope,
		Value:       0.6,
		Confidence:  0.5,
		Source:      model.SourceManual,
	})
	require.NoError(t, err)

	good := true
	err = s.ApplyLearning(ctx, model.RewardScore{
		CallID:        call.ID,
		ParameterID:   "BEH-BREVITY",
		TargetValue:   0.5,
		MeasuredValue: 0.52,
		OutcomeGood:   &good,
		Reward:        0.98,
		Action:        model.ActionReinforce,
		HitTarget:     true,
	}, model.TargetMutation{
		Kind:             model.MutationConfidence,
		TargetID:         stale.ID,
		Confidence:       0.55,
		ObservationCount: 1,
		At:               time.Now().UTC(),
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.GetRewardScore(ctx, call.ID, "BEH-BREVITY")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPendingMeasurementsDrain(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "BEH-PENDING")
	call := mustCall(t, s, "caller-p")

	_, err := s.CreateMeasurement(ctx, model.BehaviorMeasurement{
		CallID: call.ID, ParameterID: "BEH-PENDING", Value: 0.5, Confidence: 1.0,
	})
	require.NoError(t, err)

	pending, err := s.ListPendingMeasurements(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "no outcome yet")

	score := 0.8
	require.NoError(t, s.RecordOutcome(ctx, model.CallOutcome{
		CallID: call.ID,
		Signal: model.OutcomeSignal{Score: &score},
	}))

	pending, err = s.ListPendingMeasurements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, call.ID, pending[0].Call.ID)
	assert.Nil(t, pending[0].Outcome.Good)
	require.NotNil(t, pending[0].Outcome.Score)
	assert.Equal(t, 0.8, *pending[0].Outcome.Score)

	good := true
	require.NoError(t, s.ApplyLearning(ctx, model.RewardScore{
		CallID:        call.ID,
		ParameterID:   "BEH-PENDING",
		TargetValue:   0.5,
		MeasuredValue: 0.5,
		OutcomeGood:   &good,
		Reward:        1.0,
		Action:        model.ActionReinforce,
		HitTarget:     true,
	}, model.TargetMutation{Kind: model.MutationNone}))

	pending, err = s.ListPendingMeasurements(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRetireMutation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "BEH-URGENCY")
	call := mustCall(t, s, "caller-z")
	scope := model.CallerScope("caller-z")

	target, err := s.SupersedeTarget(ctx, model.BehaviorTarget{
		ParameterID: "BEH-URGENCY",
		Scope:       scope,
		Value:       0.8,
		Confidence:  0.05,
		Source:      model.SourceLearned,
	})
	require.NoError(t, err)

	bad := false
	require.NoError(t, s.ApplyLearning(ctx, model.RewardScore{
		CallID:        call.ID,
		ParameterID:   "BEH-URGENCY",
		TargetValue:   0.8,
		MeasuredValue: 0.82,
		OutcomeGood:   &bad,
		Reward:        -0.98,
		Action:        model.ActionReevaluate,
		HitTarget:     true,
	}, model.TargetMutation{
		Kind:             model.MutationRetire,
		TargetID:         target.ID,
		ObservationCount: 1,
		At:               time.Now().UTC(),
	}))

	active, err := s.ActiveTargets(ctx, "BEH-URGENCY", scope)
	require.NoError(t, err)
	assert.Empty(t, active)

	retired, err := s.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.NotNil(t, retired.EffectiveUntil)
	assert.Zero(t, retired.Confidence)
}

func TestCallerProfileUpsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mustParameter(t, s, "Agreeableness")

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	p := model.CallerProfile{
		CallerID:         "caller-prof",
		ParameterID:      "Agreeableness",
		Value:            0.7,
		Weight:           2.4,
		ObservationCount: 3,
		ComputedAt:       now,
	}
	require.NoError(t, s.UpsertCallerProfile(ctx, p))

	p.Value = 0.72
	require.NoError(t, s.UpsertCallerProfile(ctx, p))

	got, err := s.GetCallerProfile(ctx, "caller-prof", "Agreeableness")
	require.NoError(t, err)
	assert.Equal(t, 0.72, got.Value)
	assert.Equal(t, now, got.ComputedAt)

	all, err := s.ListCallerProfiles(ctx, "caller-prof")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
