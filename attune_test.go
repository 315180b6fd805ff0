package attune_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanfirst-ai/attune"
)

type recordingHook struct {
	mu     sync.Mutex
	scores []attune.RewardScore
}

func (h *recordingHook) OnLearningApplied(_ context.Context, score attune.RewardScore) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scores = append(h.scores, score)
}

func newApp(t *testing.T, opts ...attune.Option) *attune.App {
	t.Helper()
	ctx := context.Background()
	opts = append([]attune.Option{
		attune.WithDriver("sqlite"),
		attune.WithSQLitePath(filepath.Join(t.TempDir(), "attune.db")),
	}, opts...)
	app, err := attune.New(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func registerWarmth(t *testing.T, app *attune.App) {
	t.Helper()
	_, err := app.RegisterParameter(context.Background(), attune.Parameter{
		ID:             "BEH-WARMTH",
		DisplayName:    "Warmth",
		Type:           attune.ParameterBehavior,
		Directionality: "neutral",
	})
	require.NoError(t, err)
}

func TestLearningLoopEndToEnd(t *testing.T) {
	ctx := context.Background()
	hook := &recordingHook{}
	app := newApp(t, attune.WithLearningHook(hook))
	registerWarmth(t, app)

	_, err := app.SetTarget(ctx, "BEH-WARMTH", attune.SystemScope(), 0.5, 0.8, attune.SourceSeed)
	require.NoError(t, err)

	call, err := app.RecordCall(ctx, attune.Call{CallerID: "caller-1"})
	require.NoError(t, err)
	require.NotZero(t, call.ID)

	require.NoError(t, app.RecordMeasurement(ctx, attune.Measurement{
		CallID:      call.ID,
		ParameterID: "BEH-WARMTH",
		Value:       0.9,
		Confidence:  0.95,
	}))

	good := true
	require.NoError(t, app.RecordOutcome(ctx, call.ID, attune.Outcome{Good: &good}))

	scores, err := app.ProcessCall(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, scores, 1)

	// Good outcome, measured 0.9 vs target 0.5: miss, so the target moves
	// a learning-rate fraction toward what worked.
	assert.Equal(t, "ADJUST_TOWARD", scores[0].Action)
	assert.False(t, scores[0].HitTarget)
	assert.InDelta(t, 0.5, scores[0].TargetValue, 1e-9)

	resolved, err := app.ResolveTarget(ctx, "BEH-WARMTH", "caller-1", nil)
	require.NoError(t, err)
	assert.Equal(t, attune.ScopeCaller, resolved.Scope.Level)
	assert.Equal(t, "caller-1", resolved.Scope.EntityID)
	assert.InDelta(t, 0.58, resolved.Value, 1e-9)
	assert.Equal(t, attune.SourceLearned, resolved.Source)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Len(t, hook.scores, 1)
	assert.Equal(t, call.ID, hook.scores[0].CallID)
}

func TestProcessCallIsIdempotent(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)
	registerWarmth(t, app)

	_, err := app.SetTarget(ctx, "BEH-WARMTH", attune.SystemScope(), 0.5, 0.8, "")
	require.NoError(t, err)

	call, err := app.RecordCall(ctx, attune.Call{CallerID: "caller-2"})
	require.NoError(t, err)
	require.NoError(t, app.RecordMeasurement(ctx, attune.Measurement{
		CallID: call.ID, ParameterID: "BEH-WARMTH", Value: 0.55, Confidence: 0.9,
	}))
	good := true
	require.NoError(t, app.RecordOutcome(ctx, call.ID, attune.Outcome{Good: &good}))

	first, err := app.ProcessCall(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "REINFORCE", first[0].Action)

	// Second run finds the reward already written and does nothing.
	second, err := app.ProcessCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Empty(t, second)

	rewards, err := app.RewardsByCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Len(t, rewards, 1)
}

func TestProcessCallRequiresOutcome(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)
	registerWarmth(t, app)

	call, err := app.RecordCall(ctx, attune.Call{CallerID: "caller-3"})
	require.NoError(t, err)

	_, err = app.ProcessCall(ctx, call.ID)
	require.ErrorIs(t, err, attune.ErrNotFound)
}

func TestProcessPendingDrainsBacklog(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)
	registerWarmth(t, app)

	_, err := app.SetTarget(ctx, "BEH-WARMTH", attune.SystemScope(), 0.5, 0.8, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		call, err := app.RecordCall(ctx, attune.Call{CallerID: "caller-4"})
		require.NoError(t, err)
		require.NoError(t, app.RecordMeasurement(ctx, attune.Measurement{
			CallID: call.ID, ParameterID: "BEH-WARMTH", Value: 0.5, Confidence: 0.9,
		}))
		good := true
		require.NoError(t, app.RecordOutcome(ctx, call.ID, attune.Outcome{Good: &good}))
	}

	n, err := app.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = app.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResolveTargetFallsBackThroughScopes(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)
	registerWarmth(t, app)

	_, err := app.ResolveTarget(ctx, "BEH-WARMTH", "caller-5", nil)
	require.ErrorIs(t, err, attune.ErrNoTarget)

	_, err = app.SetTarget(ctx, "BEH-WARMTH", attune.SystemScope(), 0.4, 0.7, "")
	require.NoError(t, err)
	seg := "segment-a"
	_, err = app.SetTarget(ctx, "BEH-WARMTH", attune.SegmentScope(seg), 0.6, 0.7, "")
	require.NoError(t, err)

	resolved, err := app.ResolveTarget(ctx, "BEH-WARMTH", "caller-5", nil)
	require.NoError(t, err)
	assert.Equal(t, attune.ScopeSystem, resolved.Scope.Level)

	resolved, err = app.ResolveTarget(ctx, "BEH-WARMTH", "caller-5", &seg)
	require.NoError(t, err)
	assert.Equal(t, attune.ScopeSegment, resolved.Scope.Level)
	assert.InDelta(t, 0.6, resolved.Value, 1e-9)
}

func TestTargetHistoryKeepsSupersededRows(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)
	registerWarmth(t, app)

	_, err := app.SetTarget(ctx, "BEH-WARMTH", attune.SystemScope(), 0.4, 0.7, "")
	require.NoError(t, err)
	_, err = app.SetTarget(ctx, "BEH-WARMTH", attune.SystemScope(), 0.5, 0.7, "")
	require.NoError(t, err)

	history, err := app.TargetHistory(ctx, "BEH-WARMTH", attune.SystemScope())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].EffectiveUntil)
	assert.InDelta(t, 0.5, history[0].Value, 1e-9)
	assert.NotNil(t, history[1].EffectiveUntil)
}

func TestObservationsFeedProfiles(t *testing.T) {
	ctx := context.Background()
	app := newApp(t)
	registerWarmth(t, app)

	now := time.Now().UTC()
	for i, v := range []float64{0.2, 0.4, 0.6} {
		require.NoError(t, app.RecordObservation(ctx, attune.Observation{
			ParameterID: "BEH-WARMTH",
			EntityID:    "caller-6",
			Value:       v,
			Confidence:  1.0,
			ObservedAt:  now.Add(-time.Duration(i) * 24 * time.Hour),
		}))
	}

	n, err := app.RecomputeProfiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	profiles, err := app.CallerProfiles(ctx, "caller-6")
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "BEH-WARMTH", profiles[0].ParameterID)
	assert.Equal(t, 3, profiles[0].ObservationCount)
	// Newest observation (0.2) carries the most weight.
	assert.Less(t, profiles[0].Value, 0.4)
}
