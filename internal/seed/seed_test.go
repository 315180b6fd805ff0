package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanfirst-ai/attune/internal/model"
	"github.com/humanfirst-ai/attune/internal/sqlite"
	"github.com/humanfirst-ai/attune/internal/testutil"
)

const doc = `
parameters:
  - id: BEH-WARMTH
    display_name: Warmth
    domain_group: style
    type: BEHAVIOR
  - id: Openness
    type: PERSONALITY
    directionality: neutral
targets:
  - parameter: BEH-WARMTH
    scope: system
    value: 0.6
    confidence: 0.5
  - parameter: BEH-WARMTH
    scope: segment
    segment: seg-enterprise
    value: 0.4
    confidence: 0.5
`

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:", testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	sum, err := New(store, testutil.TestLogger()).Apply(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Parameters)
	assert.Equal(t, 2, sum.Targets)
	assert.Zero(t, sum.TargetsSkipped)

	p, err := store.GetParameter(ctx, "BEH-WARMTH")
	require.NoError(t, err)
	assert.Equal(t, "Warmth", p.DisplayName)
	assert.Equal(t, model.ParameterBehavior, p.Type)
	assert.Equal(t, model.DirectionNeutral, p.Directionality)

	active, err := store.ActiveTargets(ctx, "BEH-WARMTH", model.SystemScope())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 0.6, active[0].Value)
	assert.Equal(t, model.SourceSeed, active[0].Source)

	active, err = store.ActiveTargets(ctx, "BEH-WARMTH", model.SegmentScope("seg-enterprise"))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 0.4, active[0].Value)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	imp := New(store, testutil.TestLogger())

	_, err := imp.Apply(ctx, strings.NewReader(doc))
	require.NoError(t, err)

	sum, err := imp.Apply(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Zero(t, sum.Targets, "unchanged targets must not be superseded again")
	assert.Equal(t, 2, sum.TargetsSkipped)

	history, err := store.ListTargetHistory(ctx, "BEH-WARMTH", model.SystemScope())
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyChangedValueSupersedes(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	imp := New(store, testutil.TestLogger())

	_, err := imp.Apply(ctx, strings.NewReader(doc))
	require.NoError(t, err)

	changed := strings.Replace(doc, "value: 0.6", "value: 0.7", 1)
	sum, err := imp.Apply(ctx, strings.NewReader(changed))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Targets)
	assert.Equal(t, 1, sum.TargetsSkipped)

	history, err := store.ListTargetHistory(ctx, "BEH-WARMTH", model.SystemScope())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0.7, history[0].Value)
	assert.NotNil(t, history[1].EffectiveUntil)
}

func TestApplyRejectsCallerScope(t *testing.T) {
	store := newStore(t)
	bad := `
targets:
  - parameter: BEH-WARMTH
    scope: caller
    segment: x
    value: 0.5
    confidence: 0.5
`
	_, err := New(store, testutil.TestLogger()).Apply(context.Background(), strings.NewReader(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "caller targets are learned")
}

func TestApplyRejectsUnknownField(t *testing.T) {
	store := newStore(t)
	bad := `
parameters:
  - id: X
    type: CUSTOM
    typo_field: oops
`
	_, err := New(store, testutil.TestLogger()).Apply(context.Background(), strings.NewReader(bad))
	assert.Error(t, err)
}

func TestApplyRejectsOutOfRangeValue(t *testing.T) {
	store := newStore(t)
	bad := `
targets:
  - parameter: BEH-WARMTH
    scope: system
    value: 1.5
    confidence: 0.5
`
	_, err := New(store, testutil.TestLogger()).Apply(context.Background(), strings.NewReader(bad))
	assert.Error(t, err)
}
