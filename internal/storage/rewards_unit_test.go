package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/humanfirst-ai/attune/internal/model"
)

func TestMutationScopeNamesFullTuple(t *testing.T) {
	// Notifications for in-place updates must carry the entity, not just
	// the level, so listeners see the same payload shape as supersessions.
	caller := model.CallerScope("caller-9")

	conf := model.TargetMutation{Kind: model.MutationConfidence, TargetID: uuid.New(), Scope: caller}
	assert.Equal(t, caller, mutationScope(conf))

	retire := model.TargetMutation{Kind: model.MutationRetire, TargetID: uuid.New(), Scope: caller}
	assert.Equal(t, caller, mutationScope(retire))

	supersede := model.TargetMutation{
		Kind:      model.MutationSupersede,
		NewTarget: &model.BehaviorTarget{Scope: caller},
	}
	assert.Equal(t, caller, mutationScope(supersede))
}
