package attune

import "context"

// LearningHook receives a notification after each learning step commits.
// Hooks are called synchronously in processing order; a slow hook slows
// the loop, so implementations should hand off heavy work themselves.
// Multiple hooks may be registered via multiple WithLearningHook calls.
type LearningHook interface {
	OnLearningApplied(ctx context.Context, score RewardScore)
}
