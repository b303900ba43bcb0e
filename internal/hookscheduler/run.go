package hookscheduler

import (
	"context"
	"fmt"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
)

// RunPre runs every pre-hook once, sequentially, in order, threading the
// collection through each call: the hook's return value replaces the
// current collection for the next hook. A hook that returns an error is
// logged as unhandled and does not stop the remaining pre-hooks from
// running against the collection as it stood before the failing hook.
func RunPre(ctx context.Context, ordered []modloader.Hook, collection modloader.Payload) modloader.Payload {
	logger := ctxlog.FromContext(ctx)
	for _, h := range ordered {
		logger.Info(fmt.Sprintf("Running %s hook", h.Label))
		next, err := h.Fn(ctx, collection)
		if err != nil {
			logger.Error(fmt.Sprintf("Unhandled exception: %v", err), "label", h.Label)
			continue
		}
		collection = next
	}
	return collection
}

// Condition is the post-hook run-condition: it decides whether a given
// post-hook runs based on the collection's final sample states.
type Condition string

const (
	ConditionAlways   Condition = "always"
	ConditionComplete Condition = "complete"
	ConditionFailed   Condition = "failed"
)

// ShouldRun reports whether a post-hook declaring condition should run
// given that the collection has anyFailed (at least one failed sample).
func ShouldRun(condition string, anyFailed bool) bool {
	switch Condition(condition) {
	case ConditionComplete:
		return !anyFailed
	case ConditionFailed:
		return anyFailed
	default:
		return true
	}
}

// RunPost runs every post-hook once, sequentially, in order, skipping any
// whose condition is not satisfied by anyFailed. As with RunPre, a hook
// that errors is logged as unhandled and does not block the remaining
// post-hooks, including any condition=always hook further down the list.
func RunPost(ctx context.Context, ordered []modloader.Hook, collection modloader.Payload, anyFailed bool) modloader.Payload {
	logger := ctxlog.FromContext(ctx)
	for _, h := range ordered {
		if !ShouldRun(h.Condition, anyFailed) {
			continue
		}
		logger.Info(fmt.Sprintf("Running %s hook", h.Label))
		next, err := h.Fn(ctx, collection)
		if err != nil {
			logger.Error(fmt.Sprintf("Unhandled exception: %v", err), "label", h.Label)
			continue
		}
		collection = next
	}
	return collection
}
