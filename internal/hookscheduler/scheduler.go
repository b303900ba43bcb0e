package hookscheduler

import (
	"errors"
	"sort"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/modloader"
)

// ErrUnresolvable is returned when a kind's before/after constraints form
// a cycle: the canonical framework-fatal condition.
var ErrUnresolvable = errors.New("Unable to resolve hook dependencies")

const all = "all"

// Order computes a total ordering of hooks consistent with every
// before/after constraint, breaking ties by registration order (the
// order modloader.Load encountered them in). The symbolic label "all"
// pins a hook to run before (if named in Before) or after (if named in
// After) every other hook of the same kind.
func Order(hooks []modloader.Hook) ([]modloader.Hook, error) {
	byLabel := make(map[string]modloader.Hook, len(hooks))
	for _, h := range hooks {
		byLabel[h.Label] = h
	}

	// mustPrecede[x] is the set of labels that must run before x.
	mustPrecede := make(map[string]map[string]bool, len(hooks))
	for _, h := range hooks {
		mustPrecede[h.Label] = map[string]bool{}
	}

	addEdge := func(before, after string) {
		if _, ok := byLabel[before]; !ok {
			return
		}
		if _, ok := byLabel[after]; !ok {
			return
		}
		mustPrecede[after][before] = true
	}

	for _, h := range hooks {
		for _, b := range h.Before {
			if b == all {
				for _, other := range hooks {
					if other.Label != h.Label {
						addEdge(h.Label, other.Label)
					}
				}
				continue
			}
			addEdge(h.Label, b)
		}
		for _, a := range h.After {
			if a == all {
				for _, other := range hooks {
					if other.Label != h.Label {
						addEdge(other.Label, h.Label)
					}
				}
				continue
			}
			addEdge(a, h.Label)
		}
	}

	remaining := make(map[string]map[string]bool, len(mustPrecede))
	for label, preds := range mustPrecede {
		copied := make(map[string]bool, len(preds))
		for p := range preds {
			copied[p] = true
		}
		remaining[label] = copied
	}

	var ordered []modloader.Hook
	scheduled := make(map[string]bool, len(hooks))

	for len(ordered) < len(hooks) {
		var ready []modloader.Hook
		for _, h := range hooks {
			if scheduled[h.Label] {
				continue
			}
			if len(remaining[h.Label]) == 0 {
				ready = append(ready, h)
			}
		}
		if len(ready) == 0 {
			return nil, ErrUnresolvable
		}

		sort.Slice(ready, func(i, j int) bool { return ready[i].Order() < ready[j].Order() })
		next := ready[0]
		ordered = append(ordered, next)
		scheduled[next.Label] = true
		for _, preds := range remaining {
			delete(preds, next.Label)
		}
	}

	return ordered, nil
}
