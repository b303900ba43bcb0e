package merge

import (
	"fmt"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/attrs"
	"github.com/zclconf/go-cty/cty"
)

// Func merges two values seen for the same attribute on the same sample
// or collection: this is the value already accumulated, that is the value
// coming in from the shard being folded in.
type Func func(this, that cty.Value) (cty.Value, error)

type key struct {
	scope attrs.Scope
	attr  string
}

// Registry maps (scope, attribute name) to the Func that should merge it.
// Attributes with no registered Func fall back to Default.
type Registry struct {
	fns map[key]Func
}

// New returns an empty, mutable Registry. The module loader calls
// Register for every mixin-contributed merge function, then the registry
// is treated as read-only for the rest of the run.
func New() *Registry {
	return &Registry{fns: map[key]Func{}}
}

// Register adds fn for (scope, attr). Registering the same pair twice is
// a programming error and panics, matching the attribute schema's
// panic-on-duplicate-registration convention.
func (r *Registry) Register(scope attrs.Scope, attr string, fn Func) {
	k := key{scope, attr}
	if _, exists := r.fns[k]; exists {
		panic(fmt.Sprintf("merge: function already registered for attribute %q", attr))
	}
	r.fns[k] = fn
}

// Merge folds that into this for (scope, attr), using the registered
// function if one exists, otherwise Default.
func (r *Registry) Merge(scope attrs.Scope, attr string, this, that cty.Value) (cty.Value, error) {
	if fn, ok := r.fns[key{scope, attr}]; ok {
		return fn(this, that)
	}
	return Default(this, that)
}

// Default implements the registry's fallback policy for attributes with
// no registered merge function:
//
//   - identical values on both sides pass through unchanged;
//   - one side null resolves to the other side;
//   - differing scalar values combine into a two-element tuple (this, that).
func Default(this, that cty.Value) (cty.Value, error) {
	if this.IsNull() {
		return that, nil
	}
	if that.IsNull() {
		return this, nil
	}
	if this.RawEquals(that) {
		return this, nil
	}
	return cty.TupleVal([]cty.Value{this, that}), nil
}

// Bags folds every attribute of that into this in place, using registry
// (or the default policy) for each registered name. Both bags must share
// the same schema and scope.
func Bags(r *Registry, scope attrs.Scope, this, that *attrs.Bag, names []string) error {
	for _, name := range names {
		merged, err := r.Merge(scope, name, this.Get(name), that.Get(name))
		if err != nil {
			return fmt.Errorf("merge: attribute %q: %w", name, err)
		}
		if err := this.Set(name, merged); err != nil {
			return fmt.Errorf("merge: attribute %q: %w", name, err)
		}
	}
	return nil
}
