package attrs

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Bag is the concrete, per-run attribute bag shared by Sample and
// Collection: a map of cty values keyed by attribute name, constrained to
// whatever the run's frozen Schema registered for this Bag's Scope.
type Bag struct {
	schema *Schema
	scope  Scope
	values map[string]cty.Value
}

// Get returns the current value of name. Reading an unregistered name is a
// programming error and panics.
func (b *Bag) Get(name string) cty.Value {
	if !b.schema.Has(b.scope, name) {
		panic(fmt.Sprintf("attrs: attribute %q is not registered for this scope", name))
	}
	return b.values[name]
}

// Set assigns value to name, converting it to the registered type and
// running the field's validator if one was registered. Setting an
// unregistered name is a programming error and panics.
func (b *Bag) Set(name string, value cty.Value) error {
	f, ok := b.schema.Field(b.scope, name)
	if !ok {
		panic(fmt.Sprintf("attrs: attribute %q is not registered for this scope", name))
	}
	converted, err := convert.Convert(value, f.Type)
	if err != nil {
		return fmt.Errorf("attrs: attribute %q: %w", name, err)
	}
	if f.Validate != nil {
		if err := f.Validate(converted); err != nil {
			return fmt.Errorf("attrs: attribute %q: %w", name, err)
		}
	}
	b.values[name] = converted
	return nil
}

// Has reports whether name is registered for this bag's scope.
func (b *Bag) Has(name string) bool {
	return b.schema.Has(b.scope, name)
}

// Clone returns a deep copy of the bag, bound to the same schema. Used
// when a sample/collection crosses into a shard: each shard gets its own
// copy so mutations in one worker never alias another's.
func (b *Bag) Clone() *Bag {
	values := make(map[string]cty.Value, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return &Bag{schema: b.schema, scope: b.scope, values: values}
}

// AsMap returns a snapshot of every registered attribute, as plain Go
// values, suitable for gob encoding across the worker process boundary.
func (b *Bag) AsMap() map[string]any {
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = fromCty(v)
	}
	return out
}

// LoadMap restores a bag previously captured by AsMap, converting each
// plain value back to its registered cty type.
func (b *Bag) LoadMap(m map[string]any) error {
	for k, raw := range m {
		if !b.schema.Has(b.scope, k) {
			continue
		}
		v, err := toCty(raw)
		if err != nil {
			return fmt.Errorf("attrs: attribute %q: %w", k, err)
		}
		if err := b.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// ValueToAny converts a cty.Value to the plain Go representation used
// whenever an attribute value crosses a boundary that can't carry cty
// types directly: gob encoding, and the yaegi-interpreted module
// boundary.
func ValueToAny(v cty.Value) any {
	return fromCty(v)
}

// AnyToValue is the inverse of ValueToAny.
func AnyToValue(v any) (cty.Value, error) {
	return toCty(v)
}

func fromCty(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	switch {
	case v.Type() == cty.String:
		return v.AsString()
	case v.Type() == cty.Bool:
		return v.True()
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f
	case v.Type().IsListType() || v.Type().IsTupleType() || v.Type().IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, fromCty(ev))
		}
		return out
	case v.Type().IsObjectType() || v.Type().IsMapType():
		out := make(map[string]any)
		for k, ev := range v.AsValueMap() {
			out[k] = fromCty(ev)
		}
		return out
	default:
		return nil
	}
}

func toCty(v any) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case []any:
		if len(t) == 0 {
			return cty.ListValEmpty(cty.DynamicPseudoType), nil
		}
		elems := make([]cty.Value, len(t))
		for i, e := range t {
			cv, err := toCty(e)
			if err != nil {
				return cty.NilVal, err
			}
			elems[i] = cv
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		vals := make(map[string]cty.Value, len(t))
		for k, e := range t {
			cv, err := toCty(e)
			if err != nil {
				return cty.NilVal, err
			}
			vals[k] = cv
		}
		if len(vals) == 0 {
			return cty.EmptyObjectVal, nil
		}
		return cty.ObjectVal(vals), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported attribute value type %T", t)
	}
}
