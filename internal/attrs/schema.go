package attrs

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Scope distinguishes attributes contributed to individual samples from
// attributes contributed to a collection as a whole.
type Scope int

const (
	SampleScope Scope = iota
	CollectionScope
)

// Field is one registered attribute: a name, its cty type, an optional
// default, and an optional validator run whenever the attribute is set.
type Field struct {
	Scope    Scope
	Name     string
	Type     cty.Type
	Default  cty.Value
	Validate func(cty.Value) error
}

// Schema is the frozen, per-run union of every Field registered by every
// loaded module's mixins. It is built once by the module loader and shared
// read-only by every Bag created for that run.
type Schema struct {
	fields map[Scope]map[string]Field
}

// NewSchema returns an empty, mutable Schema. The module loader calls
// Register for every mixin it discovers; the registry that owns the
// schema is frozen afterwards (modloader.Registry.Freeze).
func NewSchema() *Schema {
	return &Schema{fields: map[Scope]map[string]Field{
		SampleScope:     {},
		CollectionScope: {},
	}}
}

// Register adds a Field to the schema. Registering the same (scope, name)
// twice is a programming error and panics, mirroring the registry's
// panic-on-duplicate-registration convention for hooks and runners.
func (s *Schema) Register(f Field) {
	if _, exists := s.fields[f.Scope][f.Name]; exists {
		panic(fmt.Sprintf("attrs: attribute %q already registered for scope %v", f.Name, f.Scope))
	}
	s.fields[f.Scope][f.Name] = f
}

// Has reports whether name is registered for scope.
func (s *Schema) Has(scope Scope, name string) bool {
	_, ok := s.fields[scope][name]
	return ok
}

// Field returns the registered Field for (scope, name).
func (s *Schema) Field(scope Scope, name string) (Field, bool) {
	f, ok := s.fields[scope][name]
	return f, ok
}

// Names returns every attribute name registered for scope.
func (s *Schema) Names(scope Scope) []string {
	names := make([]string, 0, len(s.fields[scope]))
	for name := range s.fields[scope] {
		names = append(names, name)
	}
	return names
}

// NewBag returns an empty Bag bound to this schema and scope, with every
// registered field initialized to its default.
func (s *Schema) NewBag(scope Scope) *Bag {
	b := &Bag{schema: s, scope: scope, values: make(map[string]cty.Value)}
	for name, f := range s.fields[scope] {
		b.values[name] = f.Default
	}
	return b
}
