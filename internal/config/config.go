package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Config is an immutable, validated configuration mapping with typed,
// dotted-path access. It is built once via New/Load and shared by every
// other component; nothing in this package mutates a *Config after
// construction.
type Config struct {
	root cty.Value
}

// New builds a Config from a cty object value. It is the construction path
// shared by Load (file-backed) and FromMap (programmatic, mainly tests).
func New(root cty.Value) (*Config, error) {
	if !root.Type().IsObjectType() && !root.Type().IsMapType() {
		return nil, fmt.Errorf("config: root value must be an object or map, got %s", root.Type().FriendlyName())
	}
	return &Config{root: root}, nil
}

// FromMap builds a Config from a plain Go map, converting each value to its
// implied cty type. Nested maps become nested objects, enabling dotted-path
// access transparently.
func FromMap(m map[string]any) (*Config, error) {
	v, err := toCtyValue(m)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return New(v)
}

// Load reads a base settings file in HCL and returns the Config it
// describes. Every top-level attribute and nested block becomes a key in
// the dotted-path tree; blocks nest, attributes are leaves. A missing file
// is not an error: Load returns an empty Config so CLI-only configuration
// remains valid (the base settings file is optional, per spec).
func Load(path string) (*Config, error) {
	if path == "" {
		return FromMap(map[string]any{})
	}
	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FromMap(map[string]any{})
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	f, diags := hclsyntax.ParseConfig(src, path, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parsing %s: %w", path, diags)
	}

	vals := make(map[string]cty.Value)
	if err := decodeBody(f.Body.(*hclsyntax.Body), vals); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return New(cty.ObjectVal(vals))
}

// decodeBody decodes every attribute and nested block of an hclsyntax.Body
// into the given value map, recursing into blocks to build nested objects.
func decodeBody(body *hclsyntax.Body, into map[string]cty.Value) error {
	for name, attr := range body.Attributes {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return fmt.Errorf("attribute %q: %w", name, diags)
		}
		into[name] = v
	}
	for _, block := range body.Blocks {
		nested := make(map[string]cty.Value)
		if err := decodeBody(block.Body, nested); err != nil {
			return fmt.Errorf("block %q: %w", block.Type, err)
		}
		if existing, ok := into[block.Type]; ok && existing.Type().IsObjectType() {
			merged := existing.AsValueMap()
			for k, v := range nested {
				merged[k] = v
			}
			into[block.Type] = cty.ObjectVal(merged)
			continue
		}
		into[block.Type] = cty.ObjectVal(nested)
	}
	return nil
}

// Merge layers override on top of the receiver, returning a new Config. Keys
// present in override replace keys in the receiver at every depth where both
// sides are objects; otherwise override wins outright. Used to layer
// CLI-flag overrides over the base settings file.
func (c *Config) Merge(override *Config) *Config {
	return &Config{root: mergeValues(c.root, override.root)}
}

func mergeValues(base, override cty.Value) cty.Value {
	if base.Type().IsObjectType() && override.Type().IsObjectType() {
		merged := base.AsValueMap()
		if merged == nil {
			merged = map[string]cty.Value{}
		}
		for k, v := range override.AsValueMap() {
			if existing, ok := merged[k]; ok {
				merged[k] = mergeValues(existing, v)
			} else {
				merged[k] = v
			}
		}
		return cty.ObjectVal(merged)
	}
	return override
}

// Get resolves a dotted path against the configuration tree, returning the
// cty.Value found there. ok is false if any segment of the path is absent.
func (c *Config) Get(path ...string) (cty.Value, bool) {
	cur := c.root
	for _, seg := range path {
		if !cur.Type().IsObjectType() && !cur.Type().IsMapType() {
			return cty.NilVal, false
		}
		if cur.IsNull() || !cur.IsKnown() {
			return cty.NilVal, false
		}
		m := cur.AsValueMap()
		v, ok := m[seg]
		if !ok {
			return cty.NilVal, false
		}
		cur = v
	}
	return cur, true
}

// GetString returns the string at the dotted path, or def if absent.
func (c *Config) GetString(def string, path ...string) string {
	v, ok := c.Get(path...)
	if !ok {
		return def
	}
	out, err := convert.Convert(v, cty.String)
	if err != nil {
		return def
	}
	return out.AsString()
}

// GetInt returns the integer at the dotted path, or def if absent.
func (c *Config) GetInt(def int, path ...string) int {
	v, ok := c.Get(path...)
	if !ok {
		return def
	}
	out, err := convert.Convert(v, cty.Number)
	if err != nil {
		return def
	}
	f, _ := out.AsBigFloat().Float64()
	return int(f)
}

// GetBool returns the boolean at the dotted path, or def if absent.
func (c *Config) GetBool(def bool, path ...string) bool {
	v, ok := c.Get(path...)
	if !ok {
		return def
	}
	out, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return def
	}
	return out.True()
}

// GetStringSlice returns the string list at the dotted path, or nil if absent.
func (c *Config) GetStringSlice(path ...string) []string {
	v, ok := c.Get(path...)
	if !ok || v.IsNull() {
		return nil
	}
	out, err := convert.Convert(v, cty.List(cty.String))
	if err != nil {
		return nil
	}
	result := make([]string, 0, out.LengthInt())
	for it := out.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		result = append(result, ev.AsString())
	}
	return result
}

// Path renders a dotted path for use in error messages, e.g. "executor.cpus".
func Path(path ...string) string {
	return strings.Join(path, ".")
}

// toCtyValue converts a plain Go value (the output of a YAML/JSON-shaped
// map[string]any tree, as produced by CLI-flag assembly) into a cty.Value.
func toCtyValue(v any) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(t), nil
	case bool:
		return cty.BoolVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case map[string]any:
		vals := make(map[string]cty.Value, len(t))
		for k, elem := range t {
			cv, err := toCtyValue(elem)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", k, err)
			}
			vals[k] = cv
		}
		if len(vals) == 0 {
			return cty.EmptyObjectVal, nil
		}
		return cty.ObjectVal(vals), nil
	case []any:
		if len(t) == 0 {
			return cty.ListValEmpty(cty.DynamicPseudoType), nil
		}
		elems := make([]cty.Value, len(t))
		for i, elem := range t {
			cv, err := toCtyValue(elem)
			if err != nil {
				return cty.NilVal, fmt.Errorf("index %d: %w", i, err)
			}
			elems[i] = cv
		}
		return cty.TupleVal(elems), nil
	case []string:
		elems := make([]cty.Value, len(t))
		for i, s := range t {
			elems[i] = cty.StringVal(s)
		}
		if len(elems) == 0 {
			return cty.ListValEmpty(cty.String), nil
		}
		return cty.ListVal(elems), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported config value type %T", t)
	}
}
