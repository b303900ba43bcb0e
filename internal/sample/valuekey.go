package sample

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// valueKey renders a cty value as the string key used to bucket samples
// during Split. Numbers and bools are formatted directly; anything else
// falls back to cty's own GoString so Split never panics on an exotic
// attribute type.
func valueKey(v cty.Value) string {
	switch {
	case v.Type() == cty.String:
		return v.AsString()
	case v.Type() == cty.Bool:
		if v.True() {
			return "true"
		}
		return "false"
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return fmt.Sprintf("%v", f)
	default:
		return v.GoString()
	}
}
