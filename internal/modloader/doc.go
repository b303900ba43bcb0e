// Package modloader walks a configured modules directory, interprets each
// module's Go source with an embedded yaegi interpreter, and builds the
// process-wide, frozen Registry of hooks, runners, attribute mixins,
// merge functions, and executor backends that the rest of the run
// consults. Every module directory pairs one manifest.hcl (declaring
// labels, ordering constraints, and entrypoint function names) with one
// or more .go files (the entrypoints themselves).
//
// Functions crossing the yaegi boundary are constrained to plain types
// built from string, bool, float64, []any, map[string]any, error, and
// context.Context, so the interpreter never needs a generated symbol
// table for Cellophane's own package types.
package modloader
