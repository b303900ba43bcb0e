// Package attrs implements the Go-native replacement for the source
// framework's mixin / open-class attribute extension mechanism: a frozen
// schema of typed, named attributes registered once by the module loader,
// and a bag type that enforces reads and writes against that schema.
//
// Reading or writing a name absent from the schema is a programming error:
// it panics, and the module loader recovers that panic into a "module
// load" diagnostic rather than letting it surface mid-run.
package attrs
