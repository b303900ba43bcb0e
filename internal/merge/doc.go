// Package merge implements the (target-kind, attribute-name) -> merge
// function registry consulted when the runner dispatcher folds dispatched
// shards back into their parent collection. The registry is frozen with
// the module loader: every merge function a module contributes is
// registered once, before dispatch begins, and never changes afterward.
package merge
