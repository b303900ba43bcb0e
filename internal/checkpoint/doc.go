// Package checkpoint implements the content-addressed fingerprint store
// runners use to decide whether their declared outputs are already
// current. A Checkpoint is scoped to one label within one runner
// invocation's workdir; a Store lazily creates Checkpoints by label.
package checkpoint
