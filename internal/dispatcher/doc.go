// Package dispatcher fans a sample collection out to the runner callable
// declared by a module, one shard per distinct split_by value (or a single
// shard when the runner declares none), and merges the shards' results back
// into a master collection.
//
// Each shard runs in its own child OS process: the dispatcher re-executes
// the current binary with the hidden "__run-shard" subcommand, sending the
// shard over the child's stdin (gob-encoded) and reading the result back
// over its stdout. A crash, panic, or hang in a runner can therefore never
// take down the driver process; it only fails that one shard.
package dispatcher
