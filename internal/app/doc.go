// Package app composes the rest of the framework into one run: load
// modules, read the samples manifest, run pre-hooks, dispatch every
// registered runner, merge their results, run post-hooks, copy declared
// outputs to the result directory, and clean up the workspace.
package app
