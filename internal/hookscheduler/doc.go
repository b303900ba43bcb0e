// Package hookscheduler computes a deterministic run order for a kind of
// hook (pre or post) from each hook's before/after constraints, with
// registration order as the tie-break whenever more than one ordering
// satisfies the constraints. The algorithm is Kahn's algorithm over the
// constraint graph; an unresolved remainder after every ready node has
// been drained means the constraint graph has a cycle.
package hookscheduler
