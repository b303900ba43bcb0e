// Package cleaner implements the per-scope registry of filesystem paths
// slated for removal on scope exit, in both its eager (driver-scoped,
// immediate) and deferred (runner-scoped, accumulate-then-flush) forms.
//
// The behavior implemented here — the default implicit registration of a
// scope's whole root, unregister() carving specific paths back out, and the
// minimal-covering-entry removal algorithm that results — is derived
// entirely from the assertions in the cleanup integration tests retrieved
// alongside the original implementation, since no standalone source file
// for it was available.
package cleaner
