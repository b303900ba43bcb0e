// Package executor defines the backend-agnostic job contract a runner uses
// to run external commands: submit, wait, terminate, each job carrying a
// fresh 128-bit correlation id and a per-job workdir (under the executor's
// root unless the job names its own). Concrete backends (subprocess,
// socketio) implement Backend and are registered by name on the module
// registry by the host program.
package executor
