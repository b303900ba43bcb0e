// Package socketioexec implements an executor.Backend that runs a job as a
// socket.io round trip instead of a local process: connect, optionally
// emit an event, then wait for a named response event or a timeout.
// Job parameters travel through executor.Spec.Env, the same map that
// carries OS environment variables for the subprocess backend, since a
// socketio job has no command line to parse them from.
package socketioexec
