// Package process supervises a single child process on behalf of sparkrun.
//
// A Supervisor owns one child at a time and moves through
// Idle -> Running -> Completed | SignalExited.
//
// Key features:
//   - Environment overlay on top of the orchestrator's own environment
//   - Pass-through mode: the child inherits stdin/stdout/stderr directly
//   - Buffered mode: stdout/stderr are pumped into two in-memory buffers by
//     a two-worker errgroup; stdin is still inherited live
//   - SIGINT/SIGTERM received by sparkrun are relayed verbatim to the child
//     while it runs (no translation, no escalation)
//   - Replay on failure: in buffered mode a non-zero exit writes the captured
//     stdout and stderr to the orchestrator's own streams
//
// Wait timeouts are advisory: on expiry Wait returns ErrWaitTimeout and the
// child keeps running. Signal forwarding is removed on every Wait return path,
// which restores whatever disposition the process had before Start.
package process
