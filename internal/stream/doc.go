// Package stream launches child processes and captures their output
// without blocking the caller.
//
// Each launched Process owns two Readers, one per output pipe. A Reader is a
// goroutine that performs blocking line reads and pushes every line, newline
// included, onto its own Mailbox. Mailboxes are unbounded single-producer /
// single-consumer FIFOs with a non-blocking TryPop, so a polling consumer
// (see package drain) can pull whatever has accumulated on each tick.
//
// Lifecycle:
//   - Running: the child or one of its readers is still alive
//   - Draining: child reaped and both readers finished, output still queued
//   - Finished: nothing left to read or drain
//   - Canceled: Cancel was called before Finished
//
// Cleanup is tied to reader termination rather than to the caller: a reaper
// goroutine waits for the child and both readers, then closes the pipe read
// ends. Cancel sends SIGTERM to the child's process group, escalates to
// SIGKILL after the grace period, and closes the read ends so readers blocked
// on pipes inherited by grandchildren return.
//
// A read error ends a Reader exactly like end-of-stream; the error is kept
// on Reader.Err for logging only.
package stream
