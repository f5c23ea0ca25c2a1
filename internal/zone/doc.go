// Package zone implements the per-zone command worker.
//
// A Worker owns an unbounded FIFO of commands and a single goroutine that
// executes them one at a time against the zone's device handle. Commands for the
// same zone therefore run strictly in enqueue order; different zones run in
// parallel, each on its own Worker.
//
// Lifecycle:
//   - Idle: queue empty (or no device yet), goroutine parked on a condition variable
//   - Executing: one command running; IsExecuting reports true
//   - Terminating: stop signal dequeued, or worker halted; goroutine exits and Done is closed
//
// Stop protocol:
//   - Halt marks the worker so it never picks up another command
//   - Stop appends the stop signal so a parked goroutine wakes and exits
//   - Commands left in the queue after exit are never run; QueueLen still reports them
//
// Failure handling:
//   - A command error or panic is logged and counted, never retried
//   - ExecutedCount counts every completed command, FailedCount only the failures
package zone
