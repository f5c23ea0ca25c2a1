// Package dispatch routes commands to per-zone workers.
//
// The Dispatcher owns a registry of zone.Worker values keyed by the uppercased
// zone name. A worker is created and started the first time its zone is named,
// either by DispatchCommand or by RegisterZoneAsAvailable, so commands can be
// queued before discovery has found the device and run once it has.
//
// Key features:
//   - Case-insensitive zone identity ("Kitchen" and "KITCHEN" share one worker)
//   - Fire-and-forget dispatch; per-zone FIFO, cross-zone parallel
//   - Cooperative shutdown: RequestStopAll halts every worker and queues a stop signal
//   - ResetAll stops and forgets every worker without joining them
//   - StopAll waits for worker goroutines to exit, bounded by a context
//   - AwaitIdle blocks until every zone is drained, driven by worker state
//     notifications rather than polling
//   - Summary/LogSummary report undiscovered zones, abandoned and running commands
//
// Shutdown notes:
//   - A command executing during ResetAll keeps running detached from the
//     registry, then its worker exits on the stop signal queued behind it
//   - Commands still queued when a worker is halted are never run; they are
//     reported as awaiting commands that won't be processed
//   - A zone first named after RequestStopAll gets a halted worker until
//     ResetAll, so late dispatches and discovery announcements never run
package dispatch
