package dispatch

import (
	"context"
	"time"
)

// AwaitIdle blocks the caller for at most timeout.
//
// With requireEmptyQueues false it waits the full timeout, giving discovery time
// to find zones when the caller has no explicit target, and returns nil.
//
// With requireEmptyQueues true it returns nil as soon as at least one command
// has been dispatched and every worker has an empty queue and nothing executing,
// or ErrIdleTimeout if that never happens before the timeout.
//
// In both modes a cancelled ctx returns ctx.Err().
func (d *Dispatcher) AwaitIdle(ctx context.Context, timeout time.Duration, requireEmptyQueues bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if !requireEmptyQueues {
		d.logger.Info("no zone specified, waiting for discovery to settle", "timeout", timeout)
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		// Take the notification channel before evaluating so a transition
		// between the check and the select is never missed.
		changed := d.changes()
		if d.Idle() {
			return nil
		}
		select {
		case <-changed:
		case <-timer.C:
			if d.Idle() {
				return nil
			}
			return ErrIdleTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Idle reports whether a command has ever been dispatched and every worker is
// drained and not executing.
func (d *Dispatcher) Idle() bool {
	if !d.dispatched.Load() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.workers {
		if !w.Idle() {
			return false
		}
	}
	return true
}
