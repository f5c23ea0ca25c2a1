package zone

import (
	"context"
	"time"
)

// Device is the live handle for a discovered playback device.
// The worker never inspects it; it only hands it to commands.
type Device interface {
	Name() string
}

// Command is a unit of work executed against a zone's device.
type Command interface {
	Name() string
	Execute(ctx context.Context, dev Device) error
}

// Func adapts a plain function into a Command.
type Func struct {
	name string
	fn   func(ctx context.Context, dev Device) error
}

// NewFunc returns a Command named name that runs fn.
func NewFunc(name string, fn func(ctx context.Context, dev Device) error) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Execute(ctx context.Context, dev Device) error {
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx, dev)
}

// Observer receives worker lifecycle notifications. Calls are made from the
// worker goroutine (or the caller of Enqueue/AttachDevice/Stop) and must not block.
type Observer interface {
	// CommandStarted fires after a command leaves the queue, before Execute.
	CommandStarted(zone string, cmd Command)
	// CommandFinished fires after Execute returns, with its error (nil on success).
	CommandFinished(zone string, cmd Command, elapsed time.Duration, err error)
	// StateChanged fires on every transition visible to QueueLen, IsExecuting or Done.
	StateChanged(zone string)
}

type nopObserver struct{}

func (nopObserver) CommandStarted(string, Command)                        {}
func (nopObserver) CommandFinished(string, Command, time.Duration, error) {}
func (nopObserver) StateChanged(string)                                   {}

// item is a queue entry: either a command or the stop signal.
type item struct {
	cmd  Command
	stop bool
}
