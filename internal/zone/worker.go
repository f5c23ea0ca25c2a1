package zone

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/zonectl/internal/log"
)

// Options configures a Worker.
type Options struct {
	// RequireDevice keeps commands queued until a device is attached.
	// When false, commands run immediately and may see a nil Device.
	RequireDevice bool

	// CommandTimeout bounds the context handed to each command. Zero means no deadline.
	CommandTimeout time.Duration

	Observer Observer
	Logger   *slog.Logger
}

// DefaultOptions returns the options used by the dispatcher when none are configured.
func DefaultOptions() Options {
	return Options{RequireDevice: true}
}

// Worker executes the commands of a single zone sequentially on its own goroutine.
type Worker struct {
	key      string
	opts     Options
	observer Observer
	logger   *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []item
	pending int // real commands in queue, stop signals excluded
	device  Device

	halted   atomic.Bool
	running  atomic.Bool
	executed atomic.Int64
	failed   atomic.Int64

	started atomic.Bool
	done    chan struct{}
}

// New creates a worker for the normalized zone key. Call Start to spawn its goroutine.
func New(key string, opts Options) *Worker {
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("zone")
	}
	w := &Worker{
		key:      key,
		opts:     opts,
		observer: observer,
		logger:   logger.With("zone", key),
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Key returns the normalized zone name.
func (w *Worker) Key() string { return w.key }

// Start spawns the worker goroutine. Subsequent calls are no-ops.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
}

// Enqueue appends cmd to the tail of the queue. It never blocks and never fails,
// even after the worker exited; such commands are simply never consumed.
func (w *Worker) Enqueue(cmd Command) {
	w.push(item{cmd: cmd})
}

// Stop appends the stop signal. Commands ahead of it still run unless the
// worker has been halted.
func (w *Worker) Stop() {
	w.push(item{stop: true})
}

func (w *Worker) push(it item) {
	w.mu.Lock()
	w.queue = append(w.queue, it)
	if !it.stop {
		w.pending++
	}
	w.cond.Signal()
	w.mu.Unlock()
	w.observer.StateChanged(w.key)
}

// AttachDevice sets the zone's device handle, replacing any previous one.
// A command already executing keeps the handle it was started with.
func (w *Worker) AttachDevice(dev Device) {
	w.mu.Lock()
	w.device = dev
	w.cond.Signal()
	w.mu.Unlock()
	w.logger.Info("device attached", "device", deviceName(dev))
	w.observer.StateChanged(w.key)
}

// Halt marks the worker so it will not start another command. It also wakes a
// parked worker, which then exits without waiting for the stop signal; a halted
// worker never blocks. A command already executing runs to completion first.
func (w *Worker) Halt() {
	w.halted.Store(true)
	w.mu.Lock()
	w.cond.Signal()
	w.mu.Unlock()
}

// Device returns the attached device, or nil if none is known yet.
func (w *Worker) Device() Device {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.device
}

// HasDevice reports whether a device has been attached.
func (w *Worker) HasDevice() bool {
	return w.Device() != nil
}

// QueueLen returns the number of commands waiting to run.
func (w *Worker) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// QueueIsEmpty reports whether no command is waiting to run.
func (w *Worker) QueueIsEmpty() bool {
	return w.QueueLen() == 0
}

// IsExecuting reports whether a command is currently running.
func (w *Worker) IsExecuting() bool {
	return w.running.Load()
}

// Idle reports whether the queue is empty and nothing is executing, observed atomically.
func (w *Worker) Idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending == 0 && !w.running.Load()
}

// ExecutedCount returns the number of commands that finished, successfully or not.
func (w *Worker) ExecutedCount() int64 {
	return w.executed.Load()
}

// FailedCount returns the number of commands that returned an error or panicked.
func (w *Worker) FailedCount() int64 {
	return w.failed.Load()
}

// Halted reports whether Halt has been called.
func (w *Worker) Halted() bool {
	return w.halted.Load()
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	defer w.observer.StateChanged(w.key)
	defer close(w.done)

	w.logger.Debug("worker started")
	for {
		cmd, dev, ok := w.next()
		if !ok {
			w.logger.Debug("worker stopped", "executed", w.executed.Load(), "abandoned", w.QueueLen())
			return
		}
		w.execute(cmd, dev)
	}
}

// next blocks until a command can run or the worker must exit. The running
// flag is raised under the queue lock so Idle never sees a popped command as idle.
func (w *Worker) next() (Command, Device, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		if w.halted.Load() {
			return nil, nil, false
		}
		if len(w.queue) > 0 {
			head := w.queue[0]
			if head.stop {
				w.pop()
				return nil, nil, false
			}
			if w.device != nil || !w.opts.RequireDevice {
				w.pop()
				w.pending--
				w.running.Store(true)
				return head.cmd, w.device, true
			}
		}
		w.cond.Wait()
	}
}

func (w *Worker) pop() {
	w.queue[0] = item{}
	w.queue = w.queue[1:]
	if len(w.queue) == 0 {
		w.queue = nil
	}
}

func (w *Worker) execute(cmd Command, dev Device) {
	ctx := context.Background()
	if w.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.CommandTimeout)
		defer cancel()
	}

	w.observer.CommandStarted(w.key, cmd)
	w.observer.StateChanged(w.key)
	w.logger.Debug("executing command", "command", cmd.Name(), "device", deviceName(dev))

	start := time.Now()
	err := invoke(ctx, cmd, dev)
	elapsed := time.Since(start)

	if err != nil {
		w.failed.Add(1)
		w.logger.Warn("command failed", "command", cmd.Name(), "error", err, "duration_ms", elapsed.Milliseconds())
	} else {
		w.logger.Info("command completed", "command", cmd.Name(), "duration_ms", elapsed.Milliseconds())
	}
	w.executed.Add(1)

	// Outcome is reported before the worker counts as idle.
	w.observer.CommandFinished(w.key, cmd, elapsed, err)
	w.running.Store(false)
	w.observer.StateChanged(w.key)
}

// invoke runs cmd, converting a panic into an error so the worker survives it.
func invoke(ctx context.Context, cmd Command, dev Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %q panicked: %v\n%s", cmd.Name(), r, debug.Stack())
		}
	}()
	return cmd.Execute(ctx, dev)
}

func deviceName(dev Device) string {
	if dev == nil {
		return ""
	}
	return dev.Name()
}
