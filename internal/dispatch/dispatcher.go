package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/zonectl/internal/events"
	"github.com/mattjoyce/zonectl/internal/journal"
	"github.com/mattjoyce/zonectl/internal/log"
	"github.com/mattjoyce/zonectl/internal/zone"
)

var (
	// ErrEmptyZone is returned when a zone name is blank.
	ErrEmptyZone = errors.New("zone name is empty")
	// ErrNilCommand is returned when DispatchCommand is given a nil command.
	ErrNilCommand = errors.New("command is nil")
	// ErrIdleTimeout is returned by AwaitIdle when zones are still busy at the deadline.
	ErrIdleTimeout = errors.New("timed out waiting for zones to become idle")
)

// Publisher receives zone lifecycle events. *events.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Recorder persists command outcomes. *journal.Journal satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Options configures a Dispatcher.
type Options struct {
	Worker  zone.Options
	Logger  *slog.Logger
	Events  Publisher
	Journal Recorder
}

// Dispatcher maps zone names to their workers.
type Dispatcher struct {
	opts    Options
	logger  *slog.Logger
	events  Publisher
	journal Recorder

	mu      sync.Mutex
	workers map[string]*zone.Worker
	// stopping is set by RequestStopAll and cleared by ResetAll. Zones first
	// named in between get a worker that is already halted.
	stopping bool

	dispatched atomic.Bool

	changeMu sync.Mutex
	changed  chan struct{}
}

// New creates a Dispatcher with an empty registry.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}
	return &Dispatcher{
		opts:    opts,
		logger:  logger,
		events:  opts.Events,
		journal: opts.Journal,
		workers: make(map[string]*zone.Worker),
		changed: make(chan struct{}),
	}
}

// NormalizeZone returns the registry key for a zone name: upper-cased, with
// surrounding whitespace removed. Inner spaces are kept.
func NormalizeZone(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// DispatchCommand queues cmd on the worker for zoneName, creating the worker if needed.
// Execution is asynchronous; its outcome is never returned to the caller.
func (d *Dispatcher) DispatchCommand(cmd zone.Command, zoneName string) error {
	if cmd == nil {
		return ErrNilCommand
	}
	w, err := d.register(zoneName)
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", cmd.Name(), err)
	}

	d.logger.Debug("dispatching command", "zone", w.Key(), "command", cmd.Name())
	w.Enqueue(cmd)
	d.dispatched.Store(true)
	d.publish(events.CommandQueued, map[string]any{"zone": w.Key(), "command": cmd.Name()})
	d.signal()
	return nil
}

// RegisterZoneAsAvailable attaches the discovered device to the worker for
// zoneName, creating the worker if needed. Commands already queued for the zone
// become runnable.
func (d *Dispatcher) RegisterZoneAsAvailable(dev zone.Device, zoneName string) error {
	w, err := d.register(zoneName)
	if err != nil {
		return fmt.Errorf("register zone: %w", err)
	}
	w.AttachDevice(dev)
	d.publish(events.ZoneAvailable, map[string]any{"zone": w.Key(), "device": deviceName(dev)})
	return nil
}

// register returns the worker for zoneName, creating and starting it on first use.
func (d *Dispatcher) register(zoneName string) (*zone.Worker, error) {
	key := NormalizeZone(zoneName)
	if key == "" {
		return nil, ErrEmptyZone
	}

	d.mu.Lock()
	w, ok := d.workers[key]
	if !ok {
		opts := d.opts.Worker
		opts.Observer = d
		if opts.Logger == nil {
			opts.Logger = log.WithComponent("zone")
		}
		w = zone.New(key, opts)
		w.Start()
		if d.stopping {
			w.Halt()
			w.Stop()
		}
		d.workers[key] = w
	}
	late := !ok && d.stopping
	d.mu.Unlock()

	if !ok {
		d.logger.Info("zone worker created", "zone", key)
		d.publish(events.ZoneCreated, map[string]any{"zone": key})
	}
	if late {
		d.logger.Warn("zone named after stop request; its commands will not run", "zone", key)
		d.publish(events.ZoneStopped, map[string]any{"zone": key})
	}
	return w, nil
}

// Lookup returns the worker for zoneName. The second result is false if the
// zone has never been referenced.
func (d *Dispatcher) Lookup(zoneName string) (*zone.Worker, bool) {
	key := NormalizeZone(zoneName)
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[key]
	return w, ok
}

// ZoneNames returns the registered zone keys, sorted.
func (d *Dispatcher) ZoneNames() []string {
	d.mu.Lock()
	names := make([]string, 0, len(d.workers))
	for key := range d.workers {
		names = append(names, key)
	}
	d.mu.Unlock()
	sort.Strings(names)
	return names
}

// snapshot returns the registered workers sorted by key.
func (d *Dispatcher) snapshot() []*zone.Worker {
	d.mu.Lock()
	workers := make([]*zone.Worker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.Unlock()
	sort.Slice(workers, func(i, j int) bool { return workers[i].Key() < workers[j].Key() })
	return workers
}

// RequestStopAll halts every worker and queues the stop signal on each.
// It returns without waiting for the workers to exit.
func (d *Dispatcher) RequestStopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requestStopLocked()
}

func (d *Dispatcher) requestStopLocked() {
	d.stopping = true
	for key, w := range d.workers {
		w.Halt()
		w.Stop()
		d.logger.Debug("zone stop requested", "zone", key)
		d.publish(events.ZoneStopped, map[string]any{"zone": key})
	}
}

// ResetAll requests every worker to stop and clears the registry. Workers
// still executing a command are not joined; they finish it and exit on their own.
func (d *Dispatcher) ResetAll() {
	d.mu.Lock()
	d.requestStopLocked()
	n := len(d.workers)
	d.workers = make(map[string]*zone.Worker)
	d.stopping = false
	d.mu.Unlock()

	d.dispatched.Store(false)
	d.logger.Info("dispatcher reset", "zones", n)
	d.signal()
}

// StopAll requests every worker to stop and waits for their goroutines to exit.
// It returns ctx's error if some workers are still running a command when ctx ends.
func (d *Dispatcher) StopAll(ctx context.Context) error {
	d.RequestStopAll()

	var busy []string
	for _, w := range d.snapshot() {
		select {
		case <-w.Done():
		case <-ctx.Done():
			select {
			case <-w.Done():
			default:
				busy = append(busy, w.Key())
			}
		}
	}
	if len(busy) > 0 {
		return fmt.Errorf("zones still executing %s: %w", strings.Join(busy, ", "), ctx.Err())
	}
	return nil
}

// CommandStarted implements zone.Observer.
func (d *Dispatcher) CommandStarted(zoneKey string, cmd zone.Command) {
	d.publish(events.CommandStarted, map[string]any{"zone": zoneKey, "command": cmd.Name()})
}

// CommandFinished implements zone.Observer.
func (d *Dispatcher) CommandFinished(zoneKey string, cmd zone.Command, elapsed time.Duration, err error) {
	data := map[string]any{
		"zone":        zoneKey,
		"command":     cmd.Name(),
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	d.publish(events.CommandFinished, data)
	d.record(zoneKey, cmd, elapsed, err)
}

// StateChanged implements zone.Observer.
func (d *Dispatcher) StateChanged(string) {
	d.signal()
}

func (d *Dispatcher) record(zoneKey string, cmd zone.Command, elapsed time.Duration, err error) {
	if d.journal == nil {
		return
	}

	completed := time.Now().UTC()
	entry := journal.Entry{
		ID:          uuid.NewString(),
		Zone:        zoneKey,
		Command:     cmd.Name(),
		Status:      journal.StatusSucceeded,
		StartedAt:   completed.Add(-elapsed),
		CompletedAt: completed,
	}
	if ided, ok := cmd.(interface{ ID() string }); ok {
		entry.CommandID = ided.ID()
	}
	if err != nil {
		entry.Status = journal.StatusFailed
		entry.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := d.journal.Record(ctx, entry); rerr != nil {
		d.logger.Error("failed to journal command", "zone", zoneKey, "command", cmd.Name(), "error", rerr)
	}
}

func (d *Dispatcher) publish(eventType string, data any) {
	if d.events != nil {
		d.events.Publish(eventType, data)
	}
}

// signal wakes every AwaitIdle caller so it re-evaluates the registry.
func (d *Dispatcher) signal() {
	d.changeMu.Lock()
	close(d.changed)
	d.changed = make(chan struct{})
	d.changeMu.Unlock()
}

func (d *Dispatcher) changes() <-chan struct{} {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()
	return d.changed
}

func deviceName(dev zone.Device) string {
	if dev == nil {
		return ""
	}
	return dev.Name()
}
