package zone

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/zonectl/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type testDevice struct{ name string }

func (d *testDevice) Name() string { return d.name }

// recorder collects the names of executed commands in execution order.
type recorder struct {
	mu    sync.Mutex
	names []string
	devs  []Device
}

func (r *recorder) cmd(name string) Command {
	return NewFunc(name, func(_ context.Context, dev Device) error {
		r.mu.Lock()
		r.names = append(r.names, name)
		r.devs = append(r.devs, dev)
		r.mu.Unlock()
		return nil
	})
}

func (r *recorder) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func startWorker(t *testing.T, opts Options) *Worker {
	t.Helper()
	w := New("KITCHEN", opts)
	w.Start()
	t.Cleanup(func() {
		w.Halt()
		w.Stop()
	})
	return w
}

func waitDone(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestWorkerRunsCommandsInOrder(t *testing.T) {
	w := startWorker(t, DefaultOptions())
	w.AttachDevice(&testDevice{name: "kitchen-1"})

	var rec recorder
	for _, name := range []string{"A", "B", "C", "D"} {
		w.Enqueue(rec.cmd(name))
	}

	require.Eventually(t, func() bool { return w.ExecutedCount() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C", "D"}, rec.executed())
	assert.True(t, w.QueueIsEmpty())
	assert.True(t, w.Idle())
	assert.False(t, w.IsExecuting())
}

func TestWorkerWaitsForDevice(t *testing.T) {
	w := startWorker(t, DefaultOptions())

	var rec recorder
	w.Enqueue(rec.cmd("A"))
	w.Enqueue(rec.cmd("B"))
	w.Enqueue(rec.cmd("C"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.executed(), "commands must not run before a device is attached")
	assert.Equal(t, 3, w.QueueLen())
	assert.False(t, w.HasDevice())

	dev := &testDevice{name: "kitchen-1"}
	w.AttachDevice(dev)

	require.Eventually(t, func() bool { return w.ExecutedCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C"}, rec.executed())
	rec.mu.Lock()
	for _, got := range rec.devs {
		assert.Same(t, dev, got)
	}
	rec.mu.Unlock()
}

func TestWorkerWithoutRequireDeviceRunsWithNilDevice(t *testing.T) {
	w := startWorker(t, Options{RequireDevice: false})

	var rec recorder
	w.Enqueue(rec.cmd("A"))

	require.Eventually(t, func() bool { return w.ExecutedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.devs, 1)
	assert.Nil(t, rec.devs[0])
}

func TestWorkerSurvivesFailures(t *testing.T) {
	w := startWorker(t, DefaultOptions())
	w.AttachDevice(&testDevice{name: "kitchen-1"})

	var rec recorder
	w.Enqueue(NewFunc("fails", func(context.Context, Device) error { return errors.New("device unreachable") }))
	w.Enqueue(NewFunc("panics", func(context.Context, Device) error { panic("boom") }))
	w.Enqueue(rec.cmd("after"))

	require.Eventually(t, func() bool { return w.ExecutedCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), w.FailedCount())
	assert.Equal(t, []string{"after"}, rec.executed())
}

func TestWorkerHaltAbandonsQueuedCommands(t *testing.T) {
	w := New("OFFICE", DefaultOptions())
	w.Start()

	var rec recorder
	w.Enqueue(rec.cmd("A"))
	w.Enqueue(rec.cmd("B"))

	w.Halt()
	w.Stop()
	waitDone(t, w)

	// A late device must not revive the worker.
	w.AttachDevice(&testDevice{name: "office-1"})
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, rec.executed())
	assert.Equal(t, 2, w.QueueLen())
	assert.Equal(t, int64(0), w.ExecutedCount())
	assert.True(t, w.Halted())
}

func TestWorkerHaltAloneWakesParkedWorker(t *testing.T) {
	w := New("DEN", DefaultOptions())
	w.Start()

	var rec recorder
	w.Enqueue(rec.cmd("A")) // parked: no device yet

	w.Halt()
	waitDone(t, w)

	assert.Empty(t, rec.executed())
	assert.Equal(t, 1, w.QueueLen())
	assert.False(t, w.IsExecuting())
}

func TestWorkerStopDrainsCommandsAhead(t *testing.T) {
	w := New("DEN", DefaultOptions())
	w.Start()
	w.AttachDevice(&testDevice{name: "den-1"})

	var rec recorder
	w.Enqueue(rec.cmd("A"))
	w.Enqueue(rec.cmd("B"))
	w.Stop()
	waitDone(t, w)

	assert.Equal(t, []string{"A", "B"}, rec.executed())

	w.Enqueue(rec.cmd("late"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, rec.executed())
	assert.Equal(t, 1, w.QueueLen())
}

func TestWorkerHaltLetsRunningCommandFinish(t *testing.T) {
	w := New("LOUNGE", DefaultOptions())
	w.Start()
	w.AttachDevice(&testDevice{name: "lounge-1"})

	release := make(chan struct{})
	started := make(chan struct{})
	w.Enqueue(NewFunc("slow", func(context.Context, Device) error {
		close(started)
		<-release
		return nil
	}))
	var rec recorder
	w.Enqueue(rec.cmd("never"))

	<-started
	assert.True(t, w.IsExecuting())
	assert.False(t, w.Idle())

	w.Halt()
	w.Stop()
	close(release)
	waitDone(t, w)

	assert.Equal(t, int64(1), w.ExecutedCount())
	assert.Empty(t, rec.executed())
	assert.False(t, w.IsExecuting())
}

func TestWorkerConcurrentProducers(t *testing.T) {
	w := startWorker(t, DefaultOptions())
	w.AttachDevice(&testDevice{name: "kitchen-1"})

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				w.Enqueue(NewFunc("noop", nil))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return w.ExecutedCount() == producers*perProducer }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, w.QueueIsEmpty())
}

func TestWorkerCommandTimeout(t *testing.T) {
	w := startWorker(t, Options{RequireDevice: true, CommandTimeout: 20 * time.Millisecond})
	w.AttachDevice(&testDevice{name: "kitchen-1"})

	errCh := make(chan error, 1)
	w.Enqueue(NewFunc("waits", func(ctx context.Context, _ Device) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("command context never expired")
	}
	require.Eventually(t, func() bool { return w.FailedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

type countingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []error
	changes  int
}

func (o *countingObserver) CommandStarted(_ string, cmd Command) {
	o.mu.Lock()
	o.started = append(o.started, cmd.Name())
	o.mu.Unlock()
}

func (o *countingObserver) CommandFinished(_ string, _ Command, _ time.Duration, err error) {
	o.mu.Lock()
	o.finished = append(o.finished, err)
	o.mu.Unlock()
}

func (o *countingObserver) StateChanged(string) {
	o.mu.Lock()
	o.changes++
	o.mu.Unlock()
}

func TestWorkerObserverSeesErrors(t *testing.T) {
	obs := &countingObserver{}
	w := New("GARAGE", Options{RequireDevice: true, Observer: obs})
	w.Start()
	w.AttachDevice(&testDevice{name: "garage-1"})

	boom := errors.New("boom")
	w.Enqueue(NewFunc("ok", nil))
	w.Enqueue(NewFunc("bad", func(context.Context, Device) error { return boom }))
	w.Stop()
	waitDone(t, w)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Positive(t, obs.changes)
	assert.Equal(t, []string{"ok", "bad"}, obs.started)
	require.Len(t, obs.finished, 2)
	assert.NoError(t, obs.finished[0])
	assert.ErrorIs(t, obs.finished[1], boom)
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	w := New("ATTIC", DefaultOptions())
	w.Start()
	w.Start()
	w.AttachDevice(&testDevice{name: "attic-1"})

	var rec recorder
	w.Enqueue(rec.cmd("A"))
	w.Stop()
	waitDone(t, w)
	assert.Equal(t, []string{"A"}, rec.executed())
}
