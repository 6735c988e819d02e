package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// sleepIncrement is the polling granularity of [Runtime.Sleep]. A stop
// signal is observed within at most one increment.
const sleepIncrement = 100 * time.Millisecond

// TaskKind distinguishes the two activity shapes the runtime schedules.
// The variant is decided at registration time, so the scheduler's branch is
// exhaustive and checked once.
type TaskKind int

const (
	// KindRepeat is a repeatable unit of work: the runtime invokes it in a
	// loop for as long as the session is running.
	KindRepeat TaskKind = iota + 1

	// KindSelfManaged is a caller-driven unit: it owns its loop and must
	// observe [Runtime.Running] (or the context) and exit promptly once the
	// session stops.
	KindSelfManaged
)

// Func is a single unit of task work.
type Func func(ctx context.Context) error

// Task is one schedulable activity, tagged with its shape.
type Task struct {
	Name string
	Kind TaskKind
	Run  Func
}

// Runtime drives a set of concurrent tasks under one shared stop flag.
//
// The flag makes a single terminal transition: once the first interrupt
// signal arrives (or Stop is called, or the parent context is cancelled),
// Running flips to false forever within the session. Shutdown is
// cooperative: the runtime never kills a task; it waits for every task to
// observe the flag and return, so each one gets the chance to flush state.
// A task that never checks the flag delays exit indefinitely; that is a
// documented caller obligation, not a runtime-enforced guarantee.
type Runtime struct {
	logger *slog.Logger

	running  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a [Runtime]. The stop flag is true until the first stop.
func New(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		logger:  logger,
		stopped: make(chan struct{}),
	}
	r.running.Store(true)
	return r
}

// Running reports whether the session is still running. Tasks of
// [KindSelfManaged] must poll this (or use [Runtime.Sleep]) and exit
// promptly once it turns false.
func (r *Runtime) Running() bool {
	return r.running.Load()
}

// Stop requests shutdown. The transition is terminal and idempotent:
// repeated calls (and repeated interrupt signals) have no further effect.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		r.running.Store(false)
		close(r.stopped)
	})
}

// Done returns a channel closed on the first stop.
func (r *Runtime) Done() <-chan struct{} {
	return r.stopped
}

// Sleep suspends the caller for up to d, returning early if the session
// stops. It polls in small increments, so it never sleeps past a stop by
// more than one increment. With verbose set, the remaining time is logged
// once per second.
func (r *Runtime) Sleep(d time.Duration, verbose bool) {
	deadline := time.Now().Add(d)
	nextLog := time.Now()

	for r.Running() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if verbose && !time.Now().Before(nextLog) {
			r.logger.Info("sleeping", "remaining", remaining.Round(time.Second).String())
			nextLog = time.Now().Add(time.Second)
		}

		step := sleepIncrement
		if remaining < step {
			step = remaining
		}
		select {
		case <-time.After(step):
		case <-r.stopped:
			return
		}
	}
}

// Run executes every task concurrently and blocks until all of them have
// completed.
//
// Run installs a handler for SIGINT/SIGTERM: the first signal flips the stop
// flag (and nothing else); further signals are no-ops. Cancelling ctx stops
// the run the same way. A task error also stops the run, but the remaining
// tasks are still waited for, so they get to reach their shutdown flush before
// Run returns the first error. An interrupt alone is the successful shutdown
// path and yields a nil error.
func (r *Runtime) Run(ctx context.Context, tasks []Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// first signal stops; later signals are drained and ignored
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			r.logger.Info("signal caught, stopping", "signal", sig.String())
			r.Stop()
		case <-ctx.Done():
			r.Stop()
		case <-r.stopped:
		}
	}()

	// propagate the stop flag into the context so blocking calls unwind
	go func() {
		<-r.stopped
		cancel()
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))

	for _, task := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			if err := r.runTask(ctx, t); err != nil {
				errCh <- err
				// fail loud, shut down clean: stop the others but let
				// them finish their own exits
				r.Stop()
			}
		}(task)
	}

	wg.Wait()
	r.Stop()
	close(errCh)

	// first error wins; the rest were consequences of the shutdown
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// runTask executes one task to completion according to its kind.
func (r *Runtime) runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			correlationID := uuid.NewString()
			r.logger.Error("task panic",
				"task", t.Name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("task %q panicked (correlation_id: %s)", t.Name, correlationID)
		}
	}()

	switch t.Kind {
	case KindRepeat:
		for r.Running() {
			if err := t.Run(ctx); err != nil {
				return fmt.Errorf("task %q: %w", t.Name, err)
			}
		}
		return nil
	case KindSelfManaged:
		if err := t.Run(ctx); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
		return nil
	default:
		// registration validates the kind; this is unreachable for tasks
		// built through the public API
		return fmt.Errorf("task %q has unknown kind %d", t.Name, t.Kind)
	}
}
