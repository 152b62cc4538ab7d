package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/vk/framegridgo/internal/ctxlog"
	"github.com/vk/framegridgo/internal/frame"
	"github.com/vk/framegridgo/internal/registry"
	"github.com/vk/framegridgo/internal/statemap"
)

// ErrCycleInFlight is returned by StartUpdate when the previous cycle's
// results have not been fetched yet.
var ErrCycleInFlight = errors.New("update cycle already in flight")

// ErrBarrierTimeout is returned by FetchResult when a cycle fails to reach
// its barrier within the configured bound. The cycle's results are not
// committed; the stale cycle stays in flight until it eventually drains.
var ErrBarrierTimeout = errors.New("timed out waiting for update cycle barrier")

const (
	defaultWorkers        = 4
	defaultBarrierTimeout = time.Second
)

// cycle is what the coordination goroutine hands back over the completion
// channel: the frame it was dispatched for and every task's outcome.
type cycle struct {
	frame   frame.ID
	results Results
}

// Scheduler drives dependency-aware parallel update cycles against a
// registry. StartUpdate and FetchResult must be called from the same
// goroutine (the frame loop); only the fan-out inside a cycle is parallel.
type Scheduler struct {
	reg     *registry.Registry
	runner  Runner
	workers int
	timeout time.Duration

	// done is the one-shot completion signal for the in-flight cycle.
	// Capacity 1 so the coordinator never blocks on a caller that has not
	// fetched yet.
	done     chan cycle
	inflight bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size. Values below 1 are clamped to 1.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n < 1 {
			n = 1
		}
		s.workers = n
	}
}

// WithBarrierTimeout bounds how long FetchResult waits for a cycle.
func WithBarrierTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New returns a scheduler executing cycles on the given registry with the
// given runner.
func New(reg *registry.Registry, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		reg:     reg,
		runner:  runner,
		workers: defaultWorkers,
		timeout: defaultBarrierTimeout,
		done:    make(chan cycle, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartUpdate dispatches the update cycle for the given frame and returns
// without waiting for it. The snapshot is taken synchronously on the
// calling thread, which is what freezes dependency reads at cycle start;
// everything after that happens on a background coordination goroutine.
//
// Dispatching while a previous cycle is still unfetched returns
// ErrCycleInFlight; one in-flight cycle at a time is enforced by
// construction, not convention.
func (s *Scheduler) StartUpdate(ctx context.Context, f frame.ID) error {
	logger := ctxlog.FromContext(ctx)
	if s.inflight {
		return ErrCycleInFlight
	}

	// Serialize every enabled module once: due modules become tasks, the
	// rest are still readable as dependencies.
	states := s.reg.SnapshotAll(ctx)
	due := s.reg.EnumerateEnabled(f)

	tasks := make([]Task, 0, len(due))
	ids := make([]registry.ID, 0, len(due))
	for _, d := range due {
		state, ok := states[string(d.Name)]
		if !ok {
			// Snapshot failed for this module; SnapshotAll already logged
			// the skip.
			continue
		}
		tasks = append(tasks, Task{
			ID:       d.Name,
			Interval: d.FramesInterval,
			State:    state,
			Deps:     d.Deps,
		})
		ids = append(ids, d.Name)
	}
	s.reg.MarkScheduled(ids, f)

	logger.Debug("Dispatching update cycle.", "frame", f.N(), "tasks", len(tasks), "snapshots", len(states))
	s.inflight = true
	go s.coordinate(ctx, f, tasks, states)
	return nil
}

// FetchResult joins the in-flight cycle and commits its results. It blocks
// until the cycle's barrier is reached, bounded by the barrier timeout.
// When nothing is in flight it returns immediately; the first frame has
// nothing to fetch.
//
// Commit happens here, on the calling thread: this is the single point
// where cross-thread results re-enter single-threaded ownership.
func (s *Scheduler) FetchResult(ctx context.Context, f frame.ID) error {
	logger := ctxlog.FromContext(ctx)
	if !s.inflight {
		return nil
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case c := <-s.done:
		s.inflight = false
		if c.frame.N() != f.N() {
			logger.Debug("Fetched cycle for a different frame than requested.", "requested", f.N(), "fetched", c.frame.N())
		}
		s.reg.Commit(ctx, c.results)
		return nil
	case <-timer.C:
		// The completion signal carries no partial progress, so a timeout
		// means no commit for this cycle at all. inflight stays set; a
		// later fetch can still drain the cycle once it finishes.
		logger.Error("Update cycle missed its barrier, skipping commit.", "frame", f.N(), "timeout", s.timeout)
		return ErrBarrierTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight reports whether a dispatched cycle has not been fetched yet.
func (s *Scheduler) InFlight() bool { return s.inflight }

// coordinate is the per-cycle background task: it drives the parallel
// fan-out, waits at the barrier, and signals completion exactly once.
func (s *Scheduler) coordinate(ctx context.Context, f frame.ID, tasks []Task, states statemap.Map) {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()
	results := s.fanOut(ctx, tasks, states)
	logger.Debug("All tasks finished.", "frame", f.N(), "elapsed", time.Since(start))
	s.done <- cycle{frame: f, results: results}
}
