package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/framegridgo/internal/ctxlog"
	"github.com/vk/framegridgo/internal/frame"
	"github.com/vk/framegridgo/internal/scheduler"
)

// Run drives the frame loop until MaxFrames frames have run or the context
// is cancelled.
//
// Per frame boundary the ordering contract is: join and commit the
// previous cycle's results, render from the freshly committed state, then
// dispatch the next cycle so script execution for frame N+1 overlaps with
// the presentation of frame N.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := a.logger
	logger.Info("Engine starting.", "fps", a.cfg.FPS, "workers", a.cfg.Workers, "max_frames", a.cfg.MaxFrames)

	clock := frame.NewClock(a.cfg.FPS)
	view := &registryView{reg: a.reg}

	var inflight *frame.ID
	var frames uint64

	for {
		select {
		case <-ctx.Done():
			a.drain(ctx, inflight)
			return ctx.Err()
		default:
		}

		fired, wait := clock.Tick(time.Now())
		if !fired {
			// Sleeping in slices keeps cancellation responsive without a
			// platform event loop to park on.
			if wait > 5*time.Millisecond {
				wait = 5 * time.Millisecond
			}
			time.Sleep(wait)
			continue
		}
		f := clock.Frame()

		// Join the previous cycle before anything reads module state.
		if inflight != nil {
			err := a.sched.FetchResult(ctx, *inflight)
			switch {
			case err == nil:
				inflight = nil
			case errors.Is(err, scheduler.ErrBarrierTimeout):
				// Not fatal: skip commit, render stale state, and try to
				// drain the cycle again next frame.
				logger.Warn("Update cycle missed the frame budget.", "frame", inflight.N())
			default:
				return fmt.Errorf("failed to fetch update results: %w", err)
			}
		}

		if err := a.renderer.RenderFrame(ctx, f, view); err != nil {
			return fmt.Errorf("render frame %d failed: %w", f.N(), err)
		}

		// Dispatch the next cycle only if the previous one is fully
		// retired; never two in flight.
		if inflight == nil {
			if err := a.sched.StartUpdate(ctx, f); err != nil {
				return fmt.Errorf("failed to dispatch update cycle: %w", err)
			}
			dispatched := f
			inflight = &dispatched
		}

		frames++
		if a.cfg.MaxFrames > 0 && frames >= a.cfg.MaxFrames {
			a.drain(ctx, inflight)
			logger.Info("Engine finished.", "frames", frames)
			return nil
		}
	}
}

// drain joins a still-inflight cycle so its results are committed (or its
// timeout logged) before the loop exits.
func (a *App) drain(ctx context.Context, inflight *frame.ID) {
	if inflight == nil {
		return
	}
	if err := a.sched.FetchResult(ctx, *inflight); err != nil {
		a.logger.Warn("Final update cycle did not complete cleanly.", "frame", inflight.N(), "error", err)
	}
}
