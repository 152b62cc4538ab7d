package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/framegridgo/internal/ctxlog"
	"github.com/vk/framegridgo/internal/registry"
	"github.com/vk/framegridgo/internal/statemap"
	"github.com/zclconf/go-cty/cty"
)

// taskResult is the per-task outcome flowing back from the workers.
type taskResult struct {
	id    registry.ID
	state cty.Value
	err   error
}

// fanOut runs every task on the worker pool and collects the outcomes
// after the barrier. The returned map has exactly one entry per task; a
// failed task is an Err entry, never a missing one.
func (s *Scheduler) fanOut(ctx context.Context, tasks []Task, states statemap.Map) Results {
	if len(tasks) == 0 {
		return Results{}
	}

	workers := s.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	taskChan := make(chan Task, len(tasks))
	resultChan := make(chan taskResult, len(tasks))
	for _, t := range tasks {
		taskChan <- t
	}
	close(taskChan)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(ctx, i, taskChan, resultChan, states, &wg)
	}
	wg.Wait()
	close(resultChan)

	results := make(Results, len(tasks))
	for res := range resultChan {
		results[res.id] = registry.Result{State: res.state, Err: res.err}
	}
	return results
}

// worker is the processing loop for a single concurrent worker. The states
// map is shared across workers read-only; tasks never alias each other's
// mutable state.
func (s *Scheduler) worker(ctx context.Context, workerID int, taskChan <-chan Task, resultChan chan<- taskResult, states statemap.Map, wg *sync.WaitGroup) {
	defer wg.Done()
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for t := range taskChan {
		workerLogger := logger.With("workerID", workerID, "module", t.ID)

		if ctx.Err() != nil {
			resultChan <- taskResult{id: t.ID, err: ctx.Err()}
			continue
		}

		workerLogger.Debug("Worker picked up task.")
		state, err := s.runOne(ctx, t, states)
		if err != nil {
			workerLogger.Error("Task failed.", "error", err)
			resultChan <- taskResult{id: t.ID, err: err}
			continue
		}
		workerLogger.Debug("Task succeeded.")
		resultChan <- taskResult{id: t.ID, state: state}
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// runOne invokes the runner for a single task, converting a panic in the
// update path into a per-task error so it cannot take down sibling tasks.
func (s *Scheduler) runOne(ctx context.Context, t Task, states statemap.Map) (state cty.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module %q update panicked: %v", t.ID, r)
		}
	}()
	return s.runner.RunUpdate(ctx, t, states)
}
