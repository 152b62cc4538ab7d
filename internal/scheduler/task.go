package scheduler

import (
	"context"

	"github.com/vk/framegridgo/internal/registry"
	"github.com/vk/framegridgo/internal/statemap"
	"github.com/zclconf/go-cty/cty"
)

// Task is a cycle-scoped unit of work: one module's update, with its own
// serialized state and the names of the dependencies it may read. Tasks are
// built at dispatch and discarded after commit; nothing aliases them across
// cycles.
type Task struct {
	ID       registry.ID
	Interval uint64

	// State is the module's own state as serialized at cycle start. The
	// runner deserializes it into the task's mutable "self" view.
	State cty.Value

	// Deps lists the modules whose snapshots the task may read. Entries
	// missing from the cycle's StateMap are silently omitted from the
	// task's context.
	Deps []registry.ID
}

// Runner executes one task's update entry in an isolated execution context
// and returns the re-serialized self state. Implementations must not share
// a script VM between concurrent calls; the scheduler invokes RunUpdate
// from multiple workers at once (though never twice for the same module
// within a cycle).
type Runner interface {
	RunUpdate(ctx context.Context, task Task, states statemap.Map) (cty.Value, error)
}

// Results maps each dispatched module to its cycle outcome.
type Results map[registry.ID]registry.Result
