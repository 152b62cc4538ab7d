package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/framegridgo/internal/ctxlog"
	"github.com/vk/framegridgo/internal/frame"
	"github.com/vk/framegridgo/internal/statemap"
	"github.com/zclconf/go-cty/cty"
)

// ID uniquely identifies a registered module. Stable for the module's
// lifetime.
type ID string

// StateSource is the opaque, module-owned state container. Snapshot copies
// the current state into the neutral value representation; Restore copies a
// committed value back. Both are only ever called from the thread that owns
// the underlying container (for Lua-backed sources, the main VM thread).
type StateSource interface {
	Snapshot() (cty.Value, error)
	Restore(cty.Value) error
}

// Descriptor describes one registered module.
type Descriptor struct {
	Name ID

	// FramesInterval is the minimum frame count between successive updates.
	// Must be >= 1.
	FramesInterval uint64

	// Enabled controls whether the module participates in scheduling.
	Enabled bool

	// Deps lists the modules whose state this module may read. Order is
	// preserved from registration. Entries are not validated against the
	// registry; a dangling dependency resolves to "absent" at snapshot time.
	Deps []ID

	// State is the module-owned state container.
	State StateSource

	// InitEntry and UpdateEntry name the module's callables in the script
	// engine's surface.
	InitEntry   string
	UpdateEntry string
}

// Result carries one module's outcome of an update cycle into Commit.
type Result struct {
	State cty.Value
	Err   error
}

// entry pairs a descriptor with the scheduling bookkeeping the registry
// keeps for it.
type entry struct {
	desc    Descriptor
	lastRun uint64
	ran     bool
}

// Registry is the concurrency-safe module table.
type Registry struct {
	mu      sync.RWMutex
	entries map[ID]*entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[ID]*entry)}
}

// Register inserts the descriptor, replacing any module already registered
// under the same name. Replacing resets the module's scheduling bookkeeping.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("module name must not be empty")
	}
	if desc.FramesInterval < 1 {
		return fmt.Errorf("module %q: frames_interval must be >= 1, got %d", desc.Name, desc.FramesInterval)
	}
	if desc.State == nil {
		return fmt.Errorf("module %q: state source must not be nil", desc.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[desc.Name] = &entry{desc: desc}
	return nil
}

// Remove deletes a module. Removing an unknown module is a no-op.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// SetEnabled toggles a module's participation in scheduling.
func (r *Registry) SetEnabled(id ID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("module %q not registered", id)
	}
	e.desc.Enabled = enabled
	return nil
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Names returns the sorted names of all registered modules.
func (r *Registry) Names() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		names = append(names, id)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// DependencyEdges returns each module's declared dependency list, for
// diagnostics.
func (r *Registry) DependencyEdges() map[ID][]ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	edges := make(map[ID][]ID, len(r.entries))
	for id, e := range r.entries {
		deps := make([]ID, len(e.desc.Deps))
		copy(deps, e.desc.Deps)
		edges[id] = deps
	}
	return edges
}

// EnumerateEnabled returns, sorted by name, the descriptors of every
// enabled module due to run at the given frame. A module that has never run
// is due immediately; afterwards it is due once FramesInterval frames have
// elapsed since its last scheduled run. Side-effect-free: bookkeeping is
// only advanced by MarkScheduled.
func (r *Registry) EnumerateEnabled(f frame.ID) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	due := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.desc.Enabled {
			continue
		}
		if e.ran && f.N()-e.lastRun < e.desc.FramesInterval {
			continue
		}
		due = append(due, e.desc)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	return due
}

// MarkScheduled records that the given modules were dispatched at the given
// frame. Called exactly once per cycle by the dispatcher, which keeps
// EnumerateEnabled pure.
func (r *Registry) MarkScheduled(ids []ID, f frame.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			e.lastRun = f.N()
			e.ran = true
		}
	}
}

// SnapshotAll serializes every enabled module's state once, producing the
// per-cycle StateMap. A module whose state fails to serialize is omitted
// and logged as a per-module skip; the cycle itself proceeds.
func (r *Registry) SnapshotAll(ctx context.Context) statemap.Map {
	logger := ctxlog.FromContext(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(statemap.Map, len(r.entries))
	for id, e := range r.entries {
		if !e.desc.Enabled {
			continue
		}
		v, err := e.desc.State.Snapshot()
		if err != nil {
			logger.Warn("Module state failed to serialize, skipping this cycle.", "module", id, "error", err)
			continue
		}
		states[string(id)] = v
	}
	return states
}

// View returns the committed state of one module, serialized. This is the
// read path the render side uses between commit and the next dispatch.
func (r *Registry) View(id ID) (cty.Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return cty.NilVal, fmt.Errorf("module %q not registered", id)
	}
	return e.desc.State.Snapshot()
}

// Commit merges a cycle's results back into the registry. A successful
// result replaces the module's state; a failed result leaves the state
// untouched and is logged. Commit never fails the registry: a module that
// errors repeatedly simply stops updating while everything else continues.
func (r *Registry) Commit(ctx context.Context, results map[ID]Result) {
	logger := ctxlog.FromContext(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, res := range results {
		e, ok := r.entries[id]
		if !ok {
			// Removed mid-cycle; its result has nowhere to go.
			logger.Debug("Dropping result for unregistered module.", "module", id)
			continue
		}
		if res.Err != nil {
			logger.Error("Module update failed, keeping previous state.", "module", id, "error", res.Err)
			continue
		}
		if err := e.desc.State.Restore(res.State); err != nil {
			logger.Error("Failed to restore module state.", "module", id, "error", err)
		}
	}
}
