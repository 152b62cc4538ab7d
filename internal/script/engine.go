// Package script binds the embedded Lua VM to the module registry and the
// update scheduler. It owns two kinds of VM: the main VM, which lives on
// the frame-loop thread and holds the authoritative module tables, and
// short-lived task VMs, one per update invocation, so that no Lua value
// ever crosses a goroutine boundary by reference.
package script

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	lua "github.com/Shopify/go-lua"
	"github.com/vk/framegridgo/internal/ctxlog"
	"github.com/vk/framegridgo/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// modulesGlobal is the hidden global table every VM keeps its registered
// module tables in, keyed by module name.
const modulesGlobal = "__framegrid_modules"

// chunk is one loaded script source. Task VMs replay the same chunks the
// main VM ran, which is how every worker sees the same module definitions.
type chunk struct {
	name   string
	source string
}

// Engine is the script engine boundary. The main VM must only be touched
// from the frame-loop goroutine; the scheduler's workers never see it.
type Engine struct {
	reg    *registry.Registry
	logger *slog.Logger
	main   *lua.State

	mu     sync.RWMutex
	chunks []chunk
}

// NewEngine builds the main VM and installs the registration entry point.
func NewEngine(ctx context.Context, reg *registry.Registry) *Engine {
	e := &Engine{
		reg:    reg,
		logger: ctxlog.FromContext(ctx),
	}
	e.main = e.newVM(true)
	return e
}

// newVM creates a VM with the standard libraries, the module table and the
// register_module entry point. Only the main VM registers into the
// registry and runs init; task VMs just record definitions for lookup.
func (e *Engine) newVM(intoRegistry bool) *lua.State {
	l := lua.NewState()
	lua.OpenLibraries(l)
	l.NewTable()
	l.SetGlobal(modulesGlobal)
	l.PushGoFunction(func(l *lua.State) int {
		return e.registerModule(l, intoRegistry)
	})
	l.SetGlobal("register_module")
	return l
}

// LoadFile loads and runs a script file in the main VM.
func (e *Engine) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script %s: %w", path, err)
	}
	return e.LoadSource(ctx, path, string(data))
}

// LoadSource runs a script chunk in the main VM and, on success, records
// it for replay in task VMs. Registration errors raised by the chunk
// surface here, synchronously.
func (e *Engine) LoadSource(ctx context.Context, name, source string) error {
	logger := ctxlog.FromContext(ctx)
	if err := runChunk(e.main, name, source); err != nil {
		return fmt.Errorf("script %s: %w", name, err)
	}
	e.mu.Lock()
	e.chunks = append(e.chunks, chunk{name: name, source: source})
	e.mu.Unlock()
	logger.Debug("Script chunk loaded.", "chunk", name)
	return nil
}

// sources returns a stable copy of the loaded chunks for task VM replay.
func (e *Engine) sources() []chunk {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]chunk, len(e.chunks))
	copy(out, e.chunks)
	return out
}

func runChunk(l *lua.State, name, source string) error {
	if err := lua.LoadBuffer(l, source, name, ""); err != nil {
		return err
	}
	return l.ProtectedCall(0, 0, 0)
}

// moduleSpec is the decoded registration record.
type moduleSpec struct {
	name     string
	interval uint64
	enabled  bool
	deps     []string
}

// registerModule is the register_module entry point. The module table sits
// at stack index 1. Malformed records are rejected with a descriptive Lua
// error before anything is stored.
func (e *Engine) registerModule(l *lua.State, intoRegistry bool) int {
	if l.TypeOf(1) != lua.TypeTable {
		lua.Errorf(l, "register_module: expected a module table, got %s", typeName(l, 1))
		return 0
	}
	spec, err := decodeModuleTable(l)
	if err != nil {
		lua.Errorf(l, "register_module: %s", err.Error())
		return 0
	}

	// Store the module table for later lookup by name.
	l.Global(modulesGlobal)
	l.PushString(spec.name)
	l.PushValue(1)
	l.SetTable(-3)
	l.Pop(1)

	if !intoRegistry {
		return 0
	}

	// The init entry runs exactly once, at registration time, with the
	// module's own state table.
	l.Field(1, "init")
	l.Field(1, "state")
	if err := l.ProtectedCall(1, 0, 0); err != nil {
		lua.Errorf(l, "register_module: init of %q failed: %s", spec.name, err.Error())
		return 0
	}

	deps := make([]registry.ID, len(spec.deps))
	for i, d := range spec.deps {
		deps[i] = registry.ID(d)
	}
	desc := registry.Descriptor{
		Name:           registry.ID(spec.name),
		FramesInterval: spec.interval,
		Enabled:        spec.enabled,
		Deps:           deps,
		State:          &luaStateSource{eng: e, name: spec.name},
		InitEntry:      "init",
		UpdateEntry:    "update",
	}
	if err := e.reg.Register(desc); err != nil {
		lua.Errorf(l, "register_module: %s", err.Error())
		return 0
	}
	e.logger.Debug("Module registered.", "module", spec.name, "frames_interval", spec.interval, "deps", spec.deps)
	return 0
}

// decodeModuleTable validates the registration record at stack index 1 and
// leaves the stack as it found it.
func decodeModuleTable(l *lua.State) (moduleSpec, error) {
	var spec moduleSpec

	l.Field(1, "name")
	if l.TypeOf(-1) != lua.TypeString {
		defer l.Pop(1)
		return spec, fmt.Errorf("field 'name' must be a string, got %s", typeName(l, -1))
	}
	spec.name, _ = l.ToString(-1)
	l.Pop(1)

	l.Field(1, "frames_interval")
	switch l.TypeOf(-1) {
	case lua.TypeNil:
		spec.interval = 1
	case lua.TypeNumber:
		n, _ := l.ToNumber(-1)
		if n != math.Floor(n) || n < 1 {
			l.Pop(1)
			return spec, fmt.Errorf("field 'frames_interval' must be an integer >= 1, got %v", n)
		}
		spec.interval = uint64(n)
	default:
		defer l.Pop(1)
		return spec, fmt.Errorf("field 'frames_interval' must be an integer, got %s", typeName(l, -1))
	}
	l.Pop(1)

	l.Field(1, "enabled")
	switch l.TypeOf(-1) {
	case lua.TypeNil:
		spec.enabled = true
	case lua.TypeBoolean:
		spec.enabled = l.ToBoolean(-1)
	default:
		defer l.Pop(1)
		return spec, fmt.Errorf("field 'enabled' must be a boolean, got %s", typeName(l, -1))
	}
	l.Pop(1)

	l.Field(1, "state")
	if l.TypeOf(-1) != lua.TypeTable {
		defer l.Pop(1)
		return spec, fmt.Errorf("field 'state' must be a table, got %s", typeName(l, -1))
	}
	l.Pop(1)

	for _, fn := range []string{"init", "update"} {
		l.Field(1, fn)
		if l.TypeOf(-1) != lua.TypeFunction {
			defer l.Pop(1)
			return spec, fmt.Errorf("field '%s' must be a function, got %s", fn, typeName(l, -1))
		}
		l.Pop(1)
	}

	l.Field(1, "deps")
	switch l.TypeOf(-1) {
	case lua.TypeNil:
	case lua.TypeTable:
		n := l.RawLength(-1)
		for i := 1; i <= n; i++ {
			l.RawGetInt(-1, i)
			if l.TypeOf(-1) != lua.TypeString {
				name := typeName(l, -1)
				l.Pop(2)
				return spec, fmt.Errorf("field 'deps' entry %d must be a string, got %s", i, name)
			}
			dep, _ := l.ToString(-1)
			spec.deps = append(spec.deps, dep)
			l.Pop(1)
		}
	default:
		defer l.Pop(1)
		return spec, fmt.Errorf("field 'deps' must be an array of strings, got %s", typeName(l, -1))
	}
	l.Pop(1)

	return spec, nil
}

// pushModuleField pushes __modules[name][field] onto the stack, leaving
// only that value.
func pushModuleField(l *lua.State, name, field string) error {
	l.Global(modulesGlobal)
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return fmt.Errorf("module table missing from VM")
	}
	l.Field(-1, name)
	l.Remove(-2)
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return fmt.Errorf("module %q not loaded", name)
	}
	l.Field(-1, field)
	l.Remove(-2)
	return nil
}

// luaStateSource exposes a module's state table in the main VM as a
// registry StateSource. Snapshot and Restore run on the frame-loop
// thread only; that is the registry's calling contract.
type luaStateSource struct {
	eng  *Engine
	name string
}

func (s *luaStateSource) Snapshot() (cty.Value, error) {
	l := s.eng.main
	if err := pushModuleField(l, s.name, "state"); err != nil {
		return cty.NilVal, err
	}
	defer l.Pop(1)
	return fromLua(l, -1)
}

func (s *luaStateSource) Restore(v cty.Value) error {
	l := s.eng.main
	l.Global(modulesGlobal)
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return fmt.Errorf("module table missing from VM")
	}
	l.Field(-1, s.name)
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(2)
		return fmt.Errorf("module %q not loaded", s.name)
	}
	if err := toLua(l, v); err != nil {
		l.Pop(2)
		return err
	}
	l.SetField(-2, "state")
	l.Pop(2)
	return nil
}
