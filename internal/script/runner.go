package script

import (
	"context"
	"fmt"
	"strconv"

	lua "github.com/Shopify/go-lua"
	"github.com/vk/framegridgo/internal/scheduler"
	"github.com/vk/framegridgo/internal/statemap"
	"github.com/zclconf/go-cty/cty"
)

// RunUpdate implements scheduler.Runner. Each call builds a fresh VM bound
// to the same module definitions, so concurrent tasks never share an
// interpreter. The task's context table exposes `self` as a mutable copy of
// the module's own snapshot and one read-only projection per dependency
// present in the cycle's StateMap.
func (e *Engine) RunUpdate(ctx context.Context, task scheduler.Task, states statemap.Map) (cty.Value, error) {
	l, err := e.taskVM()
	if err != nil {
		return cty.NilVal, err
	}
	name := string(task.ID)

	l.NewTable()
	ctxIndex := l.Top()
	if err := toLua(l, task.State); err != nil {
		return cty.NilVal, fmt.Errorf("module %q: deserialize self state: %w", name, err)
	}
	l.SetField(ctxIndex, "self")

	for _, dep := range task.Deps {
		depName := string(dep)
		v, ok := states[depName]
		if !ok {
			// Best-effort dependency: absent from this cycle's snapshot,
			// so absent from the context.
			continue
		}
		if err := pushReadOnly(l, v); err != nil {
			return cty.NilVal, fmt.Errorf("module %q: project dependency %q: %w", name, depName, err)
		}
		l.SetField(ctxIndex, depName)
	}

	if err := pushModuleField(l, name, "update"); err != nil {
		return cty.NilVal, err
	}
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return cty.NilVal, fmt.Errorf("module %q has no update function", name)
	}
	l.PushValue(ctxIndex)
	if err := l.ProtectedCall(1, 0, 0); err != nil {
		return cty.NilVal, fmt.Errorf("module %q update failed: %w", name, err)
	}

	l.Field(ctxIndex, "self")
	out, err := fromLua(l, -1)
	l.Pop(1)
	if err != nil {
		return cty.NilVal, fmt.Errorf("module %q: serialize self state: %w", name, err)
	}
	return out, nil
}

// taskVM builds an isolated VM for one task by replaying every loaded
// chunk. Task VMs record module definitions without running init again and
// without touching the registry.
func (e *Engine) taskVM() (*lua.State, error) {
	l := e.newVM(false)
	for _, c := range e.sources() {
		if err := runChunk(l, c.name, c.source); err != nil {
			return nil, fmt.Errorf("replay chunk %q: %w", c.name, err)
		}
	}
	return l, nil
}

// pushReadOnly pushes a dependency snapshot onto the stack. Structured
// values get a read-only proxy; scalars pass through as plain values, which
// are copies and harmless to reassign locally.
func pushReadOnly(l *lua.State, v cty.Value) error {
	if err := toLua(l, v); err != nil {
		return err
	}
	if l.TypeOf(-1) == lua.TypeTable {
		wrapReadOnly(l)
	}
	return nil
}

// wrapReadOnly replaces the table at the top of the stack with a read-only
// proxy: an empty table whose metatable routes reads to the backing table
// and turns every write into a raised error. Nested tables are wrapped
// first, so the projection holds at any depth.
func wrapReadOnly(l *lua.State) {
	backing := l.Top()

	l.PushNil()
	for l.Next(backing) {
		if l.TypeOf(-1) == lua.TypeTable {
			wrapReadOnly(l)
			l.PushValue(-2)
			l.Insert(-2)
			l.SetTable(backing)
		} else {
			l.Pop(1)
		}
	}

	l.NewTable() // proxy
	l.NewTable() // metatable
	l.PushValue(backing)
	l.SetField(-2, "__index")
	l.PushGoFunction(readOnlyNewIndex)
	l.SetField(-2, "__newindex")
	l.SetMetaTable(-2)
	l.Replace(backing)
}

// readOnlyNewIndex rejects the assignment with the same wording the Go-side
// projection uses, naming the field so the script author can find the bad
// write.
func readOnlyNewIndex(l *lua.State) int {
	field := "?"
	switch l.TypeOf(2) {
	case lua.TypeString:
		field, _ = l.ToString(2)
	case lua.TypeNumber:
		if n, ok := l.ToInteger(2); ok {
			field = strconv.Itoa(n)
		}
	}
	werr := &statemap.WriteError{Field: field}
	lua.Errorf(l, "%s", werr.Error())
	return 0
}
