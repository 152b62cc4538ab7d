package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegridgo/internal/frame"
	"github.com/vk/framegridgo/internal/registry"
	"github.com/vk/framegridgo/internal/scheduler"
	"github.com/zclconf/go-cty/cty"
)

const counterModule = `
register_module({
    name = "counter",
    state = { n = 0 },
    init = function(state)
        state.n = 10
    end,
    update = function(ctx)
        ctx.self.n = ctx.self.n + 1
    end,
})
`

func newTestEngine(t *testing.T) (*Engine, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	return NewEngine(context.Background(), reg), reg
}

func TestRegisterModuleHappyPath(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "counter.lua", counterModule))

	require.Equal(t, 1, reg.Len())
	due := reg.EnumerateEnabled(frame.IDAt(0))
	require.Len(t, due, 1)
	assert.Equal(t, registry.ID("counter"), due[0].Name)
	assert.Equal(t, uint64(1), due[0].FramesInterval, "frames_interval defaults to 1")
	assert.True(t, due[0].Enabled, "enabled defaults to true")

	// init ran once at registration: the committed state already shows it.
	v, err := reg.View("counter")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(10).RawEquals(v.GetAttr("n")))
}

func TestRegisterModuleDeclaredFields(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "full.lua", `
register_module({
    name = "full",
    frames_interval = 7,
    enabled = false,
    deps = { "world", "player" },
    state = { ok = true },
    init = function(state) end,
    update = function(ctx) end,
})
`))

	edges := reg.DependencyEdges()
	assert.Equal(t, []registry.ID{"world", "player"}, edges["full"], "dep order preserved")
	assert.Empty(t, reg.EnumerateEnabled(frame.IDAt(0)), "disabled at registration")
}

func TestRegisterModuleValidation(t *testing.T) {
	testCases := []struct {
		name    string
		source  string
		wantErr string
	}{
		{
			name:    "not a table",
			source:  `register_module("nope")`,
			wantErr: "expected a module table",
		},
		{
			name:    "missing name",
			source:  `register_module({ state = {}, init = function() end, update = function() end })`,
			wantErr: "'name' must be a string",
		},
		{
			name: "fractional interval",
			source: `register_module({ name = "m", frames_interval = 1.5, state = {},
				init = function() end, update = function() end })`,
			wantErr: "'frames_interval' must be an integer",
		},
		{
			name: "zero interval",
			source: `register_module({ name = "m", frames_interval = 0, state = {},
				init = function() end, update = function() end })`,
			wantErr: "'frames_interval' must be an integer >= 1",
		},
		{
			name: "state not a table",
			source: `register_module({ name = "m", state = 5,
				init = function() end, update = function() end })`,
			wantErr: "'state' must be a table",
		},
		{
			name:    "missing update",
			source:  `register_module({ name = "m", state = {}, init = function() end })`,
			wantErr: "'update' must be a function",
		},
		{
			name: "non-string dep",
			source: `register_module({ name = "m", state = {}, deps = { "ok", 3 },
				init = function() end, update = function() end })`,
			wantErr: "'deps' entry 2 must be a string",
		},
		{
			name: "failing init",
			source: `register_module({ name = "m", state = {},
				init = function() error("setup broke") end, update = function() end })`,
			wantErr: "init",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			eng, reg := newTestEngine(t)
			err := eng.LoadSource(context.Background(), "bad.lua", tc.source)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Equal(t, 0, reg.Len(), "nothing registers on a malformed record")
		})
	}
}

// dispatchTask snapshots the registry and builds the task the scheduler
// would hand to the runner for the named module.
func dispatchTask(t *testing.T, reg *registry.Registry, name registry.ID) (scheduler.Task, map[string]cty.Value) {
	t.Helper()
	states := reg.SnapshotAll(context.Background())
	for _, d := range reg.EnumerateEnabled(frame.IDAt(0)) {
		if d.Name == name {
			state, ok := states[string(name)]
			require.True(t, ok)
			return scheduler.Task{ID: d.Name, Interval: d.FramesInterval, State: state, Deps: d.Deps}, states
		}
	}
	t.Fatalf("module %s not due", name)
	return scheduler.Task{}, nil
}

func TestRunUpdateMutatesSelf(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "counter.lua", counterModule))

	task, states := dispatchTask(t, reg, "counter")
	out, err := eng.RunUpdate(context.Background(), task, states)
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(11).RawEquals(out.GetAttr("n")))

	// The update ran in a task VM; the main VM's state is untouched until
	// commit.
	v, err := reg.View("counter")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(10).RawEquals(v.GetAttr("n")))

	reg.Commit(context.Background(), map[registry.ID]registry.Result{"counter": {State: out}})
	v, err = reg.View("counter")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(11).RawEquals(v.GetAttr("n")))
}

func TestRunUpdateDependencyReads(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "world.lua", `
register_module({
    name = "world",
    state = { tick = 5, nested = { depth = 2 } },
    init = function(state) end,
    update = function(ctx) end,
})
`))
	require.NoError(t, eng.LoadSource(context.Background(), "reader.lua", `
register_module({
    name = "reader",
    deps = { "world" },
    state = { seen = -1, deep = -1 },
    init = function(state) end,
    update = function(ctx)
        ctx.self.seen = ctx.world.tick
        ctx.self.deep = ctx.world.nested.depth
    end,
})
`))

	task, states := dispatchTask(t, reg, "reader")
	out, err := eng.RunUpdate(context.Background(), task, states)
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(5).RawEquals(out.GetAttr("seen")))
	assert.True(t, cty.NumberIntVal(2).RawEquals(out.GetAttr("deep")))
}

func TestRunUpdateRejectsDependencyWrites(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "world.lua", `
register_module({
    name = "world",
    state = { tick = 5, nested = { depth = 2 } },
    init = function(state) end,
    update = function(ctx) end,
})
`))

	t.Run("top-level write", func(t *testing.T) {
		require.NoError(t, eng.LoadSource(context.Background(), "vandal.lua", `
register_module({
    name = "vandal",
    deps = { "world" },
    state = {},
    init = function(state) end,
    update = function(ctx)
        ctx.world.tick = 99
    end,
})
`))
		task, states := dispatchTask(t, reg, "vandal")
		_, err := eng.RunUpdate(context.Background(), task, states)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read-only")
		assert.Contains(t, err.Error(), `"tick"`)
	})

	t.Run("nested write", func(t *testing.T) {
		require.NoError(t, eng.LoadSource(context.Background(), "burrower.lua", `
register_module({
    name = "burrower",
    deps = { "world" },
    state = {},
    init = function(state) end,
    update = function(ctx)
        ctx.world.nested.depth = 99
    end,
})
`))
		task, states := dispatchTask(t, reg, "burrower")
		_, err := eng.RunUpdate(context.Background(), task, states)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read-only")
		assert.Contains(t, err.Error(), `"depth"`)
	})
}

func TestRunUpdateOmitsMissingDependency(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "loner.lua", `
register_module({
    name = "loner",
    deps = { "nowhere" },
    state = { dep_was_nil = false },
    init = function(state) end,
    update = function(ctx)
        ctx.self.dep_was_nil = (ctx.nowhere == nil)
    end,
})
`))

	task, states := dispatchTask(t, reg, "loner")
	out, err := eng.RunUpdate(context.Background(), task, states)
	require.NoError(t, err)
	assert.True(t, cty.True.RawEquals(out.GetAttr("dep_was_nil")))
}

func TestRunUpdateReportsScriptError(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "fragile.lua", `
register_module({
    name = "fragile",
    state = {},
    init = function(state) end,
    update = function(ctx)
        error("update broke")
    end,
})
`))

	task, states := dispatchTask(t, reg, "fragile")
	_, err := eng.RunUpdate(context.Background(), task, states)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update broke")
}

func TestFullCycleThroughScheduler(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "world.lua", `
register_module({
    name = "world",
    state = { tick = 0 },
    init = function(state) end,
    update = function(ctx)
        ctx.self.tick = ctx.self.tick + 1
    end,
})
`))
	require.NoError(t, eng.LoadSource(context.Background(), "follower.lua", `
register_module({
    name = "follower",
    deps = { "world" },
    state = { last = -1 },
    init = function(state) end,
    update = function(ctx)
        ctx.self.last = ctx.world.tick
    end,
})
`))

	sched := scheduler.New(reg, eng, scheduler.WithWorkers(2))
	ctx := context.Background()
	for i := uint64(0); i < 3; i++ {
		f := frame.IDAt(i)
		require.NoError(t, sched.StartUpdate(ctx, f))
		require.NoError(t, sched.FetchResult(ctx, f))
	}

	world, err := reg.View("world")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(3).RawEquals(world.GetAttr("tick")))

	// In cycle 3 the follower saw the world as committed after cycle 2.
	follower, err := reg.View("follower")
	require.NoError(t, err)
	assert.True(t, cty.NumberIntVal(2).RawEquals(follower.GetAttr("last")))
}

func TestStateRoundTripPreservesShape(t *testing.T) {
	eng, reg := newTestEngine(t)
	require.NoError(t, eng.LoadSource(context.Background(), "shapes.lua", `
register_module({
    name = "shapes",
    state = {
        flag = true,
        label = "hello",
        count = 3,
        list = { 1, 2, 3 },
        nested = { inner = "deep" },
    },
    init = function(state) end,
    update = function(ctx) end,
})
`))

	v, err := reg.View("shapes")
	require.NoError(t, err)
	assert.True(t, cty.True.RawEquals(v.GetAttr("flag")))
	assert.True(t, cty.StringVal("hello").RawEquals(v.GetAttr("label")))
	assert.True(t, cty.NumberIntVal(3).RawEquals(v.GetAttr("count")))
	assert.Equal(t, 3, v.GetAttr("list").LengthInt())
	assert.True(t, cty.StringVal("deep").RawEquals(v.GetAttr("nested").GetAttr("inner")))

	// Pushing the same value back through Restore keeps it readable.
	reg.Commit(context.Background(), map[registry.ID]registry.Result{"shapes": {State: v}})
	again, err := reg.View("shapes")
	require.NoError(t, err)
	assert.True(t, v.RawEquals(again))
}
