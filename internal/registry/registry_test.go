package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegridgo/internal/frame"
	"github.com/zclconf/go-cty/cty"
)

func validDescriptor(name ID) Descriptor {
	return Descriptor{
		Name:           name,
		FramesInterval: 1,
		Enabled:        true,
		State:          NewMemorySource(cty.EmptyObjectVal),
	}
}

func TestRegisterValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Descriptor)
		wantErr string
	}{
		{
			name:   "valid descriptor",
			mutate: func(d *Descriptor) {},
		},
		{
			name:    "empty name",
			mutate:  func(d *Descriptor) { d.Name = "" },
			wantErr: "name must not be empty",
		},
		{
			name:    "zero frames interval",
			mutate:  func(d *Descriptor) { d.FramesInterval = 0 },
			wantErr: "frames_interval must be >= 1",
		},
		{
			name:    "nil state source",
			mutate:  func(d *Descriptor) { d.State = nil },
			wantErr: "state source must not be nil",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			desc := validDescriptor("mod")
			tc.mutate(&desc)

			err := r.Register(desc)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestRegisterReplacesAndResetsBookkeeping(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validDescriptor("mod")))

	r.MarkScheduled([]ID{"mod"}, frame.IDAt(5))
	assert.Empty(t, r.EnumerateEnabled(frame.IDAt(5)), "just scheduled, not due")

	// Re-registering under the same name starts scheduling from scratch.
	require.NoError(t, r.Register(validDescriptor("mod")))
	assert.Len(t, r.EnumerateEnabled(frame.IDAt(5)), 1)
	assert.Equal(t, 1, r.Len())
}

func TestEnumerateEnabledEligibility(t *testing.T) {
	r := New()
	fast := validDescriptor("fast")
	slow := validDescriptor("slow")
	slow.FramesInterval = 3
	require.NoError(t, r.Register(fast))
	require.NoError(t, r.Register(slow))

	// Never-ran modules are due immediately, whatever their interval.
	due := r.EnumerateEnabled(frame.IDAt(0))
	require.Len(t, due, 2)
	assert.Equal(t, ID("fast"), due[0].Name)
	assert.Equal(t, ID("slow"), due[1].Name)

	r.MarkScheduled([]ID{"fast", "slow"}, frame.IDAt(0))

	// One frame later only the every-frame module is due again.
	due = r.EnumerateEnabled(frame.IDAt(1))
	require.Len(t, due, 1)
	assert.Equal(t, ID("fast"), due[0].Name)

	// The slow module becomes due once its full interval has elapsed.
	assert.Len(t, r.EnumerateEnabled(frame.IDAt(2)), 1)
	due = r.EnumerateEnabled(frame.IDAt(3))
	require.Len(t, due, 2)
}

func TestEnumerateEnabledIsPure(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validDescriptor("mod")))

	// Enumerating twice without MarkScheduled yields the same answer.
	assert.Len(t, r.EnumerateEnabled(frame.IDAt(0)), 1)
	assert.Len(t, r.EnumerateEnabled(frame.IDAt(0)), 1)
}

func TestSetEnabledExcludesFromScheduling(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validDescriptor("mod")))

	require.NoError(t, r.SetEnabled("mod", false))
	assert.Empty(t, r.EnumerateEnabled(frame.IDAt(0)))
	assert.Empty(t, r.SnapshotAll(context.Background()))

	require.NoError(t, r.SetEnabled("mod", true))
	assert.Len(t, r.EnumerateEnabled(frame.IDAt(0)), 1)

	assert.Error(t, r.SetEnabled("ghost", true))
}

// failingSource always refuses to serialize.
type failingSource struct{}

func (failingSource) Snapshot() (cty.Value, error) { return cty.NilVal, errors.New("boom") }
func (failingSource) Restore(cty.Value) error      { return errors.New("boom") }

func TestSnapshotAllSkipsFailingModule(t *testing.T) {
	r := New()
	good := validDescriptor("good")
	good.State = NewMemorySource(cty.ObjectVal(map[string]cty.Value{"x": cty.NumberIntVal(1)}))
	require.NoError(t, r.Register(good))

	bad := validDescriptor("bad")
	bad.State = failingSource{}
	require.NoError(t, r.Register(bad))

	states := r.SnapshotAll(context.Background())
	assert.Len(t, states, 1)
	assert.Contains(t, states, "good")
}

func TestCommitAppliesSuccessesAndKeepsStateOnFailure(t *testing.T) {
	r := New()
	src := NewMemorySource(cty.ObjectVal(map[string]cty.Value{"x": cty.NumberIntVal(1)}))
	desc := validDescriptor("mod")
	desc.State = src
	require.NoError(t, r.Register(desc))

	next := cty.ObjectVal(map[string]cty.Value{"x": cty.NumberIntVal(2)})
	r.Commit(context.Background(), map[ID]Result{"mod": {State: next}})

	v, err := r.View("mod")
	require.NoError(t, err)
	assert.True(t, next.RawEquals(v))

	// A failed result leaves the committed state untouched.
	r.Commit(context.Background(), map[ID]Result{"mod": {Err: errors.New("update blew up")}})
	v, err = r.View("mod")
	require.NoError(t, err)
	assert.True(t, next.RawEquals(v))

	// A result for a module removed mid-cycle is dropped without fuss.
	r.Commit(context.Background(), map[ID]Result{"ghost": {State: next}})
}

func TestRemoveAndNames(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(validDescriptor("b")))
	require.NoError(t, r.Register(validDescriptor("a")))

	assert.Equal(t, []ID{"a", "b"}, r.Names())

	r.Remove("a")
	assert.Equal(t, []ID{"b"}, r.Names())
	r.Remove("ghost") // no-op

	_, err := r.View("a")
	assert.Error(t, err)
}

func TestDependencyEdgesCopies(t *testing.T) {
	r := New()
	desc := validDescriptor("player")
	desc.Deps = []ID{"world"}
	require.NoError(t, r.Register(desc))

	edges := r.DependencyEdges()
	require.Contains(t, edges, ID("player"))
	assert.Equal(t, []ID{"world"}, edges["player"])

	// Mutating the returned slice must not reach the registry.
	edges["player"][0] = "hacked"
	assert.Equal(t, []ID{"world"}, r.DependencyEdges()["player"])
}
