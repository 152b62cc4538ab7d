// Package statemap holds the intermediate value representation that module
// state is copied into before it crosses the boundary between the
// single-threaded script VM and the worker pool.
//
// Why cty?
//
// A cty.Value is immutable: once a module's state has been serialized into
// one, any number of workers can read it without synchronization, and no
// worker can corrupt another module's view of it. That immutability is what
// lets the scheduler hand every task the same per-cycle snapshot without a
// single lock around module state.
package statemap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Map is a per-cycle snapshot of committed module state, keyed by module
// name. It is built once at cycle start and must be treated as immutable
// until the cycle's results are committed.
type Map map[string]cty.Value

// Subset returns a new Map containing only the entries for the given keys.
// Keys with no entry are silently omitted; a module is allowed to declare a
// dependency on a module that was never registered or failed to snapshot.
func (m Map) Subset(keys []string) Map {
	out := make(Map, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Names returns the sorted module names present in the map.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ErrReadOnly is the sentinel wrapped by every write rejection on a
// dependency projection.
var ErrReadOnly = errors.New("dependency state is read-only")

// WriteError reports a rejected write against a read-only projection,
// naming the field the caller tried to assign.
type WriteError struct {
	Field string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot assign to read-only field %q: %s", e.Field, ErrReadOnly)
}

func (e *WriteError) Unwrap() error { return ErrReadOnly }

// ReadOnly is an explicit read-only projection over a dependency's
// serialized state. Reads resolve against the underlying value; every write
// fails with a *WriteError. Nested structured values project as ReadOnly as
// well, so the guarantee holds at any depth.
type ReadOnly struct {
	val cty.Value
}

// NewReadOnly wraps a serialized state value in a read-only projection.
func NewReadOnly(v cty.Value) ReadOnly {
	return ReadOnly{val: v}
}

// Value returns the underlying serialized state.
func (r ReadOnly) Value() cty.Value { return r.val }

// Get resolves a field by name. An absent field yields a null value, not an
// error: dependency reads are best-effort by design.
func (r ReadOnly) Get(field string) (cty.Value, error) {
	if r.val.IsNull() {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	ty := r.val.Type()
	switch {
	case ty.IsObjectType():
		if !ty.HasAttribute(field) {
			return cty.NullVal(cty.DynamicPseudoType), nil
		}
		return r.val.GetAttr(field), nil
	case ty.IsMapType():
		if !r.val.HasIndex(cty.StringVal(field)).True() {
			return cty.NullVal(cty.DynamicPseudoType), nil
		}
		return r.val.Index(cty.StringVal(field)), nil
	default:
		return cty.NilVal, fmt.Errorf("field %q: value of type %s has no fields", field, ty.FriendlyName())
	}
}

// Project resolves a field by name and wraps the result in another ReadOnly
// so that nested writes are rejected too.
func (r ReadOnly) Project(field string) (ReadOnly, error) {
	v, err := r.Get(field)
	if err != nil {
		return ReadOnly{}, err
	}
	return NewReadOnly(v), nil
}

// Set always fails. A dependency mutation attempt must surface as an error
// the caller can observe, never as a silent no-op.
func (r ReadOnly) Set(field string, _ cty.Value) error {
	return &WriteError{Field: field}
}
