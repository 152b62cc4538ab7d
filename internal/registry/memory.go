package registry

import (
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// MemorySource is a StateSource holding its value directly. Go-native
// modules and tests use it; script-backed modules get their source from the
// script binding instead.
type MemorySource struct {
	mu  sync.Mutex
	val cty.Value
}

// NewMemorySource returns a source holding the given initial state.
func NewMemorySource(v cty.Value) *MemorySource {
	return &MemorySource{val: v}
}

// Snapshot implements StateSource.
func (s *MemorySource) Snapshot() (cty.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, nil
}

// Restore implements StateSource.
func (s *MemorySource) Restore(v cty.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = v
	return nil
}
