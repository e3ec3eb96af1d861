package vm

import (
	"fmt"

	"github.com/clockwork-mesh/clockwork/internal/errdefs"
)

// maxStackDepth bounds every LIFO stack in the VM at 254 entries.
const maxStackDepth = 254

// boundedStack is a fixed-depth LIFO used for dstack/istack/tstack
// (uint32 payloads) and rstack (register-file snapshots).
type boundedStack[T any] struct {
	name string
	vals []T
}

func newBoundedStack[T any](name string) *boundedStack[T] {
	return &boundedStack[T]{name: name, vals: make([]T, 0, maxStackDepth)}
}

func (s *boundedStack[T]) push(v T) error {
	if len(s.vals) >= maxStackDepth {
		return fmt.Errorf("%w: %s overflow at depth %d", errdefs.ErrFailedPrecondition, s.name, maxStackDepth)
	}
	s.vals = append(s.vals, v)
	return nil
}

func (s *boundedStack[T]) pop() (T, error) {
	var zero T
	if len(s.vals) == 0 {
		return zero, fmt.Errorf("%w: %s underflow", errdefs.ErrFailedPrecondition, s.name)
	}
	v := s.vals[len(s.vals)-1]
	s.vals = s.vals[:len(s.vals)-1]
	return v, nil
}

func (s *boundedStack[T]) peek() (T, bool) {
	var zero T
	if len(s.vals) == 0 {
		return zero, false
	}
	return s.vals[len(s.vals)-1], true
}

func (s *boundedStack[T]) empty() bool { return len(s.vals) == 0 }
func (s *boundedStack[T]) len() int    { return len(s.vals) }

// regSnapshot is one saved register file, pushed to rstack framing a
// call/try so ret/bail can restore the caller's registers.
type regSnapshot [16]uint32
