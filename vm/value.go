package vm

import (
	"fmt"
	"strings"

	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// Value is a runtime value.
type Value = runtime.Value

// Closure is a compiled function with its captured values.
type Closure struct {
	Func     *bytecode.Func
	Upvalues []Value
}

func (c *Closure) String() string {
	return fmt.Sprintf("<closure %s:%d>", c.Func.Source, c.Func.StartLine)
}

// Error is a raised error. Type is matched against the types of on
// clauses.
type Error struct {
	Type    string
	Message string
}

func (e *Error) Error() string { return e.Type + ": " + e.Message }

func (e *Error) String() string { return "error(" + e.Type + ", " + e.Message + ")" }

func errorf(typ, format string, args ...any) *Error {
	return &Error{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// Map is an insertion-ordered map.
type Map struct {
	keys   []Value
	values []Value
	index  map[Value]int
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{index: make(map[Value]int)}
}

func hashable(v Value) bool {
	switch v.(type) {
	case nil, bool, int64, float64, complex128, string, runtime.Symbol, *runtime.Method:
		return true
	}
	return false
}

// Insert sets key to value.
func (m *Map) Insert(key, value Value) error {
	if !hashable(key) {
		return errorf("TypeError", "%s cannot be a map key", runtime.Repr(key))
	}
	if i, ok := m.index[key]; ok {
		m.values[i] = value
		return nil
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
	return nil
}

// Get returns the value stored under key.
func (m *Map) Get(key Value) (Value, bool) {
	if !hashable(key) {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.values[i], true
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Resolve implements runtime.Namespace over string keys.
func (m *Map) Resolve(name string) (Value, bool) { return m.Get(name) }

func (m *Map) String() string {
	parts := make([]string, len(m.keys))
	for i, k := range m.keys {
		parts[i] = runtime.Repr(k) + " is " + runtime.Repr(m.values[i])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// cell is the placeholder read through a let that is still being
// initialized, or a variable shared between a frame and its closures.
// Closures capture the cell and see the value once set.
type cell struct {
	value Value
	set   bool
}

func (c *cell) String() string {
	if !c.set {
		return "<uninitialized>"
	}
	return runtime.Repr(c.value)
}

// store assigns v to a slot holding old, writing through a shared
// variable.
func store(old, v Value) Value {
	if c, ok := old.(*cell); ok && c.set {
		c.value = v
		return c
	}
	return v
}

// deref reads through placeholders.
func deref(v Value) Value {
	switch p := v.(type) {
	case *cell:
		if p.set {
			return p.value
		}
	case *runtime.Forward:
		if fv, ok := p.Get(); ok {
			return fv
		}
	}
	return v
}

// iterator walks the keys and values of a sequence.
type iterator struct {
	keys   []Value
	values []Value
	i      int
}

func iterate(v Value) (*iterator, error) {
	switch s := v.(type) {
	case runtime.Tuple:
		return indexed([]Value(s)), nil
	case []Value:
		return indexed(s), nil
	case string:
		var vals []Value
		for _, r := range s {
			vals = append(vals, string(r))
		}
		return indexed(vals), nil
	case *Map:
		return &iterator{keys: s.keys, values: s.values}, nil
	case nil:
		return &iterator{}, nil
	}
	return nil, errorf("TypeError", "%s is not iterable", runtime.Repr(v))
}

// indexed iterates with 1-based integer keys.
func indexed(vals []Value) *iterator {
	keys := make([]Value, len(vals))
	for i := range vals {
		keys[i] = int64(i + 1)
	}
	return &iterator{keys: keys, values: vals}
}

func (it *iterator) done() bool { return it.i >= len(it.values) }
