package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// MethodFunc implements a method for some argument types. ok is false
// when the arguments are not handled, so the next implementation is tried.
type MethodFunc func(args []Value) (result Value, ok bool, err error)

// MethodTable maps methods to their implementations.
type MethodTable struct {
	impls map[*runtime.Method][]MethodFunc
}

// NewMethodTable creates an empty table.
func NewMethodTable() *MethodTable {
	return &MethodTable{impls: make(map[*runtime.Method][]MethodFunc)}
}

// Define adds an implementation of name. Later definitions are tried
// first.
func (t *MethodTable) Define(name string, fn MethodFunc) {
	m := runtime.MethodFor(name)
	t.impls[m] = append([]MethodFunc{fn}, t.impls[m]...)
}

// Call dispatches m on args.
func (t *MethodTable) Call(m *runtime.Method, args []Value) (Value, error) {
	for _, fn := range t.impls[m] {
		v, ok, err := fn(args)
		if err != nil {
			return nil, raised(err)
		}
		if ok {
			return v, nil
		}
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = typeName(a)
	}
	return nil, errorf("MethodError", "no method %s for (%s)", m.Name, strings.Join(parts, ", "))
}

func typeName(v Value) string {
	switch v.(type) {
	case nil:
		return "nil"
	case int64:
		return "integer"
	case float64:
		return "real"
	case string:
		return "string"
	case runtime.Tuple:
		return "tuple"
	case []Value:
		return "list"
	case *Map:
		return "map"
	case *Closure, *runtime.Builtin:
		return "function"
	case *Error:
		return "error"
	}
	return fmt.Sprintf("%T", v)
}

// DefaultMethods returns a table with arithmetic, comparison, indexing
// and membership.
func DefaultMethods() *MethodTable {
	t := NewMethodTable()
	arith := func(name string, ints func(a, b int64) (Value, error), reals func(a, b float64) Value) {
		t.Define(name, func(args []Value) (Value, bool, error) {
			if len(args) != 2 {
				return nil, false, nil
			}
			if a, ok := args[0].(int64); ok {
				if b, ok := args[1].(int64); ok {
					v, err := ints(a, b)
					return v, true, err
				}
			}
			a, aok := toReal(args[0])
			b, bok := toReal(args[1])
			if aok && bok {
				return reals(a, b), true, nil
			}
			return nil, false, nil
		})
	}
	arith("+", func(a, b int64) (Value, error) { return a + b, nil }, func(a, b float64) Value { return a + b })
	arith("-", func(a, b int64) (Value, error) { return a - b, nil }, func(a, b float64) Value { return a - b })
	arith("*", func(a, b int64) (Value, error) { return a * b, nil }, func(a, b float64) Value { return a * b })
	arith("/", func(a, b int64) (Value, error) {
		if b == 0 {
			return nil, errorf("ValueError", "division by zero")
		}
		if a%b == 0 {
			return a / b, nil
		}
		return float64(a) / float64(b), nil
	}, func(a, b float64) Value { return a / b })
	arith("%", func(a, b int64) (Value, error) {
		if b == 0 {
			return nil, errorf("ValueError", "division by zero")
		}
		return a % b, nil
	}, func(a, b float64) Value { return math.Mod(a, b) })
	arith("//", func(a, b int64) (Value, error) {
		if b == 0 {
			return nil, errorf("ValueError", "division by zero")
		}
		return a / b, nil
	}, func(a, b float64) Value { return math.Floor(a / b) })

	t.Define("-", func(args []Value) (Value, bool, error) {
		if len(args) != 1 {
			return nil, false, nil
		}
		switch a := args[0].(type) {
		case int64:
			return -a, true, nil
		case float64:
			return -a, true, nil
		}
		return nil, false, nil
	})
	t.Define("+", func(args []Value) (Value, bool, error) {
		if len(args) != 2 {
			return nil, false, nil
		}
		a, aok := args[0].(string)
		b, bok := args[1].(string)
		if !aok || !bok {
			return nil, false, nil
		}
		return a + b, true, nil
	})

	// Comparisons return their right operand when they hold, nil otherwise.
	compare := func(name string, holds func(c int) bool) {
		t.Define(name, func(args []Value) (Value, bool, error) {
			if len(args) != 2 {
				return nil, false, nil
			}
			c, ok := compareValues(args[0], args[1])
			if !ok {
				return nil, false, nil
			}
			if holds(c) {
				return args[1], true, nil
			}
			return nil, true, nil
		})
	}
	compare("<", func(c int) bool { return c < 0 })
	compare("<=", func(c int) bool { return c <= 0 })
	compare(">", func(c int) bool { return c > 0 })
	compare(">=", func(c int) bool { return c >= 0 })

	equal := func(args []Value) (bool, bool) {
		if len(args) != 2 {
			return false, false
		}
		if c, ok := compareValues(args[0], args[1]); ok {
			return c == 0, true
		}
		if hashable(args[0]) && hashable(args[1]) {
			return args[0] == args[1], true
		}
		return false, false
	}
	t.Define("=", func(args []Value) (Value, bool, error) {
		eq, ok := equal(args)
		if !ok {
			return nil, false, nil
		}
		if eq {
			return args[1], true, nil
		}
		return nil, true, nil
	})
	t.Define("!=", func(args []Value) (Value, bool, error) {
		eq, ok := equal(args)
		if !ok {
			return nil, false, nil
		}
		if !eq {
			return args[1], true, nil
		}
		return nil, true, nil
	})

	t.Define("[]", func(args []Value) (Value, bool, error) {
		if len(args) != 2 {
			return nil, false, nil
		}
		switch s := args[0].(type) {
		case *Map:
			v, _ := s.Get(args[1])
			return v, true, nil
		case runtime.Tuple:
			return index([]Value(s), args[1])
		case []Value:
			return index(s, args[1])
		}
		return nil, false, nil
	})
	t.Define("in", func(args []Value) (Value, bool, error) {
		if len(args) != 2 {
			return nil, false, nil
		}
		it, err := iterate(args[1])
		if err != nil {
			return nil, false, nil
		}
		src := it.values
		if m, ok := args[1].(*Map); ok {
			src = m.keys
		}
		for _, v := range src {
			if eq, ok := equal([]Value{args[0], v}); ok && eq {
				return args[0], true, nil
			}
		}
		return nil, true, nil
	})
	t.Define("count", func(args []Value) (Value, bool, error) {
		if len(args) != 1 {
			return nil, false, nil
		}
		switch s := args[0].(type) {
		case string:
			return int64(len(s)), true, nil
		case runtime.Tuple:
			return int64(len(s)), true, nil
		case []Value:
			return int64(len(s)), true, nil
		case *Map:
			return int64(s.Len()), true, nil
		}
		return nil, false, nil
	})
	// export returns the value of the block after the names tuple.
	t.Define("export", func(args []Value) (Value, bool, error) {
		if len(args) != 2 {
			return nil, false, nil
		}
		return args[1], true, nil
	})
	return t
}

func toReal(v Value) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareValues(a, b Value) (int, bool) {
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
		return 0, false
	}
	x, xok := toReal(a)
	y, yok := toReal(b)
	if !xok || !yok {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}

// index is 1-based; negative indices count from the end.
func index(s []Value, i Value) (Value, bool, error) {
	n, ok := i.(int64)
	if !ok {
		return nil, false, nil
	}
	if n < 0 {
		n += int64(len(s)) + 1
	}
	if n < 1 || n > int64(len(s)) {
		return nil, true, nil
	}
	return s[n-1], true, nil
}

// ---------------------------------------------------------------------------
// Prelude
// ---------------------------------------------------------------------------

// Prelude returns globals for running programs: constructors, raise and
// macro.
func Prelude() *runtime.Globals {
	g := runtime.NewGlobals(nil)
	builtin := func(name string, fn func(args []Value) (Value, error)) {
		g.Define(name, &runtime.Builtin{Name: name, Fn: fn})
	}
	builtin("tuple", func(args []Value) (Value, error) {
		return runtime.Tuple(append([]Value(nil), args...)), nil
	})
	builtin("list", func(args []Value) (Value, error) {
		return append([]Value{}, args...), nil
	})
	builtin("string", func(args []Value) (Value, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(toString(a))
		}
		return sb.String(), nil
	})
	builtin("raise", func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, errorf("CallError", "raise expects a type and a message")
		}
		return nil, &Error{Type: toString(args[0]), Message: toString(args[1])}
	})
	builtin("error", func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, errorf("CallError", "error expects a type and a message")
		}
		return &Error{Type: toString(args[0]), Message: toString(args[1])}, nil
	})
	builtin("macro", func(args []Value) (Value, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, errorf("CallError", "macro expects a function and an optional arity")
		}
		arity := int64(-1)
		if len(args) == 2 {
			n, ok := args[1].(int64)
			if !ok {
				return nil, errorf("TypeError", "macro arity must be an integer")
			}
			arity = n
		}
		return &runtime.Macro{Name: "macro", Fn: args[0], Arity: int(arity)}, nil
	})
	return g
}
