// Package runtime defines the boundary between the compiler and the
// runtime that executes what it produces: the value representation,
// the evaluator used for compile-time calls, and global resolution.
package runtime

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Value is any runtime value. The compiler only ever embeds values as
// constants; it never inspects them beyond the types declared here.
//
// Literal values produced by the lexer are nil, int64, float64,
// complex128, string and []byte.
type Value = any

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// Method is an interned method name. Operators, indexing and x:name(...)
// calls all compile to a call of a Method constant.
type Method struct {
	Name string
}

func (m *Method) String() string { return ":" + m.Name }

var methods sync.Map // string -> *Method

// MethodFor returns the unique Method for name.
func MethodFor(name string) *Method {
	if m, ok := methods.Load(name); ok {
		return m.(*Method)
	}
	m, _ := methods.LoadOrStore(name, &Method{Name: name})
	return m.(*Method)
}

// ---------------------------------------------------------------------------
// Compile-time values
// ---------------------------------------------------------------------------

// Macro wraps a function that is called at compile time with unevaluated
// argument expressions and must return a replacement expression.
// Arity < 0 accepts any number of arguments.
type Macro struct {
	Name  string
	Fn    Value
	Arity int
}

func (m *Macro) String() string { return "macro " + m.Name }

// Forward is the placeholder embedded for a def constant that is referenced
// before its initializer has finished. The runtime reads it through Get once
// the compiler has called Set.
type Forward struct {
	Name  string
	mu    sync.RWMutex
	value Value
	set   bool
}

// Set binds the placeholder. A second call is ignored.
func (f *Forward) Set(v Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return
	}
	f.value, f.set = v, true
}

// Get returns the bound value and whether Set has been called.
func (f *Forward) Get() (Value, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, f.set
}

func (f *Forward) String() string { return "forward " + f.Name }

// Builtin is a host function callable from compiled code.
type Builtin struct {
	Name string
	Fn   func(args []Value) (Value, error)
}

func (b *Builtin) String() string { return "builtin " + b.Name }

// Tuple is an immutable sequence of values.
type Tuple []Value

// Symbol names a declaration in a destructuring "in" binding.
type Symbol string

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// Repr returns a source-like rendering of v, used by disassembly and the REPL.
func Repr(v Value) string {
	switch v := v.(type) {
	case nil:
		return "nil"
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return s
	case complex128:
		if real(v) == 0 {
			return strconv.FormatFloat(imag(v), 'g', -1, 64) + "i"
		}
		return fmt.Sprintf("(%g%+gi)", real(v), imag(v))
	case string:
		return strconv.Quote(v)
	case []byte:
		return "b" + strconv.Quote(string(v))
	case Symbol:
		return string(v)
	case Tuple:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = Repr(e)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case []Value:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = Repr(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("<%T>", v)
	}
}
