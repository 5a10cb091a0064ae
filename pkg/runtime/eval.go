package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Evaluator runs user code on behalf of the compiler: macro functions,
// def initializers and inline :(...) expressions.
//
// Call may invoke k before returning or at any later time, from any
// goroutine, but must invoke it exactly once.
type Evaluator interface {
	Call(ctx context.Context, fn Value, args []Value, k func(Value, error))
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, fn Value, args []Value, k func(Value, error))

// Call implements Evaluator.
func (f EvaluatorFunc) Call(ctx context.Context, fn Value, args []Value, k func(Value, error)) {
	f(ctx, fn, args, k)
}

// GlobalResolver resolves identifiers that are not declared in any
// enclosing scope. The bool result reports whether name exists.
type GlobalResolver interface {
	Lookup(name string) (Value, bool, error)
}

// ResolverFunc adapts a function to the GlobalResolver interface.
type ResolverFunc func(name string) (Value, bool, error)

// Lookup implements GlobalResolver.
func (f ResolverFunc) Lookup(name string) (Value, bool, error) { return f(name) }

// Globals is a concurrency-safe map of global names.
type Globals struct {
	mu     sync.RWMutex
	values map[string]Value
	parent GlobalResolver
}

// NewGlobals creates an empty table. Names missing from it are looked up
// in parent when parent is non-nil.
func NewGlobals(parent GlobalResolver) *Globals {
	return &Globals{values: make(map[string]Value), parent: parent}
}

// Define binds name, replacing any previous binding.
func (g *Globals) Define(name string, v Value) {
	g.mu.Lock()
	g.values[name] = v
	g.mu.Unlock()
}

// Lookup implements GlobalResolver.
func (g *Globals) Lookup(name string) (Value, bool, error) {
	g.mu.RLock()
	v, ok := g.values[name]
	g.mu.RUnlock()
	if ok {
		return v, true, nil
	}
	if g.parent != nil {
		return g.parent.Lookup(name)
	}
	return nil, false, nil
}

// Names returns the names defined directly in g, sorted.
func (g *Globals) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.values))
	for name := range g.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NoEvaluator rejects every call. It is the default when a compilation
// is not given an evaluator, so def and macros fail cleanly.
var NoEvaluator Evaluator = EvaluatorFunc(func(_ context.Context, fn Value, _ []Value, k func(Value, error)) {
	k(nil, fmt.Errorf("no evaluator available to call %s", Repr(fn)))
})

// Namespace is implemented by values whose members can be looked up with
// x::name while compiling, such as modules bound as globals.
type Namespace interface {
	Resolve(name string) (Value, bool)
}

// Resolve implements Namespace over the names defined directly in g.
func (g *Globals) Resolve(name string) (Value, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.values[name]
	return v, ok
}
