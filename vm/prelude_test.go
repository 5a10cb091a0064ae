package vm

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

func call(t *testing.T, m *MethodTable, name string, args ...Value) (Value, error) {
	t.Helper()
	return m.Call(runtime.MethodFor(name), args)
}

func TestArithmetic(t *testing.T) {
	m := DefaultMethods()
	tests := []struct {
		op   string
		a, b Value
		want Value
	}{
		{"+", int64(2), int64(3), int64(5)},
		{"+", int64(2), 0.5, 2.5},
		{"-", int64(2), int64(3), int64(-1)},
		{"*", 1.5, int64(2), 3.0},
		{"/", int64(9), int64(3), int64(3)},
		{"/", int64(1), int64(4), 0.25},
		{"%", int64(7), int64(3), int64(1)},
		{"//", int64(7), int64(2), int64(3)},
		{"//", 7.0, 2.0, 3.0},
		{"+", "a", "b", "ab"},
	}
	for _, tt := range tests {
		got, err := call(t, m, tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%v %s %v error = %v", tt.a, tt.op, tt.b, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%v %s %v = %v, want %v", tt.a, tt.op, tt.b, got, tt.want)
		}
	}
}

func TestDivisionByZero(t *testing.T) {
	m := DefaultMethods()
	for _, op := range []string{"/", "%", "//"} {
		_, err := call(t, m, op, int64(1), int64(0))
		var e *Error
		if !errors.As(err, &e) || e.Type != "ValueError" {
			t.Errorf("1 %s 0 error = %v, want ValueError", op, err)
		}
	}
}

func TestComparisons(t *testing.T) {
	m := DefaultMethods()
	tests := []struct {
		op   string
		a, b Value
		want Value
	}{
		{"<", int64(1), int64(2), int64(2)},
		{"<", int64(2), int64(1), nil},
		{"<=", int64(2), 2.0, 2.0},
		{">", "b", "a", "a"},
		{">=", int64(1), int64(2), nil},
		{"=", "x", "x", "x"},
		{"=", int64(1), 1.0, 1.0},
		{"=", int64(1), "1", nil},
		{"!=", int64(1), int64(2), int64(2)},
		{"!=", int64(1), int64(1), nil},
	}
	for _, tt := range tests {
		got, err := call(t, m, tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%v %s %v error = %v", tt.a, tt.op, tt.b, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%v %s %v = %v, want %v", tt.a, tt.op, tt.b, got, tt.want)
		}
	}
}

func TestNoMethod(t *testing.T) {
	_, err := call(t, DefaultMethods(), "*", "a", int64(2))
	var e *Error
	if !errors.As(err, &e) || e.Type != "MethodError" {
		t.Fatalf("error = %v, want MethodError", err)
	}
	if e.Message != "no method * for (string, integer)" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestDefineOverrides(t *testing.T) {
	m := DefaultMethods()
	m.Define("+", func(args []Value) (Value, bool, error) {
		if s, ok := args[0].(string); ok && s == "magic" {
			return "override", true, nil
		}
		return nil, false, nil
	})
	if got, _ := call(t, m, "+", "magic", "x"); got != "override" {
		t.Errorf("magic + x = %v, want override", got)
	}
	if got, _ := call(t, m, "+", int64(1), int64(1)); got != int64(2) {
		t.Errorf("1 + 1 = %v, want 2", got)
	}
}

func TestIndex(t *testing.T) {
	m := DefaultMethods()
	list := []Value{"a", "b", "c"}
	tests := []struct {
		i    Value
		want Value
	}{
		{int64(1), "a"},
		{int64(3), "c"},
		{int64(-1), "c"},
		{int64(-3), "a"},
		{int64(0), nil},
		{int64(4), nil},
	}
	for _, tt := range tests {
		got, err := call(t, m, "[]", list, tt.i)
		if err != nil || got != tt.want {
			t.Errorf("list[%v] = %v, %v, want %v", tt.i, got, err, tt.want)
		}
	}
}

func TestMap(t *testing.T) {
	mp := NewMap()
	if err := mp.Insert("b", int64(1)); err != nil {
		t.Fatal(err)
	}
	if err := mp.Insert("a", int64(2)); err != nil {
		t.Fatal(err)
	}
	if err := mp.Insert("b", int64(3)); err != nil {
		t.Fatal(err)
	}
	if mp.Len() != 2 {
		t.Errorf("Len() = %d, want 2", mp.Len())
	}
	if v, ok := mp.Get("b"); !ok || v != int64(3) {
		t.Errorf("Get(b) = %v, %v, want 3, true", v, ok)
	}
	if got := mp.String(); got != `{"b" is 3, "a" is 2}` {
		t.Errorf("String() = %s", got)
	}
	if err := mp.Insert([]Value{}, nil); err == nil {
		t.Error("Insert accepted a list key")
	}
	if v, ok := mp.Resolve("a"); !ok || v != int64(2) {
		t.Errorf("Resolve(a) = %v, %v, want 2, true", v, ok)
	}
}

func TestIterate(t *testing.T) {
	it, err := iterate("hé")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(it.values, []Value{"h", "é"}) {
		t.Errorf("values = %v", it.values)
	}
	if !reflect.DeepEqual(it.keys, []Value{int64(1), int64(2)}) {
		t.Errorf("keys = %v", it.keys)
	}
	if _, err := iterate(int64(1)); err == nil {
		t.Error("iterate(1) succeeded, want TypeError")
	}
	it, _ = iterate(nil)
	if !it.done() {
		t.Error("iterate(nil) is not done")
	}
}

func TestPreludeBuiltins(t *testing.T) {
	g := Prelude()
	in := NewInterpreter(context.Background(), nil)
	lookup := func(name string) Value {
		v, ok, err := g.Lookup(name)
		if !ok || err != nil {
			t.Fatalf("Lookup(%s) = %v, %v", name, ok, err)
		}
		return v
	}

	got, err := in.Call(lookup("tuple"), []Value{int64(1), "a"})
	if err != nil || !reflect.DeepEqual(got, runtime.Tuple{int64(1), "a"}) {
		t.Errorf("tuple(1, a) = %v, %v", got, err)
	}
	got, err = in.Call(lookup("string"), []Value{"n=", int64(3)})
	if err != nil || got != "n=3" {
		t.Errorf("string(n=, 3) = %v, %v", got, err)
	}
	_, err = in.Call(lookup("raise"), []Value{"Boom", "bad"})
	var e *Error
	if !errors.As(err, &e) || e.Type != "Boom" || e.Message != "bad" {
		t.Errorf("raise error = %v, want Boom: bad", err)
	}
	got, err = in.Call(lookup("macro"), []Value{lookup("list"), int64(2)})
	m, ok := got.(*runtime.Macro)
	if err != nil || !ok || m.Arity != 2 {
		t.Errorf("macro(list, 2) = %v, %v", got, err)
	}
	if _, err := in.Call(lookup("macro"), nil); err == nil {
		t.Error("macro() succeeded, want CallError")
	}
}
