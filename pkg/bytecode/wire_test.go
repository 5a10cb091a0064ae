package bytecode

import (
	"errors"
	"testing"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

func sampleFunc() *Func {
	inner := NewBuilder(4)
	inner.Emit(3, OpUpvalue).Count = 0
	inner.Emit(3, OpReturn)
	innerCode, _ := inner.Finish()

	b := NewBuilder(4)
	b.Emit(1, OpConst).Value = runtime.Tuple{int64(1), 2.5, complex(0, 3), "s", []byte("b")}
	b.Emit(1, OpPop)
	in := b.Emit(2, OpConstCall)
	in.Value, in.Count = runtime.MethodFor("+"), 0
	b.Emit(2, OpPop)
	b.Emit(3, OpClosure).Func = &Func{Source: "t", StartLine: 3, FrameSize: 1, Upvalues: []int{0}, Code: innerCode}
	b.Emit(4, OpReturn)
	code, _ := b.Finish()
	return &Func{Source: "t", StartLine: 1, EndLine: 4, FrameSize: 2, Params: []string{"x"}, NumParams: 1, Code: code}
}

func TestWireRoundTrip(t *testing.T) {
	fn := sampleFunc()
	data, err := Marshal(fn)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if a, b := Disassemble(fn), Disassemble(got); a != b {
		t.Errorf("listing differs after round trip:\n%s\n---\n%s", a, b)
	}
	if m := got.Code.At(2).Value; m != runtime.MethodFor("+") {
		t.Errorf("method constant = %v, want interned +", m)
	}
}

func TestWireDeterministic(t *testing.T) {
	a, _ := Marshal(sampleFunc())
	b, _ := Marshal(sampleFunc())
	if string(a) != string(b) {
		t.Error("encoding is not deterministic")
	}
}

func TestWireUnencodable(t *testing.T) {
	b := NewBuilder(0)
	b.Emit(1, OpConst).Value = &runtime.Builtin{Name: "print"}
	b.Emit(1, OpReturn)
	code, _ := b.Finish()
	_, err := Marshal(&Func{Source: "t", Code: code})
	if !errors.Is(err, ErrUnencodable) {
		t.Errorf("Marshal() error = %v, want ErrUnencodable", err)
	}
}
