package bytecode

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// WireVersion is bumped whenever the encoding of Func changes.
const WireVersion = 2

// ErrUnencodable is returned when a function embeds a constant that has no
// wire representation (host functions, macros, expression handles).
var ErrUnencodable = errors.New("bytecode: constant has no wire representation")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type valueKind uint8

const (
	valNil valueKind = iota
	valBool
	valInt
	valReal
	valComplex
	valString
	valBytes
	valTuple
	valMethod
	valSymbol
)

type wireValue struct {
	K valueKind   `cbor:"1,keyasint"`
	B bool        `cbor:"2,keyasint,omitempty"`
	I int64       `cbor:"3,keyasint,omitempty"`
	F []float64   `cbor:"4,keyasint,omitempty"`
	S string      `cbor:"5,keyasint,omitempty"`
	X []byte      `cbor:"6,keyasint,omitempty"`
	T []wireValue `cbor:"7,keyasint,omitempty"`
}

type wireInst struct {
	Op     Opcode     `cbor:"1,keyasint"`
	Line   int        `cbor:"2,keyasint"`
	Target int        `cbor:"3,keyasint,omitempty"`
	Count  int        `cbor:"4,keyasint,omitempty"`
	Value  *wireValue `cbor:"5,keyasint,omitempty"`
	Chars  string     `cbor:"6,keyasint,omitempty"`
	Decls  []DeclInfo `cbor:"7,keyasint,omitempty"`
	Table  []int      `cbor:"8,keyasint,omitempty"`
	Func   *wireFunc  `cbor:"9,keyasint,omitempty"`
}

type wireFunc struct {
	Version   int        `cbor:"1,keyasint"`
	Source    string     `cbor:"2,keyasint"`
	StartLine int        `cbor:"3,keyasint"`
	EndLine   int        `cbor:"4,keyasint"`
	Entry     int        `cbor:"5,keyasint"`
	FrameSize int        `cbor:"6,keyasint"`
	NumParams int        `cbor:"7,keyasint"`
	Flags     FuncFlags  `cbor:"8,keyasint"`
	Params    []string   `cbor:"9,keyasint,omitempty"`
	Decls     []DeclInfo `cbor:"10,keyasint,omitempty"`
	Upvalues  []int      `cbor:"11,keyasint,omitempty"`
	BlockSize int        `cbor:"12,keyasint"`
	Code      []wireInst `cbor:"13,keyasint"`
}

// Marshal serializes fn and its nested closures to canonical CBOR.
func Marshal(fn *Func) ([]byte, error) {
	w, err := toWire(fn)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(w)
}

// Unmarshal deserializes a function produced by Marshal.
func Unmarshal(data []byte) (*Func, error) {
	var w wireFunc
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal func: %w", err)
	}
	return fromWire(&w)
}

func toWire(fn *Func) (*wireFunc, error) {
	w := &wireFunc{
		Version:   WireVersion,
		Source:    fn.Source,
		StartLine: fn.StartLine,
		EndLine:   fn.EndLine,
		Entry:     fn.Entry,
		FrameSize: fn.FrameSize,
		NumParams: fn.NumParams,
		Flags:     fn.Flags,
		Params:    fn.Params,
		Decls:     fn.Decls,
		Upvalues:  fn.Upvalues,
	}
	if fn.Code == nil {
		return w, nil
	}
	w.BlockSize = fn.Code.BlockSize
	var err error
	fn.Code.Walk(func(addr int, in *Inst) {
		if err != nil {
			return
		}
		wi := wireInst{Op: in.Op, Line: in.Line, Target: in.Target, Count: in.Count,
			Chars: in.Chars, Decls: in.Decls, Table: in.Table}
		if in.Op == OpConst || in.Op == OpConstCall || in.Op == OpResolve || in.Op == OpQuote {
			var v wireValue
			if v, err = encodeValue(in.Value); err != nil {
				err = fmt.Errorf("bytecode: %s:%d at %d: %w", fn.Source, in.Line, addr, err)
				return
			}
			wi.Value = &v
		}
		if in.Func != nil {
			if wi.Func, err = toWire(in.Func); err != nil {
				return
			}
		}
		w.Code = append(w.Code, wi)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func fromWire(w *wireFunc) (*Func, error) {
	if w.Version != WireVersion {
		return nil, fmt.Errorf("bytecode: wire version %d, want %d", w.Version, WireVersion)
	}
	fn := &Func{
		Source:    w.Source,
		StartLine: w.StartLine,
		EndLine:   w.EndLine,
		Entry:     w.Entry,
		FrameSize: w.FrameSize,
		NumParams: w.NumParams,
		Flags:     w.Flags,
		Params:    w.Params,
		Decls:     w.Decls,
		Upvalues:  w.Upvalues,
	}
	if w.BlockSize <= 0 {
		return fn, nil
	}
	code := &Code{BlockSize: w.BlockSize}
	for i, wi := range w.Code {
		b := i / w.BlockSize
		if b == len(code.Blocks) {
			code.Blocks = append(code.Blocks, make([]Inst, 0, w.BlockSize))
		}
		in := Inst{Op: wi.Op, Line: wi.Line, Target: wi.Target, Count: wi.Count,
			Chars: wi.Chars, Decls: wi.Decls, Table: wi.Table}
		if wi.Value != nil {
			v, err := decodeValue(*wi.Value)
			if err != nil {
				return nil, err
			}
			in.Value = v
		}
		if wi.Func != nil {
			f, err := fromWire(wi.Func)
			if err != nil {
				return nil, err
			}
			in.Func = f
		}
		code.Blocks[b] = append(code.Blocks[b], in)
	}
	fn.Code = code
	return fn, nil
}

func encodeValue(v runtime.Value) (wireValue, error) {
	switch v := v.(type) {
	case nil:
		return wireValue{K: valNil}, nil
	case bool:
		return wireValue{K: valBool, B: v}, nil
	case int64:
		return wireValue{K: valInt, I: v}, nil
	case float64:
		return wireValue{K: valReal, F: []float64{v}}, nil
	case complex128:
		return wireValue{K: valComplex, F: []float64{real(v), imag(v)}}, nil
	case string:
		return wireValue{K: valString, S: v}, nil
	case []byte:
		return wireValue{K: valBytes, X: v}, nil
	case runtime.Symbol:
		return wireValue{K: valSymbol, S: string(v)}, nil
	case *runtime.Method:
		return wireValue{K: valMethod, S: v.Name}, nil
	case runtime.Tuple:
		w := wireValue{K: valTuple, T: make([]wireValue, len(v))}
		for i, e := range v {
			ev, err := encodeValue(e)
			if err != nil {
				return wireValue{}, err
			}
			w.T[i] = ev
		}
		return w, nil
	}
	return wireValue{}, fmt.Errorf("%w: %T", ErrUnencodable, v)
}

func decodeValue(w wireValue) (runtime.Value, error) {
	switch w.K {
	case valNil:
		return nil, nil
	case valBool:
		return w.B, nil
	case valInt:
		return w.I, nil
	case valReal:
		if len(w.F) != 1 {
			return nil, fmt.Errorf("bytecode: malformed real constant")
		}
		return w.F[0], nil
	case valComplex:
		if len(w.F) != 2 {
			return nil, fmt.Errorf("bytecode: malformed complex constant")
		}
		return complex(w.F[0], w.F[1]), nil
	case valString:
		return w.S, nil
	case valBytes:
		if w.X == nil {
			return []byte{}, nil
		}
		return w.X, nil
	case valSymbol:
		return runtime.Symbol(w.S), nil
	case valMethod:
		return runtime.MethodFor(w.S), nil
	case valTuple:
		t := make(runtime.Tuple, len(w.T))
		for i, e := range w.T {
			v, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			t[i] = v
		}
		return t, nil
	}
	return nil, fmt.Errorf("bytecode: unknown constant kind %d", w.K)
}
