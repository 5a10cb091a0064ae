package hash

import (
	"encoding/binary"
	"math"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of expression trees.
//
// Encoding conventions:
//   - First byte: HashVersion
//   - Integers: big-endian fixed-width (int64=8B, uint32=4B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + bytes
//   - Sibling lists: uint32 count + nodes
//   - Absent optional children: TagAbsent
//
// Source positions are not serialized, so reformatting a program does not
// change its digest.
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of e.
func Serialize(e compiler.Expr) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.node(e)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) list(e compiler.Expr) {
	items := compiler.Siblings(e)
	s.writeUint32(uint32(len(items)))
	for _, item := range items {
		s.node(item)
	}
}

func (s *serializer) decls(ds []*compiler.DeclSpec) {
	s.writeUint32(uint32(len(ds)))
	for _, d := range ds {
		s.decl(d)
	}
}

func (s *serializer) decl(d *compiler.DeclSpec) {
	if d == nil {
		s.writeByte(TagAbsent)
		return
	}
	s.writeByte(TagDecl)
	s.writeString(d.Name)
}

func (s *serializer) params(ps []*compiler.Param, extra, named bool) {
	s.writeBool(extra)
	s.writeBool(named)
	s.writeUint32(uint32(len(ps)))
	for _, p := range ps {
		s.writeByte(TagParam)
		s.writeString(p.Name)
		s.node(p.Type)
	}
}

func (s *serializer) value(v runtime.Value) {
	switch v := v.(type) {
	case nil:
		s.writeByte(TagNil)
	case bool:
		s.writeByte(TagBool)
		s.writeBool(v)
	case int64:
		s.writeByte(TagInt)
		s.writeInt64(v)
	case float64:
		s.writeByte(TagReal)
		s.writeFloat64(v)
	case complex128:
		s.writeByte(TagComplex)
		s.writeFloat64(real(v))
		s.writeFloat64(imag(v))
	case string:
		s.writeByte(TagString)
		s.writeString(v)
	case []byte:
		s.writeByte(TagBytes)
		s.writeString(string(v))
	case runtime.Symbol:
		s.writeByte(TagSymbol)
		s.writeString(string(v))
	case *runtime.Method:
		s.writeByte(TagMethod)
		s.writeString(v.Name)
	case *runtime.Macro:
		s.writeByte(TagMacro)
		s.writeString(v.Name)
	case runtime.Tuple:
		s.writeByte(TagTuple)
		s.writeUint32(uint32(len(v)))
		for _, x := range v {
			s.value(x)
		}
	default:
		s.writeByte(TagOpaque)
		s.writeString(runtime.Repr(v))
	}
}

func (s *serializer) node(e compiler.Expr) {
	if e == nil {
		s.writeByte(TagAbsent)
		return
	}
	s.writeByte(KindTag(e.Kind()))
	switch n := e.(type) {
	case *compiler.NilExpr, *compiler.BlankExpr, *compiler.OldExpr,
		*compiler.NextExpr, *compiler.RetryExpr:

	case *compiler.ValueExpr:
		s.value(n.Value)

	case *compiler.IdentExpr:
		s.writeString(n.Name)

	case *compiler.StringExpr:
		s.list(n.Parts)

	case *compiler.AssignExpr:
		s.node(n.Target)
		s.node(n.Value)

	case *compiler.CallExpr:
		s.node(n.Fn)
		s.list(n.Args)

	case *compiler.ConstCallExpr:
		s.value(n.Fn)
		s.list(n.Args)

	case *compiler.ResolveExpr:
		s.node(n.Parent)
		s.writeString(n.Name)

	case *compiler.LogicExpr:
		s.node(n.Left)
		s.node(n.Right)

	case *compiler.NotExpr:
		s.node(n.Arg)

	case *compiler.IfExpr:
		for c := n.Cases; c != nil; c = c.Next {
			s.writeByte(TagIfCase)
			s.writeByte(byte(c.Bind))
			s.writeString(c.Name)
			s.node(c.Cond)
			s.node(c.Body)
		}
		s.writeByte(TagAbsent)
		s.node(n.Else)

	case *compiler.LoopExpr:
		s.node(n.Body)

	case *compiler.CondExitExpr:
		s.node(n.Cond)
		s.node(n.Value)

	case *compiler.ExitExpr:
		s.node(n.Value)

	case *compiler.RetExpr:
		s.node(n.Value)

	case *compiler.ForExpr:
		s.decl(n.Key)
		s.decls(n.Names)
		s.writeBool(n.Unpack)
		s.node(n.Seq)
		s.node(n.Body)
		s.node(n.Else)

	case *compiler.EachExpr:
		s.node(n.Seq)

	case *compiler.BlockExpr:
		s.decls(n.Vars)
		s.decls(n.Lets)
		s.decls(n.Defs)
		s.list(n.Body)
		for c := n.Catches; c != nil; c = c.Next {
			s.writeByte(TagOnClause)
			s.writeString(c.Name)
			s.list(c.Types)
			s.node(c.Body)
		}
		s.writeByte(TagAbsent)

	case *compiler.LocalExpr:
		s.decls(n.Decls)
		s.node(n.Value)

	case *compiler.FunExpr:
		s.params(n.Params, n.Extra, n.Named)
		s.node(n.Body)

	case *compiler.MethExpr:
		s.writeString(n.Name)
		s.params(n.Params, n.Extra, false)
		s.node(n.Body)

	case *compiler.SuspendExpr:
		s.node(n.Key)
		s.node(n.Value)

	case *compiler.WithExpr:
		s.decls(n.Decls)
		s.list(n.Values)
		s.node(n.Body)

	case *compiler.SwitchExpr:
		s.node(n.Subject)
		s.list(n.Cases)
		s.node(n.Else)

	case *compiler.WhenExpr:
		s.node(n.Subject)
		for c := n.Clauses; c != nil; c = c.Next {
			s.writeByte(TagWhenClause)
			s.writeString(c.Method)
			s.list(c.Values)
			s.node(c.Body)
		}
		s.writeByte(TagAbsent)
		s.node(n.Else)

	case *compiler.ListExpr:
		s.list(n.Elems)

	case *compiler.MapExpr:
		s.list(n.Entries)

	case *compiler.InlineExpr:
		s.node(n.Value)

	case *compiler.QuoteExpr:
		s.node(n.Body)
		s.list(n.Args)

	case *compiler.UnquoteExpr:
		s.writeUint32(uint32(n.Index))
		s.writeString(n.Name)

	case *compiler.GeneratorExpr:
		s.node(n.Value)
		for c := n.Clauses; c != nil; c = c.Next {
			s.writeByte(TagGenClause)
			s.node(c.Filter)
			s.decl(c.Key)
			s.decls(c.Names)
			s.writeBool(c.Unpack)
			s.node(c.Seq)
		}
		s.writeByte(TagAbsent)
	}
}
