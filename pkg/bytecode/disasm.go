package bytecode

import (
	"fmt"
	"strings"

	"github.com/wrapl/minilang-sub003/pkg/runtime"
)

// Disassemble returns a human-readable listing of fn and its nested closures.
func Disassemble(fn *Func) string {
	return DisassembleWithName(fn, "")
}

// DisassembleWithName returns a listing with a name header.
func DisassembleWithName(fn *Func, name string) string {
	var sb strings.Builder
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	funcs := fn.Funcs()
	index := make(map[*Func]int, len(funcs))
	for i, f := range funcs {
		index[f] = i
	}
	for i, f := range funcs {
		if i > 0 {
			sb.WriteString("\n")
		}
		writeFunc(&sb, f, i, index)
	}
	return sb.String()
}

func writeFunc(sb *strings.Builder, fn *Func, id int, index map[*Func]int) {
	sb.WriteString(fmt.Sprintf("; fun #%d %s:%d-%d\n", id, fn.Source, fn.StartLine, fn.EndLine))
	if len(fn.Params) > 0 {
		sb.WriteString("; Parameters: " + strings.Join(fn.Params, ", "))
		if fn.Flags&FuncExtraArgs != 0 {
			sb.WriteString(" [EXTRA]")
		}
		if fn.Flags&FuncNamedArgs != 0 {
			sb.WriteString(" [NAMED]")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("; Frame: %d slots\n", fn.FrameSize))
	if len(fn.Upvalues) > 0 {
		sb.WriteString("; Upvalues:")
		for _, u := range fn.Upvalues {
			if slot, local := UpvalueSource(u); local {
				sb.WriteString(fmt.Sprintf(" local[%d]", slot))
			} else {
				sb.WriteString(fmt.Sprintf(" upvalue[%d]", slot))
			}
		}
		sb.WriteString("\n")
	}
	if fn.Code == nil {
		return
	}
	fn.Code.Walk(func(addr int, in *Inst) {
		sb.WriteString(fmt.Sprintf("%04d %4d  %-15s%s\n", addr, in.Line, in.Op, operands(in, index)))
	})
}

func operands(in *Inst, index map[*Func]int) string {
	target := func() string {
		switch in.Target {
		case NoTarget:
			return "none"
		case Pending:
			return "?"
		}
		return fmt.Sprintf("->%04d", in.Target)
	}
	decls := func() string {
		names := make([]string, len(in.Decls))
		for i, d := range in.Decls {
			names[i] = d.Name
		}
		return "[" + strings.Join(names, ", ") + "]"
	}
	switch OpInfo(in.Op).Shape {
	case ShapeJump:
		return target()
	case ShapeJumpCount:
		return fmt.Sprintf("%s %d", target(), in.Count)
	case ShapeJumpCountDecls:
		return fmt.Sprintf("%s %d %s", target(), in.Count, decls())
	case ShapeCount:
		return fmt.Sprintf("%d", in.Count)
	case ShapeValue:
		return runtime.Repr(in.Value)
	case ShapeValueCount:
		return fmt.Sprintf("%s %d", runtime.Repr(in.Value), in.Count)
	case ShapeCountChars:
		return fmt.Sprintf("%d %q", in.Count, in.Chars)
	case ShapeDecls:
		return decls()
	case ShapeSwitch:
		parts := make([]string, len(in.Table))
		for i, t := range in.Table {
			parts[i] = fmt.Sprintf("%04d", t)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case ShapeClosure:
		if in.Func == nil {
			return "<nil>"
		}
		return fmt.Sprintf("#%d %v", index[in.Func], in.Func.Upvalues)
	}
	return ""
}
