package bytecode

import "fmt"

// VerifyError reports an inconsistency found by Verify.
type VerifyError struct {
	Func *Func
	Addr int
	Msg  string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("bytecode: %s:%d: at %d: %s", e.Func.Source, e.Func.StartLine, e.Addr, e.Msg)
}

// InitialDepth returns the stack depth on entry to fn: one slot per parameter.
func (fn *Func) InitialDepth() int {
	return len(fn.Params)
}

// MaxDepth walks every path through fn and returns the deepest operand
// stack reached. It does not descend into nested closures.
func MaxDepth(fn *Func) (int, error) {
	if fn.Code == nil {
		return 0, &VerifyError{fn, 0, "no code"}
	}
	depthAt := make(map[int]int)
	type work struct{ addr, depth int }
	stack := []work{{fn.Entry, fn.InitialDepth()}}
	max := fn.InitialDepth()
	fail := func(addr int, format string, args ...any) (int, error) {
		return 0, &VerifyError{fn, addr, fmt.Sprintf(format, args...)}
	}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for {
			if d, seen := depthAt[w.addr]; seen {
				if d != w.depth {
					return fail(w.addr, "stack depth %d, previously reached with %d", w.depth, d)
				}
				break
			}
			in := fn.Code.At(w.addr)
			if in == nil {
				return fail(w.addr, "control reaches past the end of code")
			}
			depthAt[w.addr] = w.depth
			if in.Op.HasTarget() && in.Target == Pending {
				return fail(w.addr, "%s has an unresolved target", in.Op)
			}
			if in.Op.IsSlotAccess() {
				limit := w.depth
				if !in.Op.IsSlotLoad() {
					limit-- // the stored value is on top
				}
				if in.Count < 0 || in.Count >= limit {
					return fail(w.addr, "%s slot %d not below stack depth %d", in.Op, in.Count, w.depth)
				}
			}
			for _, e := range in.Successors(w.depth) {
				if e.Addr == Pending {
					return fail(w.addr, "%s has an unresolved target", in.Op)
				}
				if e.Depth < 0 {
					return fail(w.addr, "%s underflows the stack", in.Op)
				}
				if e.Depth > max {
					max = e.Depth
				}
				stack = append(stack, work{e.Addr, e.Depth})
			}
			if OpInfo(in.Op).Terminal {
				break
			}
			pop, push := in.Effect()
			if w.depth < pop {
				return fail(w.addr, "%s pops %d with depth %d", in.Op, pop, w.depth)
			}
			w = work{w.addr + 1, w.depth - pop + push}
			if w.depth > max {
				max = w.depth
			}
		}
	}
	return max, nil
}

// Verify checks fn and every nested closure: all paths agree on stack
// depth, the depth never exceeds FrameSize, every slot operand lies inside
// the frame, and no jump is left pending.
func Verify(fn *Func) error {
	for _, f := range fn.Funcs() {
		max, err := MaxDepth(f)
		if err != nil {
			return err
		}
		if max > f.FrameSize {
			return &VerifyError{f, f.Entry, fmt.Sprintf("stack reaches %d, frame size is %d", max, f.FrameSize)}
		}
		var bad *VerifyError
		f.Code.Walk(func(addr int, in *Inst) {
			if bad == nil && in.Op.IsSlotAccess() && in.Count >= f.FrameSize {
				bad = &VerifyError{f, addr, fmt.Sprintf("%s slot %d outside frame of %d", in.Op, in.Count, f.FrameSize)}
			}
		})
		if bad != nil {
			return bad
		}
	}
	return nil
}
