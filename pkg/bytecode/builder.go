package bytecode

import "fmt"

// DefaultBlockSize is the instruction capacity of a block, link included.
const DefaultBlockSize = 64

const minBlockSize = 4

// Label names a jump target that may not be known yet.
type Label int32

type site struct {
	addr int
	slot int // -1 for Target, otherwise an index into Table
}

type label struct {
	addr  int
	fixed bool
	sites []site
}

// Builder appends instructions to a Code and resolves labels.
type Builder struct {
	code   *Code
	labels []label
	last   int
}

// NewBuilder creates a builder whose blocks hold blockSize instructions.
func NewBuilder(blockSize int) *Builder {
	if blockSize < minBlockSize {
		blockSize = DefaultBlockSize
	}
	code := &Code{BlockSize: blockSize}
	code.Blocks = append(code.Blocks, make([]Inst, 0, blockSize))
	return &Builder{code: code, last: -1}
}

// PC returns the address the next instruction will be reachable at. When
// the current block is full this is the address of its link.
func (b *Builder) PC() int {
	last := len(b.code.Blocks) - 1
	return last*b.code.BlockSize + len(b.code.Blocks[last])
}

// Emit appends an instruction and returns it. The pointer stays valid for
// the life of the builder.
func (b *Builder) Emit(line int, op Opcode) *Inst {
	last := len(b.code.Blocks) - 1
	block := b.code.Blocks[last]
	if len(block) == b.code.BlockSize-1 {
		next := make([]Inst, 0, b.code.BlockSize)
		block = append(block, Inst{Op: OpLink, Line: line, Target: (last + 1) * b.code.BlockSize})
		b.code.Blocks[last] = block
		b.code.Blocks = append(b.code.Blocks, next)
		last++
		block = next
	}
	b.code.Blocks[last] = append(block, Inst{Op: op, Line: line})
	b.last = last*b.code.BlockSize + len(block)
	return &b.code.Blocks[last][len(block)]
}

// LastPC returns the address of the most recently emitted instruction.
func (b *Builder) LastPC() int { return b.last }

// NewLabel allocates an unfixed label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, label{})
	return Label(len(b.labels) - 1)
}

// EmitJump emits op with its target taken from l.
func (b *Builder) EmitJump(line int, op Opcode, l Label) *Inst {
	in := b.Emit(line, op)
	b.setTarget(b.last, in, -1, l)
	return in
}

// EmitSwitch emits an OpSwitch whose table entries are taken from labels.
func (b *Builder) EmitSwitch(line int, labels []Label) *Inst {
	in := b.Emit(line, OpSwitch)
	in.Table = make([]int, len(labels))
	for i, l := range labels {
		b.setTarget(b.last, in, i, l)
	}
	return in
}

func (b *Builder) setTarget(addr int, in *Inst, slot int, l Label) {
	lb := &b.labels[l]
	target := Pending
	if lb.fixed {
		target = lb.addr
	} else {
		lb.sites = append(lb.sites, site{addr: addr, slot: slot})
	}
	if slot < 0 {
		in.Target = target
	} else {
		in.Table[slot] = target
	}
}

// Bind fixes l to the current PC.
func (b *Builder) Bind(l Label) {
	b.Fix(l, b.PC())
}

// Fix resolves l to addr and rewrites every pending site, most recent
// first. Fixing a label twice panics.
func (b *Builder) Fix(l Label, addr int) {
	lb := &b.labels[l]
	if lb.fixed {
		panic(fmt.Sprintf("bytecode: label %d fixed twice", l))
	}
	lb.addr, lb.fixed = addr, true
	for i := len(lb.sites) - 1; i >= 0; i-- {
		s := lb.sites[i]
		in := b.code.At(s.addr)
		if s.slot < 0 {
			in.Target = addr
		} else {
			in.Table[s.slot] = addr
		}
	}
	lb.sites = nil
}

// Fixed reports whether l has been fixed.
func (b *Builder) Fixed(l Label) bool { return b.labels[l].fixed }

// Finish returns the code. It fails if any jump is still pending.
func (b *Builder) Finish() (*Code, error) {
	for i, lb := range b.labels {
		if len(lb.sites) > 0 {
			return nil, fmt.Errorf("bytecode: label %d has %d unresolved jumps (first at %d)",
				i, len(lb.sites), lb.sites[0].addr)
		}
	}
	return b.code, nil
}
