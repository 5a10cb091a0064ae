package bytecode

import "fmt"

// Opcode identifies an instruction.
type Opcode byte

const (
	// ========================================================================
	// Structure
	// ========================================================================

	OpLink Opcode = iota // Continue at Target (block link)

	// ========================================================================
	// Stack and constants
	// ========================================================================

	OpNil   // Push nil
	OpConst // Push Value
	OpPop   // Discard top
	OpDup   // Duplicate top

	// ========================================================================
	// Locals and upvalues
	// ========================================================================

	OpLocal          // Push slot Count
	OpLocalIndirect  // Push slot Count, reading through a forward placeholder
	OpUpvalue        // Push upvalue Count
	OpAssignLocal    // Store top into slot Count, keep top
	OpAssignUpvalue  // Store top into upvalue Count, keep top
	OpAssign         // Pop value, drop Count slots, pop reference, assign, push value
	OpVar            // Initialise var slot Count from top, keep top
	OpLet            // Initialise let slot Count from top, keep top
	OpLetBackfill    // Like OpLet, and resolve forward readers of the slot
	OpRef            // Bind slot Count by reference to top, keep top
	OpBox            // Make slot Count a variable shared with closures
	OpUnpack         // Pop one value, push its first Count elements
	OpSymbols        // Pop one value, push one value per name in Decls
	OpEnter          // Reserve one uninitialised slot per entry in Decls
	OpLeave          // Keep top, drop Count slots below it

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJump      // Continue at Target
	OpExit      // Keep top, drop Count slots below it, continue at Target
	OpGoto      // Drop Count slots, continue at Target
	OpIfNil     // Pop; continue at Target if nil
	OpIfNotNil  // Pop; continue at Target if not nil
	OpAnd       // If top is nil continue at Target, else pop
	OpOr        // If top is not nil continue at Target, else pop
	OpNot       // Replace top with nil if non-nil, some value otherwise
	OpSwitch    // Pop integer i; continue at Table[i], or the last entry
	OpReturn    // Return top
	OpSuspend   // Pop Count values and yield them to the caller
	OpResume    // Push the value passed on resumption

	// ========================================================================
	// Calls
	// ========================================================================

	OpCall      // Pop function and Count arguments, push result
	OpConstCall // Pop Count arguments, call Value, push result
	OpResolve   // Replace top with top::Value
	OpMethod    // Pop method, Count types and a closure; define it, push the closure
	OpClosure   // Push a closure over Func capturing Func.Upvalues

	// ========================================================================
	// Constructors
	// ========================================================================

	OpTuple       // Pop Count values, push tuple
	OpList        // Pop Count values, push list
	OpMap         // Pop Count key/value pairs, push map
	OpStringNew   // Push an empty string buffer
	OpStringAdd   // Pop Count values, append them to the buffer below
	OpStringChars // Append Chars to the buffer on top
	OpStringEnd   // Replace buffer with its string
	OpQuote       // Pop Count values, push Value instantiated with them

	// ========================================================================
	// Iteration
	// ========================================================================

	OpFor   // Replace sequence with iterator; pop and continue at Target if empty
	OpNext  // Advance iterator; pop and continue at Target when exhausted
	OpKey   // Push the current key of the iterator in slot Count
	OpValue // Push the current value of the iterator in slot Count

	// ========================================================================
	// Errors
	// ========================================================================

	OpTry   // Install handler Target (NoTarget for none); on error reset to Count slots and push the error
	OpCatch // Pop Count types; continue at Target unless the error below matches one
	OpRaise // Re-raise the error on top
	OpRetry // Reset to Count slots and continue at Target

	numOpcodes
)

// Shape is the operand layout of an instruction.
type Shape uint8

const (
	ShapeNone           Shape = iota
	ShapeJump                 // Target
	ShapeJumpCount            // Target, Count
	ShapeJumpCountDecls       // Target, Count, Decls
	ShapeCount                // Count
	ShapeValue                // Value
	ShapeValueCount           // Value, Count
	ShapeCountChars           // Count, Chars
	ShapeDecls                // Decls
	ShapeSwitch               // Table
	ShapeClosure              // Func
)

// OpcodeInfo describes an opcode.
type OpcodeInfo struct {
	Name  string
	Shape Shape
	// Terminal instructions never fall through to the next address.
	Terminal bool
}

var opcodeInfoTable = [numOpcodes]OpcodeInfo{
	OpLink: {"LINK", ShapeJump, true},

	OpNil:   {"NIL", ShapeNone, false},
	OpConst: {"CONST", ShapeValue, false},
	OpPop:   {"POP", ShapeNone, false},
	OpDup:   {"DUP", ShapeNone, false},

	OpLocal:         {"LOCAL", ShapeCount, false},
	OpLocalIndirect: {"LOCAL_INDIRECT", ShapeCount, false},
	OpUpvalue:       {"UPVALUE", ShapeCount, false},
	OpAssignLocal:   {"ASSIGN_LOCAL", ShapeCount, false},
	OpAssignUpvalue: {"ASSIGN_UPVALUE", ShapeCount, false},
	OpAssign:        {"ASSIGN", ShapeCount, false},
	OpVar:           {"VAR", ShapeCount, false},
	OpLet:           {"LET", ShapeCount, false},
	OpLetBackfill:   {"LET_BACKFILL", ShapeCount, false},
	OpRef:           {"REF", ShapeCount, false},
	OpBox:           {"BOX", ShapeCount, false},
	OpUnpack:        {"UNPACK", ShapeCount, false},
	OpSymbols:       {"SYMBOLS", ShapeDecls, false},
	OpEnter:         {"ENTER", ShapeDecls, false},
	OpLeave:         {"LEAVE", ShapeCount, false},

	OpJump:     {"JUMP", ShapeJump, true},
	OpExit:     {"EXIT", ShapeJumpCountDecls, true},
	OpGoto:     {"GOTO", ShapeJumpCount, true},
	OpIfNil:    {"IF_NIL", ShapeJump, false},
	OpIfNotNil: {"IF_NOT_NIL", ShapeJump, false},
	OpAnd:      {"AND", ShapeJump, false},
	OpOr:       {"OR", ShapeJump, false},
	OpNot:      {"NOT", ShapeNone, false},
	OpSwitch:   {"SWITCH", ShapeSwitch, true},
	OpReturn:   {"RETURN", ShapeNone, true},
	OpSuspend:  {"SUSPEND", ShapeCount, false},
	OpResume:   {"RESUME", ShapeNone, false},

	OpCall:      {"CALL", ShapeCount, false},
	OpConstCall: {"CONST_CALL", ShapeValueCount, false},
	OpResolve:   {"RESOLVE", ShapeValue, false},
	OpMethod:    {"METHOD", ShapeCount, false},
	OpClosure:   {"CLOSURE", ShapeClosure, false},

	OpTuple:       {"TUPLE", ShapeCount, false},
	OpList:        {"LIST", ShapeCount, false},
	OpMap:         {"MAP", ShapeCount, false},
	OpStringNew:   {"STRING_NEW", ShapeNone, false},
	OpStringAdd:   {"STRING_ADD", ShapeCount, false},
	OpStringChars: {"STRING_CHARS", ShapeCountChars, false},
	OpStringEnd:   {"STRING_END", ShapeNone, false},
	OpQuote:       {"QUOTE", ShapeValueCount, false},

	OpFor:   {"FOR", ShapeJump, false},
	OpNext:  {"NEXT", ShapeJump, false},
	OpKey:   {"KEY", ShapeCount, false},
	OpValue: {"VALUE", ShapeCount, false},

	OpTry:   {"TRY", ShapeJumpCount, false},
	OpCatch: {"CATCH", ShapeJumpCount, false},
	OpRaise: {"RAISE", ShapeNone, true},
	OpRetry: {"RETRY", ShapeJumpCount, true},
}

// OpInfo returns metadata for op. Unknown opcodes get an UNKNOWN name.
func OpInfo(op Opcode) OpcodeInfo {
	if op < numOpcodes {
		return opcodeInfoTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return OpInfo(op).Name
}

// HasTarget reports whether instructions with op carry a jump target.
func (op Opcode) HasTarget() bool {
	switch OpInfo(op).Shape {
	case ShapeJump, ShapeJumpCount, ShapeJumpCountDecls:
		return true
	}
	return false
}

// IsSlotAccess reports whether Count names a stack slot.
func (op Opcode) IsSlotAccess() bool {
	switch op {
	case OpLocal, OpLocalIndirect, OpAssignLocal, OpVar, OpLet, OpLetBackfill, OpRef, OpBox, OpKey, OpValue:
		return true
	}
	return false
}

// IsSlotLoad reports whether op reads slot Count without storing the top
// value to it.
func (op Opcode) IsSlotLoad() bool {
	switch op {
	case OpLocal, OpLocalIndirect, OpBox, OpKey, OpValue:
		return true
	}
	return false
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, numOpcodes)
	for i := range ops {
		ops[i] = Opcode(i)
	}
	return ops
}

// Effect returns how many values an instruction pops and pushes when it
// falls through to the next instruction. Jump edges are described by
// Successors.
func (in *Inst) Effect() (pop, push int) {
	switch in.Op {
	case OpLink, OpJump, OpStringChars, OpTry, OpBox:
		return 0, 0
	case OpNil, OpConst, OpResume, OpStringNew, OpClosure:
		return 0, 1
	case OpPop, OpIfNil, OpIfNotNil, OpAnd, OpOr, OpSwitch, OpReturn, OpRaise:
		return 1, 0
	case OpDup:
		return 1, 2
	case OpLocal, OpLocalIndirect, OpUpvalue, OpKey, OpValue:
		return 0, 1
	case OpAssignLocal, OpAssignUpvalue, OpVar, OpLet, OpLetBackfill, OpRef,
		OpNot, OpResolve, OpStringEnd, OpFor, OpNext:
		return 1, 1
	case OpAssign:
		return in.Count + 2, 1
	case OpUnpack:
		return 1, in.Count
	case OpSymbols:
		return 1, len(in.Decls)
	case OpEnter:
		return 0, len(in.Decls)
	case OpLeave, OpExit:
		return in.Count + 1, 1
	case OpGoto, OpRetry:
		return in.Count, 0
	case OpSuspend, OpStringAdd, OpCatch:
		return in.Count, 0
	case OpCall:
		return in.Count + 1, 1
	case OpConstCall, OpTuple, OpList, OpQuote:
		return in.Count, 1
	case OpMap:
		return 2 * in.Count, 1
	case OpMethod:
		return in.Count + 2, 1
	}
	return 0, 0
}

// Edge is a control transfer to Addr with the stack at Depth.
type Edge struct {
	Addr  int
	Depth int
}

// Successors returns the jump edges of an instruction executed at stack
// depth depth, excluding fall-through.
func (in *Inst) Successors(depth int) []Edge {
	switch in.Op {
	case OpLink, OpJump:
		return []Edge{{in.Target, depth}}
	case OpExit:
		return []Edge{{in.Target, depth - in.Count}}
	case OpGoto:
		return []Edge{{in.Target, depth - in.Count}}
	case OpIfNil, OpIfNotNil, OpFor, OpNext:
		return []Edge{{in.Target, depth - 1}}
	case OpAnd, OpOr:
		return []Edge{{in.Target, depth}}
	case OpCatch:
		return []Edge{{in.Target, depth - in.Count}}
	case OpTry:
		if in.Target == NoTarget {
			return nil
		}
		return []Edge{{in.Target, in.Count + 1}}
	case OpRetry:
		return []Edge{{in.Target, in.Count}}
	case OpSwitch:
		edges := make([]Edge, len(in.Table))
		for i, addr := range in.Table {
			edges[i] = Edge{addr, depth - 1}
		}
		return edges
	}
	return nil
}
