// Package emitter implements the FunctionInfoWriter contract (spec.md
// §4.3, §6.3): the only boundary between an external compiler front-end
// (out of scope, spec.md §1) and the execution core. Ported 1:1 from
// original_source/neptune-vm/function.h's method list.
package emitter

import (
	"github.com/corvid-lang/corvid/internal/vm"
)

// constKey deduplicates constants by their Go-level content. Using Value
// as a map key directly would compare Strings and Symbols by object
// identity rather than content, so the writer keys its own dedup table
// by a variant tag plus payload instead.
type constKey struct {
	kind uint8 // 0 int, 1 float, 2 string, 3 symbol
	i    int32
	f    float64
	s    string
}

// FunctionInfoWriter incrementally builds one FunctionInfo (spec.md
// §4.3). new_function_info pushes the in-progress FunctionInfo as a temp
// root (spec.md §5); run/release pops it.
type FunctionInfoWriter struct {
	v    *vm.VM
	info *vm.FunctionInfo

	constIndex map[constKey]uint16
	rooted     bool
}

// NewFunctionInfoWriter begins building a function named name with the
// given arity, rooting the in-progress FunctionInfo as a temp root for
// the writer's lifetime.
func NewFunctionInfoWriter(v *vm.VM, name, moduleName string, arity uint8) *FunctionInfoWriter {
	info := &vm.FunctionInfo{Name: name, ModuleName: moduleName, Arity: arity}
	v.NewFunctionInfo(info)
	v.PushTempRoot(vm.ValueOf(info))
	return &FunctionInfoWriter{v: v, info: info, constIndex: make(map[constKey]uint16), rooted: true}
}

// WriteOp appends a one-byte opcode, returning its bytecode offset (for
// later PatchJump / PopLastOp calls). line is recorded in the line table
// only when it differs from the most recently recorded line, keeping
// the table sparse (spec.md §4.3 "FunctionInfo.Lines").
func (w *FunctionInfoWriter) WriteOp(op vm.Op, line uint32) int {
	pos := len(w.info.Code)
	w.info.Code = append(w.info.Code, byte(op))
	if n := len(w.info.Lines); n == 0 || w.info.Lines[n-1].Line != line {
		w.info.Lines = append(w.info.Lines, vm.LineInfo{Offset: uint32(pos), Line: line})
	}
	return pos
}

func (w *FunctionInfoWriter) WriteU8(u uint8)   { w.info.Code = append(w.info.Code, u) }
func (w *FunctionInfoWriter) WriteU16(u uint16) { w.info.Code = append(w.info.Code, byte(u), byte(u>>8)) }
func (w *FunctionInfoWriter) WriteU32(u uint32) {
	w.info.Code = append(w.info.Code, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
}
func (w *FunctionInfoWriter) WriteI8(i int8)   { w.WriteU8(uint8(i)) }
func (w *FunctionInfoWriter) WriteI16(i int16) { w.WriteU16(uint16(i)) }
func (w *FunctionInfoWriter) WriteI32(i int32) { w.WriteU32(uint32(i)) }

// Size reports the current bytecode length, for computing jump offsets
// before the jump target is known.
func (w *FunctionInfoWriter) Size() int { return len(w.info.Code) }

func (w *FunctionInfoWriter) addConstant(key constKey, v vm.Value) uint16 {
	if idx, ok := w.constIndex[key]; ok {
		return idx
	}
	idx := uint16(len(w.info.Constants))
	w.info.Constants = append(w.info.Constants, v)
	w.constIndex[key] = idx
	return idx
}

// Constant appends an arbitrary already-boxed Value to the constant
// pool unconditionally (no dedup) — used for constants a caller already
// built and knows to be unique, e.g. a nested FunctionInfoWriter's
// output. Content-addressed constants should go through
// IntConstant/FloatConstant/StringConstant/SymbolConstant instead.
func (w *FunctionInfoWriter) Constant(v vm.Value) uint16 {
	idx := uint16(len(w.info.Constants))
	w.info.Constants = append(w.info.Constants, v)
	return idx
}

func (w *FunctionInfoWriter) IntConstant(i int32) uint16 {
	return w.addConstant(constKey{kind: 0, i: i}, vm.IntValue(i))
}

func (w *FunctionInfoWriter) FloatConstant(f float64) uint16 {
	return w.addConstant(constKey{kind: 1, f: f}, vm.FloatValue(f))
}

// StringConstant interns s as a String constant, deduplicating by
// content. Per DESIGN.md's Open Question decision 1, this is a full
// typed wrapper (not a no-op), matching Int/FloatConstant's already-
// specified dedup behavior.
func (w *FunctionInfoWriter) StringConstant(s string) uint16 {
	if idx, ok := w.constIndex[constKey{kind: 2, s: s}]; ok {
		return idx
	}
	val := vm.ValueOf(w.v.NewString(s))
	return w.addConstant(constKey{kind: 2, s: s}, val)
}

// SymbolConstant interns s as a Symbol constant (via the VM's symbol
// table, so two FunctionInfoWriters emitting the same spelling share one
// Symbol object system-wide, not just within one writer's pool).
func (w *FunctionInfoWriter) SymbolConstant(s string) uint16 {
	if idx, ok := w.constIndex[constKey{kind: 3, s: s}]; ok {
		return idx
	}
	val := vm.ValueOf(w.v.Intern(s))
	return w.addConstant(constKey{kind: 3, s: s}, val)
}

// FunConstant embeds a completed nested FunctionInfoWriter's output as a
// constant, returning its index. The nested writer must already have
// had Release or Run called.
func (w *FunctionInfoWriter) FunConstant(nested *FunctionInfoWriter) uint16 {
	return w.Constant(vm.ValueOf(nested.info))
}

// ReserveConstant appends a placeholder constant slot (Null) for
// recursive functions that need to reference their own FunctionInfo
// before it's finished, returning the index to patch in later via
// SetConstant.
func (w *FunctionInfoWriter) ReserveConstant() uint16 {
	idx := uint16(len(w.info.Constants))
	w.info.Constants = append(w.info.Constants, vm.NullValue())
	return idx
}

// SetConstant overwrites a previously reserved constant slot.
func (w *FunctionInfoWriter) SetConstant(idx uint16, v vm.Value) {
	w.info.Constants[idx] = v
}

// PatchJump overwrites the width-byte operand starting at opPosition
// with jumpOffset, used once a forward jump's target is known. width
// must match whatever WriteU8/WriteU16/WriteU32 reserved at that
// position when the jump was first emitted.
func (w *FunctionInfoWriter) PatchJump(opPosition int, width vm.OperandWidth, jumpOffset uint32) {
	switch width {
	case vm.Narrow:
		w.info.Code[opPosition] = byte(jumpOffset)
	case vm.Wide:
		w.info.Code[opPosition] = byte(jumpOffset)
		w.info.Code[opPosition+1] = byte(jumpOffset >> 8)
	case vm.ExtraWide:
		w.info.Code[opPosition] = byte(jumpOffset)
		w.info.Code[opPosition+1] = byte(jumpOffset >> 8)
		w.info.Code[opPosition+2] = byte(jumpOffset >> 16)
		w.info.Code[opPosition+3] = byte(jumpOffset >> 24)
	}
}

// PopLastOp discards every byte emitted since lastOpPos (used to retract
// a speculatively-emitted instruction, e.g. a compiler backtracking a
// constant-folded branch).
func (w *FunctionInfoWriter) PopLastOp(lastOpPos int) {
	w.info.Code = w.info.Code[:lastOpPos]
	for len(w.info.Lines) > 0 && int(w.info.Lines[len(w.info.Lines)-1].Offset) >= lastOpPos {
		w.info.Lines = w.info.Lines[:len(w.info.Lines)-1]
	}
}

// Shrink trims the bytecode/constants slices' excess capacity once the
// function is finished — the Go GC reclaims the freed backing array,
// standing in for the original's realloc-to-fit.
func (w *FunctionInfoWriter) Shrink() {
	code := make([]byte, len(w.info.Code))
	copy(code, w.info.Code)
	w.info.Code = code
	consts := make([]vm.Value, len(w.info.Constants))
	copy(consts, w.info.Constants)
	w.info.Constants = consts
}

// SetMaxRegisters records how many registers this function's frame
// needs.
func (w *FunctionInfoWriter) SetMaxRegisters(n uint16) { w.info.MaxRegisters = n }

// AddUpvalue appends one upvalue descriptor (spec.md §4.4's Closure/
// CLOSE contract).
func (w *FunctionInfoWriter) AddUpvalue(index uint16, isLocal bool) {
	w.info.Upvalues = append(w.info.Upvalues, vm.UpvalueInfo{Index: index, IsLocal: isLocal})
}

// AddHandler registers one exception-handler range (spec.md §4.4,
// §7) — not present in the original's abridged header excerpt but
// required by the Throw/unwind contract spec.md §4.4 and §7 describe;
// grounded on the Start/End/Target/CatchReg shape spec.md's own Task row
// names.
func (w *FunctionInfoWriter) AddHandler(h vm.ExceptionHandler) {
	w.info.Handlers = append(w.info.Handlers, h)
}

// Run finishes this function and executes it immediately, returning the
// VM's result (spec.md §6.3 "run(eval) -> VMResult"); eval is passed on
// to VM.Run and selects whether the function's return value or Null is
// the Result on success. It releases the writer's temp root either way.
func (w *FunctionInfoWriter) Run(eval bool) vm.VMResult {
	w.Shrink()
	w.release()
	fn := w.v.NewFunction(w.info, nil)
	return w.v.Run(fn, eval)
}

// Release finishes building without executing, for nested
// FunctionInfoWriters embedded as constants via FunConstant.
func (w *FunctionInfoWriter) Release() *vm.FunctionInfo {
	w.Shrink()
	w.release()
	return w.info
}

func (w *FunctionInfoWriter) release() {
	if w.rooted {
		w.v.PopTempRoot()
		w.rooted = false
	}
}

// Info exposes the in-progress FunctionInfo, for tests constructing a
// Function directly without going through Run/Release.
func (w *FunctionInfoWriter) Info() *vm.FunctionInfo { return w.info }
