package emitter_test

import (
	"testing"

	"github.com/corvid-lang/corvid/internal/builtins"
	"github.com/corvid-lang/corvid/internal/emitter"
	"github.com/corvid-lang/corvid/internal/vm"
)

// writeAt emits op (prefixed with Wide/ExtraWide when width requires it)
// at the given line, returning the opcode's own bytecode offset.
func writeAt(fw *emitter.FunctionInfoWriter, width vm.OperandWidth, op vm.Op, line uint32) int {
	switch width {
	case vm.Wide:
		fw.WriteOp(vm.OpWide, line)
	case vm.ExtraWide:
		fw.WriteOp(vm.OpExtraWide, line)
	}
	return fw.WriteOp(op, line)
}

func writeUnsigned(fw *emitter.FunctionInfoWriter, width vm.OperandWidth, val uint32) {
	switch width {
	case vm.Wide:
		fw.WriteU16(uint16(val))
	case vm.ExtraWide:
		fw.WriteU32(val)
	default:
		fw.WriteU8(uint8(val))
	}
}

func writeSigned(fw *emitter.FunctionInfoWriter, width vm.OperandWidth, val int32) {
	switch width {
	case vm.Wide:
		fw.WriteI16(int16(val))
	case vm.ExtraWide:
		fw.WriteI32(val)
	default:
		fw.WriteI8(int8(val))
	}
}

// buildSumAtWidth emits `r0 := a; r1 := b; return r0 + r1` with every
// operand-bearing instruction encoded at width, exercising the decoder's
// Wide/ExtraWide prefix handling (spec.md §3.3).
func buildSumAtWidth(v *vm.VM, width vm.OperandWidth, a, b int32) vm.VMResult {
	fw := emitter.NewFunctionInfoWriter(v, "sumAtWidth", "main", 0)
	const r0, r1 = 0, 1
	fw.SetMaxRegisters(2)

	writeAt(fw, width, vm.OpLoadInt, 1)
	writeSigned(fw, width, a)
	writeAt(fw, width, vm.OpStoreRegister, 1)
	writeUnsigned(fw, width, r0)

	writeAt(fw, width, vm.OpLoadInt, 2)
	writeSigned(fw, width, b)
	writeAt(fw, width, vm.OpStoreRegister, 2)
	writeUnsigned(fw, width, r1)

	writeAt(fw, width, vm.OpLoadRegister, 3)
	writeUnsigned(fw, width, r0)
	writeAt(fw, width, vm.OpAddRegister, 3)
	writeUnsigned(fw, width, r1)

	fw.WriteOp(vm.OpReturn, 3)
	return fw.Run(true)
}

// TestOperandWidthEquivalence asserts the same program compiled at each
// of Narrow/Wide/ExtraWide produces an identical result — the decoder's
// one operandCount table plus width-parameterized read must behave the
// same as the original's three separately generated handler tables would
// have (DESIGN.md component F).
func TestOperandWidthEquivalence(t *testing.T) {
	widths := []vm.OperandWidth{vm.Narrow, vm.Wide, vm.ExtraWide}
	var results []int32
	for _, w := range widths {
		v := builtins.NewVM()
		res := buildSumAtWidth(v, w, 17, 25)
		if res.Status != vm.Success {
			t.Fatalf("width %v: unexpected error status", w)
		}
		if !res.Result.IsInt() {
			t.Fatalf("width %v: expected Int result", w)
		}
		results = append(results, res.Result.AsInt())
	}
	for i, r := range results {
		if r != 42 {
			t.Errorf("width index %d: got %d, want 42", i, r)
		}
	}
	if results[0] != results[1] || results[1] != results[2] {
		t.Errorf("widths disagree: narrow=%d wide=%d extrawide=%d", results[0], results[1], results[2])
	}
}

// TestArithmeticFamily mirrors the teacher's table-driven opcode tests,
// built through the writer instead of a literal byte slice since width
// prefixes and constant-pool indices are the writer's job, not a test's.
func TestArithmeticFamily(t *testing.T) {
	cases := []struct {
		name     string
		op       vm.Op
		lhs, rhs int32
		want     int32
	}{
		{"add", vm.OpAddInt, 10, 20, 30},
		{"subtract", vm.OpSubtractInt, 50, 20, 30},
		{"multiply", vm.OpMultiplyInt, 5, 6, 30},
		{"divide", vm.OpDivideInt, 60, 2, 30},
		{"mod", vm.OpModInt, 17, 5, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := builtins.NewVM()
			fw := emitter.NewFunctionInfoWriter(v, c.name, "main", 0)
			fw.WriteOp(vm.OpLoadInt, 1)
			fw.WriteI8(int8(c.lhs))
			fw.WriteOp(c.op, 1)
			fw.WriteI8(int8(c.rhs))
			fw.WriteOp(vm.OpReturn, 1)
			res := fw.Run(true)
			if res.Status != vm.Success {
				t.Fatalf("unexpected error: %s", v.ToDisplayString(res.Result))
			}
			if got := res.Result.AsInt(); got != c.want {
				t.Errorf("%s(%d,%d) = %d, want %d", c.name, c.lhs, c.rhs, got, c.want)
			}
		})
	}
}

// TestArithmeticOverflow covers spec.md §8 scenario 1 / invariant 7:
// Int.max + 1 via AddInt raises OverflowError without wrapping.
func TestArithmeticOverflow(t *testing.T) {
	v := builtins.NewVM()
	fw := emitter.NewFunctionInfoWriter(v, "overflow", "main", 0)
	fw.SetMaxRegisters(1)
	fw.WriteOp(vm.OpLoadConstant, 1)
	fw.WriteU8(uint8(fw.IntConstant(2147483647)))
	fw.WriteOp(vm.OpAddInt, 1)
	fw.WriteI8(1)
	fw.WriteOp(vm.OpReturn, 1)
	res := fw.Run(true)
	if res.Status != vm.ErrorStatus {
		t.Fatalf("expected OverflowError, got success with %s", v.ToDisplayString(res.Result))
	}
	cls := v.GetClass(res.Result)
	if cls == nil || cls.Name != "OverflowError" {
		name := "<no class>"
		if cls != nil {
			name = cls.Name
		}
		t.Errorf("expected OverflowError class, got %s", name)
	}
}

// TestFloatAddDoesNotOverflow checks the same scenario's float branch:
// Float + 1.0 never raises even past Int.max.
func TestFloatAddDoesNotOverflow(t *testing.T) {
	// r0 = 1.0, acc = 2147483647.0, AddRegister r0.
	v2 := builtins.NewVM()
	fw2 := emitter.NewFunctionInfoWriter(v2, "floatAdd2", "main", 0)
	fw2.SetMaxRegisters(1)
	fw2.WriteOp(vm.OpLoadConstant, 1)
	fw2.WriteU8(uint8(fw2.FloatConstant(1)))
	fw2.WriteOp(vm.OpStoreRegister, 1)
	fw2.WriteU8(0)
	fw2.WriteOp(vm.OpLoadConstant, 2)
	fw2.WriteU8(uint8(fw2.FloatConstant(2147483647)))
	fw2.WriteOp(vm.OpAddRegister, 2)
	fw2.WriteU8(0)
	fw2.WriteOp(vm.OpReturn, 2)
	res := fw2.Run(true)
	if res.Status != vm.Success {
		t.Fatalf("unexpected error: %s", v2.ToDisplayString(res.Result))
	}
	if !res.Result.IsFloat() {
		t.Fatalf("expected Float result, got %s", vm.TypeString(res.Result))
	}
	if want := 2147483648.0; res.Result.AsFloat() != want {
		t.Errorf("got %v, want %v", res.Result.AsFloat(), want)
	}
}

// TestForLoopIntRange covers spec.md §4.4 family 5's literal contract:
// ForLoop(jump, iter_reg) increments bp[iter_reg] and jumps back while
// < bp[iter_reg+1], summing 0+1+2 (scenario 7's range-loop half).
func TestForLoopIntRange(t *testing.T) {
	v := builtins.NewVM()
	fw := emitter.NewFunctionInfoWriter(v, "forLoopSum", "main", 0)
	const regSum, regI, regLimit = 0, 1, 2
	fw.SetMaxRegisters(3)

	fw.WriteOp(vm.OpLoadInt, 1)
	fw.WriteI8(0)
	fw.WriteOp(vm.OpStoreRegister, 1)
	fw.WriteU8(regSum)

	fw.WriteOp(vm.OpLoadInt, 2)
	fw.WriteI8(0)
	fw.WriteOp(vm.OpStoreRegister, 2)
	fw.WriteU8(regI)

	fw.WriteOp(vm.OpLoadInt, 3)
	fw.WriteI8(3)
	fw.WriteOp(vm.OpStoreRegister, 3)
	fw.WriteU8(regLimit)

	loopStart := fw.Size()
	fw.WriteOp(vm.OpLoadRegister, 4)
	fw.WriteU8(regSum)
	fw.WriteOp(vm.OpAddRegister, 4)
	fw.WriteU8(regI)
	fw.WriteOp(vm.OpStoreRegister, 4)
	fw.WriteU8(regSum)

	forLoopPos := fw.WriteOp(vm.OpForLoop, 4)
	jumpOperandPos := forLoopPos + 1
	fw.WriteU8(0) // jump, patched below
	fw.WriteU8(regI)
	fw.PatchJump(jumpOperandPos, vm.Narrow, uint32(fw.Size()-loopStart))

	fw.WriteOp(vm.OpLoadRegister, 5)
	fw.WriteU8(regSum)
	fw.WriteOp(vm.OpReturn, 5)

	res := fw.Run(true)
	if res.Status != vm.Success {
		t.Fatalf("unexpected error: %s", v.ToDisplayString(res.Result))
	}
	if got := res.Result.AsInt(); got != 3 {
		t.Errorf("sum(range(0,3)) = %d, want 3", got)
	}
}

// TestClosureUpvalueCorrectness covers spec.md §8 scenario 4 / invariant
// 6: a closure's captured local survives and mutates correctly across
// calls, and the capturing frame's return closes the upvalue instead of
// leaking it (the OpReturn/closeUpvaluesFrom fix).
func TestClosureUpvalueCorrectness(t *testing.T) {
	v := builtins.NewVM()

	inner := emitter.NewFunctionInfoWriter(v, "increment", "main", 0)
	inner.SetMaxRegisters(1)
	inner.AddUpvalue(0, true) // captures mk's local x
	inner.WriteOp(vm.OpLoadUpvalue, 1)
	inner.WriteU8(0)
	inner.WriteOp(vm.OpAddInt, 1)
	inner.WriteI8(1)
	inner.WriteOp(vm.OpStoreUpvalue, 1)
	inner.WriteU8(0)
	inner.WriteOp(vm.OpLoadUpvalue, 1)
	inner.WriteU8(0)
	inner.WriteOp(vm.OpReturn, 1)
	innerInfo := inner.Release()

	outer := emitter.NewFunctionInfoWriter(v, "mk", "main", 0)
	const regX = 0
	outer.SetMaxRegisters(1)
	outer.WriteOp(vm.OpLoadInt, 1)
	outer.WriteI8(0)
	outer.WriteOp(vm.OpStoreRegister, 1)
	outer.WriteU8(regX)
	idx := outer.Constant(vm.ValueOf(innerInfo))
	outer.WriteOp(vm.OpClosure, 2)
	outer.WriteU8(uint8(idx))
	outer.WriteOp(vm.OpReturn, 2)

	res := outer.Run(true)
	if res.Status != vm.Success {
		t.Fatalf("unexpected error building closure: %s", v.ToDisplayString(res.Result))
	}
	closure := res.Result

	c1, err := v.CallValue(closure, nil)
	if err != nil {
		t.Fatalf("call 1: %v", err)
	}
	c2, err := v.CallValue(closure, nil)
	if err != nil {
		t.Fatalf("call 2: %v", err)
	}
	c3, err := v.CallValue(closure, nil)
	if err != nil {
		t.Fatalf("call 3: %v", err)
	}
	if c1.AsInt() != 1 || c2.AsInt() != 2 || c3.AsInt() != 3 {
		t.Errorf("got %d,%d,%d want 1,2,3", c1.AsInt(), c2.AsInt(), c3.AsInt())
	}
}

// TestThrowCatchUnwind covers spec.md §8 scenario 5: a Throw inside a
// handler's [Start,End) range transfers to Target with the error value
// placed in CatchReg.
func TestThrowCatchUnwind(t *testing.T) {
	v := builtins.NewVM()
	fw := emitter.NewFunctionInfoWriter(v, "tryCatch", "main", 0)
	const regCatch = 0
	fw.SetMaxRegisters(1)

	fw.WriteOp(vm.OpLoadConstant, 1)
	fw.WriteU8(uint8(fw.StringConstant("boom")))
	throwPos := fw.WriteOp(vm.OpThrow, 1)
	handlerStart := uint32(throwPos)
	handlerEnd := uint32(fw.Size())

	targetPos := fw.Size()
	fw.WriteOp(vm.OpLoadRegister, 2)
	fw.WriteU8(regCatch)
	fw.WriteOp(vm.OpReturn, 2)

	fw.AddHandler(vm.ExceptionHandler{
		Start:    handlerStart,
		End:      handlerEnd,
		Target:   uint32(targetPos),
		CatchReg: regCatch,
	})

	res := fw.Run(true)
	if res.Status != vm.Success {
		t.Fatalf("expected handler to catch the throw, got error status: %s", v.ToDisplayString(res.Result))
	}
	if !res.Result.IsObject() {
		t.Fatalf("expected caught value to be an Error instance, got %s", vm.TypeString(res.Result))
	}
}

// TestConstantPoolDedup covers spec.md §8 invariant 4: two constant()
// calls for equal values return the same pool index, a distinct value
// gets a new one.
func TestConstantPoolDedup(t *testing.T) {
	v := builtins.NewVM()
	fw := emitter.NewFunctionInfoWriter(v, "consts", "main", 0)

	i1 := fw.IntConstant(7)
	i2 := fw.IntConstant(7)
	i3 := fw.IntConstant(8)
	if i1 != i2 {
		t.Errorf("IntConstant(7) twice = %d, %d; want equal indices", i1, i2)
	}
	if i3 == i1 {
		t.Errorf("IntConstant(8) got the same index as IntConstant(7): %d", i3)
	}

	f1 := fw.FloatConstant(1.5)
	f2 := fw.FloatConstant(1.5)
	f3 := fw.FloatConstant(2.5)
	if f1 != f2 {
		t.Errorf("FloatConstant(1.5) twice = %d, %d; want equal indices", f1, f2)
	}
	if f3 == f1 {
		t.Errorf("FloatConstant(2.5) got the same index as FloatConstant(1.5): %d", f3)
	}

	s1 := fw.StringConstant("hi")
	s2 := fw.StringConstant("hi")
	s3 := fw.StringConstant("bye")
	if s1 != s2 {
		t.Errorf("StringConstant(%q) twice = %d, %d; want equal indices", "hi", s1, s2)
	}
	if s3 == s1 {
		t.Errorf("StringConstant(%q) got the same index as StringConstant(%q): %d", "bye", "hi", s3)
	}

	y1 := fw.SymbolConstant("sym")
	y2 := fw.SymbolConstant("sym")
	if y1 != y2 {
		t.Errorf("SymbolConstant(%q) twice = %d, %d; want equal indices", "sym", y1, y2)
	}

	// A Constant() call (no dedup) always grows the pool, even for a
	// value equal to one already interned via IntConstant.
	before := len(fw.Info().Constants)
	fw.Constant(vm.IntValue(7))
	after := len(fw.Info().Constants)
	if after != before+1 {
		t.Errorf("Constant() should append unconditionally: len went %d -> %d", before, after)
	}

	fw.Release()
}
