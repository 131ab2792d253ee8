package vm

import (
	"fmt"
	"math"

	cerrors "github.com/corvid-lang/corvid/internal/errors"
)

// operandCount reports how many operands op consumes, each operand_width
// bytes wide. Used by both the dispatch loop's decode step and
// vm.disassemble, so the two must stay in lock-step — see DESIGN.md
// component F for why this table (rather than three hand-written
// tail-switch functions per spec.md's literal "Wide/ExtraWide" framing)
// is how this implementation keeps narrow/wide/extrawide decoding
// consistent: one table plus one width-parameterized loop, instead of
// triplicating the switch body.
func operandCount(op Op) (int, bool) {
	switch op {
	case OpLoadNull, OpLoadTrue, OpLoadFalse, OpNegate, OpNot, OpToString,
		OpReturn, OpExit, OpThrow:
		return 0, true
	case OpLoadRegister, OpStoreRegister, OpLoadConstant, OpLoadInt, OpLoadSmallInt,
		OpLoadGlobal, OpStoreGlobal, OpLoadModuleVariable, OpStoreModuleVariable,
		OpAddRegister, OpSubtractRegister, OpMultiplyRegister, OpDivideRegister,
		OpModRegister, OpConcatRegister, OpAddInt, OpSubtractInt, OpMultiplyInt,
		OpDivideInt, OpModInt, OpLess, OpLessEqual, OpGreater, OpGreaterEqual,
		OpEqual, OpNotEqual, OpJump, OpJumpBack, OpJumpIfFalse,
		OpCall0Argument, OpClosure, OpClose, OpLoadSubscript, OpGetMethod,
		OpLoadUpvalue, OpStoreUpvalue:
		return 1, true
	case OpMove, OpForLoop, OpCall, OpNewArray, OpStoreSubscript, OpCall1Argument:
		return 2, true
	case OpCall2Argument, OpStoreArrayUnchecked:
		return 3, true
	}
	if op >= OpLoadR0 && op <= OpStoreR15 {
		return 0, true
	}
	return 0, false
}

func readUnsigned(code []byte, ip int, width OperandWidth) uint32 {
	switch width {
	case Wide:
		return uint32(code[ip]) | uint32(code[ip+1])<<8
	case ExtraWide:
		return uint32(code[ip]) | uint32(code[ip+1])<<8 | uint32(code[ip+2])<<16 | uint32(code[ip+3])<<24
	default:
		return uint32(code[ip])
	}
}

func readSigned(code []byte, ip int, width OperandWidth) int32 {
	u := readUnsigned(code, ip, width)
	switch width {
	case Wide:
		return int32(int16(u))
	case ExtraWide:
		return int32(u)
	default:
		return int32(int8(u))
	}
}

// execute is the register-based interpreter's single dispatch loop
// (spec.md §3.3, §4.4). Frames are pushed/popped on the current task's
// own Frames slice rather than via Go-level recursion, so arbitrarily
// deep script recursion costs one Go stack frame total (bounded only by
// MaxFrames) — grounded on the teacher's vmregister/vm.go `run()` loop
// shape (cached frame locals, explicit frame stack), generalized to
// spec.md's accumulator/register-window model.
func (v *VM) execute(fn *Function, eval bool) VMResult {
	t := v.current
	base := t.Top
	if serr := t.ensureStack(base + int(fn.Info.MaxRegisters) + 1); serr != nil {
		t.Status = TaskError
		t.LastPanic = v.newErrorValue(serr)
		return VMResult{
			Status:     ErrorStatus,
			Result:     t.LastPanic,
			StackTrace: v.generateStackTrace(0),
		}
	}
	t.Top = base + int(fn.Info.MaxRegisters)
	t.Frames = append(t.Frames, Frame{BP: base, IP: 0, Fn: fn})

	result, err := v.runUntil(t, 0, eval)
	if err != nil {
		t.Status = TaskError
		t.LastPanic = v.newErrorValue(err)
		return VMResult{
			Status:     ErrorStatus,
			Result:     t.LastPanic,
			StackTrace: v.generateStackTrace(0),
		}
	}
	if !eval {
		result = NullValue()
	}
	return VMResult{Status: Success, Result: result}
}

// runUntil drives the dispatch loop until t.Frames shrinks back down to
// stopDepth, returning the returning frame's value. execute calls this
// with stopDepth 0 for a fresh top-level run; CallValue calls it with
// stopDepth set to the frame count just before it pushed a new Function
// frame, letting a native builtin (Array.sort's comparator, Map.forEach's
// callback, ...) re-enter the same dispatch loop for one nested call
// without disturbing the frames already below it.
func (v *VM) runUntil(t *Task, stopDepth int, eval bool) (Value, *cerrors.CorvidError) {
	for {
		if len(t.Frames) <= stopDepth {
			return NullValue(), nil
		}
		fi := len(t.Frames) - 1
		frame := &t.Frames[fi]
		info := frame.Fn.Info
		code := info.Code

		if frame.IP >= len(code) {
			// Fell off the end without an explicit Return: implicit null
			// return, matching a function whose body never returns.
			t.Frames = t.Frames[:fi]
			if fi == stopDepth {
				return NullValue(), nil
			}
			t.Frames[fi-1].Acc = NullValue()
			continue
		}

		width := Narrow
		op := Op(code[frame.IP])
		frame.IP++
		if op == OpWide || op == OpExtraWide {
			if op == OpWide {
				width = Wide
			} else {
				width = ExtraWide
			}
			op = Op(code[frame.IP])
			frame.IP++
		}

		regs := t.Stack[frame.BP:]

		status, result, err := v.step(t, frame, info, code, op, width, regs, eval)
		switch status {
		case stepContinue:
			continue
		case stepReturn:
			t.Frames = t.Frames[:fi]
			if fi == stopDepth {
				if fi > 0 {
					prev := t.Frames[fi-1]
					t.Top = prev.BP + int(prev.Fn.Info.MaxRegisters)
				} else {
					t.Top = 0
				}
				return result, nil
			}
			prev := t.Frames[fi-1]
			t.Top = prev.BP + int(prev.Fn.Info.MaxRegisters)
			t.Frames[fi-1].Acc = result
		case stepThrow:
			if !v.unwind(t, stopDepth, err) {
				// No handler at or above stopDepth: the frames this call
				// pushed are abandoned frames now, not live state — drop
				// them and hand the error back to the Go caller (for a
				// top-level run that caller is execute; for a re-entrant
				// CallValue it is the native builtin that passed the
				// throwing callback, which reports it as its own failure).
				t.Frames = t.Frames[:stopDepth]
				if stopDepth > 0 {
					prev := t.Frames[stopDepth-1]
					t.Top = prev.BP + int(prev.Fn.Info.MaxRegisters)
				} else {
					t.Top = 0
				}
				return EmptyValue(), err
			}
		}
	}
}

// CallValue invokes a callable Value synchronously on the current task,
// used by native builtins that accept script callbacks (Array.sort's
// comparator, Array.map/filter/reduce, Map.forEach). A Function value
// re-enters the same register-based dispatch loop via runUntil rather
// than recursing in Go, so a callback that itself calls deeply still
// only costs MaxFrames, not the Go stack.
func (v *VM) CallValue(callee Value, args []Value) (Value, *cerrors.CorvidError) {
	if !callee.IsObject() {
		return EmptyValue(), cerrors.New(cerrors.TypeError, "%s is not callable", TypeString(callee))
	}
	switch d := callee.AsObject().data.(type) {
	case *NativeFunction:
		var result Value
		if !d.Callback(v, args, &result) {
			return EmptyValue(), v.errorFromValue(result)
		}
		return result, nil
	case *Function:
		t := v.current
		if len(t.Frames) >= MaxFrames {
			return EmptyValue(), cerrors.New(cerrors.GenericError, "stack overflow")
		}
		base := t.Top
		if serr := t.ensureStack(base + int(d.Info.MaxRegisters) + 1); serr != nil {
			return EmptyValue(), serr
		}
		t.Top = base + int(d.Info.MaxRegisters)
		copy(t.Stack[base:base+len(args)], args)
		depth := len(t.Frames)
		t.Frames = append(t.Frames, Frame{BP: base, IP: 0, Fn: d})
		return v.runUntil(t, depth, true)
	default:
		return EmptyValue(), cerrors.New(cerrors.TypeError, "%s is not callable", TypeString(callee))
	}
}

type stepStatus uint8

const (
	stepContinue stepStatus = iota
	stepReturn
	stepThrow
)

// unwind searches frames at index >= minFrame (innermost first) for a
// handler covering the throwing IP; on a match it truncates to that
// frame, rewrites its IP to the handler target, and stores the thrown
// value in CatchReg (spec.md §7 propagation). Returns false if no frame
// at or above minFrame handles it — minFrame is 0 for a top-level run,
// or a re-entrant CallValue's starting depth, so a throw inside a
// native builtin's script callback can never unwind into frames that
// call predates (see runUntil).
func (v *VM) unwind(t *Task, minFrame int, e *cerrors.CorvidError) bool {
	errVal := v.newErrorValue(e)
	for i := len(t.Frames) - 1; i >= minFrame; i-- {
		fr := &t.Frames[i]
		ip := uint32(fr.IP)
		for _, h := range fr.Fn.Info.Handlers {
			if ip > h.Start && ip <= h.End {
				t.Frames = t.Frames[:i+1]
				fr.IP = int(h.Target)
				t.Stack[fr.BP+int(h.CatchReg)] = errVal
				return true
			}
		}
	}
	return false
}

// step executes exactly one (already width-resolved) opcode.
func (v *VM) step(t *Task, frame *Frame, info *FunctionInfo, code []byte, op Op, width OperandWidth, regs []Value, eval bool) (stepStatus, Value, *cerrors.CorvidError) {
	n, known := operandCount(op)
	if !known {
		return stepThrow, EmptyValue(), cerrors.New(cerrors.GenericError, "corrupt bytecode: unknown opcode %d", op)
	}
	operands := make([]uint32, n)
	opStart := frame.IP
	for i := 0; i < n; i++ {
		operands[i] = readUnsigned(code, frame.IP, width)
		frame.IP += width.size()
	}
	signedAt := func(i int) int32 { return readSigned(code, opStart+i*width.size(), width) }

	acc := frame.Acc

	switch op {
	case OpLoadNull:
		frame.Acc = NullValue()
	case OpLoadTrue:
		frame.Acc = BoolValue(true)
	case OpLoadFalse:
		frame.Acc = BoolValue(false)
	case OpLoadRegister:
		frame.Acc = regs[operands[0]]
	case OpStoreRegister:
		regs[operands[0]] = acc
	case OpMove:
		regs[operands[0]] = regs[operands[1]]
	case OpLoadConstant:
		frame.Acc = info.Constants[operands[0]]
	case OpLoadInt, OpLoadSmallInt:
		frame.Acc = IntValue(signedAt(0))
	case OpLoadGlobal, OpLoadModuleVariable:
		frame.Acc = v.GetGlobal(operands[0])
	case OpStoreGlobal, OpStoreModuleVariable:
		v.SetGlobal(operands[0], acc)

	case OpAddRegister, OpAddInt, OpSubtractRegister, OpSubtractInt,
		OpMultiplyRegister, OpMultiplyInt, OpDivideRegister, OpDivideInt,
		OpModRegister, OpModInt:
		var rhs Value
		if op == OpAddInt || op == OpSubtractInt || op == OpMultiplyInt || op == OpDivideInt || op == OpModInt {
			rhs = IntValue(signedAt(0))
		} else {
			rhs = regs[operands[0]]
		}
		res, cerr := arithmetic(op, acc, rhs)
		if cerr != nil {
			return stepThrow, EmptyValue(), cerr
		}
		frame.Acc = res
	case OpConcatRegister:
		lhs, ok1 := asString(acc)
		rhs, ok2 := asString(regs[operands[0]])
		if !ok1 || !ok2 {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.TypeError, "ConcatRegister requires String operands")
		}
		frame.Acc = ValueOf(v.NewString(lhs + rhs))
	case OpNegate:
		res, cerr := negate(acc)
		if cerr != nil {
			return stepThrow, EmptyValue(), cerr
		}
		frame.Acc = res
	case OpNot:
		frame.Acc = BoolValue(acc.IsNullOrFalse())
	case OpToString:
		frame.Acc = ValueOf(v.NewString(v.toDisplayString(acc)))

	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		lhs, rhs := regs[operands[0]], acc
		if !lhs.IsInt() && !lhs.IsFloat() || !rhs.IsInt() && !rhs.IsFloat() {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.TypeError, "comparison requires numeric operands")
		}
		a, b := numberOf(lhs), numberOf(rhs)
		var r bool
		switch op {
		case OpLess:
			r = a < b
		case OpLessEqual:
			r = a <= b
		case OpGreater:
			r = a > b
		case OpGreaterEqual:
			r = a >= b
		}
		frame.Acc = BoolValue(r)
	case OpEqual, OpNotEqual:
		eq := valuesEqual(regs[operands[0]], acc)
		if op == OpNotEqual {
			eq = !eq
		}
		frame.Acc = BoolValue(eq)

	case OpJump:
		frame.IP += int(operands[0])
	case OpJumpBack:
		frame.IP -= int(operands[0])
	case OpJumpIfFalse:
		if acc.IsNullOrFalse() {
			frame.IP += int(operands[0])
		}

	case OpReturn:
		t.closeUpvaluesFrom(frame.BP)
		return stepReturn, acc, nil
	case OpExit:
		t.closeUpvaluesFrom(frame.BP)
		if eval {
			return stepReturn, acc, nil
		}
		return stepReturn, NullValue(), nil

	case OpForLoop:
		// ForLoop(jump, iter_reg): increments bp[iter_reg] (an int) and
		// jumps back while < bp[iter_reg+1] (spec.md §4.4 family 5) — a
		// plain two-register integer-range loop, unrelated to the for-in
		// hasNext/next method-dispatch protocol (§4.7), which a compiler
		// emits as explicit GetMethod/Call sequences instead.
		iterReg := int(operands[1])
		counterVal, limitVal := regs[iterReg], regs[iterReg+1]
		if !counterVal.IsInt() || !limitVal.IsInt() {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.TypeError, "ForLoop requires Int counter/limit registers")
		}
		counter := counterVal.AsInt() + 1
		regs[iterReg] = IntValue(counter)
		if counter < limitVal.AsInt() {
			frame.IP -= int(operands[0])
		}

	case OpCall0Argument, OpCall1Argument, OpCall2Argument, OpCall:
		return v.dispatchCall(t, frame, info, op, operands, regs, acc)

	case OpClosure:
		fnInfo, ok := info.Constants[operands[0]].AsObject().data.(*FunctionInfo)
		if !ok {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.GenericError, "corrupt bytecode: Closure constant is not a FunctionInfo")
		}
		upvals := make([]*UpValue, len(fnInfo.Upvalues))
		for i, uvInfo := range fnInfo.Upvalues {
			if uvInfo.IsLocal {
				upvals[i] = t.captureUpvalue(frame.BP + int(uvInfo.Index))
			} else {
				upvals[i] = frame.Fn.Upvalues[uvInfo.Index]
			}
		}
		frame.Acc = ValueOf(v.NewFunction(fnInfo, upvals))
	case OpClose:
		t.closeUpvaluesFrom(frame.BP + int(operands[0]))
	case OpLoadUpvalue:
		frame.Acc = frame.Fn.Upvalues[operands[0]].Get()
	case OpStoreUpvalue:
		frame.Fn.Upvalues[operands[0]].Set(acc)

	case OpNewArray:
		base, count := int(operands[0]), int(operands[1])
		elems := make([]Value, count)
		copy(elems, regs[base:base+count])
		frame.Acc = ValueOf(v.NewArray(elems))
	case OpLoadSubscript:
		res, cerr := v.subscriptGet(regs[operands[0]], acc)
		if cerr != nil {
			return stepThrow, EmptyValue(), cerr
		}
		frame.Acc = res
	case OpStoreSubscript:
		if cerr := v.subscriptSet(regs[operands[0]], regs[operands[1]], acc); cerr != nil {
			return stepThrow, EmptyValue(), cerr
		}
	case OpStoreArrayUnchecked:
		arr := regs[operands[0]].AsObject().data.(*Array)
		idx := regs[operands[1]].AsInt()
		arr.Elements[idx] = acc

	case OpThrow:
		return stepThrow, EmptyValue(), v.errorFromValue(acc)

	case OpGetMethod:
		symVal := info.Constants[operands[0]]
		sym, ok := symVal.AsObject().data.(*Symbol)
		if !ok {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.GenericError, "corrupt bytecode: GetMethod constant is not a Symbol")
		}
		// A receiver that is itself a Class means a static call (e.g.
		// Array.construct(...)): try that class's own method table
		// first (and its Super chain) before falling back to Class's
		// generic method table (name, getSuper), which every class
		// value answers to regardless of which class it is.
		var cls *Class
		var receiverIsClass bool
		if acc.IsObject() {
			if c, ok := acc.AsObject().data.(*Class); ok {
				cls = c
				receiverIsClass = true
			}
		}
		if cls == nil {
			cls = v.GetClass(acc)
		}
		if cls == nil {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.TypeError, "%s has no class", TypeString(acc))
		}
		m, found := cls.findMethod(sym)
		if !found && receiverIsClass {
			if metaclass := v.builtinClasses["Class"]; metaclass != nil {
				m, found = metaclass.findMethod(sym)
			}
		}
		if !found {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.NameError, "undefined method %q on %s", sym.Value, cls.Name)
		}
		frame.Acc = m

	default:
		if op >= OpLoadR0 && op <= OpLoadR15 {
			frame.Acc = regs[int(op-OpLoadR0)]
		} else if op >= OpStoreR0 && op <= OpStoreR15 {
			regs[int(op-OpStoreR0)] = acc
		} else {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.GenericError, "corrupt bytecode: unhandled opcode %s", op)
		}
	}
	return stepContinue, EmptyValue(), nil
}

// dispatchCall handles the Call family: it either pushes a new Frame
// (interpreted Function) or invokes a NativeFunction's Go callback
// synchronously, then leaves its result in the caller's accumulator
// once that frame next resumes (for interpreted calls, via the Return
// path in execute's main loop; for native calls, immediately).
func (v *VM) dispatchCall(t *Task, frame *Frame, info *FunctionInfo, op Op, operands []uint32, regs []Value, acc Value) (stepStatus, Value, *cerrors.CorvidError) {
	var calleeReg int
	var argc int
	switch op {
	case OpCall0Argument:
		calleeReg, argc = int(operands[0]), 0
	case OpCall1Argument:
		calleeReg, argc = int(operands[0]), 1
	case OpCall2Argument:
		calleeReg, argc = int(operands[0]), 2
	case OpCall:
		calleeReg, argc = int(operands[0]), int(operands[1])
	}
	callee := regs[calleeReg]
	if !callee.IsObject() {
		return stepThrow, EmptyValue(), cerrors.New(cerrors.TypeError, "%s is not callable", TypeString(callee))
	}
	args := regs[calleeReg+1 : calleeReg+1+argc]

	switch d := callee.AsObject().data.(type) {
	case *NativeFunction:
		slotBase := append([]Value{}, args...)
		var result Value
		ok := d.Callback(v, slotBase, &result)
		if !ok {
			return stepThrow, EmptyValue(), v.errorFromValue(result)
		}
		frame.Acc = result
		return stepContinue, EmptyValue(), nil
	case *Function:
		if len(t.Frames) >= MaxFrames {
			return stepThrow, EmptyValue(), cerrors.New(cerrors.GenericError, "stack overflow")
		}
		newBase := t.Top
		if serr := t.ensureStack(newBase + int(d.Info.MaxRegisters) + 1); serr != nil {
			return stepThrow, EmptyValue(), serr
		}
		t.Top = newBase + int(d.Info.MaxRegisters)
		copy(t.Stack[newBase:newBase+argc], args)
		t.Frames = append(t.Frames, Frame{BP: newBase, IP: 0, Fn: d})
		return stepContinue, EmptyValue(), nil
	default:
		return stepThrow, EmptyValue(), cerrors.New(cerrors.TypeError, "%s is not callable", TypeString(callee))
	}
}

func arithmetic(op Op, acc, rhs Value) (Value, *cerrors.CorvidError) {
	if acc.IsInt() && rhs.IsInt() {
		a, b := acc.AsInt(), rhs.AsInt()
		var r int32
		var ok bool
		switch op {
		case OpAddRegister, OpAddInt:
			r, ok = safeAddInt32(a, b)
		case OpSubtractRegister, OpSubtractInt:
			r, ok = safeSubInt32(a, b)
		case OpMultiplyRegister, OpMultiplyInt:
			r, ok = safeMulInt32(a, b)
		case OpDivideRegister, OpDivideInt:
			r, ok = safeDivInt32(a, b)
		case OpModRegister, OpModInt:
			r, ok = safeModInt32(a, b)
		}
		if !ok {
			return EmptyValue(), cerrors.New(cerrors.OverflowError, "integer overflow")
		}
		return IntValue(r), nil
	}
	if (acc.IsInt() || acc.IsFloat()) && (rhs.IsInt() || rhs.IsFloat()) {
		a, b := numberOf(acc), numberOf(rhs)
		var r float64
		switch op {
		case OpAddRegister, OpAddInt:
			r = a + b
		case OpSubtractRegister, OpSubtractInt:
			r = a - b
		case OpMultiplyRegister, OpMultiplyInt:
			r = a * b
		case OpDivideRegister, OpDivideInt:
			r = a / b
		case OpModRegister, OpModInt:
			r = math.Mod(a, b)
		}
		return FloatValue(r), nil
	}
	return EmptyValue(), cerrors.New(cerrors.TypeError, "arithmetic requires numeric operands")
}

func negate(v Value) (Value, *cerrors.CorvidError) {
	if v.IsInt() {
		r, ok := safeNegInt32(v.AsInt())
		if !ok {
			return EmptyValue(), cerrors.New(cerrors.OverflowError, "integer overflow")
		}
		return IntValue(r), nil
	}
	if v.IsFloat() {
		return FloatValue(-v.AsFloat()), nil
	}
	return EmptyValue(), cerrors.New(cerrors.TypeError, "Negate requires a numeric operand")
}

func asString(v Value) (string, bool) {
	if !v.IsObject() {
		return "", false
	}
	s, ok := v.AsObject().data.(*String)
	if !ok {
		return "", false
	}
	return s.Value, true
}

// valuesEqual implements script-level `==`: numeric cross-type
// comparison, content comparison for Strings, identity otherwise
// (spec.md §3.1).
func valuesEqual(a, b Value) bool {
	if (a.IsInt() || a.IsFloat()) && (b.IsInt() || b.IsFloat()) {
		return NumberEqual(a, b)
	}
	return StrictEqual(a, b)
}

// toDisplayString renders v for the ToString opcode and Object.toString
// (spec.md §4.7).
func (v *VM) toDisplayString(val Value) string {
	switch {
	case val.IsInt():
		return fmt.Sprintf("%d", val.AsInt())
	case val.IsFloat():
		return fmt.Sprintf("%g", val.AsFloat())
	case val.IsBool():
		return fmt.Sprintf("%t", val.AsBool())
	case val.IsNull():
		return "null"
	case val.IsObject():
		obj := val.AsObject()
		switch d := obj.data.(type) {
		case *String:
			return d.Value
		case *Symbol:
			return d.Value
		default:
			return "<" + obj.typeName() + ">"
		}
	}
	return "<empty>"
}

// subscriptGet implements container[index] for Array and Map (spec.md §4.7).
func (v *VM) subscriptGet(container, index Value) (Value, *cerrors.CorvidError) {
	if !container.IsObject() {
		return EmptyValue(), cerrors.New(cerrors.TypeError, "%s is not subscriptable", TypeString(container))
	}
	switch d := container.AsObject().data.(type) {
	case *Array:
		if !index.IsInt() {
			return EmptyValue(), cerrors.New(cerrors.TypeError, "Array index must be Int")
		}
		i := int(index.AsInt())
		if i < 0 || i >= len(d.Elements) {
			return EmptyValue(), cerrors.New(cerrors.IndexError, "index %d out of range (len %d)", i, len(d.Elements))
		}
		return d.Elements[i], nil
	case *Map:
		val, ok := d.Get(index)
		if !ok {
			return EmptyValue(), cerrors.New(cerrors.KeyError, "key not found")
		}
		return val, nil
	default:
		return EmptyValue(), cerrors.New(cerrors.TypeError, "%s is not subscriptable", container.AsObject().typeName())
	}
}

func (v *VM) subscriptSet(container, index, val Value) *cerrors.CorvidError {
	if !container.IsObject() {
		return cerrors.New(cerrors.TypeError, "%s is not subscriptable", TypeString(container))
	}
	switch d := container.AsObject().data.(type) {
	case *Array:
		if !index.IsInt() {
			return cerrors.New(cerrors.TypeError, "Array index must be Int")
		}
		i := int(index.AsInt())
		if i < 0 || i >= len(d.Elements) {
			return cerrors.New(cerrors.IndexError, "index %d out of range (len %d)", i, len(d.Elements))
		}
		d.Elements[i] = val
	case *Map:
		d.Set(index, val)
	default:
		return cerrors.New(cerrors.TypeError, "%s is not subscriptable", container.AsObject().typeName())
	}
	return nil
}

// errorFromValue converts a thrown script Value into a CorvidError,
// used both by the Throw opcode and by native callbacks' false-return
// convention (spec.md §4.7 "a pre-constructed error object is in
// vm.return_value").
func (v *VM) errorFromValue(val Value) *cerrors.CorvidError {
	if val.IsObject() {
		if inst, ok := val.AsObject().data.(*Instance); ok {
			msg := ""
			if v.symbols != nil {
				if mv, ok := inst.Properties[v.Intern("message")]; ok {
					msg = v.toDisplayString(mv)
				}
			}
			return cerrors.New(cerrors.ErrorType(inst.Class.Name), "%s", msg)
		}
		if s, ok := val.AsObject().data.(*String); ok {
			return cerrors.New(cerrors.GenericError, "%s", s.Value)
		}
	}
	return cerrors.New(cerrors.GenericError, "%s", v.toDisplayString(val))
}

// newErrorValue boxes a CorvidError back into a script-visible Value: an
// Instance of the matching builtin error class when one is registered
// (internal/builtins wires TypeError/OverflowError/IndexError/KeyError/
// NameError/Error classes), else a plain String rendering.
func (v *VM) newErrorValue(e *cerrors.CorvidError) Value {
	cls := v.builtinClasses[string(e.Type)]
	if cls == nil {
		cls = v.builtinClasses[string(cerrors.GenericError)]
	}
	if cls != nil && v.symbols != nil {
		inst := v.NewInstance(cls)
		inst.Properties[v.Intern("message")] = ValueOf(v.NewString(e.Message))
		return ValueOf(inst)
	}
	return ValueOf(v.NewString(e.Error()))
}
