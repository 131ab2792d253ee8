// Command corvid is a smoke-test harness for the execution core. There is
// no lexer/parser in this tree (spec.md §1 Non-goals): it hand-assembles
// bytecode through internal/emitter, the same boundary a real front end
// would sit behind, and runs it through the host embedding API
// (internal/builtins.NewVM, vm.Run).
package main

import (
	"fmt"
	"log"

	"github.com/corvid-lang/corvid/internal/builtins"
	"github.com/corvid-lang/corvid/internal/emitter"
	"github.com/corvid-lang/corvid/internal/vm"
)

func main() {
	v := builtins.NewVM()

	sumResult := runSumLoop(v, 10)
	fmt.Printf("sum(1..10) = %s\n", v.ToDisplayString(sumResult.Result))

	arrResult := runArrayPush(v)
	if arrResult.Status == vm.ErrorStatus {
		log.Fatalf("array smoke test failed: %s\n%s", v.ToDisplayString(arrResult.Result), arrResult.StackTrace)
	}
	fmt.Printf("len(arr) = %s\n", v.ToDisplayString(arrResult.Result))
}

// runSumLoop hand-assembles `sum := 0; i := 1; while i <= n { sum += i; i +=
// 1 }; return sum`, exercising the arithmetic/comparison/jump opcode
// families over three registers (n, sum, i).
func runSumLoop(v *vm.VM, n int32) vm.VMResult {
	fw := emitter.NewFunctionInfoWriter(v, "sumLoop", "main", 0)
	const regN, regSum, regI = 0, 1, 2
	fw.SetMaxRegisters(3)

	fw.WriteOp(vm.OpLoadInt, 1)
	fw.WriteI8(int8(n))
	fw.WriteOp(vm.OpStoreRegister, 1)
	fw.WriteU8(regN)

	fw.WriteOp(vm.OpLoadInt, 2)
	fw.WriteI8(0)
	fw.WriteOp(vm.OpStoreRegister, 2)
	fw.WriteU8(regSum)

	fw.WriteOp(vm.OpLoadInt, 3)
	fw.WriteI8(1)
	fw.WriteOp(vm.OpStoreRegister, 3)
	fw.WriteU8(regI)

	loopStart := fw.Size()
	fw.WriteOp(vm.OpLoadRegister, 4)
	fw.WriteU8(regN)
	fw.WriteOp(vm.OpLessEqual, 4)
	fw.WriteU8(regI)
	fw.WriteOp(vm.OpJumpIfFalse, 4)
	exitJumpPos := fw.Size()
	fw.WriteU8(0) // patched below

	fw.WriteOp(vm.OpLoadRegister, 5)
	fw.WriteU8(regSum)
	fw.WriteOp(vm.OpAddRegister, 5)
	fw.WriteU8(regI)
	fw.WriteOp(vm.OpStoreRegister, 5)
	fw.WriteU8(regSum)

	fw.WriteOp(vm.OpLoadRegister, 6)
	fw.WriteU8(regI)
	fw.WriteOp(vm.OpAddInt, 6)
	fw.WriteI8(1)
	fw.WriteOp(vm.OpStoreRegister, 6)
	fw.WriteU8(regI)

	backJumpPos := fw.WriteOp(vm.OpJumpBack, 6)
	fw.WriteU8(uint8(backJumpPos + 2 - loopStart))

	fw.PatchJump(exitJumpPos, vm.Narrow, uint32(fw.Size()-(exitJumpPos+1)))

	fw.WriteOp(vm.OpLoadRegister, 7)
	fw.WriteU8(regSum)
	fw.WriteOp(vm.OpReturn, 7)

	return fw.Run(true)
}

// runArrayPush hand-assembles `arr := <Array global seeded by the host>;
// arr.push(4); return arr.len()`, exercising OpGetMethod's native-method
// dispatch and the Call family's receiver-as-first-argument convention.
func runArrayPush(v *vm.VM) vm.VMResult {
	arr := v.NewArray([]vm.Value{vm.IntValue(1), vm.IntValue(2), vm.IntValue(3)})
	arrGlobal := v.AddGlobal("arr")
	v.SetGlobal(arrGlobal, vm.ValueOf(arr))

	fw := emitter.NewFunctionInfoWriter(v, "arrayPush", "main", 0)
	const regArr, regMethod, regRecv, regArg = 0, 1, 2, 3
	fw.SetMaxRegisters(4)
	pushSym := fw.SymbolConstant("push")
	lenSym := fw.SymbolConstant("len")

	fw.WriteOp(vm.OpLoadGlobal, 1)
	fw.WriteU8(uint8(arrGlobal))
	fw.WriteOp(vm.OpStoreRegister, 1)
	fw.WriteU8(regArr)

	fw.WriteOp(vm.OpLoadRegister, 2)
	fw.WriteU8(regArr)
	fw.WriteOp(vm.OpGetMethod, 2)
	fw.WriteU8(uint8(pushSym))
	fw.WriteOp(vm.OpStoreRegister, 2)
	fw.WriteU8(regMethod)

	fw.WriteOp(vm.OpLoadRegister, 3)
	fw.WriteU8(regArr)
	fw.WriteOp(vm.OpStoreRegister, 3)
	fw.WriteU8(regRecv)

	fw.WriteOp(vm.OpLoadInt, 3)
	fw.WriteI8(4)
	fw.WriteOp(vm.OpStoreRegister, 3)
	fw.WriteU8(regArg)

	// OpCall2Argument takes 3 operand words (operandCount); dispatchCall
	// only consumes the first (the callee register) and hardcodes argc=2,
	// but all 3 must still be present for the decoder's IP to land
	// correctly on the following instruction.
	fw.WriteOp(vm.OpCall2Argument, 4)
	fw.WriteU8(regMethod)
	fw.WriteU8(0)
	fw.WriteU8(0)

	fw.WriteOp(vm.OpLoadRegister, 5)
	fw.WriteU8(regArr)
	fw.WriteOp(vm.OpGetMethod, 5)
	fw.WriteU8(uint8(lenSym))
	fw.WriteOp(vm.OpStoreRegister, 5)
	fw.WriteU8(regMethod)

	fw.WriteOp(vm.OpLoadRegister, 6)
	fw.WriteU8(regArr)
	fw.WriteOp(vm.OpStoreRegister, 6)
	fw.WriteU8(regRecv)

	fw.WriteOp(vm.OpCall1Argument, 7)
	fw.WriteU8(regMethod)
	fw.WriteU8(regRecv)

	fw.WriteOp(vm.OpReturn, 7)

	return fw.Run(true)
}
