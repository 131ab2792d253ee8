package vm

import (
	"fmt"

	cerrors "github.com/corvid-lang/corvid/internal/errors"
)

// SymbolInterner is the interface internal/symbol.Table satisfies. It is
// declared here (rather than internal/vm importing internal/symbol
// directly) because the interner's implementation needs *Symbol/Value
// from this package — internal/symbol depends on internal/vm, so
// internal/vm cannot depend back on it. The concrete Table is wired in
// by internal/builtins.NewVM, which is this project's "new_vm()"
// (spec.md §6.1) since it is the layer that can see both packages.
type SymbolInterner interface {
	Intern(name string) *Symbol
	Remove(sym *Symbol)
	MarkRoots(mark func(Value))
}

// EFunc is a host-registered native callback dispatched dynamically by
// symbol through vm.ecall (spec.md §6.1, §6.2).
type EFunc func(ctx *EFuncContext, arg Value) (Value, EFuncStatus)

// Option configures a VM at construction (SPEC_FULL.md AMBIENT STACK:
// functional options standing in for the teacher's direct field
// setters).
type Option func(*VM)

// WithStressGC forces a GC cycle on every allocation (spec.md §4.5
// "STRESS_GC"), for tests exercising GC-safety.
func WithStressGC() Option {
	return func(v *VM) { v.gc.StressGC = true }
}

// VM is the whole execution core (spec.md §9 "the VM instance IS the
// ambient state"): one GC, one module-global array, the builtin class
// table, every Task (current and suspended), and the host-registration
// surfaces (handles, EFuncs, modules).
type VM struct {
	gc *GC

	current  *Task
	allTasks []*Task

	globals     [1 << 16]Value
	globalNames map[string]uint32
	nextGlobal  uint32

	tempRoots []Value
	handles   *Handle

	builtinClasses map[string]*Class
	modules        map[string]*Module
	moduleVarMut   map[string]bool

	symbols SymbolInterner
	efuncs  map[string]EFunc
}

// New constructs a bare VM: a GC, an empty global table, and one running
// main Task. It does not register any builtin classes or modules — that
// is internal/builtins.NewVM's job (spec.md §6.1 "new_vm() ... loads
// <prelude> and built-in modules"), since builtin classes are themselves
// heap objects allocated through this VM's GC and keyed by interned
// Symbols, both of which live one layer up.
func New(opts ...Option) *VM {
	v := &VM{
		globalNames:    make(map[string]uint32),
		builtinClasses: make(map[string]*Class),
		modules:        make(map[string]*Module),
		moduleVarMut:   make(map[string]bool),
		efuncs:         make(map[string]EFunc),
	}
	v.gc = newGC(v)
	for _, opt := range opts {
		opt(v)
	}
	main := newTask(nil)
	v.gc.manage(main)
	v.current = main
	v.allTasks = append(v.allTasks, main)
	return v
}

// SetSymbols installs the symbol interner. Must be called before any
// code that interns symbols (builtin class registration, the emitter's
// symbol_constant, native builtins) runs.
func (v *VM) SetSymbols(t SymbolInterner) { v.symbols = t }

// AllocSymbol allocates a brand-new Symbol object through the GC. Passed
// as the interner's alloc callback by internal/builtins.NewVM so every
// interned spelling is tracked by this VM's GC like any other heap
// object (spec.md §4.2).
func (v *VM) AllocSymbol(name string) *Symbol {
	sym := &Symbol{Value: name, Hash: fnv1a64(name)}
	v.gc.alloc(sym)
	return sym
}

// Intern returns the unique Symbol for name (spec.md §4.2).
func (v *VM) Intern(name string) *Symbol {
	return v.symbols.Intern(name)
}

// GC exposes the garbage collector, primarily for the vm.gc() native
// builtin and tests.
func (v *VM) GC() *GC { return v.gc }

// CurrentTask returns the Task presently executing.
func (v *VM) CurrentTask() *Task { return v.current }

// CurrentTaskID returns the presently executing Task's ID (spec.md §6.2;
// tags which cooperative task an ecall failure or host-tooling trace
// belongs to).
func (v *VM) CurrentTaskID() string {
	if v.current == nil {
		return ""
	}
	return v.current.ID.String()
}

// --- Allocation helpers (used by internal/builtins, internal/emitter) -------

func (v *VM) NewString(s string) *String {
	obj := newStringData(s)
	v.gc.alloc(obj)
	return obj
}

func (v *VM) NewArray(elems []Value) *Array {
	a := &Array{Elements: elems}
	v.gc.alloc(a)
	return a
}

func (v *VM) NewMap() *Map {
	m := newMapData()
	v.gc.alloc(m)
	return m
}

func (v *VM) NewRange(start, end int32) *Range {
	r := &Range{Start: start, End: end, Cursor: start}
	v.gc.alloc(r)
	return r
}

func (v *VM) NewInstance(c *Class) *Instance {
	inst := newInstance(c)
	v.gc.alloc(inst)
	return inst
}

func (v *VM) NewFunction(info *FunctionInfo, upvalues []*UpValue) *Function {
	f := &Function{Info: info, Upvalues: upvalues}
	v.gc.alloc(f)
	return f
}

func (v *VM) NewFunctionInfo(info *FunctionInfo) *FunctionInfo {
	v.gc.alloc(info)
	return info
}

func (v *VM) NewNativeFunction(module, name string, arity int, cb NativeCallback) *NativeFunction {
	n := &NativeFunction{Name: name, Module: module, Arity: arity, Callback: cb}
	v.gc.alloc(n)
	return n
}

func (v *VM) NewClass(name string, super *Class, native bool) *Class {
	c := newClass(name, super, native)
	v.gc.alloc(c)
	return c
}

func (v *VM) NewArrayIterator(a *Array) *ArrayIterator {
	it := &ArrayIterator{Arr: a}
	v.gc.alloc(it)
	return it
}

func (v *VM) NewMapIterator(m *Map) *MapIterator {
	it := &MapIterator{M: m}
	v.gc.alloc(it)
	return it
}

func (v *VM) NewStringIterator(s *String) *StringIterator {
	it := &StringIterator{Str: s}
	v.gc.alloc(it)
	return it
}

func (v *VM) NewTask(name string) *Task {
	var nameObj *String
	if name != "" {
		nameObj = v.NewString(name)
	}
	t := newTask(nameObj)
	v.gc.alloc(t)
	v.allTasks = append(v.allTasks, t)
	return t
}

// --- Globals (spec.md §4.2 "module globals") --------------------------------

// AddGlobal declares a new module-global slot, returning its index. Per
// spec.md §4.2 an index, once assigned, is never reused — each call
// allocates a fresh slot even if name repeats.
func (v *VM) AddGlobal(name string) uint32 {
	idx := v.nextGlobal
	v.nextGlobal++
	v.globalNames[name] = idx
	return idx
}

func (v *VM) GlobalIndex(name string) (uint32, bool) {
	idx, ok := v.globalNames[name]
	return idx, ok
}

func (v *VM) GetGlobal(idx uint32) Value  { return v.globals[idx] }
func (v *VM) SetGlobal(idx uint32, val Value) { v.globals[idx] = val }

// --- Modules -----------------------------------------------------------------

// CreateModule registers a new, empty module (spec.md §6.1).
func (v *VM) CreateModule(name string) *Module {
	m := &Module{Name: name, Exports: make(map[string]uint32)}
	v.gc.alloc(m)
	v.modules[name] = m
	return m
}

// GetModule looks up a module by name (the <prelude> internal
// _getModule, spec.md §4.7).
func (v *VM) GetModule(name string) (*Module, bool) {
	m, ok := v.modules[name]
	return m, ok
}

// CallerModuleName returns the module name of the script frame that is
// currently calling into a native function (<prelude>'s _getCallerModule,
// spec.md §4.7). NativeFunction calls never push a Frame of their own
// (see dispatchCall), so the current task's top frame still belongs to
// the caller for the duration of the native callback.
func (v *VM) CallerModuleName() string {
	t := v.current
	if len(t.Frames) == 0 {
		return ""
	}
	fr := t.Frames[len(t.Frames)-1]
	if fr.Fn == nil {
		return ""
	}
	return fr.Fn.Info.ModuleName
}

// AddModuleVariable declares varName as a global slot owned by module,
// optionally exporting it (spec.md §6.1). isMutable is recorded for the
// compiler/emitter's own use (the core does not itself enforce
// const-assignment; that is a front-end concern per spec.md §1).
func (v *VM) AddModuleVariable(module, varName string, isMutable, isExported bool) uint32 {
	qualified := module + "." + varName
	idx := v.AddGlobal(qualified)
	v.moduleVarMut[qualified] = isMutable
	if m, ok := v.modules[module]; ok && isExported {
		m.Exports[varName] = idx
	}
	return idx
}

// --- Native functions / builtin classes --------------------------------------

// DeclareNativeFunction registers a native callback as module.name,
// exposing it as a module-global of arity arity (spec.md §6.1). Public
// functions are additionally exported from the module.
func (v *VM) DeclareNativeFunction(module, name string, isPublic bool, arity int, cb NativeCallback) *NativeFunction {
	nf := v.NewNativeFunction(module, name, arity, cb)
	idx := v.AddModuleVariable(module, name, false, isPublic)
	v.SetGlobal(idx, ValueOf(nf))
	return nf
}

// RegisterBuiltinClass installs c as the builtin class for type name
// (e.g. "Int", "String", "Array") so GetClass can resolve it.
func (v *VM) RegisterBuiltinClass(name string, c *Class) {
	v.builtinClasses[name] = c
}

// GetClass resolves v's runtime class: the matching builtin class for
// primitives, the instance's own Class for Instances, else nil.
func (v *VM) GetClass(val Value) *Class {
	switch {
	case val.IsInt():
		return v.builtinClasses["Int"]
	case val.IsFloat():
		return v.builtinClasses["Float"]
	case val.IsBool():
		return v.builtinClasses["Bool"]
	case val.IsNull():
		return v.builtinClasses["Null"]
	case val.IsObject():
		obj := val.AsObject()
		switch d := obj.data.(type) {
		case *Instance:
			return d.Class
		default:
			return v.builtinClasses[obj.data.kind().String()]
		}
	}
	return nil
}

// --- Temp roots (spec.md §5 "Resource discipline") ---------------------------

// PushTempRoot roots v until the matching PopTempRoot (a LIFO scoped
// root, used by the emitter while building a FunctionInfo and by native
// builtins across calls that may allocate).
func (v *VM) PushTempRoot(val Value) { v.tempRoots = append(v.tempRoots, val) }

// PopTempRoot unroots the most recently pushed temp root.
func (v *VM) PopTempRoot() {
	if n := len(v.tempRoots); n > 0 {
		v.tempRoots = v.tempRoots[:n-1]
	}
}

// --- EFunc (spec.md §6.1, §6.2) ----------------------------------------------

// RegisterEFunc registers a dynamically-dispatched native callback under
// name, invokable from script via vm.ecall(symbol, arg).
func (v *VM) RegisterEFunc(name string, fn EFunc) {
	v.efuncs[name] = fn
}

// ecall dispatches to a registered EFunc by name (the vm.ecall native
// builtin, spec.md §4.7).
func (v *VM) ecall(name string, arg Value) (Value, EFuncStatus) {
	fn, ok := v.efuncs[name]
	if !ok {
		return EmptyValue(), EFuncTypeError
	}
	ctx := &EFuncContext{vm: v}
	return fn(ctx, arg)
}

// --- Results / exceptions (spec.md §6.4, §7) ---------------------------------

// ResultStatus is VMResult's outcome discriminant.
type ResultStatus uint8

const (
	Success ResultStatus = iota
	ErrorStatus
)

// VMResult is Run's return value (spec.md §6.1, §6.4).
type VMResult struct {
	Status     ResultStatus
	Result     Value
	StackTrace string
}

// Run executes fn on the current task to completion and reports the
// outcome (spec.md §6.1). If eval is true the function is called as a
// top-level expression (its return value becomes Result on success);
// otherwise Result is Null on success.
func (v *VM) Run(fn *Function, eval bool) (result VMResult) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			esc := cerrors.Escalate(err)
			result = VMResult{
				Status:     ErrorStatus,
				Result:     v.newErrorValue(esc),
				StackTrace: v.generateStackTrace(0),
			}
		}
	}()
	return v.execute(fn, eval)
}

// generateStackTrace walks the current task's frames, innermost first,
// mapping each frame's saved ip to a source line via its FunctionInfo's
// line table (spec.md §7).
func (v *VM) generateStackTrace(skip int) string {
	t := v.current
	if t == nil {
		return ""
	}
	frames := make([]cerrors.StackFrame, 0, len(t.Frames))
	for i := len(t.Frames) - 1 - skip; i >= 0; i-- {
		fr := t.Frames[i]
		if fr.Fn == nil {
			continue
		}
		frames = append(frames, cerrors.StackFrame{
			Function: fr.Fn.Info.Name,
			Line:     lineForOffset(fr.Fn.Info, fr.IP),
		})
	}
	trace := &cerrors.CorvidError{}
	trace.CallStack = frames
	trace.TaskID = t.ID.String()
	return trace.Error()
}

func lineForOffset(info *FunctionInfo, ip int) int {
	line := 0
	for _, li := range info.Lines {
		if int(li.Offset) > ip {
			break
		}
		line = int(li.Line)
	}
	return line
}

// NewErrorValue boxes e as a script-visible Value (an Instance of the
// matching builtin error class when one is registered, else a plain
// String rendering), for native builtins to place in *result on a
// false return (spec.md §4.7 "a pre-constructed error object is in
// vm.return_value").
func (v *VM) NewErrorValue(e *cerrors.CorvidError) Value { return v.newErrorValue(e) }

// GenerateStackTrace exposes generateStackTrace for the vm.generateStackTrace
// native builtin (spec.md §4.7).
func (v *VM) GenerateStackTrace(skip int) string { return v.generateStackTrace(skip) }

// Disassemble exposes disassemble for the vm.disassemble native builtin
// (spec.md §4.7).
func (v *VM) Disassemble(info *FunctionInfo) string { return v.disassemble(info) }

// ToDisplayString exposes toDisplayString for Object.toString and every
// native builtin that needs to render a Value as text.
func (v *VM) ToDisplayString(val Value) string { return v.toDisplayString(val) }

// Ecall exposes ecall for the vm.ecall native builtin.
func (v *VM) Ecall(name string, arg Value) (Value, EFuncStatus) { return v.ecall(name, arg) }

// disassemble renders fn's bytecode as text (vm.disassemble builtin,
// spec.md §4.7) — one of the VM core's two introspection surfaces
// alongside generateStackTrace, matching SPEC_FULL.md's "Logging" note
// that the core itself never logs.
func (v *VM) disassemble(info *FunctionInfo) string {
	out := fmt.Sprintf("function %s (arity=%d, registers=%d)\n", info.Name, info.Arity, info.MaxRegisters)
	ip := 0
	for ip < len(info.Code) {
		width := Narrow
		op := Op(info.Code[ip])
		start := ip
		if op == OpWide || op == OpExtraWide {
			if op == OpWide {
				width = Wide
			} else {
				width = ExtraWide
			}
			ip++
			op = Op(info.Code[ip])
		}
		out += fmt.Sprintf("  %04d %s\n", start, op)
		ip++
		n, _ := operandCount(op)
		ip += n * width.size()
	}
	return out
}
