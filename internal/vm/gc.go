package vm

// GC implements spec.md §4.5: an intrusive-list, stop-the-world,
// tri-color mark-sweep collector driven by a grey worklist. It does not
// move or reclaim memory itself (Go's runtime GC does that); instead it
// decides which objects are *logically* live for the scripting language
// and unlinks the rest from its intrusive list, after which nothing but
// Go's own GC keeps them around — see DESIGN.md for why NaN-boxed
// pointers (value_nanbox.go) stay safe under this scheme.
type GC struct {
	owner          *VM
	firstObj       *Object
	bytesAllocated uintptr
	threshold      uintptr
	grey           []*Object
	constants      []*Object // objects rooted for the GC's whole lifetime (emitter-interned symbols, etc.)

	// StressGC forces a collection on every allocation; used by tests to
	// shake out GC-safety bugs (spec.md §4.5 "STRESS_GC").
	StressGC bool
}

const (
	initialHeapSize   = 1 << 20 // 1 MiB
	heapGrowthFactor  = 2
)

func newGC(owner *VM) *GC {
	return &GC{owner: owner, threshold: initialHeapSize}
}

// gcObjSetter is implemented by objectData kinds that need a back-pointer
// to their own Object wrapper, because they're also reachable from other
// heap structures via a raw Go struct pointer rather than only via Value
// (Class.Super, Instance.Class, Function.Info, Task from vm.current/
// allTasks). Without this back-pointer the mark phase would have no
// isDark bit to set when it reaches the object that way.
type gcObjSetter interface {
	attachObject(*Object)
}

// manage links a freshly-constructed object into the GC's intrusive list
// and accounts for its size. Every allocation in this VM goes through
// alloc, which calls manage (spec.md §4.5 "alloc(bytes)...manage(ptr)").
func (g *GC) manage(data objectData) *Object {
	obj := &Object{data: data, next: g.firstObj}
	g.firstObj = obj
	g.bytesAllocated += data.heapSize()
	if s, ok := data.(gcObjSetter); ok {
		s.attachObject(obj)
	}
	return obj
}

// alloc is the allocation entrypoint: it triggers a collection if the
// heap has crossed threshold (or StressGC is set) before constructing and
// linking the new object.
func (g *GC) alloc(data objectData) *Object {
	if g.StressGC || g.bytesAllocated > g.threshold {
		g.collect()
	}
	return g.manage(data)
}

// MakeConstant roots obj for the GC's entire lifetime, independent of the
// ordinary root set — used for the handful of canonical objects (e.g. a
// few well-known interned Symbols) referenced only from native code
// (ported from original_source/neptune-vm/gc.h's make_constant).
func (g *GC) MakeConstant(obj *Object) {
	g.constants = append(g.constants, obj)
}

// collect runs one full mark-sweep cycle.
func (g *GC) collect() {
	g.markRoots()
	g.traceGrey()
	g.sweep()
	g.threshold = g.bytesAllocated * heapGrowthFactor
	if g.threshold < initialHeapSize {
		g.threshold = initialHeapSize
	}
}

// Collect runs a GC cycle on demand (the vm.gc() builtin, spec.md §4.7).
func (g *GC) Collect() { g.collect() }

func (g *GC) markValue(v Value) {
	if v.IsObject() {
		g.mark(v.AsObject())
	}
}

func (g *GC) mark(obj *Object) {
	if obj == nil || obj.isDark {
		return
	}
	obj.isDark = true
	g.grey = append(g.grey, obj)
}

// markRoots enumerates every root in spec.md §4.5 item 1, including the
// Function (and through it the FunctionInfo) of every live frame.
func (g *GC) markRoots() {
	vm := g.owner
	if vm == nil {
		return
	}
	if vm.current != nil {
		g.markTask(vm.current)
	}
	for _, t := range vm.allTasks {
		g.markTask(t)
	}
	for i := 0; i < int(vm.nextGlobal); i++ {
		g.markValue(vm.globals[i])
	}
	for _, v := range vm.tempRoots {
		g.markValue(v)
	}
	for h := vm.handles; h != nil; h = h.next {
		g.mark(h.obj)
	}
	for _, cls := range vm.builtinClasses {
		if cls != nil {
			g.markClass(cls)
		}
	}
	for _, mod := range vm.modules {
		g.markModuleObj(mod)
	}
	if vm.symbols != nil {
		vm.symbols.MarkRoots(g.markValue)
	}
	for _, obj := range g.constants {
		g.mark(obj)
	}
}

func (g *GC) markTask(t *Task) {
	tobj := t.gcObj
	g.mark(tobj)
	for i := 0; i < t.Top; i++ {
		g.markValue(t.Stack[i])
	}
	for _, fr := range t.Frames {
		if fr.Fn != nil {
			g.mark(fr.Fn.gcObj)
			g.markFunction(fr.Fn)
		}
	}
	for uv := t.openUpvalues; uv != nil; uv = uv.Next {
		g.markValue(uv.Get())
	}
	g.markValue(t.LastPanic)
}

func (g *GC) markModuleObj(m *Module) {
	_ = m // Module holds only name + uint32 indices; nothing further to trace.
}

func (g *GC) markClass(c *Class) {
	g.mark(c.gcObj)
	if c.Super != nil {
		g.markClass(c.Super)
	}
	for sym, v := range c.Methods {
		g.mark(sym.gcObj)
		g.markValue(v)
	}
}

func (g *GC) markFunction(f *Function) {
	for _, uv := range f.Upvalues {
		g.markValue(uv.Get())
	}
}

// traceGrey implements the "Blacken" step: pop grey objects, trace their
// children, pushing newly-discovered objects back onto the grey stack
// (spec.md §4.5 item 3).
func (g *GC) traceGrey() {
	for len(g.grey) > 0 {
		obj := g.grey[len(g.grey)-1]
		g.grey = g.grey[:len(g.grey)-1]
		g.blacken(obj)
	}
}

func (g *GC) blacken(obj *Object) {
	switch d := obj.data.(type) {
	case *Array:
		for _, v := range d.Elements {
			g.markValue(v)
		}
	case *Map:
		for _, e := range d.entries {
			if e.occupied {
				g.markValue(e.key)
				g.markValue(e.val)
			}
		}
	case *Instance:
		g.markClass(d.Class)
		for sym, v := range d.Properties {
			g.mark(sym.gcObj)
			g.markValue(v)
		}
	case *Class:
		g.markClass(d)
	case *Function:
		g.mark(d.Info.gcObj)
		g.markFunction(d)
	case *FunctionInfo:
		for _, c := range d.Constants {
			g.markValue(c)
		}
	case *ArrayIterator:
		// The iterator holds Arr by raw pointer, so it marks the array
		// itself; the array's Elements are traced when Arr is blackened.
		if d.Arr != nil {
			g.mark(d.Arr.gcObj)
		}
	case *MapIterator:
		g.markValue(d.lastKey)
	case *StringIterator:
		// no Value fields
	case *Task:
		g.markTask(d)
	case *Range, *String, *Symbol, *NativeFunction, *Module:
		// no outgoing Value references
	}
}

// sweep walks the intrusive object list; live (dark) objects are
// unmarked for the next cycle, dead ones are unlinked (spec.md §4.5
// item 4). Unlinking a Symbol additionally prunes it from the intern
// table (weak-reference semantics, spec.md §4.2).
func (g *GC) sweep() {
	var prev *Object
	obj := g.firstObj
	for obj != nil {
		next := obj.next
		if obj.isDark {
			obj.isDark = false
			prev = obj
		} else {
			g.bytesAllocated -= obj.data.heapSize()
			if sym, ok := obj.data.(*Symbol); ok && g.owner != nil && g.owner.symbols != nil {
				g.owner.symbols.Remove(sym)
			}
			if prev == nil {
				g.firstObj = next
			} else {
				prev.next = next
			}
		}
		obj = next
	}
}

// BytesAllocated reports the live-object byte total (spec.md §8 invariant 5).
func (g *GC) BytesAllocated() uintptr { return g.bytesAllocated }
