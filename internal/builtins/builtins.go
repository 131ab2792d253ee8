// Package builtins is the host-API entrypoint (spec.md §6.1 "new_vm()"):
// it wires a bare *vm.VM together with the symbol interner and every
// built-in class/module a script can see (Object, Class, Array, Map,
// Range and its iterators, Int, Float, Bool, Null, Symbol, String, the
// Error taxonomy, and the math/random/vm modules), then registers the
// native callbacks spec.md §4.7 and original_source/neptune-vm/
// native_builtins.cc describe. internal/vm itself never imports this
// package — builtin registration lives one layer up, same as the
// teacher keeps vmregister.RegisterStdlib outside the core value/object
// types it registers against.
package builtins

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"unicode/utf8"

	cerrors "github.com/corvid-lang/corvid/internal/errors"
	"github.com/corvid-lang/corvid/internal/symbol"
	"github.com/corvid-lang/corvid/internal/vm"
)

// NewVM constructs a fully wired VM: symbol interner installed, every
// builtin class registered, and the math/random/vm modules populated
// (spec.md §6.1's new_vm()).
func NewVM(opts ...vm.Option) *vm.VM {
	v := vm.New(opts...)
	v.SetSymbols(symbol.New(v.AllocSymbol))

	object := registerObjectClass(v)
	registerClassClass(v, object)
	registerArrayClass(v, object)
	registerMapClass(v, object)
	registerStringClass(v, object)
	registerRangeClass(v, object)
	registerIteratorClasses(v, object)
	registerNumberClasses(v, object)
	registerSymbolClass(v, object)
	registerErrorClasses(v, object)

	registerMathModule(v)
	registerRandomModule(v)
	registerVMModule(v)
	registerPrelude(v)

	return v
}

// --- shared helpers -----------------------------------------------------

func fail(v *vm.VM, result *vm.Value, t cerrors.ErrorType, format string, args ...interface{}) bool {
	*result = v.NewErrorValue(cerrors.New(t, format, args...))
	return false
}

func ret(result *vm.Value, val vm.Value) bool {
	*result = val
	return true
}

func arg(slotBase []vm.Value, i int) vm.Value {
	if i < len(slotBase) {
		return slotBase[i]
	}
	return vm.NullValue()
}

// method registers a NativeFunction as a method of cls, keyed by its
// interned name (spec.md §4.7's calling convention: slotBase[0] is the
// receiver).
func method(v *vm.VM, cls *vm.Class, name string, arity int, cb vm.NativeCallback) {
	nf := v.NewNativeFunction(cls.Name, name, arity, cb)
	cls.Methods[v.Intern(name)] = vm.ValueOf(nf)
}

func newClass(v *vm.VM, name string, super *vm.Class) *vm.Class {
	cls := v.NewClass(name, super, true)
	v.RegisterBuiltinClass(name, cls)
	return cls
}

// --- Object --------------------------------------------------------------

func registerObjectClass(v *vm.VM) *vm.Class {
	cls := newClass(v, "Object", nil)

	method(v, cls, "toString", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		return ret(result, vm.ValueOf(v.NewString(v.ToDisplayString(arg(slotBase, 0)))))
	})
	method(v, cls, "getClass", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		c := v.GetClass(arg(slotBase, 0))
		if c == nil {
			return fail(v, result, cerrors.TypeError, "value has no class")
		}
		return ret(result, vm.ValueOf(c))
	})
	method(v, cls, "construct", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		return fail(v, result, cerrors.TypeError, "Object cannot be constructed directly")
	})
	return cls
}

// --- Class -----------------------------------------------------------------

func registerClassClass(v *vm.VM, object *vm.Class) *vm.Class {
	cls := newClass(v, "Class", object)

	method(v, cls, "name", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		c, ok := vm.AsClassData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "name expects a Class receiver")
		}
		return ret(result, vm.ValueOf(v.NewString(c.Name)))
	})
	method(v, cls, "getSuper", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		c, ok := vm.AsClassData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "getSuper expects a Class receiver")
		}
		if c.Super == nil {
			return ret(result, vm.NullValue())
		}
		return ret(result, vm.ValueOf(c.Super))
	})
	return cls
}

// --- Array -----------------------------------------------------------------

func registerArrayClass(v *vm.VM, object *vm.Class) *vm.Class {
	cls := newClass(v, "Array", object)

	method(v, cls, "construct", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		elems := make([]vm.Value, 0, len(slotBase)-1)
		elems = append(elems, slotBase[min(1, len(slotBase)):]...)
		return ret(result, vm.ValueOf(v.NewArray(elems)))
	})
	method(v, cls, "push", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "push expects an Array receiver")
		}
		a.Elements = append(a.Elements, arg(slotBase, 1))
		return ret(result, vm.NullValue())
	})
	method(v, cls, "pop", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "pop expects an Array receiver")
		}
		if len(a.Elements) == 0 {
			return fail(v, result, cerrors.IndexError, "pop on empty Array")
		}
		last := a.Elements[len(a.Elements)-1]
		a.Elements = a.Elements[:len(a.Elements)-1]
		return ret(result, last)
	})
	method(v, cls, "len", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "len expects an Array receiver")
		}
		return ret(result, vm.IntValue(int32(len(a.Elements))))
	})
	method(v, cls, "insert", 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "insert expects an Array receiver")
		}
		idxVal := arg(slotBase, 1)
		if !idxVal.IsInt() {
			return fail(v, result, cerrors.TypeError, "insert index must be Int")
		}
		i := int(idxVal.AsInt())
		if i < 0 || i > len(a.Elements) {
			return fail(v, result, cerrors.IndexError, "index %d out of range (len %d)", i, len(a.Elements))
		}
		a.Elements = append(a.Elements, vm.NullValue())
		copy(a.Elements[i+1:], a.Elements[i:])
		a.Elements[i] = arg(slotBase, 2)
		return ret(result, vm.NullValue())
	})
	method(v, cls, "remove", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "remove expects an Array receiver")
		}
		idxVal := arg(slotBase, 1)
		if !idxVal.IsInt() {
			return fail(v, result, cerrors.TypeError, "remove index must be Int")
		}
		i := int(idxVal.AsInt())
		if i < 0 || i >= len(a.Elements) {
			return fail(v, result, cerrors.IndexError, "index %d out of range (len %d)", i, len(a.Elements))
		}
		removed := a.Elements[i]
		a.Elements = append(a.Elements[:i], a.Elements[i+1:]...)
		return ret(result, removed)
	})
	method(v, cls, "clear", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "clear expects an Array receiver")
		}
		a.Elements = nil
		return ret(result, vm.NullValue())
	})
	method(v, cls, "iter", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "iter expects an Array receiver")
		}
		return ret(result, vm.ValueOf(v.NewArrayIterator(a)))
	})
	method(v, cls, "slice", 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "slice expects an Array receiver")
		}
		startV, endV := arg(slotBase, 1), arg(slotBase, 2)
		if !startV.IsInt() || !endV.IsInt() {
			return fail(v, result, cerrors.TypeError, "slice bounds must be Int")
		}
		start, end := int(startV.AsInt()), int(endV.AsInt())
		if start < 0 || end > len(a.Elements) || start > end {
			return fail(v, result, cerrors.IndexError, "slice [%d:%d) out of range (len %d)", start, end, len(a.Elements))
		}
		out := append([]vm.Value{}, a.Elements[start:end]...)
		return ret(result, vm.ValueOf(v.NewArray(out)))
	})
	method(v, cls, "join", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "join expects an Array receiver")
		}
		sep, ok := vm.AsStringData(arg(slotBase, 1))
		if !ok {
			return fail(v, result, cerrors.TypeError, "join separator must be String")
		}
		parts := make([]string, len(a.Elements))
		for i, e := range a.Elements {
			parts[i] = v.ToDisplayString(e)
		}
		return ret(result, vm.ValueOf(v.NewString(strings.Join(parts, sep.Value))))
	})
	method(v, cls, "sort", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "sort expects an Array receiver")
		}
		cmp := arg(slotBase, 1)
		if !vm.IsCallable(cmp) {
			return fail(v, result, cerrors.TypeError, "sort comparator must be callable")
		}
		var sortErr *cerrors.CorvidError
		sort.SliceStable(a.Elements, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			r, err := v.CallValue(cmp, []vm.Value{a.Elements[i], a.Elements[j]})
			if err != nil {
				sortErr = err
				return false
			}
			return r.IsInt() && r.AsInt() < 0
		})
		if sortErr != nil {
			*result = v.NewErrorValue(sortErr)
			return false
		}
		return ret(result, vm.NullValue())
	})
	method(v, cls, "map", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "map expects an Array receiver")
		}
		fn := arg(slotBase, 1)
		if !vm.IsCallable(fn) {
			return fail(v, result, cerrors.TypeError, "map function must be callable")
		}
		out := make([]vm.Value, len(a.Elements))
		for i, e := range a.Elements {
			r, err := v.CallValue(fn, []vm.Value{e})
			if err != nil {
				*result = v.NewErrorValue(err)
				return false
			}
			out[i] = r
		}
		return ret(result, vm.ValueOf(v.NewArray(out)))
	})
	method(v, cls, "filter", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "filter expects an Array receiver")
		}
		fn := arg(slotBase, 1)
		if !vm.IsCallable(fn) {
			return fail(v, result, cerrors.TypeError, "filter predicate must be callable")
		}
		out := make([]vm.Value, 0, len(a.Elements))
		for _, e := range a.Elements {
			r, err := v.CallValue(fn, []vm.Value{e})
			if err != nil {
				*result = v.NewErrorValue(err)
				return false
			}
			if !r.IsNullOrFalse() {
				out = append(out, e)
			}
		}
		return ret(result, vm.ValueOf(v.NewArray(out)))
	})
	method(v, cls, "reduce", 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "reduce expects an Array receiver")
		}
		fn := arg(slotBase, 2)
		if !vm.IsCallable(fn) {
			return fail(v, result, cerrors.TypeError, "reduce function must be callable")
		}
		acc := arg(slotBase, 1)
		for _, e := range a.Elements {
			r, err := v.CallValue(fn, []vm.Value{acc, e})
			if err != nil {
				*result = v.NewErrorValue(err)
				return false
			}
			acc = r
		}
		return ret(result, acc)
	})
	return cls
}

// --- Map ---------------------------------------------------------------------

func registerMapClass(v *vm.VM, object *vm.Class) *vm.Class {
	cls := newClass(v, "Map", object)

	method(v, cls, "construct", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		return ret(result, vm.ValueOf(v.NewMap()))
	})
	method(v, cls, "len", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		m, ok := vm.AsMap(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "len expects a Map receiver")
		}
		return ret(result, vm.IntValue(int32(m.Len())))
	})
	method(v, cls, "clear", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		m, ok := vm.AsMap(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "clear expects a Map receiver")
		}
		m.Clear()
		return ret(result, vm.NullValue())
	})
	method(v, cls, "contains", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		m, ok := vm.AsMap(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "contains expects a Map receiver")
		}
		return ret(result, vm.BoolValue(m.Has(arg(slotBase, 1))))
	})
	method(v, cls, "remove", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		m, ok := vm.AsMap(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "remove expects a Map receiver")
		}
		if !m.Delete(arg(slotBase, 1)) {
			return fail(v, result, cerrors.KeyError, "key not found")
		}
		return ret(result, vm.NullValue())
	})
	method(v, cls, "keys", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		m, ok := vm.AsMap(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "keys expects a Map receiver")
		}
		return ret(result, vm.ValueOf(v.NewArray(m.Keys())))
	})
	method(v, cls, "get", 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		m, ok := vm.AsMap(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "get expects a Map receiver")
		}
		if val, found := m.Get(arg(slotBase, 1)); found {
			return ret(result, val)
		}
		return ret(result, arg(slotBase, 2))
	})
	method(v, cls, "forEach", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		m, ok := vm.AsMap(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "forEach expects a Map receiver")
		}
		fn := arg(slotBase, 1)
		if !vm.IsCallable(fn) {
			return fail(v, result, cerrors.TypeError, "forEach function must be callable")
		}
		for _, k := range m.Keys() {
			val, _ := m.Get(k)
			if _, err := v.CallValue(fn, []vm.Value{k, val}); err != nil {
				*result = v.NewErrorValue(err)
				return false
			}
		}
		return ret(result, vm.NullValue())
	})
	method(v, cls, "iter", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		m, ok := vm.AsMap(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "iter expects a Map receiver")
		}
		return ret(result, vm.ValueOf(v.NewMapIterator(m)))
	})
	return cls
}

// --- String ------------------------------------------------------------------

func registerStringClass(v *vm.VM, object *vm.Class) *vm.Class {
	cls := newClass(v, "String", object)

	method(v, cls, "construct", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 1))
		if !ok {
			return fail(v, result, cerrors.TypeError, "String.construct expects an Array of byte values")
		}
		buf := make([]byte, 0, len(a.Elements))
		for _, e := range a.Elements {
			if !e.IsInt() {
				return fail(v, result, cerrors.TypeError, "String.construct expects Int byte values")
			}
			buf = append(buf, byte(e.AsInt()))
		}
		if !utf8.Valid(buf) {
			return fail(v, result, cerrors.TypeError, "String.construct: invalid UTF-8")
		}
		return ret(result, vm.ValueOf(v.NewString(string(buf))))
	})
	method(v, cls, "len", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "len expects a String receiver")
		}
		return ret(result, vm.IntValue(int32(utf8.RuneCountInString(s.Value))))
	})
	method(v, cls, "find", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "find expects a String receiver")
		}
		needle, ok := vm.AsStringData(arg(slotBase, 1))
		if !ok {
			return fail(v, result, cerrors.TypeError, "find argument must be a String")
		}
		idx := strings.Index(s.Value, needle.Value)
		if idx < 0 {
			return ret(result, vm.NullValue())
		}
		return ret(result, vm.IntValue(int32(utf8.RuneCountInString(s.Value[:idx]))))
	})
	method(v, cls, "chars", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "chars expects a String receiver")
		}
		return ret(result, vm.ValueOf(v.NewStringIterator(s)))
	})
	method(v, cls, "startsWith", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "startsWith expects a String receiver")
		}
		prefix, ok := vm.AsStringData(arg(slotBase, 1))
		if !ok {
			return fail(v, result, cerrors.TypeError, "startsWith argument must be a String")
		}
		return ret(result, vm.BoolValue(strings.HasPrefix(s.Value, prefix.Value)))
	})
	method(v, cls, "endsWith", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "endsWith expects a String receiver")
		}
		suffix, ok := vm.AsStringData(arg(slotBase, 1))
		if !ok {
			return fail(v, result, cerrors.TypeError, "endsWith argument must be a String")
		}
		return ret(result, vm.BoolValue(strings.HasSuffix(s.Value, suffix.Value)))
	})
	method(v, cls, "trim", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "trim expects a String receiver")
		}
		return ret(result, vm.ValueOf(v.NewString(strings.TrimSpace(s.Value))))
	})
	method(v, cls, "toUpper", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "toUpper expects a String receiver")
		}
		return ret(result, vm.ValueOf(v.NewString(strings.ToUpper(s.Value))))
	})
	method(v, cls, "toLower", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "toLower expects a String receiver")
		}
		return ret(result, vm.ValueOf(v.NewString(strings.ToLower(s.Value))))
	})
	method(v, cls, "split", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "split expects a String receiver")
		}
		sep, ok := vm.AsStringData(arg(slotBase, 1))
		if !ok {
			return fail(v, result, cerrors.TypeError, "split separator must be a String")
		}
		parts := strings.Split(s.Value, sep.Value)
		out := make([]vm.Value, len(parts))
		for i, p := range parts {
			out[i] = vm.ValueOf(v.NewString(p))
		}
		return ret(result, vm.ValueOf(v.NewArray(out)))
	})
	method(v, cls, "iter", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "iter expects a String receiver")
		}
		return ret(result, vm.ValueOf(v.NewStringIterator(s)))
	})
	return cls
}

// --- Range -------------------------------------------------------------------

func registerRangeClass(v *vm.VM, object *vm.Class) *vm.Class {
	cls := newClass(v, "Range", object)

	method(v, cls, "construct", 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		startV, endV := arg(slotBase, 1), arg(slotBase, 2)
		if !startV.IsInt() || !endV.IsInt() {
			return fail(v, result, cerrors.TypeError, "Range.construct expects Int bounds")
		}
		return ret(result, vm.ValueOf(v.NewRange(startV.AsInt(), endV.AsInt())))
	})
	method(v, cls, "start", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		r, ok := vm.AsRange(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "start expects a Range receiver")
		}
		return ret(result, vm.IntValue(r.Start))
	})
	method(v, cls, "end", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		r, ok := vm.AsRange(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "end expects a Range receiver")
		}
		return ret(result, vm.IntValue(r.End))
	})
	method(v, cls, "hasNext", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		r, ok := vm.AsRange(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "hasNext expects a Range receiver")
		}
		return ret(result, vm.BoolValue(r.Cursor < r.End))
	})
	method(v, cls, "next", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		r, ok := vm.AsRange(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "next expects a Range receiver")
		}
		// Returns Start even when Start == End — unreachable through the
		// for-in protocol, which always checks hasNext first (DESIGN.md
		// open question 2).
		val := r.Cursor
		if r.Cursor < r.End {
			r.Cursor++
		}
		return ret(result, vm.IntValue(val))
	})
	return cls
}

// --- Iterators -----------------------------------------------------------------

func registerIteratorClasses(v *vm.VM, object *vm.Class) {
	arrIt := newClass(v, "ArrayIterator", object)
	method(v, arrIt, "hasNext", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		it, ok := vm.AsArrayIterator(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "hasNext expects an ArrayIterator receiver")
		}
		return ret(result, vm.BoolValue(it.Pos < len(it.Arr.Elements)))
	})
	method(v, arrIt, "next", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		it, ok := vm.AsArrayIterator(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "next expects an ArrayIterator receiver")
		}
		if it.Pos >= len(it.Arr.Elements) {
			return fail(v, result, cerrors.IndexError, "iterator exhausted")
		}
		val := it.Arr.Elements[it.Pos]
		it.Pos++
		return ret(result, val)
	})

	mapIt := newClass(v, "MapIterator", object)
	method(v, mapIt, "hasNext", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		it, ok := vm.AsMapIterator(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "hasNext expects a MapIterator receiver")
		}
		return ret(result, vm.BoolValue(it.HasNext()))
	})
	method(v, mapIt, "next", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		it, ok := vm.AsMapIterator(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "next expects a MapIterator receiver")
		}
		k, ok := it.Next()
		if !ok {
			return fail(v, result, cerrors.IndexError, "iterator exhausted")
		}
		return ret(result, k)
	})

	strIt := newClass(v, "StringIterator", object)
	method(v, strIt, "hasNext", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		it, ok := vm.AsStringIterator(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "hasNext expects a StringIterator receiver")
		}
		return ret(result, vm.BoolValue(it.Pos < len(it.Str.Value)))
	})
	method(v, strIt, "next", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		it, ok := vm.AsStringIterator(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "next expects a StringIterator receiver")
		}
		if it.Pos >= len(it.Str.Value) {
			return fail(v, result, cerrors.IndexError, "iterator exhausted")
		}
		r, size := utf8.DecodeRuneInString(it.Str.Value[it.Pos:])
		it.Pos += size
		return ret(result, vm.ValueOf(v.NewString(string(r))))
	})
}

// --- Int / Float / Bool / Null ------------------------------------------------

func registerNumberClasses(v *vm.VM, object *vm.Class) {
	intCls := newClass(v, "Int", object)
	method(v, intCls, "construct", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a := arg(slotBase, 1)
		switch {
		case a.IsInt():
			return ret(result, a)
		case a.IsFloat():
			return ret(result, vm.IntValue(int32(a.AsFloat())))
		default:
			return fail(v, result, cerrors.TypeError, "Int.construct expects a numeric value")
		}
	})
	method(v, intCls, "toFloat", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a := arg(slotBase, 0)
		if !a.IsInt() {
			return fail(v, result, cerrors.TypeError, "toFloat expects an Int receiver")
		}
		return ret(result, vm.FloatValue(float64(a.AsInt())))
	})

	floatCls := newClass(v, "Float", object)
	method(v, floatCls, "construct", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a := arg(slotBase, 1)
		switch {
		case a.IsFloat():
			return ret(result, a)
		case a.IsInt():
			return ret(result, vm.FloatValue(float64(a.AsInt())))
		default:
			return fail(v, result, cerrors.TypeError, "Float.construct expects a numeric value")
		}
	})
	method(v, floatCls, "toInt", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a := arg(slotBase, 0)
		if !a.IsFloat() {
			return fail(v, result, cerrors.TypeError, "toInt expects a Float receiver")
		}
		f := a.AsFloat()
		if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return fail(v, result, cerrors.OverflowError, "Float %g does not fit in an Int", f)
		}
		return ret(result, vm.IntValue(int32(f)))
	})
	method(v, floatCls, "isNaN", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a := arg(slotBase, 0)
		if !a.IsFloat() {
			return fail(v, result, cerrors.TypeError, "isNaN expects a Float receiver")
		}
		return ret(result, vm.BoolValue(math.IsNaN(a.AsFloat())))
	})

	boolCls := newClass(v, "Bool", object)
	method(v, boolCls, "construct", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		return ret(result, vm.BoolValue(!arg(slotBase, 1).IsNullOrFalse()))
	})

	nullCls := newClass(v, "Null", object)
	method(v, nullCls, "construct", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		return ret(result, vm.NullValue())
	})
}

// --- Symbol --------------------------------------------------------------------

func registerSymbolClass(v *vm.VM, object *vm.Class) {
	cls := newClass(v, "Symbol", object)
	method(v, cls, "name", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		s, ok := vm.AsSymbolData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "name expects a Symbol receiver")
		}
		return ret(result, vm.ValueOf(v.NewString(s.Value)))
	})
}

// --- Error taxonomy --------------------------------------------------------------

// registerErrorClasses wires Error and its subclasses (spec.md §7) as
// ordinary Instance-bearing classes with a single "message" property, so
// v.NewErrorValue (component F) can box a CorvidError into script space
// by constructing an Instance of the matching class.
func registerErrorClasses(v *vm.VM, object *vm.Class) {
	base := newClass(v, string(cerrors.GenericError), object)
	method(v, base, "construct", 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		inst, ok := vm.AsInstance(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "Error.construct expects an Instance receiver")
		}
		inst.Properties[v.Intern("message")] = arg(slotBase, 1)
		return ret(result, arg(slotBase, 0))
	})
	method(v, base, "message", 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		inst, ok := vm.AsInstance(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "message expects an Error receiver")
		}
		msg, ok := inst.Properties[v.Intern("message")]
		if !ok {
			return ret(result, vm.NullValue())
		}
		return ret(result, msg)
	})

	for _, t := range []cerrors.ErrorType{cerrors.TypeError, cerrors.OverflowError, cerrors.IndexError, cerrors.KeyError, cerrors.NameError} {
		newClass(v, string(t), base)
	}
}

// --- math module ---------------------------------------------------------------

func registerMathModule(v *vm.VM) {
	v.CreateModule("math")

	unary := func(name string, fn func(float64) float64) {
		v.DeclareNativeFunction("math", name, true, 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
			x := arg(slotBase, 0)
			var f float64
			switch {
			case x.IsFloat():
				f = x.AsFloat()
			case x.IsInt():
				f = float64(x.AsInt())
			default:
				return fail(v, result, cerrors.TypeError, "math.%s expects a numeric argument", name)
			}
			return ret(result, vm.FloatValue(fn(f)))
		})
	}
	unary("acos", math.Acos)
	unary("asin", math.Asin)
	unary("atan", math.Atan)
	unary("cbrt", math.Cbrt)
	unary("ceil", math.Ceil)
	unary("cos", math.Cos)
	unary("floor", math.Floor)
	unary("round", math.Round)
	unary("sin", math.Sin)
	unary("sqrt", math.Sqrt)
	unary("tan", math.Tan)
	unary("log", math.Log)
	unary("log2", math.Log2)
	unary("exp", math.Exp)

	v.DeclareNativeFunction("math", "abs", true, 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		x := arg(slotBase, 0)
		if x.IsInt() {
			i := x.AsInt()
			if i == math.MinInt32 {
				return fail(v, result, cerrors.OverflowError, "abs(%d) overflows Int", i)
			}
			if i < 0 {
				i = -i
			}
			return ret(result, vm.IntValue(i))
		}
		if x.IsFloat() {
			return ret(result, vm.FloatValue(math.Abs(x.AsFloat())))
		}
		return fail(v, result, cerrors.TypeError, "math.abs expects a numeric argument")
	})
	v.DeclareNativeFunction("math", "pow", true, 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		base, exp := arg(slotBase, 0), arg(slotBase, 1)
		if (!base.IsInt() && !base.IsFloat()) || (!exp.IsInt() && !exp.IsFloat()) {
			return fail(v, result, cerrors.TypeError, "math.pow expects numeric arguments")
		}
		toF := func(v vm.Value) float64 {
			if v.IsInt() {
				return float64(v.AsInt())
			}
			return v.AsFloat()
		}
		return ret(result, vm.FloatValue(math.Pow(toF(base), toF(exp))))
	})

	consts := map[string]float64{
		"NaN": math.NaN(), "Infinity": math.Inf(1), "E": math.E,
		"LN2": math.Ln2, "LOG2E": math.Log2E, "SQRT1_2": math.Sqrt(0.5),
		"LN10": math.Ln10, "LOG10E": math.Log10E, "PI": math.Pi, "SQRT2": math.Sqrt2,
	}
	for name, val := range consts {
		idx := v.AddModuleVariable("math", name, false, true)
		v.SetGlobal(idx, vm.FloatValue(val))
	}
}

// --- random module ---------------------------------------------------------------

func registerRandomModule(v *vm.VM) {
	v.CreateModule("random")

	v.DeclareNativeFunction("random", "random", true, 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		return ret(result, vm.FloatValue(rand.Float64()))
	})
	v.DeclareNativeFunction("random", "shuffle", true, 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		a, ok := vm.AsArray(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "random.shuffle expects an Array")
		}
		rand.Shuffle(len(a.Elements), func(i, j int) {
			a.Elements[i], a.Elements[j] = a.Elements[j], a.Elements[i]
		})
		return ret(result, vm.NullValue())
	})
	v.DeclareNativeFunction("random", "range", true, 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		lo, hi := arg(slotBase, 0), arg(slotBase, 1)
		if !lo.IsInt() || !hi.IsInt() {
			return fail(v, result, cerrors.TypeError, "random.range expects Int bounds")
		}
		l, h := lo.AsInt(), hi.AsInt()
		if h <= l {
			return fail(v, result, cerrors.TypeError, "random.range requires hi > lo")
		}
		return ret(result, vm.IntValue(l+rand.Int31n(h-l)))
	})
}

// --- vm module -------------------------------------------------------------------

func registerVMModule(v *vm.VM) {
	v.CreateModule("vm")

	v.DeclareNativeFunction("vm", "disassemble", true, 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		fn, ok := vm.AsFunctionData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "vm.disassemble expects a Function")
		}
		return ret(result, vm.ValueOf(v.NewString(v.Disassemble(fn.Info))))
	})
	v.DeclareNativeFunction("vm", "gc", true, 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		v.GC().Collect()
		return ret(result, vm.NullValue())
	})
	v.DeclareNativeFunction("vm", "ecall", true, 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		sym, ok := vm.AsSymbolData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "vm.ecall expects a Symbol name")
		}
		val, status := v.Ecall(sym.Value, arg(slotBase, 1))
		if status != vm.EFuncOk {
			return fail(v, result, cerrors.TypeError, "vm.ecall %q failed (task %s)", sym.Value, v.CurrentTaskID())
		}
		return ret(result, val)
	})
	v.DeclareNativeFunction("vm", "generateStackTrace", true, 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		skip := 0
		if s := arg(slotBase, 0); s.IsInt() {
			skip = int(s.AsInt())
		}
		return ret(result, vm.ValueOf(v.NewString(v.GenerateStackTrace(skip))))
	})
}

// --- <prelude> internals -----------------------------------------------------------

// registerPrelude wires the handful of host-side helpers the front
// end's prelude module calls into (spec.md §4.7's "<prelude> internals"):
// module lookup by name/caller, and the user-class-extension helpers:
// _extendClass rejects a native superclass other than Object, and
// _copyMethods rejects a native source class (the destination is not
// checked), since native classes' method Values wrap Go closures that
// don't have meaningful script-level identity to copy.
func registerPrelude(v *vm.VM) {
	v.CreateModule("<prelude>")

	v.DeclareNativeFunction("<prelude>", "_getModule", true, 1, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		name, ok := vm.AsStringData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "_getModule expects a String name")
		}
		mod, ok := v.GetModule(name.Value)
		if !ok {
			return fail(v, result, cerrors.NameError, "no such module %q", name.Value)
		}
		return ret(result, vm.ValueOf(mod))
	})
	v.DeclareNativeFunction("<prelude>", "_getCallerModule", true, 0, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		name := v.CallerModuleName()
		mod, ok := v.GetModule(name)
		if !ok {
			return ret(result, vm.NullValue())
		}
		return ret(result, vm.ValueOf(mod))
	})
	v.DeclareNativeFunction("<prelude>", "_extendClass", true, 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		super, ok := vm.AsClassData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "_extendClass expects a Class super")
		}
		if super.IsNative && super.Name != "Object" {
			return fail(v, result, cerrors.TypeError, "cannot extend native class %s", super.Name)
		}
		name, ok := vm.AsStringData(arg(slotBase, 1))
		if !ok {
			return fail(v, result, cerrors.TypeError, "_extendClass expects a String name")
		}
		return ret(result, vm.ValueOf(v.NewClass(name.Value, super, false)))
	})
	v.DeclareNativeFunction("<prelude>", "_copyMethods", true, 2, func(v *vm.VM, slotBase []vm.Value, result *vm.Value) bool {
		dst, ok := vm.AsClassData(arg(slotBase, 0))
		if !ok {
			return fail(v, result, cerrors.TypeError, "_copyMethods expects a Class destination")
		}
		src, ok := vm.AsClassData(arg(slotBase, 1))
		if !ok {
			return fail(v, result, cerrors.TypeError, "_copyMethods expects a Class source")
		}
		if src.IsNative {
			return fail(v, result, cerrors.TypeError, "cannot copy methods from native class %s", src.Name)
		}
		for sym, fn := range src.Methods {
			dst.Methods[sym] = fn
		}
		return ret(result, vm.NullValue())
	})
}
