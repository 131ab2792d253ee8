package builtins_test

import (
	"testing"

	"github.com/corvid-lang/corvid/internal/builtins"
	"github.com/corvid-lang/corvid/internal/vm"
)

// callMethod looks up name on recv's runtime class and invokes it with
// recv bound as the receiver slot, mirroring spec.md §4.7's calling
// convention (slotBase[0] is the receiver) without needing a compiled
// OpGetMethod/OpCall sequence.
func callMethod(t *testing.T, v *vm.VM, recv vm.Value, name string, args ...vm.Value) vm.Value {
	t.Helper()
	cls := v.GetClass(recv)
	if cls == nil {
		t.Fatalf("no class for receiver %s", vm.TypeString(recv))
	}
	fn, ok := cls.Methods[v.Intern(name)]
	if !ok {
		t.Fatalf("class %s has no method %q", cls.Name, name)
	}
	callArgs := append([]vm.Value{recv}, args...)
	result, err := v.CallValue(fn, callArgs)
	if err != nil {
		t.Fatalf("%s.%s(...) failed: %v", cls.Name, name, err)
	}
	return result
}

// TestArrayInsert covers spec.md §8 scenario 2.
func TestArrayInsert(t *testing.T) {
	v := builtins.NewVM()
	arr := vm.ValueOf(v.NewArray([]vm.Value{vm.IntValue(1), vm.IntValue(2), vm.IntValue(4)}))

	callMethod(t, v, arr, "insert", vm.IntValue(2), vm.IntValue(3))

	a, _ := vm.AsArray(arr)
	got := make([]int32, len(a.Elements))
	for i, e := range a.Elements {
		got[i] = e.AsInt()
	}
	want := []int32{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("insert: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("insert: got %v, want %v", got, want)
			break
		}
	}
}

func TestArrayInsertOutOfRange(t *testing.T) {
	v := builtins.NewVM()
	arr := vm.ValueOf(v.NewArray([]vm.Value{vm.IntValue(1)}))
	cls := v.GetClass(arr)
	fn := cls.Methods[v.Intern("insert")]

	_, err := v.CallValue(fn, []vm.Value{arr, vm.IntValue(5), vm.IntValue(9)})
	if err == nil {
		t.Fatal("insert at out-of-range index should fail, got nil error")
	}
}

// TestMapKeyDedup covers spec.md §8 scenario 3: re-setting an existing
// key updates its value in place rather than growing Len, and iteration
// order is insertion order of first-seen keys.
func TestMapKeyDedup(t *testing.T) {
	v := builtins.NewVM()
	m := v.NewMap()

	k1 := vm.ValueOf(v.NewString("a"))
	k2 := vm.ValueOf(v.NewString("a")) // equal content, distinct object
	m.Set(k1, vm.IntValue(1))
	m.Set(k2, vm.IntValue(2))

	if got := m.Len(); got != 1 {
		t.Fatalf("Len() after re-setting an equal key = %d, want 1", got)
	}
	val, ok := m.Get(k1)
	if !ok || val.AsInt() != 2 {
		t.Fatalf("Get(a) = %v, %v, want 2, true (last write wins)", val, ok)
	}

	m.Set(vm.ValueOf(v.NewString("b")), vm.IntValue(3))
	if got := m.Len(); got != 2 {
		t.Fatalf("Len() after adding a distinct key = %d, want 2", got)
	}
	keys := m.Keys()
	if len(keys) != 2 {
		t.Fatalf("Keys() returned %d entries, want 2", len(keys))
	}
	for i, want := range []string{"a", "b"} {
		s, ok := vm.AsStringData(keys[i])
		if !ok || s.Value != want {
			t.Fatalf("Keys()[%d] = %v, want %q (insertion order)", i, keys[i], want)
		}
	}
}

// TestStringCharsIteration covers spec.md §8 scenario 6: s.chars() over a
// multi-byte UTF-8 string yields exactly the UTF-8 scalar count, not the
// byte count.
func TestStringCharsIteration(t *testing.T) {
	v := builtins.NewVM()
	s := vm.ValueOf(v.NewString("héllo"))

	it := callMethod(t, v, s, "chars")

	n := 0
	for {
		hasNext := callMethod(t, v, it, "hasNext")
		if !hasNext.AsBool() {
			break
		}
		callMethod(t, v, it, "next")
		n++
		if n > 10 {
			t.Fatal("iterator did not terminate")
		}
	}
	if n != 5 {
		t.Errorf("chars() iteration count = %d, want 5 (UTF-8 scalar count of %q)", n, "héllo")
	}
}

// TestSymbolUniqueness covers spec.md §8 invariant 3: interning the same
// spelling twice returns the identical Symbol, distinct spellings never
// collide.
func TestSymbolUniqueness(t *testing.T) {
	v := builtins.NewVM()
	a1 := v.Intern("foo")
	a2 := v.Intern("foo")
	b := v.Intern("bar")

	if a1 != a2 {
		t.Error("Intern(\"foo\") twice returned distinct Symbols")
	}
	if a1 == b {
		t.Error("Intern(\"foo\") and Intern(\"bar\") returned the same Symbol")
	}
}

// resolveMethod replicates Class.findMethod's super-chain walk using only
// exported fields, for testing method resolution from outside the vm
// package.
func resolveMethod(cls *vm.Class, sym *vm.Symbol) (vm.Value, bool) {
	for c := cls; c != nil; c = c.Super {
		if fn, ok := c.Methods[sym]; ok {
			return fn, true
		}
	}
	return vm.EmptyValue(), false
}

// TestMethodResolution covers spec.md §8 invariant 9: a subclass's own
// method shadows its ancestor's, lookup falls back to the nearest
// ancestor that defines the name, and an undefined name resolves to
// nothing anywhere in the chain.
func TestMethodResolution(t *testing.T) {
	v := builtins.NewVM()
	object := v.GetClass(vm.NullValue())

	base := v.NewClass("Base", object, false)
	base.Methods[v.Intern("greet")] = vm.IntValue(1)
	base.Methods[v.Intern("onlyBase")] = vm.IntValue(2)

	mid := v.NewClass("Mid", base, false)

	leaf := v.NewClass("Leaf", mid, false)
	leaf.Methods[v.Intern("greet")] = vm.IntValue(99)

	if got, ok := resolveMethod(leaf, v.Intern("greet")); !ok || got.AsInt() != 99 {
		t.Errorf("Leaf.greet resolved to %v, %v, want 99, true (own method should shadow ancestor)", got, ok)
	}
	if got, ok := resolveMethod(leaf, v.Intern("onlyBase")); !ok || got.AsInt() != 2 {
		t.Errorf("Leaf.onlyBase resolved to %v, %v, want 2, true (fall back to nearest ancestor)", got, ok)
	}
	if _, ok := resolveMethod(leaf, v.Intern("nope")); ok {
		t.Error("Leaf.nope resolved to something, want not found")
	}
}

// TestGCSafety covers spec.md §8 invariant 5: an object kept alive by a
// temp root survives a collection, and releasing the root makes it
// collectible again (spec.md §4.5's mark-sweep over intrusive list).
func TestGCSafety(t *testing.T) {
	v := builtins.NewVM()
	gc := v.GC()

	alive := v.NewString("keepme")
	v.PushTempRoot(vm.ValueOf(alive))
	for i := 0; i < 64; i++ {
		v.NewString("garbage")
	}

	beforeCollect := gc.BytesAllocated()
	gc.Collect()
	afterCollect := gc.BytesAllocated()
	if afterCollect >= beforeCollect {
		t.Errorf("BytesAllocated should shrink once unrooted garbage is swept: before=%d after=%d", beforeCollect, afterCollect)
	}
	if alive.Value != "keepme" {
		t.Fatal("rooted string was corrupted or collected")
	}

	v.PopTempRoot()
	gc.Collect()
	final := gc.BytesAllocated()
	if final >= afterCollect {
		t.Errorf("releasing the temp root should let the string be swept: afterCollect=%d final=%d", afterCollect, final)
	}
}
