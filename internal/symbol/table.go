// Package symbol implements the VM's symbol interner (spec.md §4.2): a
// content-addressed table over *vm.Symbol so every distinct spelling maps
// to exactly one heap object, making symbol equality pointer equality.
//
// Grounded on original_source/neptune-vm/hash_table.h's open-addressed,
// power-of-two-capacity table (linear probing, tombstone-free: GC sweep
// removes each swept Symbol individually through Remove, which re-inserts
// the rest of the probe chain instead of leaving a tombstone) and on the
// teacher's vmregister/value.go content-hashing convention.
package symbol

import (
	"golang.org/x/exp/slices"

	"github.com/corvid-lang/corvid/internal/vm"
)

type slot struct {
	sym  *vm.Symbol
	used bool
}

// Table interns symbols by content. The zero Table is not usable; call
// New.
type Table struct {
	entries  []slot
	count    int
	alloc    func(string) *vm.Symbol
}

// New constructs an empty interner. alloc is called exactly once per
// distinct spelling, to let the caller route the allocation through the
// owning VM's GC (component C).
func New(alloc func(string) *vm.Symbol) *Table {
	t := &Table{alloc: alloc}
	t.entries = make([]slot, 8)
	return t
}

func fnv1a64(s string) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

func (t *Table) probe(name string, hash uint64) int {
	mask := uint64(len(t.entries) - 1)
	idx := hash & mask
	for {
		e := &t.entries[idx]
		if !e.used {
			return int(idx)
		}
		if e.sym.Value == name {
			return int(idx)
		}
		idx = (idx + 1) & mask
	}
}

func (t *Table) growIfNeeded() {
	if (t.count+1)*4 < len(t.entries)*3 {
		return
	}
	old := t.entries
	t.entries = make([]slot, len(old)*2)
	for _, e := range old {
		if e.used {
			idx := t.probe(e.sym.Value, e.sym.Hash)
			t.entries[idx] = e
		}
	}
}

// Intern returns the unique *vm.Symbol for name, allocating it on first
// use.
func (t *Table) Intern(name string) *vm.Symbol {
	hash := fnv1a64(name)
	idx := t.probe(name, hash)
	if t.entries[idx].used {
		return t.entries[idx].sym
	}
	t.growIfNeeded()
	idx = t.probe(name, hash)
	sym := t.alloc(name)
	t.entries[idx] = slot{sym: sym, used: true}
	t.count++
	return sym
}

// Remove prunes sym from the table once the GC has determined it is
// otherwise unreachable (spec.md §4.2's weak-reference semantics: an
// interned symbol does not by itself keep the Symbol alive). Called
// from GC.sweep.
func (t *Table) Remove(sym *vm.Symbol) {
	idx := t.probe(sym.Value, sym.Hash)
	if !t.entries[idx].used || t.entries[idx].sym != sym {
		return
	}
	t.entries[idx] = slot{}
	t.count--
	// Re-insert the probe chain after idx so later lookups don't stop at
	// the hole we just opened (standard open-addressing deletion fixup).
	mask := len(t.entries) - 1
	i := (idx + 1) & mask
	for t.entries[i].used {
		e := t.entries[i]
		t.entries[i] = slot{}
		t.count--
		j := t.probe(e.sym.Value, e.sym.Hash)
		t.entries[j] = e
		t.count++
		i = (i + 1) & mask
	}
}

// MarkRoots is a placeholder satisfying the GC's root-enumeration
// contract: spec.md §4.5 item 1 explicitly excludes the symbol table
// itself from the root set ("symbols are only kept alive via other
// references") — a symbol with no remaining script-level reference is
// collectible even while still present in this table, which is exactly
// why Remove exists. mark is accepted for interface symmetry with the
// other root sources gc.go iterates but is intentionally never called.
func (t *Table) MarkRoots(mark func(vm.Value)) {
	_ = mark
}

// Names returns every currently-interned spelling, sorted.
func (t *Table) Names() []string {
	out := make([]string, 0, t.count)
	for _, e := range t.entries {
		if e.used {
			out = append(out, e.sym.Value)
		}
	}
	slices.Sort(out)
	return out
}

// Len reports the number of live interned symbols.
func (t *Table) Len() int { return t.count }
