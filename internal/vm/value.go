// Package vm implements the execution core: the tagged Value type, the
// heap object model, the tracing garbage collector, the register-based
// interpreter, tasks/frames/handles, and the host embedding API.
package vm

import "math"

// Type names returned by TypeString for the non-object variants.
const (
	typeNameInt   = "Int"
	typeNameFloat = "Float"
	typeNameBool  = "Bool"
	typeNameNull  = "Null"
)

// TypeString returns a stable type name for v: "Int", "Float", "Bool",
// "Null", or (for heap objects) the object's class name.
func TypeString(v Value) string {
	switch {
	case v.IsInt():
		return typeNameInt
	case v.IsFloat():
		return typeNameFloat
	case v.IsNull():
		return typeNameNull
	case v.IsBool():
		return typeNameBool
	case v.IsObject():
		return v.AsObject().typeName()
	default:
		return "Empty"
	}
}

// IsBool reports whether v is True or False.
func (v Value) IsBool() bool {
	return v == trueValue() || v == falseValue()
}

// AsBool returns v's boolean payload. The caller must have checked IsBool.
func (v Value) AsBool() bool {
	return v == trueValue()
}

// IsNullOrFalse is the scripting language's notion of "falsy": null and
// false are falsy, everything else (including 0, 0.0, and "") is truthy.
func (v Value) IsNullOrFalse() bool {
	return v.IsNull() || v == falseValue()
}

// StrictEqual implements spec.md §3.1's strict equality: compare by
// variant. Two floats compare by bit pattern (so NaN strict-equals NaN),
// matching map-key semantics; script-level `==` on numbers should use
// NumberEqual instead, which follows IEEE semantics.
func StrictEqual(a, b Value) bool {
	switch {
	case a.IsInt() && b.IsInt():
		return a.AsInt() == b.AsInt()
	case a.IsFloat() && b.IsFloat():
		return math.Float64bits(a.AsFloat()) == math.Float64bits(b.AsFloat())
	case a.IsBool() && b.IsBool():
		return a.AsBool() == b.AsBool()
	case a.IsNull() && b.IsNull():
		return true
	case a.IsObject() && b.IsObject():
		ao, bo := a.AsObject(), b.AsObject()
		if as, ok := ao.data.(*String); ok {
			if bs, ok := bo.data.(*String); ok {
				return as.Value == bs.Value
			}
			return false
		}
		if _, ok := ao.data.(*Symbol); ok {
			return ao == bo // symbols are interned: identity == value
		}
		return ao == bo
	default:
		return false
	}
}

// NumberEqual implements script-level `==` for two values already known
// to be numeric (mixed int/float promotes to float, IEEE semantics: NaN
// never equals anything, including itself).
func NumberEqual(a, b Value) bool {
	return numberOf(a) == numberOf(b)
}

func numberOf(v Value) float64 {
	if v.IsInt() {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

// Hash computes the map-key hash of v per spec.md §3.1: ints are
// identity-mixed, floats canonicalize -0 to +0 before hashing their bits,
// objects hash by identity except Strings and Symbols which hash by
// content (Symbol hashes are precomputed at intern time).
func Hash(v Value) uint64 {
	switch {
	case v.IsInt():
		return hashInt64(uint64(v.AsInt()))
	case v.IsFloat():
		f := v.AsFloat()
		if f == 0 {
			f = 0 // canonicalize -0 to +0
		}
		return hashInt64(math.Float64bits(f))
	case v.IsBool():
		if v.AsBool() {
			return 0x9e3779b97f4a7c15
		}
		return 0x9e3779b97f4a7c16
	case v.IsNull():
		return 0x9e3779b97f4a7c00
	case v.IsObject():
		obj := v.AsObject()
		if s, ok := obj.data.(*String); ok {
			return s.Hash
		}
		if s, ok := obj.data.(*Symbol); ok {
			return s.Hash
		}
		return hashInt64(uint64(uintptr(objectIdentity(obj))))
	default:
		return 0
	}
}

// hashInt64 is a 64-bit mix (splitmix64 finalizer) used for identity
// hashing of ints, floats, and object addresses.
func hashInt64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// fnv1a64 hashes a string's content, used for both String and Symbol
// content hashing (spec.md §3.1, §4.2).
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
