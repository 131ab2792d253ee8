package vm

import (
	"math"
	"testing"
)

// valueCase is one row of the black-box table both Value encodings must
// satisfy identically (spec.md §8 property 1: "the NaN-boxed and tagged-
// union encodings are behaviorally indistinguishable to every caller").
// value_nanbox.go and value_tagged.go are selected by mutually exclusive
// build tags, so this file (no build tag of its own) runs against
// whichever one the active build selected — `go test ./internal/vm` picks
// up value_nanbox.go on amd64/arm64, `go test -tags corvid_tagged` forces
// value_tagged.go.
func TestValueEncodingBlackBox(t *testing.T) {
	v := New()

	str := ValueOf(v.NewString("hi"))
	arr := ValueOf(v.NewArray(nil))

	cases := []struct {
		name       string
		val        Value
		isEmpty    bool
		isNull     bool
		isBool     bool
		asBool     bool
		isInt      bool
		asInt      int32
		isFloat    bool
		asFloat    float64
		isObject   bool
		isNullFalse bool
	}{
		{name: "empty", val: EmptyValue(), isEmpty: true},
		{name: "null", val: NullValue(), isNull: true, isNullFalse: true},
		{name: "true", val: BoolValue(true), isBool: true, asBool: true},
		{name: "false", val: BoolValue(false), isBool: true, asBool: false, isNullFalse: true},
		{name: "zero", val: IntValue(0), isInt: true, asInt: 0},
		{name: "positive int", val: IntValue(42), isInt: true, asInt: 42},
		{name: "negative int", val: IntValue(-7), isInt: true, asInt: -7},
		{name: "min int32", val: IntValue(math.MinInt32), isInt: true, asInt: math.MinInt32},
		{name: "max int32", val: IntValue(math.MaxInt32), isInt: true, asInt: math.MaxInt32},
		{name: "zero float", val: FloatValue(0), isFloat: true, asFloat: 0},
		{name: "negative float", val: FloatValue(-3.5), isFloat: true, asFloat: -3.5},
		{name: "large float", val: FloatValue(1e308), isFloat: true, asFloat: 1e308},
		{name: "nan", val: FloatValue(math.NaN()), isFloat: true, asFloat: math.NaN()},
		{name: "string object", val: str, isObject: true},
		{name: "array object", val: arr, isObject: true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.val.IsEmpty(); got != c.isEmpty {
				t.Errorf("IsEmpty() = %v, want %v", got, c.isEmpty)
			}
			if got := c.val.IsNull(); got != c.isNull {
				t.Errorf("IsNull() = %v, want %v", got, c.isNull)
			}
			if got := c.val.IsBool(); got != c.isBool {
				t.Errorf("IsBool() = %v, want %v", got, c.isBool)
			}
			if c.isBool {
				if got := c.val.AsBool(); got != c.asBool {
					t.Errorf("AsBool() = %v, want %v", got, c.asBool)
				}
			}
			if got := c.val.IsInt(); got != c.isInt {
				t.Errorf("IsInt() = %v, want %v", got, c.isInt)
			}
			if c.isInt {
				if got := c.val.AsInt(); got != c.asInt {
					t.Errorf("AsInt() = %v, want %v", got, c.asInt)
				}
			}
			if got := c.val.IsFloat(); got != c.isFloat {
				t.Errorf("IsFloat() = %v, want %v", got, c.isFloat)
			}
			if c.isFloat {
				got := c.val.AsFloat()
				if math.IsNaN(c.asFloat) {
					if !math.IsNaN(got) {
						t.Errorf("AsFloat() = %v, want NaN", got)
					}
				} else if got != c.asFloat {
					t.Errorf("AsFloat() = %v, want %v", got, c.asFloat)
				}
			}
			if got := c.val.IsObject(); got != c.isObject {
				t.Errorf("IsObject() = %v, want %v", got, c.isObject)
			}
			if got := c.val.IsNullOrFalse(); got != c.isNullFalse {
				t.Errorf("IsNullOrFalse() = %v, want %v", got, c.isNullFalse)
			}
		})
	}
}

func TestValueStrictEqual(t *testing.T) {
	v := New()
	str1 := ValueOf(v.NewString("abc"))
	str2 := ValueOf(v.NewString("abc"))
	arr := ValueOf(v.NewArray(nil))

	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal ints", IntValue(3), IntValue(3), true},
		{"unequal ints", IntValue(3), IntValue(4), false},
		{"equal floats", FloatValue(1.5), FloatValue(1.5), true},
		{"nan strict-equals nan", FloatValue(math.NaN()), FloatValue(math.NaN()), true},
		{"int vs float never strict-equal", IntValue(1), FloatValue(1), false},
		{"equal bools", BoolValue(true), BoolValue(true), true},
		{"null equals null", NullValue(), NullValue(), true},
		{"strings compare by content", str1, str2, true},
		{"string vs array", str1, arr, false},
		{"same array identity", arr, arr, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := StrictEqual(c.a, c.b); got != c.want {
				t.Errorf("StrictEqual(%s, %s) = %v, want %v", c.name, c.name, got, c.want)
			}
		})
	}
}

func TestValueNumberEqual(t *testing.T) {
	if !NumberEqual(IntValue(2), FloatValue(2.0)) {
		t.Error("NumberEqual(2, 2.0) should be true: mixed int/float promotes to float")
	}
	if NumberEqual(FloatValue(math.NaN()), FloatValue(math.NaN())) {
		t.Error("NumberEqual(NaN, NaN) should be false: IEEE semantics, unlike StrictEqual")
	}
}

func TestValueHashStability(t *testing.T) {
	v := New()
	if Hash(IntValue(5)) != Hash(IntValue(5)) {
		t.Error("Hash must be stable for equal ints")
	}
	if Hash(FloatValue(0)) != Hash(FloatValue(math.Copysign(0, -1))) {
		t.Error("Hash must canonicalize -0 to +0")
	}
	s1 := ValueOf(v.NewString("key"))
	s2 := ValueOf(v.NewString("key"))
	if Hash(s1) != Hash(s2) {
		t.Error("Hash must hash Strings by content, not identity")
	}
}

func TestTypeString(t *testing.T) {
	v := New()
	cases := []struct {
		val  Value
		want string
	}{
		{IntValue(1), "Int"},
		{FloatValue(1), "Float"},
		{BoolValue(true), "Bool"},
		{NullValue(), "Null"},
		{ValueOf(v.NewString("s")), "String"},
	}
	for _, c := range cases {
		if got := TypeString(c.val); got != c.want {
			t.Errorf("TypeString(%v) = %q, want %q", c.val, got, c.want)
		}
	}
}
