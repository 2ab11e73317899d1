// Package value implements Strata's tagged Value sum type: the single leaf
// datum every primitive (KV, JSON documents, state cells, event payloads,
// vector metadata) stores. There is no implicit coercion between variants —
// Int(1) and Float(1.0) are distinct values — and equality is structural.
package value

import (
	"math"
)

// Tag identifies which variant a Value holds.
type Tag int

const (
	TagNull Tag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagBytes
	TagArray
	TagObject
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "Null"
	case TagBool:
		return "Bool"
	case TagInt:
		return "Int"
	case TagFloat:
		return "Float"
	case TagString:
		return "String"
	case TagBytes:
		return "Bytes"
	case TagArray:
		return "Array"
	case TagObject:
		return "Object"
	default:
		return "Unknown"
	}
}

// Value is the tagged sum {Null, Bool, Int, Float, String, Bytes, Array,
// Object}. The zero Value is Null.
type Value struct {
	tag Tag
	b   bool
	i   int64
	f   float64
	s   string
	by  []byte
	arr []Value
	obj map[string]Value
}

func Null() Value                { return Value{tag: TagNull} }
func Bool(b bool) Value          { return Value{tag: TagBool, b: b} }
func Int(i int64) Value          { return Value{tag: TagInt, i: i} }
func Float(f float64) Value      { return Value{tag: TagFloat, f: f} }
func String(s string) Value      { return Value{tag: TagString, s: s} }
func Bytes(b []byte) Value       { return Value{tag: TagBytes, by: append([]byte(nil), b...)} }
func Array(items ...Value) Value { return Value{tag: TagArray, arr: append([]Value(nil), items...)} }

// Object builds an Object Value from a map. The map is copied; key
// iteration order at encode time is always lexicographic, never the
// caller's map iteration order.
func Object(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{tag: TagObject, obj: cp}
}

func (v Value) Tag() Tag { return v.tag }
func (v Value) IsNull() bool   { return v.tag == TagNull }

func (v Value) AsBool() (bool, bool)     { return v.b, v.tag == TagBool }
func (v Value) AsInt() (int64, bool)     { return v.i, v.tag == TagInt }
func (v Value) AsFloat() (float64, bool) { return v.f, v.tag == TagFloat }
func (v Value) AsString() (string, bool) { return v.s, v.tag == TagString }
func (v Value) AsBytes() ([]byte, bool)  { return v.by, v.tag == TagBytes }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.tag == TagArray }
func (v Value) AsObject() (map[string]Value, bool) {
	return v.obj, v.tag == TagObject
}

// Equal reports structural equality. Int(1) != Float(1.0). NaN compares
// equal to NaN here (structural, not IEEE-754, equality).
func Equal(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagNull:
		return true
	case TagBool:
		return a.b == b.b
	case TagInt:
		return a.i == b.i
	case TagFloat:
		return math.Float64bits(a.f) == math.Float64bits(b.f)
	case TagString:
		return a.s == b.s
	case TagBytes:
		if len(a.by) != len(b.by) {
			return false
		}
		for i := range a.by {
			if a.by[i] != b.by[i] {
				return false
			}
		}
		return true
	case TagArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case TagObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// HasNonFinite reports whether v recursively contains a NaN or +/-Inf
// float, used by EventLog.append to reject non-finite payloads (spec.md
// §4.7).
func HasNonFinite(v Value) bool {
	switch v.tag {
	case TagFloat:
		return math.IsNaN(v.f) || math.IsInf(v.f, 0)
	case TagArray:
		for _, item := range v.arr {
			if HasNonFinite(item) {
				return true
			}
		}
		return false
	case TagObject:
		for _, item := range v.obj {
			if HasNonFinite(item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
