// Copyright (C) 2024 the da Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package value

import "fmt"

// Kind is the tag of a Value's active variant.
type Kind int

const (
	KindNone Kind = iota
	KindTensor
	KindTuple
	KindInt64
	KindDouble
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTensor:
		return "tensor"
	case KindTuple:
		return "tuple"
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is the tagged sum { Tensor, Tuple, Int64, Double, Bool,
// String, None } that flows through the VM's operand stack and a
// Node's materialized output. Values are reference-counted via an
// intrusive count; all polymorphic references are strong unless
// explicitly documented as weak.
type Value struct {
	kind     Kind
	refcount int32
	tensor   *Tensor
	tuple    Tuple
	i64      int64
	f64      float64
	b        bool
	str      string
}

// Tuple is an ordered sequence of Value.
type Tuple []Value

// None returns the singleton-shaped empty value. Each call returns a
// fresh Value so callers are free to Ref/Unref it independently.
func None() Value { return Value{kind: KindNone, refcount: 1} }

// FromTensor wraps t as a Value.
func FromTensor(t *Tensor) Value { return Value{kind: KindTensor, refcount: 1, tensor: t} }

// FromTuple wraps elems as a Value.
func FromTuple(elems Tuple) Value { return Value{kind: KindTuple, refcount: 1, tuple: elems} }

// FromInt64 wraps i as a Value.
func FromInt64(i int64) Value { return Value{kind: KindInt64, refcount: 1, i64: i} }

// FromDouble wraps f as a Value.
func FromDouble(f float64) Value { return Value{kind: KindDouble, refcount: 1, f64: f} }

// FromBool wraps b as a Value.
func FromBool(b bool) Value { return Value{kind: KindBool, refcount: 1, b: b} }

// FromString wraps s as a Value.
func FromString(s string) Value { return Value{kind: KindString, refcount: 1, str: s} }

// Kind returns the active variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsTensor, IsTuple, ... are total type predicates.
func (v Value) IsTensor() bool { return v.kind == KindTensor }
func (v Value) IsTuple() bool  { return v.kind == KindTuple }
func (v Value) IsInt64() bool  { return v.kind == KindInt64 }
func (v Value) IsDouble() bool { return v.kind == KindDouble }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsString() bool { return v.kind == KindString }
func (v Value) IsNone() bool   { return v.kind == KindNone }

// ToTensor, ToTuple, ... are total accessors that panic when called
// against the wrong variant, matching the "fail when called on the
// wrong variant" contract from spec.md §4.2.
func (v Value) ToTensor() *Tensor {
	if v.kind != KindTensor {
		panic("value: ToTensor called on a " + v.kind.String() + " value")
	}
	return v.tensor
}

func (v Value) ToTuple() Tuple {
	if v.kind != KindTuple {
		panic("value: ToTuple called on a " + v.kind.String() + " value")
	}
	return v.tuple
}

func (v Value) ToInt64() int64 {
	if v.kind != KindInt64 {
		panic("value: ToInt64 called on a " + v.kind.String() + " value")
	}
	return v.i64
}

func (v Value) ToDouble() float64 {
	if v.kind != KindDouble {
		panic("value: ToDouble called on a " + v.kind.String() + " value")
	}
	return v.f64
}

func (v Value) ToBool() bool {
	if v.kind != KindBool {
		panic("value: ToBool called on a " + v.kind.String() + " value")
	}
	return v.b
}

func (v Value) ToString() string {
	if v.kind != KindString {
		panic("value: ToString called on a " + v.kind.String() + " value")
	}
	return v.str
}

// Ref increments the reference count and returns v.
func (v Value) Ref() Value {
	v.refcount++
	return v
}

// Unref decrements the reference count, releasing the underlying
// tensor's storage once it reaches zero.
func (v *Value) Unref() {
	v.refcount--
	if v.refcount > 0 {
		return
	}
	if v.kind == KindTensor && v.tensor != nil && v.tensor.storage != nil {
		v.tensor.storage.Unref()
	}
}

// Refcount returns the current reference count, exposed for bridge code.
func (v Value) Refcount() int32 { return v.refcount }

// Format renders v the way the VM's `print` intrinsic and the `+`
// string-concatenation operator do: scalars in their natural textual
// form, tensors/tuples/none by a short structural description.
func (v Value) Format() string {
	switch v.kind {
	case KindNone:
		return "none"
	case KindTensor:
		return v.tensor.String()
	case KindTuple:
		out := "("
		for i, e := range v.tuple {
			if i > 0 {
				out += ", "
			}
			out += e.Format()
		}
		return out + ")"
	case KindInt64:
		return fmt.Sprintf("%d", v.i64)
	case KindDouble:
		return fmt.Sprintf("%g", v.f64)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindString:
		return v.str
	default:
		return "<invalid>"
	}
}
